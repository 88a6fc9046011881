package models

import "time"

// User represents a chat participant profile.
type User struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	PhotoURL    string `json:"photo_url,omitempty"`
	Online      bool   `json:"online"`
	LastSeen    int64  `json:"last_seen"`
}

// Presence is a user's derived online status.
type Presence struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"last_seen"`
}

// OnlineNow reports whether the presence should display as online: the
// flag alone is not enough after an ungraceful disconnect, the last
// heartbeat must also fall within the staleness window.
func (p Presence) OnlineNow(now time.Time, staleness time.Duration) bool {
	if !p.Online {
		return false
	}
	if staleness <= 0 {
		return p.Online
	}
	age := now.UnixMilli() - p.LastSeen
	return age >= 0 && age <= staleness.Milliseconds()
}
