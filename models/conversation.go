package models

import (
	"sort"
	"strings"
)

// Conversation represents a two-party message thread.
type Conversation struct {
	ConversationID string   `json:"conversation_id"`
	Participants   []string `json:"participants"`
	CreatedAt      int64    `json:"created_at"`
	// LastMessage is a best-effort denormalized preview of the most recent
	// message, kept for list rendering.
	LastMessage   string `json:"last_message,omitempty"`
	LastMessageAt int64  `json:"last_message_at,omitempty"`
}

// ConversationID derives the conversation id for a participant pair. Both
// peers compute the same id without a handshake: sorted ids joined by a
// fixed separator.
func ConversationID(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return strings.Join(pair, "__")
}

// OtherParticipant returns the participant that is not selfID, or "" when
// selfID is not part of the conversation id.
func OtherParticipant(conversationID, selfID string) string {
	parts := strings.SplitN(conversationID, "__", 2)
	if len(parts) != 2 {
		return ""
	}
	switch selfID {
	case parts[0]:
		return parts[1]
	case parts[1]:
		return parts[0]
	default:
		return ""
	}
}
