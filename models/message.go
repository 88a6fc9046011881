package models

import "strings"

const (
	// KindText marks a plain text message.
	KindText = "text"
	// KindImage marks a base64-encoded image payload.
	KindImage = "image"
)

// QueuedIDPrefix distinguishes locally assigned ids of queued messages
// from server-assigned ids.
const QueuedIDPrefix = "queued-"

// Message represents one chat message in a two-party conversation.
type Message struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	ReceiverID     string `json:"receiver_id"`
	Content        string `json:"content"`
	Kind           string `json:"kind"`
	FileName       string `json:"file_name,omitempty"`
	// CreatedAt is the server-assigned timestamp once confirmed; while the
	// message is queued it holds the client wall-clock compose time.
	CreatedAt int64 `json:"created_at"`
	// ComposedAt preserves the original compose time across the queue so a
	// drained message keeps it as a display hint.
	ComposedAt int64 `json:"composed_at,omitempty"`
	// IsQueued is true only while the message awaits a confirmed remote
	// write. Never persisted to the remote store.
	IsQueued bool `json:"is_queued,omitempty"`
}

// HasQueuedID reports whether the message carries a locally assigned id.
func (m Message) HasQueuedID() bool {
	return strings.HasPrefix(m.MessageID, QueuedIDPrefix)
}

// ValidKind reports whether kind is a known message kind.
func ValidKind(kind string) bool {
	return kind == KindText || kind == KindImage
}
