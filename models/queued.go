package models

// QueuedStatus is the only status a send-queue record can hold.
const QueuedStatus = "queued"

// QueuedSend is a durable send-queue record. It is strictly local: only
// its effect, the resulting Message, ever reaches the remote store.
type QueuedSend struct {
	Seq            int64  `json:"seq"`
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	ReceiverID     string `json:"receiver_id"`
	Content        string `json:"content"`
	Kind           string `json:"kind"`
	FileName       string `json:"file_name,omitempty"`
	ComposedAt     int64  `json:"composed_at"`
	Status         string `json:"status"`
}

// Message converts the queue record into its renderable message form with
// the queued flag set and the compose time standing in for the timestamp.
func (q QueuedSend) Message() Message {
	return Message{
		MessageID:      q.MessageID,
		ConversationID: q.ConversationID,
		SenderID:       q.SenderID,
		ReceiverID:     q.ReceiverID,
		Content:        q.Content,
		Kind:           q.Kind,
		FileName:       q.FileName,
		CreatedAt:      q.ComposedAt,
		ComposedAt:     q.ComposedAt,
		IsQueued:       true,
	}
}
