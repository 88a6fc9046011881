package storage

import (
	"errors"
	"fmt"

	"gochat/models"
)

// Enqueue appends a message to the send queue and returns the stored
// record including its assigned sequence id. Never touches the network.
func (s *Store) Enqueue(message models.Message) (*models.QueuedSend, error) {
	if message.MessageID == "" {
		return nil, errors.New("message_id is required")
	}
	if message.ConversationID == "" {
		return nil, errors.New("conversation_id is required")
	}
	if message.SenderID == "" {
		return nil, errors.New("sender_id is required")
	}
	if message.ReceiverID == "" {
		return nil, errors.New("receiver_id is required")
	}
	if message.Content == "" {
		return nil, errors.New("content is required")
	}
	kind := message.Kind
	if kind == "" {
		kind = models.KindText
	}
	if err := validateKind(kind); err != nil {
		return nil, err
	}
	composedAt := message.ComposedAt
	if composedAt == 0 {
		composedAt = nowUnixMilli()
	}

	res, err := s.db.Exec(
		`INSERT INTO send_queue (
			message_id,
			conversation_id,
			sender_id,
			receiver_id,
			content,
			kind,
			file_name,
			composed_at,
			status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.MessageID,
		message.ConversationID,
		message.SenderID,
		message.ReceiverID,
		message.Content,
		kind,
		nullString(message.FileName),
		composedAt,
		models.QueuedStatus,
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue message %q: %w: %w", message.MessageID, ErrUnavailable, err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read queue sequence for message %q: %w", message.MessageID, err)
	}

	return &models.QueuedSend{
		Seq:            seq,
		MessageID:      message.MessageID,
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		ReceiverID:     message.ReceiverID,
		Content:        message.Content,
		Kind:           kind,
		FileName:       message.FileName,
		ComposedAt:     composedAt,
		Status:         models.QueuedStatus,
	}, nil
}

// Queued returns all queued records across conversations in insertion order.
func (s *Store) Queued() ([]models.QueuedSend, error) {
	return s.queued(`SELECT
			seq,
			message_id,
			conversation_id,
			sender_id,
			receiver_id,
			content,
			kind,
			file_name,
			composed_at,
			status
		FROM send_queue
		ORDER BY seq ASC`)
}

// QueuedForConversation returns queued records for one conversation in
// insertion order.
func (s *Store) QueuedForConversation(conversationID string) ([]models.QueuedSend, error) {
	if conversationID == "" {
		return nil, errors.New("conversation_id is required")
	}

	return s.queued(`SELECT
			seq,
			message_id,
			conversation_id,
			sender_id,
			receiver_id,
			content,
			kind,
			file_name,
			composed_at,
			status
		FROM send_queue
		WHERE conversation_id = ?
		ORDER BY seq ASC`, conversationID)
}

// ClearQueued removes one queue record by sequence id. Idempotent: an
// already absent record is a no-op, not an error.
func (s *Store) ClearQueued(seq int64) error {
	if seq <= 0 {
		return errors.New("sequence id must be > 0")
	}

	if _, err := s.db.Exec(`DELETE FROM send_queue WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("clear queued record %d: %w: %w", seq, ErrUnavailable, err)
	}

	return nil
}

func (s *Store) queued(query string, args ...any) ([]models.QueuedSend, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get queued records: %w: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	records := make([]models.QueuedSend, 0)
	for rows.Next() {
		var (
			record   models.QueuedSend
			fileName = nullString("")
		)
		if err := rows.Scan(
			&record.Seq,
			&record.MessageID,
			&record.ConversationID,
			&record.SenderID,
			&record.ReceiverID,
			&record.Content,
			&record.Kind,
			&fileName,
			&record.ComposedAt,
			&record.Status,
		); err != nil {
			return nil, fmt.Errorf("scan queued record row: %w", err)
		}
		record.FileName = stringValue(fileName)
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued record rows: %w: %w", ErrUnavailable, err)
	}

	return records, nil
}
