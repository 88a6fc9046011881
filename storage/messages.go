package storage

import (
	"errors"
	"fmt"

	"gochat/models"
)

// ReplaceMessages atomically replaces the cached snapshot for one
// conversation with the given set. Delete-then-insert inside a single
// transaction: a reader never observes a partially replaced snapshot.
func (s *Store) ReplaceMessages(conversationID string, messages []models.Message) error {
	if conversationID == "" {
		return errors.New("conversation_id is required")
	}
	for _, message := range messages {
		if message.MessageID == "" {
			return errors.New("message_id is required")
		}
		if message.Kind == "" {
			continue
		}
		if err := validateKind(message.Kind); err != nil {
			return err
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot transaction: %w: %w", ErrUnavailable, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("clear snapshot for conversation %q: %w: %w", conversationID, ErrUnavailable, err)
	}

	for _, message := range messages {
		kind := message.Kind
		if kind == "" {
			kind = models.KindText
		}
		if _, err := tx.Exec(
			`INSERT INTO messages (
				message_id,
				conversation_id,
				sender_id,
				receiver_id,
				content,
				kind,
				file_name,
				created_at,
				composed_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			message.MessageID,
			conversationID,
			message.SenderID,
			message.ReceiverID,
			message.Content,
			kind,
			nullString(message.FileName),
			message.CreatedAt,
			nullInt64(message.ComposedAt),
		); err != nil {
			return fmt.Errorf("insert cached message %q: %w: %w", message.MessageID, ErrUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot for conversation %q: %w: %w", conversationID, ErrUnavailable, err)
	}

	return nil
}

// Messages returns the cached snapshot for a conversation ordered by
// timestamp ascending. An empty cache is an empty slice, not an error.
func (s *Store) Messages(conversationID string) ([]models.Message, error) {
	if conversationID == "" {
		return nil, errors.New("conversation_id is required")
	}

	rows, err := s.db.Query(
		`SELECT
			message_id,
			conversation_id,
			sender_id,
			receiver_id,
			content,
			kind,
			file_name,
			created_at,
			composed_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, message_id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("get cached messages for conversation %q: %w: %w", conversationID, ErrUnavailable, err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		message, err := scanCachedMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cached message row: %w", err)
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached message rows: %w: %w", ErrUnavailable, err)
	}

	return messages, nil
}

// DeleteMessage removes one cached message by id. Absence is a no-op.
func (s *Store) DeleteMessage(messageID string) error {
	if messageID == "" {
		return errors.New("message_id is required")
	}

	if _, err := s.db.Exec(`DELETE FROM messages WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("delete cached message %q: %w: %w", messageID, ErrUnavailable, err)
	}

	return nil
}

func scanCachedMessage(row scanner) (*models.Message, error) {
	var (
		message    models.Message
		fileName   = nullString("")
		composedAt = nullInt64(0)
	)

	if err := row.Scan(
		&message.MessageID,
		&message.ConversationID,
		&message.SenderID,
		&message.ReceiverID,
		&message.Content,
		&message.Kind,
		&fileName,
		&message.CreatedAt,
		&composedAt,
	); err != nil {
		return nil, err
	}

	message.FileName = stringValue(fileName)
	message.ComposedAt = int64Value(composedAt)

	return &message, nil
}
