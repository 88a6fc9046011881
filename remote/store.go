// Package remote defines the consumed contract of the managed document
// store: per-document writes with server-assigned timestamps, point reads,
// and live ordered subscriptions. Two implementations exist: a websocket
// client against the hosted backend and an in-memory store used by tests.
package remote

import (
	"context"
	"errors"
	"sync"

	"gochat/models"
)

var (
	// ErrOffline indicates the operation could not reach the backend. The
	// reconciliation engine treats it as a transient connectivity failure
	// and queues instead of surfacing it.
	ErrOffline = errors.New("remote: offline")
	// ErrNotFound indicates a requested document does not exist.
	ErrNotFound = errors.New("remote: document not found")
	// ErrPermissionDenied indicates the requester may not perform the
	// operation, e.g. deleting a message they did not author.
	ErrPermissionDenied = errors.New("remote: permission denied")
)

// Store is the remote document store contract consumed by the engine and
// the view model.
type Store interface {
	// CreateMessage writes a message and returns it with the
	// server-assigned id-preserving timestamp set.
	CreateMessage(ctx context.Context, message models.Message) (models.Message, error)
	// Messages returns all messages of a conversation ordered by
	// timestamp ascending.
	Messages(ctx context.Context, conversationID string) ([]models.Message, error)
	// DeleteMessage removes one message. Only the original sender may
	// delete it.
	DeleteMessage(ctx context.Context, conversationID, messageID, requesterID string) error
	// Subscribe opens a live ordered subscription for one conversation.
	// Every committed change delivers a full fresh snapshot in commit
	// order.
	Subscribe(ctx context.Context, conversationID string) (*Subscription, error)

	SaveUser(ctx context.Context, user models.User) error
	User(ctx context.Context, userID string) (models.User, error)

	// SetTyping flags the user as typing (or not) in a conversation.
	SetTyping(ctx context.Context, conversationID, userID string, typing bool) error
	// TypingUsers returns the ids of users currently flagged as typing in
	// a conversation.
	TypingUsers(ctx context.Context, conversationID string) ([]string, error)
	// Heartbeat refreshes the user's presence record: online flag plus
	// last-seen timestamp.
	Heartbeat(ctx context.Context, userID string) error

	// RegisterDeviceToken attaches a push device token to the user record.
	RegisterDeviceToken(ctx context.Context, userID, token string) error
	// RemoveDeviceToken detaches a push device token. Absence is a no-op.
	RemoveDeviceToken(ctx context.Context, userID, token string) error
}

// Subscription is a standing live read of one conversation. Updates
// arrive as full snapshots in commit order.
type Subscription struct {
	ConversationID string

	updates   chan []models.Message
	closeOnce sync.Once
	onClose   func()
}

func newSubscription(conversationID string, onClose func()) *Subscription {
	return &Subscription{
		ConversationID: conversationID,
		updates:        make(chan []models.Message, 16),
		onClose:        onClose,
	}
}

// Updates returns the snapshot channel. It is closed when the
// subscription is cancelled.
func (s *Subscription) Updates() <-chan []models.Message {
	return s.updates
}

// Close cancels the subscription. Idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		if s.onClose != nil {
			s.onClose()
		}
		close(s.updates)
	})
}

// push delivers a snapshot without blocking a slow consumer: the freshest
// snapshot wins, intermediate ones may be dropped.
func (s *Subscription) push(snapshot []models.Message) {
	for {
		select {
		case s.updates <- snapshot:
			return
		default:
			select {
			case <-s.updates:
			default:
			}
		}
	}
}
