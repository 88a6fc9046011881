package remote

import (
	"context"
	"sort"
	"sync"
	"time"

	"gochat/models"
)

// MemoryStore is an in-process Store used by tests and local development.
// It reproduces the backend's semantics: server-assigned monotonic
// timestamps, full-snapshot fan-out in commit order, and sender-only
// deletion.
type MemoryStore struct {
	mu sync.Mutex

	messages map[string][]models.Message
	users    map[string]models.User
	tokens   map[string]map[string]struct{}
	typing   map[string]map[string]bool

	subs   map[string]map[*Subscription]struct{}
	lastTS int64

	// createHook, when set, runs before every CreateMessage and can fail
	// the write. Tests use it to simulate network drops mid-drain.
	createHook func(models.Message) error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string][]models.Message),
		users:    make(map[string]models.User),
		tokens:   make(map[string]map[string]struct{}),
		typing:   make(map[string]map[string]bool),
		subs:     make(map[string]map[*Subscription]struct{}),
	}
}

// SetCreateHook installs a hook that runs before every message write.
func (m *MemoryStore) SetCreateHook(hook func(models.Message) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createHook = hook
}

// CreateMessage writes a message with a fresh server timestamp and fans
// the updated snapshot out to subscribers.
func (m *MemoryStore) CreateMessage(ctx context.Context, message models.Message) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createHook != nil {
		if err := m.createHook(message); err != nil {
			return models.Message{}, err
		}
	}

	stored := message
	stored.IsQueued = false
	stored.CreatedAt = m.nextTimestamp()
	if stored.Kind == "" {
		stored.Kind = models.KindText
	}

	m.messages[stored.ConversationID] = append(m.messages[stored.ConversationID], stored)
	m.fanOut(stored.ConversationID)

	return stored, nil
}

// Messages returns the conversation's messages ordered by timestamp.
func (m *MemoryStore) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(conversationID), nil
}

// DeleteMessage removes a message if the requester authored it.
func (m *MemoryStore) DeleteMessage(ctx context.Context, conversationID, messageID, requesterID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.messages[conversationID]
	for i, message := range stored {
		if message.MessageID != messageID {
			continue
		}
		if message.SenderID != requesterID {
			return ErrPermissionDenied
		}
		m.messages[conversationID] = append(stored[:i:i], stored[i+1:]...)
		m.fanOut(conversationID)
		return nil
	}

	return ErrNotFound
}

// Subscribe opens a live subscription and immediately delivers the
// current snapshot.
func (m *MemoryStore) Subscribe(ctx context.Context, conversationID string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var sub *Subscription
	sub = newSubscription(conversationID, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[conversationID], sub)
	})

	if m.subs[conversationID] == nil {
		m.subs[conversationID] = make(map[*Subscription]struct{})
	}
	m.subs[conversationID][sub] = struct{}{}
	sub.push(m.snapshot(conversationID))

	return sub, nil
}

// SaveUser upserts a user profile document.
func (m *MemoryStore) SaveUser(ctx context.Context, user models.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.UserID] = user
	return nil
}

// User returns one user profile document.
func (m *MemoryStore) User(ctx context.Context, userID string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

// SetTyping records the typing flag for a user in a conversation.
func (m *MemoryStore) SetTyping(ctx context.Context, conversationID, userID string, typing bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.typing[conversationID] == nil {
		m.typing[conversationID] = make(map[string]bool)
	}
	m.typing[conversationID][userID] = typing
	return nil
}

// TypingUsers returns the ids of users currently flagged as typing.
func (m *MemoryStore) TypingUsers(ctx context.Context, conversationID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0)
	for userID, typing := range m.typing[conversationID] {
		if typing {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Heartbeat refreshes the user's presence record.
func (m *MemoryStore) Heartbeat(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	user := m.users[userID]
	user.UserID = userID
	user.Online = true
	user.LastSeen = time.Now().UnixMilli()
	m.users[userID] = user
	return nil
}

// RegisterDeviceToken attaches a push token to a user record.
func (m *MemoryStore) RegisterDeviceToken(ctx context.Context, userID, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tokens[userID] == nil {
		m.tokens[userID] = make(map[string]struct{})
	}
	m.tokens[userID][token] = struct{}{}
	return nil
}

// RemoveDeviceToken detaches a push token from a user record.
func (m *MemoryStore) RemoveDeviceToken(ctx context.Context, userID, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens[userID], token)
	return nil
}

// DeviceTokens returns the registered push tokens for a user, sorted.
func (m *MemoryStore) DeviceTokens(userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.tokens[userID]))
	for token := range m.tokens[userID] {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}

func (m *MemoryStore) snapshot(conversationID string) []models.Message {
	stored := m.messages[conversationID]
	out := make([]models.Message, len(stored))
	copy(out, stored)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out
}

func (m *MemoryStore) fanOut(conversationID string) {
	if len(m.subs[conversationID]) == 0 {
		return
	}
	snapshot := m.snapshot(conversationID)
	for sub := range m.subs[conversationID] {
		sub.push(snapshot)
	}
}

// nextTimestamp hands out strictly increasing unix-milli stamps so that
// snapshot order matches commit order even for same-millisecond writes.
func (m *MemoryStore) nextTimestamp() int64 {
	ts := time.Now().UnixMilli()
	if ts <= m.lastTS {
		ts = m.lastTS + 1
	}
	m.lastTS = ts
	return ts
}
