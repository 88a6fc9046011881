// Package view maintains the merged message list a conversation renders:
// the live remote snapshot while connected, the cached snapshot plus the
// queued tail while offline, and the transition between the two without
// dropping messages already on screen.
package view

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gochat/connectivity"
	"gochat/models"
	"gochat/notify"
	"gochat/remote"
)

// DefaultRecencyWindow bounds how old a newly arrived message may be to
// still count as a notification candidate.
const DefaultRecencyWindow = 10 * time.Second

// LocalStore is the slice of the durable store the view model depends on.
type LocalStore interface {
	ReplaceMessages(conversationID string, messages []models.Message) error
	Messages(conversationID string) ([]models.Message, error)
	QueuedForConversation(conversationID string) ([]models.QueuedSend, error)
}

// Options configures conversation view models.
type Options struct {
	SelfID  string
	Store   LocalStore
	Remote  remote.Store
	Monitor *connectivity.Monitor
	// RecencyWindow defaults to DefaultRecencyWindow.
	RecencyWindow time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Conversation is the live view model for one open conversation.
type Conversation struct {
	opts           Options
	conversationID string
	peerID         string
	logger         *slog.Logger

	mu       sync.Mutex
	display  []models.Message
	lastLive map[string]struct{}
	unread   int
	closed   bool

	updates    chan []models.Message
	candidates chan models.Message

	sub       *remote.Subscription
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Open creates the view model for the conversation with peerID, seeds it
// from the local cache, and attaches the live subscription.
func Open(ctx context.Context, opts Options, peerID string) (*Conversation, error) {
	if opts.SelfID == "" {
		return nil, errors.New("self user id is required")
	}
	if peerID == "" {
		return nil, errors.New("peer user id is required")
	}
	if opts.Store == nil || opts.Remote == nil {
		return nil, errors.New("local and remote stores are required")
	}
	if opts.RecencyWindow <= 0 {
		opts.RecencyWindow = DefaultRecencyWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Conversation{
		opts:           opts,
		conversationID: models.ConversationID(opts.SelfID, peerID),
		peerID:         peerID,
		logger:         opts.Logger,
		lastLive:       make(map[string]struct{}),
		updates:        make(chan []models.Message, 16),
		candidates:     make(chan models.Message, 64),
	}

	if err := c.seedFromCache(); err != nil {
		// A broken cache degrades to live-only display.
		c.logger.Warn("seed conversation from cache", "conversation", c.conversationID, "error", err)
	}

	sub, err := opts.Remote.Subscribe(ctx, c.conversationID)
	if err != nil && !errors.Is(err, remote.ErrOffline) {
		return nil, err
	}
	c.sub = sub

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go c.loop(loopCtx)

	return c, nil
}

// ConversationID returns the derived conversation id.
func (c *Conversation) ConversationID() string {
	return c.conversationID
}

// Messages returns the current merged display list.
func (c *Conversation) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.Message, len(c.display))
	copy(out, c.display)
	return out
}

// Updates delivers the merged display list after every change.
func (c *Conversation) Updates() <-chan []models.Message {
	return c.updates
}

// Candidates delivers messages classified for notification: newly
// arrived, not authored locally, within the recency window.
func (c *Conversation) Candidates() <-chan models.Message {
	return c.candidates
}

// Unread returns the count of candidate messages since the last MarkRead.
func (c *Conversation) Unread() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unread
}

// MarkRead resets the unread counter.
func (c *Conversation) MarkRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unread = 0
}

// Preview returns the denormalized last-message preview for list display.
func (c *Conversation) Preview(limit int) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.display) == 0 {
		return ""
	}
	last := c.display[len(c.display)-1]
	return notify.Preview(last.Content, last.Kind, limit)
}

// SetTyping flags the local user as typing. Failures while offline are
// dropped: typing state is transient.
func (c *Conversation) SetTyping(ctx context.Context, typing bool) {
	if err := c.opts.Remote.SetTyping(ctx, c.conversationID, c.opts.SelfID, typing); err != nil {
		c.logger.Debug("set typing", "conversation", c.conversationID, "error", err)
	}
}

// PeerTyping reports whether the conversation peer is currently typing.
func (c *Conversation) PeerTyping(ctx context.Context) bool {
	users, err := c.opts.Remote.TypingUsers(ctx, c.conversationID)
	if err != nil {
		return false
	}
	for _, userID := range users {
		if userID == c.peerID {
			return true
		}
	}
	return false
}

// Refresh re-reads the cache and queued tail. While offline new entries
// are appended to the visible list rather than replacing it, so the view
// never blanks out.
func (c *Conversation) Refresh() error {
	cached, err := c.opts.Store.Messages(c.conversationID)
	if err != nil {
		return err
	}
	queued, err := c.opts.Store.QueuedForConversation(c.conversationID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	present := make(map[string]struct{}, len(c.display))
	for _, message := range c.display {
		present[message.MessageID] = struct{}{}
	}

	merged := c.display
	for _, message := range cached {
		if _, ok := present[message.MessageID]; !ok {
			merged = append(merged, message)
		}
	}
	for _, record := range queued {
		if _, ok := present[record.MessageID]; !ok {
			merged = append(merged, record.Message())
		}
	}
	sortMessages(merged)
	c.display = merged
	c.mu.Unlock()

	c.publish()
	return nil
}

// Close cancels the live subscription and stops the view model.
func (c *Conversation) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.sub != nil {
			c.sub.Close()
		}
		c.wg.Wait()
		// Flag before closing so a late Refresh publishes into nothing
		// instead of a closed channel.
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.updates)
		close(c.candidates)
	})
}

func (c *Conversation) seedFromCache() error {
	cached, err := c.opts.Store.Messages(c.conversationID)
	if err != nil {
		return err
	}
	queued, err := c.opts.Store.QueuedForConversation(c.conversationID)
	if err != nil {
		return err
	}

	for _, record := range queued {
		cached = append(cached, record.Message())
	}
	sortMessages(cached)

	c.mu.Lock()
	c.display = cached
	c.mu.Unlock()
	return nil
}

func (c *Conversation) loop(ctx context.Context) {
	defer c.wg.Done()

	var transitions <-chan connectivity.Event
	if c.opts.Monitor != nil {
		transitions = c.opts.Monitor.Subscribe()
	}

	var snapshots <-chan []models.Message
	if c.sub != nil {
		snapshots = c.sub.Updates()
	}

	for {
		select {
		case snapshot, ok := <-snapshots:
			if !ok {
				return
			}
			c.applyLive(snapshot)
		case event, ok := <-transitions:
			if !ok {
				transitions = nil
				continue
			}
			// On reconnect the live subscription takes over; re-reading
			// the cache bridges the gap until its first snapshot lands.
			if event.Type == connectivity.EventOnline {
				if err := c.Refresh(); err != nil {
					c.logger.Warn("refresh on reconnect", "conversation", c.conversationID, "error", err)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// applyLive processes one live snapshot: the cached snapshot is fully
// replaced, newly arrived foreign messages within the recency window are
// classified as notification candidates, and still-pending queued sends
// are appended to the tail deduplicated against the live set.
func (c *Conversation) applyLive(snapshot []models.Message) {
	for i := range snapshot {
		snapshot[i].ConversationID = c.conversationID
		snapshot[i].IsQueued = false
	}

	if err := c.opts.Store.ReplaceMessages(c.conversationID, snapshot); err != nil {
		c.logger.Warn("replace cached snapshot", "conversation", c.conversationID, "error", err)
	}

	queued, err := c.opts.Store.QueuedForConversation(c.conversationID)
	if err != nil {
		c.logger.Warn("read queued tail", "conversation", c.conversationID, "error", err)
		queued = nil
	}

	now := time.Now().UnixMilli()
	recency := c.opts.RecencyWindow.Milliseconds()

	c.mu.Lock()
	nextLive := make(map[string]struct{}, len(snapshot))
	var fresh []models.Message
	for _, message := range snapshot {
		nextLive[message.MessageID] = struct{}{}
		if _, seen := c.lastLive[message.MessageID]; seen {
			continue
		}
		if message.SenderID == c.opts.SelfID {
			continue
		}
		if now-message.CreatedAt > recency {
			continue
		}
		fresh = append(fresh, message)
		c.unread++
	}
	c.lastLive = nextLive

	merged := make([]models.Message, 0, len(snapshot)+len(queued))
	merged = append(merged, snapshot...)
	for _, record := range queued {
		if hasLiveCounterpart(snapshot, record) {
			continue
		}
		merged = append(merged, record.Message())
	}
	sortMessages(merged)
	c.display = merged
	c.mu.Unlock()

	for _, message := range fresh {
		select {
		case c.candidates <- message:
		default:
		}
	}
	c.publish()
}

// publish holds the mutex across the send attempt so Close cannot close
// the channel underneath it. The send never blocks: the freshest snapshot
// wins, a stale undelivered one is dropped.
func (c *Conversation) publish() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	snapshot := make([]models.Message, len(c.display))
	copy(snapshot, c.display)

	for {
		select {
		case c.updates <- snapshot:
			return
		default:
			select {
			case <-c.updates:
			default:
			}
		}
	}
}

// hasLiveCounterpart reports whether a queued record's confirmed copy is
// already in the live set. Queued ids never match server ids, so the
// match is sender, content, kind, and the compose time the drain carries
// onto the remote write. Without the compose time any earlier confirmed
// message with identical text would swallow a still-pending one.
func hasLiveCounterpart(live []models.Message, record models.QueuedSend) bool {
	for _, message := range live {
		if message.HasQueuedID() {
			continue
		}
		if message.SenderID == record.SenderID &&
			message.Content == record.Content &&
			message.Kind == record.Kind &&
			message.ComposedAt == record.ComposedAt {
			return true
		}
	}
	return false
}

// sortMessages orders ascending by timestamp; queued entries carry their
// compose time until confirmed. Message id breaks ties.
func sortMessages(messages []models.Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].CreatedAt == messages[j].CreatedAt {
			return messages[i].MessageID < messages[j].MessageID
		}
		return messages[i].CreatedAt < messages[j].CreatedAt
	})
}
