// Package queue implements the offline reconciliation engine: sends go
// straight to the remote store while online, fall into the durable send
// queue otherwise, and the queue drains on every reconnect until empty.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"gochat/connectivity"
	"gochat/models"
	"gochat/remote"
)

const (
	// MaxImagePayloadBytes bounds a base64 image payload. Larger images
	// are rejected before anything is persisted or sent.
	MaxImagePayloadBytes = 1 << 20
	// DefaultSendTimeout bounds one live send attempt before the engine
	// treats it as failed and queues the message instead.
	DefaultSendTimeout = 5 * time.Second
)

var (
	// ErrPayloadTooLarge indicates an image payload over the size bound.
	ErrPayloadTooLarge = errors.New("queue: image payload exceeds 1MiB")
	// ErrPermissionDenied indicates an attempt to delete a message the
	// local user did not author.
	ErrPermissionDenied = errors.New("queue: permission denied")
)

// LocalStore is the slice of the durable store the engine depends on.
type LocalStore interface {
	Enqueue(message models.Message) (*models.QueuedSend, error)
	Queued() ([]models.QueuedSend, error)
	QueuedForConversation(conversationID string) ([]models.QueuedSend, error)
	ClearQueued(seq int64) error
	Messages(conversationID string) ([]models.Message, error)
	DeleteMessage(messageID string) error
}

// Options configures an Engine.
type Options struct {
	SelfID  string
	Store   LocalStore
	Remote  remote.Store
	Monitor *connectivity.Monitor
	// SendTimeout defaults to DefaultSendTimeout.
	SendTimeout time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// SendResult describes the outcome of one send submission.
type SendResult struct {
	// Message is the confirmed remote message or the locally rendered
	// queued copy, depending on Queued.
	Message models.Message
	// Queued is true when the message went into the send queue instead of
	// the remote store.
	Queued bool
}

// Engine orchestrates the send and drain paths.
type Engine struct {
	opts   Options
	logger *slog.Logger

	// draining coalesces overlapping drain triggers: a second trigger
	// while one pass runs over the queue is ignored.
	drainMu  sync.Mutex
	draining bool

	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewEngine creates an engine. Start must be called for automatic drains.
func NewEngine(opts Options) (*Engine, error) {
	if opts.SelfID == "" {
		return nil, errors.New("self user id is required")
	}
	if opts.Store == nil {
		return nil, errors.New("local store is required")
	}
	if opts.Remote == nil {
		return nil, errors.New("remote store is required")
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Engine{opts: opts, logger: opts.Logger}, nil
}

// Start subscribes to connectivity transitions and drains the queue on
// every online event.
func (e *Engine) Start() {
	if e.opts.Monitor == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	events := e.opts.Monitor.Subscribe()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case event, ok := <-events:
				if !ok {
					return
				}
				if event.Type == connectivity.EventOnline {
					e.Drain(ctx)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the automatic drain loop. Queued records stay durable for
// the next start.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()
	})
}

// ValidateOutgoing checks a send submission before anything is persisted
// or written to the network, and normalizes an empty kind to text. Every
// send path runs through it, including the remote-only path that bypasses
// the engine.
func ValidateOutgoing(receiverID, content, kind string) (string, error) {
	if receiverID == "" {
		return "", errors.New("receiver id is required")
	}
	if content == "" {
		return "", errors.New("content is required")
	}
	if kind == "" {
		kind = models.KindText
	}
	if !models.ValidKind(kind) {
		return "", fmt.Errorf("invalid message kind %q", kind)
	}
	if kind == models.KindImage && len(content) > MaxImagePayloadBytes {
		return "", ErrPayloadTooLarge
	}
	return kind, nil
}

// Send submits message content for a conversation. While online it
// attempts a direct remote write; on failure or while offline the message
// is queued with a client timestamp and a synthetic local id, and control
// returns immediately.
func (e *Engine) Send(ctx context.Context, receiverID, content, kind, fileName string) (*SendResult, error) {
	kind, err := ValidateOutgoing(receiverID, content, kind)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	message := models.Message{
		ConversationID: models.ConversationID(e.opts.SelfID, receiverID),
		SenderID:       e.opts.SelfID,
		ReceiverID:     receiverID,
		Content:        content,
		Kind:           kind,
		FileName:       fileName,
		ComposedAt:     now,
	}

	if e.online() {
		message.MessageID = uuid.NewString()
		confirmed, err := e.sendLive(ctx, message)
		if err == nil {
			return &SendResult{Message: confirmed}, nil
		}
		if !isTransient(err) {
			return nil, err
		}
		e.logger.Info("live send failed, queueing", "conversation", message.ConversationID, "error", err)
	}

	message.MessageID = models.QueuedIDPrefix + uuid.NewString()
	message.CreatedAt = now
	record, err := e.opts.Store.Enqueue(message)
	if err != nil {
		return nil, fmt.Errorf("queue message: %w", err)
	}

	queued := record.Message()
	return &SendResult{Message: queued, Queued: true}, nil
}

// Drain replays all queued records against the remote store in insertion
// order. Concurrent triggers coalesce into the running pass. A record is
// cleared only after its remote write is confirmed; a failed record stays
// put and blocks later records of the same conversation so per-
// conversation order holds, while other conversations continue.
func (e *Engine) Drain(ctx context.Context) {
	e.drainMu.Lock()
	if e.draining {
		e.drainMu.Unlock()
		return
	}
	e.draining = true
	e.drainMu.Unlock()

	defer func() {
		e.drainMu.Lock()
		e.draining = false
		e.drainMu.Unlock()
	}()

	records, err := e.opts.Store.Queued()
	if err != nil {
		e.logger.Error("read send queue", "error", err)
		return
	}
	if len(records) == 0 {
		return
	}

	stalled := make(map[string]bool)
	var drained, left int
	for _, record := range records {
		if ctx.Err() != nil {
			return
		}
		if stalled[record.ConversationID] {
			left++
			continue
		}

		// The synthetic local id never reaches the remote store; the
		// replayed message gets a fresh one.
		message := models.Message{
			MessageID:      uuid.NewString(),
			ConversationID: record.ConversationID,
			SenderID:       record.SenderID,
			ReceiverID:     record.ReceiverID,
			Content:        record.Content,
			Kind:           record.Kind,
			FileName:       record.FileName,
			ComposedAt:     record.ComposedAt,
		}

		if _, err := e.sendLive(ctx, message); err != nil {
			e.logger.Info("drain send failed, record stays queued",
				"seq", record.Seq, "conversation", record.ConversationID, "error", err)
			stalled[record.ConversationID] = true
			left++
			continue
		}

		if err := e.opts.Store.ClearQueued(record.Seq); err != nil {
			e.logger.Error("clear queued record", "seq", record.Seq, "error", err)
		}
		drained++
	}

	e.logger.Info("queue drain finished", "drained", drained, "left", left)
}

// Delete removes a message from the remote store and the local cache.
// Only the local user's own messages may be deleted.
func (e *Engine) Delete(ctx context.Context, message models.Message) error {
	if message.SenderID != e.opts.SelfID {
		return ErrPermissionDenied
	}

	if message.IsQueued || message.HasQueuedID() {
		return e.clearQueuedByID(message.ConversationID, message.MessageID)
	}

	if err := e.opts.Remote.DeleteMessage(ctx, message.ConversationID, message.MessageID, e.opts.SelfID); err != nil {
		if errors.Is(err, remote.ErrPermissionDenied) {
			return ErrPermissionDenied
		}
		return fmt.Errorf("delete remote message: %w", err)
	}

	if err := e.opts.Store.DeleteMessage(message.MessageID); err != nil {
		e.logger.Warn("delete cached message", "message", message.MessageID, "error", err)
	}
	return nil
}

// CachedMessages reads the local snapshot plus the queued tail for one
// conversation, for display while offline.
func (e *Engine) CachedMessages(conversationID string) ([]models.Message, error) {
	cached, err := e.opts.Store.Messages(conversationID)
	if err != nil {
		return nil, err
	}

	queued, err := e.opts.Store.QueuedForConversation(conversationID)
	if err != nil {
		return nil, err
	}
	for _, record := range queued {
		cached = append(cached, record.Message())
	}

	return cached, nil
}

func (e *Engine) clearQueuedByID(conversationID, messageID string) error {
	records, err := e.opts.Store.QueuedForConversation(conversationID)
	if err != nil {
		return err
	}
	for _, record := range records {
		if record.MessageID == messageID {
			return e.opts.Store.ClearQueued(record.Seq)
		}
	}
	return nil
}

// sendLive performs one bounded direct remote write. The server assigns
// the authoritative timestamp; the original compose time rides along as a
// display hint.
func (e *Engine) sendLive(ctx context.Context, message models.Message) (models.Message, error) {
	sendCtx, cancel := context.WithTimeout(ctx, e.opts.SendTimeout)
	defer cancel()

	confirmed, err := e.opts.Remote.CreateMessage(sendCtx, message)
	if err != nil {
		return models.Message{}, err
	}
	return confirmed, nil
}

func (e *Engine) online() bool {
	if e.opts.Monitor == nil {
		return true
	}
	return e.opts.Monitor.Online()
}

// isTransient classifies failures that queuing recovers from. Anything
// network-shaped queues; validation and permission failures surface.
func isTransient(err error) bool {
	if errors.Is(err, remote.ErrPermissionDenied) || errors.Is(err, remote.ErrNotFound) {
		return false
	}
	if errors.Is(err, ErrPayloadTooLarge) {
		return false
	}
	return true
}
