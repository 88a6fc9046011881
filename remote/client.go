package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"gochat/models"
)

const (
	// defaultCallTimeout bounds a request when the caller's context has no
	// deadline of its own.
	defaultCallTimeout = 10 * time.Second
	// writeTimeout bounds one websocket frame write.
	writeTimeout = 10 * time.Second
	// maxReconnectInterval caps the backoff between reconnect attempts.
	maxReconnectInterval = 30 * time.Second
)

// ClientOptions configures a websocket Store client.
type ClientOptions struct {
	// URL is the websocket endpoint of the backend gateway.
	URL string
	// AppID namespaces this application's collections.
	AppID string
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// OnStateChange is invoked with true on every successful connect and
	// false on every disconnect. The connectivity monitor hangs off this.
	OnStateChange func(online bool)

	// dial overrides the websocket dialer in tests.
	dial func(ctx context.Context, url string) (wsConn, error)
}

// wsConn is the subset of *websocket.Conn the client needs.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is the websocket implementation of Store. It keeps a single
// connection, correlates replies by request id, resubscribes active
// conversations after every reconnect, and reports each state change.
type Client struct {
	opts   ClientOptions
	logger *slog.Logger

	mu      sync.Mutex
	conn    wsConn
	online  bool
	nextID  int64
	pending map[int64]chan responseFrame
	subs    map[string]*Subscription
	closed  bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a client and starts its connection loop.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.URL == "" {
		return nil, errors.New("backend URL is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.dial == nil {
		opts.dial = func(ctx context.Context, url string) (wsConn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		opts:    opts,
		logger:  logger,
		pending: make(map[int64]chan responseFrame),
		subs:    make(map[string]*Subscription),
		cancel:  cancel,
	}

	client.wg.Add(1)
	go client.connectLoop(ctx)

	return client, nil
}

// Close shuts the client down and closes all subscriptions.
func (c *Client) Close() error {
	c.cancel()

	c.mu.Lock()
	c.closed = true
	c.online = false
	conn := c.conn
	c.conn = nil
	subs := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subs = make(map[string]*Subscription)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	for _, sub := range subs {
		sub.Close()
	}

	c.wg.Wait()
	return nil
}

// Online reports whether a backend connection is currently established.
func (c *Client) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// CreateMessage implements Store.
func (c *Client) CreateMessage(ctx context.Context, message models.Message) (models.Message, error) {
	resp, err := c.call(ctx, opCreateMessage, messagePayload{Message: message})
	if err != nil {
		return models.Message{}, err
	}

	var payload messagePayload
	if err := json.Unmarshal(resp, &payload); err != nil {
		return models.Message{}, fmt.Errorf("decode create_message response: %w", err)
	}
	return payload.Message, nil
}

// Messages implements Store.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	resp, err := c.call(ctx, opMessages, conversationPayload{ConversationID: conversationID})
	if err != nil {
		return nil, err
	}

	var payload snapshotPayload
	if err := json.Unmarshal(resp, &payload); err != nil {
		return nil, fmt.Errorf("decode messages response: %w", err)
	}
	return payload.Messages, nil
}

// DeleteMessage implements Store.
func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID, requesterID string) error {
	_, err := c.call(ctx, opDeleteMessage, deletePayload{
		ConversationID: conversationID,
		MessageID:      messageID,
		RequesterID:    requesterID,
	})
	return err
}

// Subscribe implements Store. The subscription survives reconnects: the
// client re-issues subscribe frames after every re-established connection.
func (c *Client) Subscribe(ctx context.Context, conversationID string) (*Subscription, error) {
	if conversationID == "" {
		return nil, errors.New("conversation_id is required")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrOffline
	}
	if existing, ok := c.subs[conversationID]; ok {
		c.mu.Unlock()
		return existing, nil
	}

	var sub *Subscription
	sub = newSubscription(conversationID, func() {
		c.mu.Lock()
		delete(c.subs, conversationID)
		online := c.online
		c.mu.Unlock()
		if online {
			detachCtx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
			defer cancel()
			if _, err := c.call(detachCtx, opUnsubscribe, conversationPayload{ConversationID: conversationID}); err != nil {
				c.logger.Debug("unsubscribe failed", "conversation", conversationID, "error", err)
			}
		}
	})
	c.subs[conversationID] = sub
	online := c.online
	c.mu.Unlock()

	if online {
		if _, err := c.call(ctx, opSubscribe, conversationPayload{ConversationID: conversationID}); err != nil {
			c.logger.Debug("subscribe deferred until reconnect", "conversation", conversationID, "error", err)
		}
	}

	return sub, nil
}

// SaveUser implements Store.
func (c *Client) SaveUser(ctx context.Context, user models.User) error {
	_, err := c.call(ctx, opSaveUser, userPayload{User: user})
	return err
}

// User implements Store.
func (c *Client) User(ctx context.Context, userID string) (models.User, error) {
	resp, err := c.call(ctx, opGetUser, userIDPayload{UserID: userID})
	if err != nil {
		return models.User{}, err
	}

	var payload userPayload
	if err := json.Unmarshal(resp, &payload); err != nil {
		return models.User{}, fmt.Errorf("decode get_user response: %w", err)
	}
	return payload.User, nil
}

// SetTyping implements Store.
func (c *Client) SetTyping(ctx context.Context, conversationID, userID string, typing bool) error {
	_, err := c.call(ctx, opSetTyping, typingPayload{
		ConversationID: conversationID,
		UserID:         userID,
		Typing:         typing,
	})
	return err
}

// TypingUsers implements Store.
func (c *Client) TypingUsers(ctx context.Context, conversationID string) ([]string, error) {
	resp, err := c.call(ctx, opTypingUsers, conversationPayload{ConversationID: conversationID})
	if err != nil {
		return nil, err
	}

	var payload typingUsersPayload
	if err := json.Unmarshal(resp, &payload); err != nil {
		return nil, fmt.Errorf("decode typing_users response: %w", err)
	}
	return payload.UserIDs, nil
}

// Heartbeat implements Store.
func (c *Client) Heartbeat(ctx context.Context, userID string) error {
	_, err := c.call(ctx, opHeartbeat, userIDPayload{UserID: userID})
	return err
}

// RegisterDeviceToken implements Store.
func (c *Client) RegisterDeviceToken(ctx context.Context, userID, token string) error {
	_, err := c.call(ctx, opRegisterToken, tokenPayload{UserID: userID, Token: token})
	return err
}

// RemoveDeviceToken implements Store.
func (c *Client) RemoveDeviceToken(ctx context.Context, userID, token string) error {
	_, err := c.call(ctx, opRemoveToken, tokenPayload{UserID: userID, Token: token})
	return err
}

// call sends one request frame and waits for its correlated reply.
func (c *Client) call(ctx context.Context, op string, payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", op, err)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCallTimeout)
		defer cancel()
	}

	c.mu.Lock()
	if c.conn == nil || !c.online {
		c.mu.Unlock()
		return nil, ErrOffline
	}
	c.nextID++
	id := c.nextID
	reply := make(chan responseFrame, 1)
	c.pending[id] = reply
	conn := c.conn
	c.mu.Unlock()

	frame, err := json.Marshal(requestFrame{ID: id, Op: op, AppID: c.opts.AppID, Payload: raw})
	if err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("encode %s frame: %w", op, err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.writeFrame(conn, frame); err != nil {
		c.dropPending(id)
		return nil, fmt.Errorf("send %s: %w: %w", op, ErrOffline, err)
	}

	select {
	case resp := <-reply:
		if !resp.OK {
			return nil, decodeRemoteError(op, resp)
		}
		return resp.Payload, nil
	case <-ctx.Done():
		c.dropPending(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s timed out: %w", op, ErrOffline)
		}
		return nil, ctx.Err()
	}
}

// writeFrame serializes concurrent writers onto the single connection.
func (c *Client) writeFrame(conn wsConn, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return errors.New("connection replaced")
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) dropPending(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

func (c *Client) connectLoop(ctx context.Context) {
	defer c.wg.Done()

	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = maxReconnectInterval
	policy.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := c.opts.dial(ctx, c.opts.URL)
		if err != nil {
			wait := policy.NextBackOff()
			c.logger.Debug("backend dial failed", "error", err, "retry_in", wait)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return
			}
		}
		policy.Reset()

		c.attach(conn)
		c.readLoop(ctx, conn)
		c.detach(conn)
	}
}

// attach installs a fresh connection, reports the online transition, and
// re-issues subscribe frames for every active subscription.
func (c *Client) attach(conn wsConn) {
	c.mu.Lock()
	c.conn = conn
	c.online = true
	resubscribe := make([]string, 0, len(c.subs))
	for conversationID := range c.subs {
		resubscribe = append(resubscribe, conversationID)
	}
	c.mu.Unlock()

	c.logger.Info("backend connected", "url", c.opts.URL)
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(true)
	}

	for _, conversationID := range resubscribe {
		subCtx, cancel := context.WithTimeout(context.Background(), defaultCallTimeout)
		if _, err := c.call(subCtx, opSubscribe, conversationPayload{ConversationID: conversationID}); err != nil {
			c.logger.Warn("resubscribe failed", "conversation", conversationID, "error", err)
		}
		cancel()
	}
}

func (c *Client) detach(conn wsConn) {
	_ = conn.Close()

	c.mu.Lock()
	wasOnline := c.online && c.conn == conn
	if c.conn == conn {
		c.conn = nil
		c.online = false
	}
	// In-flight calls on the dead connection fail as offline.
	pending := c.pending
	c.pending = make(map[int64]chan responseFrame)
	c.mu.Unlock()

	for _, reply := range pending {
		reply <- responseFrame{OK: false, Code: "", Error: "connection lost"}
	}

	if wasOnline {
		c.logger.Info("backend disconnected", "url", c.opts.URL)
		if c.opts.OnStateChange != nil {
			c.opts.OnStateChange(false)
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn wsConn) {
	for {
		if ctx.Err() != nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame responseFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.logger.Warn("malformed backend frame", "error", err)
			continue
		}

		if frame.Op == opSnapshot {
			c.handleSnapshot(frame)
			continue
		}

		c.mu.Lock()
		reply, ok := c.pending[frame.ID]
		if ok {
			delete(c.pending, frame.ID)
		}
		c.mu.Unlock()
		if ok {
			reply <- frame
		}
	}
}

func (c *Client) handleSnapshot(frame responseFrame) {
	var payload snapshotPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		c.logger.Warn("malformed snapshot frame", "error", err)
		return
	}

	c.mu.Lock()
	sub, ok := c.subs[payload.ConversationID]
	if ok {
		sub.push(payload.Messages)
	}
	c.mu.Unlock()
}

func decodeRemoteError(op string, resp responseFrame) error {
	switch resp.Code {
	case codeNotFound:
		return ErrNotFound
	case codePermissionDenied:
		return ErrPermissionDenied
	}
	if resp.Error == "connection lost" {
		return fmt.Errorf("%s: %w", op, ErrOffline)
	}
	return fmt.Errorf("%s: backend error: %s", op, resp.Error)
}
