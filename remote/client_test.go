package remote

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"gochat/models"
)

// fakeConn is an in-memory wsConn: frames written by the client land on
// fromClient, frames pushed on toClient come out of ReadMessage.
type fakeConn struct {
	toClient   chan []byte
	fromClient chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		toClient:   make(chan []byte, 16),
		fromClient: make(chan []byte, 16),
		closed:     make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case raw := <-f.toClient:
		return 1, raw, nil
	case <-f.closed:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("use of closed connection")
	default:
	}
	select {
	case f.fromClient <- data:
		return nil
	case <-f.closed:
		return errors.New("use of closed connection")
	}
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
	})
	return nil
}

// serveEcho answers requests on conn like a minimal backend gateway until
// the connection closes: create_message gets a server id and timestamp,
// everything else gets an empty OK.
func serveEcho(t *testing.T, conn *fakeConn) {
	t.Helper()

	go func() {
		var timestamp int64 = 1_000
		for {
			var raw []byte
			select {
			case raw = <-conn.fromClient:
			case <-conn.closed:
				return
			}

			var req requestFrame
			if err := json.Unmarshal(raw, &req); err != nil {
				continue
			}

			resp := responseFrame{ID: req.ID, OK: true}
			if req.Op == opCreateMessage {
				var payload messagePayload
				if err := json.Unmarshal(req.Payload, &payload); err != nil {
					continue
				}
				if payload.Message.MessageID == "" {
					payload.Message.MessageID = "srv-1"
				}
				timestamp++
				payload.Message.CreatedAt = timestamp
				resp.Payload, _ = json.Marshal(payload)
			}

			out, _ := json.Marshal(resp)
			select {
			case conn.toClient <- out:
			case <-conn.closed:
				return
			}
		}
	}()
}

func waitForOnline(t *testing.T, client *Client) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for !client.Online() {
		select {
		case <-deadline:
			t.Fatalf("client never connected")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestClientCallRoundTrip(t *testing.T) {
	conn := newFakeConn()
	serveEcho(t, conn)

	client, err := NewClient(ClientOptions{
		URL: "ws://test",
		dial: func(ctx context.Context, url string) (wsConn, error) {
			return conn, nil
		},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()
	waitForOnline(t, client)

	confirmed, err := client.CreateMessage(context.Background(), models.Message{
		ConversationID: "alice__bob",
		SenderID:       "alice",
		ReceiverID:     "bob",
		Content:        "hello",
		Kind:           models.KindText,
	})
	if err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	if confirmed.MessageID == "" || confirmed.CreatedAt == 0 {
		t.Fatalf("expected server id and timestamp, got %+v", confirmed)
	}
	if confirmed.Content != "hello" {
		t.Fatalf("round trip mangled the message: %+v", confirmed)
	}
}

func TestClientReportsOfflineWhileDisconnected(t *testing.T) {
	client, err := NewClient(ClientOptions{
		URL: "ws://test",
		dial: func(ctx context.Context, url string) (wsConn, error) {
			return nil, errors.New("connection refused")
		},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()

	_, err = client.CreateMessage(context.Background(), models.Message{Content: "x"})
	if !errors.Is(err, ErrOffline) {
		t.Fatalf("expected ErrOffline while disconnected, got %v", err)
	}
}

func TestClientStateChangeAndResubscribeAcrossReconnect(t *testing.T) {
	conns := make(chan *fakeConn, 2)
	first := newFakeConn()
	second := newFakeConn()
	serveEcho(t, first)
	serveEcho(t, second)
	conns <- first
	conns <- second

	var mu sync.Mutex
	var transitions []bool

	client, err := NewClient(ClientOptions{
		URL: "ws://test",
		OnStateChange: func(online bool) {
			mu.Lock()
			transitions = append(transitions, online)
			mu.Unlock()
		},
		dial: func(ctx context.Context, url string) (wsConn, error) {
			select {
			case conn := <-conns:
				return conn, nil
			default:
				return nil, errors.New("no more connections")
			}
		},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()
	waitForOnline(t, client)

	sub, err := client.Subscribe(context.Background(), "alice__bob")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	// Drop the first connection; the client must reconnect and re-issue
	// the subscribe frame on the fresh one.
	first.Close()

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(transitions)
		mu.Unlock()
		if n >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected online/offline/online transitions, got %v", transitions)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	got := append([]bool(nil), transitions...)
	mu.Unlock()
	if !got[0] || got[1] || !got[2] {
		t.Fatalf("unexpected transition order: %v", got)
	}

	// The resubscribe ran against the second connection, so a snapshot
	// push for the conversation reaches the surviving subscription.
	payload, _ := json.Marshal(snapshotPayload{
		ConversationID: "alice__bob",
		Messages: []models.Message{
			{MessageID: "srv-1", SenderID: "bob", Content: "still here", Kind: models.KindText, CreatedAt: 2_000},
		},
	})
	frame, _ := json.Marshal(responseFrame{Op: opSnapshot, OK: true, Payload: payload})
	second.toClient <- frame

	select {
	case snapshot := <-sub.Updates():
		if len(snapshot) != 1 || snapshot[0].MessageID != "srv-1" {
			t.Fatalf("unexpected snapshot after reconnect: %+v", snapshot)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("snapshot never reached the subscription after reconnect")
	}
}

func TestClientDecodesBackendErrorCodes(t *testing.T) {
	conn := newFakeConn()
	go func() {
		for {
			var raw []byte
			select {
			case raw = <-conn.fromClient:
			case <-conn.closed:
				return
			}
			var req requestFrame
			if err := json.Unmarshal(raw, &req); err != nil {
				continue
			}
			code := codeNotFound
			if req.Op == opDeleteMessage {
				code = codePermissionDenied
			}
			out, _ := json.Marshal(responseFrame{ID: req.ID, OK: false, Code: code})
			conn.toClient <- out
		}
	}()

	client, err := NewClient(ClientOptions{
		URL: "ws://test",
		dial: func(ctx context.Context, url string) (wsConn, error) {
			return conn, nil
		},
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer client.Close()
	waitForOnline(t, client)

	if _, err := client.User(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := client.DeleteMessage(context.Background(), "alice__bob", "msg-1", "mallory"); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}
