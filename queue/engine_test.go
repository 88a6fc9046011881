package queue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gochat/connectivity"
	"gochat/models"
	"gochat/remote"
	"gochat/storage"
)

type engineFixture struct {
	engine  *Engine
	store   *storage.Store
	backend *remote.MemoryStore
	monitor *connectivity.Monitor
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	store, _, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open local store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	backend := remote.NewMemoryStore()
	monitor := connectivity.NewMonitor()
	monitor.Start()
	t.Cleanup(monitor.Stop)

	engine, err := NewEngine(Options{
		SelfID:  "alice",
		Store:   store,
		Remote:  backend,
		Monitor: monitor,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	return &engineFixture{engine: engine, store: store, backend: backend, monitor: monitor}
}

func TestSendOnlineWritesDirectlyToRemote(t *testing.T) {
	f := newEngineFixture(t)
	f.monitor.SetOnline(true)

	result, err := f.engine.Send(context.Background(), "bob", "hello", models.KindText, "")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if result.Queued {
		t.Fatalf("expected direct send while online")
	}
	if result.Message.CreatedAt == 0 {
		t.Fatalf("expected server-assigned timestamp")
	}
	if result.Message.HasQueuedID() {
		t.Fatalf("confirmed message must not carry a queued id: %q", result.Message.MessageID)
	}

	stored, err := f.backend.Messages(context.Background(), models.ConversationID("alice", "bob"))
	if err != nil {
		t.Fatalf("backend Messages failed: %v", err)
	}
	if len(stored) != 1 || stored[0].Content != "hello" {
		t.Fatalf("expected message in remote store, got %+v", stored)
	}

	queued, err := f.store.Queued()
	if err != nil {
		t.Fatalf("Queued failed: %v", err)
	}
	if len(queued) != 0 {
		t.Fatalf("expected empty queue after direct send, got %+v", queued)
	}
}

func TestSendOfflineQueuesWithLocalIDAndTimestamp(t *testing.T) {
	f := newEngineFixture(t)

	before := time.Now().UnixMilli()
	result, err := f.engine.Send(context.Background(), "bob", "hi from the tunnel", models.KindText, "")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !result.Queued {
		t.Fatalf("expected queued send while offline")
	}
	if !result.Message.IsQueued || !result.Message.HasQueuedID() {
		t.Fatalf("expected queued flag and id prefix, got %+v", result.Message)
	}
	if result.Message.CreatedAt < before {
		t.Fatalf("expected client-assigned timestamp, got %d", result.Message.CreatedAt)
	}

	queued, err := f.store.Queued()
	if err != nil {
		t.Fatalf("Queued failed: %v", err)
	}
	if len(queued) != 1 || queued[0].Content != "hi from the tunnel" {
		t.Fatalf("expected one queued record, got %+v", queued)
	}
}

func TestSendFallsBackToQueueWhenLiveWriteFails(t *testing.T) {
	f := newEngineFixture(t)
	f.monitor.SetOnline(true)
	f.backend.SetCreateHook(func(models.Message) error {
		return errors.New("connection reset")
	})

	result, err := f.engine.Send(context.Background(), "bob", "optimistic", models.KindText, "")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !result.Queued {
		t.Fatalf("expected fallback to queue on live write failure")
	}

	queued, err := f.store.Queued()
	if err != nil {
		t.Fatalf("Queued failed: %v", err)
	}
	if len(queued) != 1 {
		t.Fatalf("expected one queued record, got %d", len(queued))
	}
}

func TestValidateOutgoing(t *testing.T) {
	if _, err := ValidateOutgoing("", "content", models.KindText); err == nil {
		t.Fatalf("empty receiver must be rejected")
	}
	if _, err := ValidateOutgoing("bob", "", models.KindText); err == nil {
		t.Fatalf("empty content must be rejected")
	}
	if _, err := ValidateOutgoing("bob", "content", "video"); err == nil {
		t.Fatalf("unknown kind must be rejected")
	}

	kind, err := ValidateOutgoing("bob", "content", "")
	if err != nil {
		t.Fatalf("ValidateOutgoing failed: %v", err)
	}
	if kind != models.KindText {
		t.Fatalf("empty kind must normalize to text, got %q", kind)
	}

	oversized := strings.Repeat("A", MaxImagePayloadBytes+1)
	if _, err := ValidateOutgoing("bob", oversized, models.KindImage); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	// The same payload is fine as text; the bound applies to images only.
	if _, err := ValidateOutgoing("bob", oversized, models.KindText); err != nil {
		t.Fatalf("text payload over the image bound failed: %v", err)
	}
}

func TestOversizedImageRejectedBeforePersisting(t *testing.T) {
	f := newEngineFixture(t)

	payload := strings.Repeat("A", MaxImagePayloadBytes+1)
	_, err := f.engine.Send(context.Background(), "bob", payload, models.KindImage, "huge.png")
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}

	queued, err := f.store.Queued()
	if err != nil {
		t.Fatalf("Queued failed: %v", err)
	}
	if len(queued) != 0 {
		t.Fatalf("oversized image must never be persisted, got %+v", queued)
	}

	stored, err := f.backend.Messages(context.Background(), models.ConversationID("alice", "bob"))
	if err != nil {
		t.Fatalf("backend Messages failed: %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("oversized image must never reach the remote store")
	}
}

func TestDrainDeliversEveryQueuedMessageExactlyOnce(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	contents := []string{"first", "second", "third"}
	for _, content := range contents {
		if _, err := f.engine.Send(ctx, "bob", content, models.KindText, ""); err != nil {
			t.Fatalf("offline Send %q failed: %v", content, err)
		}
	}

	f.monitor.SetOnline(true)
	f.engine.Drain(ctx)

	stored, err := f.backend.Messages(ctx, models.ConversationID("alice", "bob"))
	if err != nil {
		t.Fatalf("backend Messages failed: %v", err)
	}
	if len(stored) != len(contents) {
		t.Fatalf("expected %d remote messages, got %d", len(contents), len(stored))
	}
	for i, content := range contents {
		if stored[i].Content != content {
			t.Fatalf("expected FIFO delivery, got %+v", stored)
		}
		if stored[i].SenderID != "alice" || stored[i].ReceiverID != "bob" {
			t.Fatalf("drain lost addressing: %+v", stored[i])
		}
		if stored[i].HasQueuedID() {
			t.Fatalf("local queued id must never persist remotely: %q", stored[i].MessageID)
		}
	}

	queued, err := f.store.Queued()
	if err != nil {
		t.Fatalf("Queued failed: %v", err)
	}
	if len(queued) != 0 {
		t.Fatalf("expected empty queue after drain, got %+v", queued)
	}

	// A second drain over the cleared queue must not duplicate anything.
	f.engine.Drain(ctx)
	stored, err = f.backend.Messages(ctx, models.ConversationID("alice", "bob"))
	if err != nil {
		t.Fatalf("backend Messages failed: %v", err)
	}
	if len(stored) != len(contents) {
		t.Fatalf("second drain duplicated messages: %d", len(stored))
	}
}

func TestDrainFailureLeavesRecordForNextPass(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if _, err := f.engine.Send(ctx, "bob", "to bob", models.KindText, ""); err != nil {
		t.Fatalf("offline Send failed: %v", err)
	}
	if _, err := f.engine.Send(ctx, "carol", "to carol", models.KindText, ""); err != nil {
		t.Fatalf("offline Send failed: %v", err)
	}
	if _, err := f.engine.Send(ctx, "dave", "to dave", models.KindText, ""); err != nil {
		t.Fatalf("offline Send failed: %v", err)
	}

	// Simulate the network dropping mid-drain for one conversation only.
	f.backend.SetCreateHook(func(message models.Message) error {
		if message.ReceiverID == "carol" {
			return errors.New("write timeout")
		}
		return nil
	})

	f.monitor.SetOnline(true)
	f.engine.Drain(ctx)

	queued, err := f.store.Queued()
	if err != nil {
		t.Fatalf("Queued failed: %v", err)
	}
	if len(queued) != 1 || queued[0].ReceiverID != "carol" {
		t.Fatalf("expected only the failed record to stay queued, got %+v", queued)
	}

	bobMessages, err := f.backend.Messages(ctx, models.ConversationID("alice", "bob"))
	if err != nil {
		t.Fatalf("backend Messages failed: %v", err)
	}
	daveMessages, err := f.backend.Messages(ctx, models.ConversationID("alice", "dave"))
	if err != nil {
		t.Fatalf("backend Messages failed: %v", err)
	}
	if len(bobMessages) != 1 || len(daveMessages) != 1 {
		t.Fatalf("expected independent conversations to drain, got %d and %d", len(bobMessages), len(daveMessages))
	}

	// The next pass retries the leftover record.
	f.backend.SetCreateHook(nil)
	f.engine.Drain(ctx)

	queued, err = f.store.Queued()
	if err != nil {
		t.Fatalf("Queued failed: %v", err)
	}
	if len(queued) != 0 {
		t.Fatalf("expected queue drained on retry, got %+v", queued)
	}
}

func TestDrainPreservesComposeTimeAsDisplayHint(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	result, err := f.engine.Send(ctx, "bob", "composed offline", models.KindText, "")
	if err != nil {
		t.Fatalf("offline Send failed: %v", err)
	}
	composedAt := result.Message.ComposedAt

	f.monitor.SetOnline(true)
	f.engine.Drain(ctx)

	stored, err := f.backend.Messages(ctx, models.ConversationID("alice", "bob"))
	if err != nil {
		t.Fatalf("backend Messages failed: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("expected one remote message, got %d", len(stored))
	}
	if stored[0].ComposedAt != composedAt {
		t.Fatalf("drain lost compose time: got %d want %d", stored[0].ComposedAt, composedAt)
	}
	if stored[0].CreatedAt < composedAt {
		t.Fatalf("server timestamp should be send time, got %d before compose %d", stored[0].CreatedAt, composedAt)
	}
}

func TestOnlineEventTriggersAutomaticDrain(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if _, err := f.engine.Send(ctx, "bob", "pending", models.KindText, ""); err != nil {
		t.Fatalf("offline Send failed: %v", err)
	}

	f.engine.Start()
	defer f.engine.Stop()

	f.monitor.SetOnline(true)

	deadline := time.After(2 * time.Second)
	for {
		queued, err := f.store.Queued()
		if err != nil {
			t.Fatalf("Queued failed: %v", err)
		}
		if len(queued) == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("queue not drained after online event, still %d records", len(queued))
		case <-time.After(10 * time.Millisecond):
		}
	}

	stored, err := f.backend.Messages(ctx, models.ConversationID("alice", "bob"))
	if err != nil {
		t.Fatalf("backend Messages failed: %v", err)
	}
	if len(stored) != 1 || stored[0].Content != "pending" {
		t.Fatalf("expected drained message in remote store, got %+v", stored)
	}
}

func TestDeleteRejectsForeignMessages(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	conversation := models.ConversationID("alice", "bob")

	foreign, err := f.backend.CreateMessage(ctx, models.Message{
		MessageID:      "msg-bob",
		ConversationID: conversation,
		SenderID:       "bob",
		ReceiverID:     "alice",
		Content:        "bob's message",
	})
	if err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	err = f.engine.Delete(ctx, foreign)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	remaining, err := f.backend.Messages(ctx, conversation)
	if err != nil {
		t.Fatalf("backend Messages failed: %v", err)
	}
	if len(remaining) != 1 {
		t.Fatalf("foreign message must remain, got %+v", remaining)
	}
}

func TestDeleteOwnConfirmedAndQueuedMessages(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	conversation := models.ConversationID("alice", "bob")

	f.monitor.SetOnline(true)
	confirmed, err := f.engine.Send(ctx, "bob", "sent live", models.KindText, "")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := f.engine.Delete(ctx, confirmed.Message); err != nil {
		t.Fatalf("Delete confirmed message failed: %v", err)
	}
	remaining, err := f.backend.Messages(ctx, conversation)
	if err != nil {
		t.Fatalf("backend Messages failed: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected remote message deleted, got %+v", remaining)
	}

	f.monitor.SetOnline(false)
	queued, err := f.engine.Send(ctx, "bob", "never mind", models.KindText, "")
	if err != nil {
		t.Fatalf("offline Send failed: %v", err)
	}
	if err := f.engine.Delete(ctx, queued.Message); err != nil {
		t.Fatalf("Delete queued message failed: %v", err)
	}
	records, err := f.store.Queued()
	if err != nil {
		t.Fatalf("Queued failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected queued record cleared, got %+v", records)
	}
}

func TestCachedMessagesIncludesQueuedTail(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	conversation := models.ConversationID("alice", "bob")

	if err := f.store.ReplaceMessages(conversation, []models.Message{
		{
			MessageID:      "msg-cached",
			ConversationID: conversation,
			SenderID:       "bob",
			ReceiverID:     "alice",
			Content:        "cached",
			Kind:           models.KindText,
			CreatedAt:      1_000,
		},
	}); err != nil {
		t.Fatalf("ReplaceMessages failed: %v", err)
	}

	if _, err := f.engine.Send(ctx, "bob", "queued after", models.KindText, ""); err != nil {
		t.Fatalf("offline Send failed: %v", err)
	}

	merged, err := f.engine.CachedMessages(conversation)
	if err != nil {
		t.Fatalf("CachedMessages failed: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("expected cached plus queued, got %+v", merged)
	}
	if merged[0].MessageID != "msg-cached" || !merged[1].IsQueued {
		t.Fatalf("unexpected merge order: %+v", merged)
	}
}
