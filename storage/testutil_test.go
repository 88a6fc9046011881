package storage

import (
	"testing"

	"gochat/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func testMessage(id, conversationID string, createdAt int64) models.Message {
	return models.Message{
		MessageID:      id,
		ConversationID: conversationID,
		SenderID:       "alice",
		ReceiverID:     "bob",
		Content:        "content of " + id,
		Kind:           models.KindText,
		CreatedAt:      createdAt,
	}
}
