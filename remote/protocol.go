package remote

import (
	"encoding/json"

	"gochat/models"
)

// Frame operations understood by the backend gateway.
const (
	opCreateMessage = "create_message"
	opMessages      = "messages"
	opDeleteMessage = "delete_message"
	opSubscribe     = "subscribe"
	opUnsubscribe   = "unsubscribe"
	opSaveUser      = "save_user"
	opGetUser       = "get_user"
	opSetTyping     = "set_typing"
	opTypingUsers   = "typing_users"
	opHeartbeat     = "heartbeat"
	opRegisterToken = "register_token"
	opRemoveToken   = "remove_token"

	// opSnapshot is pushed by the backend for every committed change on a
	// subscribed conversation.
	opSnapshot = "snapshot"
)

// Backend error codes carried in response frames.
const (
	codeNotFound         = "not_found"
	codePermissionDenied = "permission_denied"
)

// requestFrame is one client→server request.
type requestFrame struct {
	ID      int64           `json:"id"`
	Op      string          `json:"op"`
	AppID   string          `json:"app_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// responseFrame is one server→client reply or push.
type responseFrame struct {
	ID      int64           `json:"id,omitempty"`
	Op      string          `json:"op,omitempty"`
	OK      bool            `json:"ok"`
	Code    string          `json:"code,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type messagePayload struct {
	Message models.Message `json:"message"`
}

type conversationPayload struct {
	ConversationID string `json:"conversation_id"`
}

type deletePayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	RequesterID    string `json:"requester_id"`
}

type snapshotPayload struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []models.Message `json:"messages"`
}

type userPayload struct {
	User models.User `json:"user"`
}

type userIDPayload struct {
	UserID string `json:"user_id"`
}

type typingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	Typing         bool   `json:"typing"`
}

type typingUsersPayload struct {
	UserIDs []string `json:"user_ids"`
}

type tokenPayload struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}
