// Package notify decides, per incoming message, whether a user-visible
// notification fires, and hands the payload to the injected platform
// surface. Delivery failures never block message handling.
package notify

import (
	"log/slog"
	"strings"

	"gochat/models"
)

const (
	// ImagePlaceholder replaces image payloads in previews.
	ImagePlaceholder = "📷 Image"
	// DefaultPreviewRunes caps a text preview before the ellipsis.
	DefaultPreviewRunes = 200
)

// Notification is the payload handed to the platform surface. The Data
// fields let a notification click deep-link back to the conversation.
type Notification struct {
	Title string
	Body  string

	ConversationID string
	MessageID      string
	SenderID       string
}

// Notifier is the platform notification surface.
type Notifier interface {
	Notify(n Notification) error
}

// Context carries the UI shell state a delivery decision depends on.
// Passed explicitly per call; the dispatcher holds no ambient state.
type Context struct {
	// Focused reports whether the application window currently has focus.
	Focused bool
	// ActiveConversationID is the conversation open in the UI, "" if none.
	ActiveConversationID string
	// Override forces delivery regardless of focus and active
	// conversation. Debug aid.
	Override bool
}

// Options configures a Dispatcher.
type Options struct {
	Notifier Notifier
	// Available is the startup capability check result: false when the
	// platform exposes no notification surface.
	Available bool
	// PreviewRunes defaults to DefaultPreviewRunes.
	PreviewRunes int
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Dispatcher fires notifications for classified message candidates.
type Dispatcher struct {
	opts   Options
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.PreviewRunes <= 0 {
		opts.PreviewRunes = DefaultPreviewRunes
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{opts: opts, logger: opts.Logger}
}

// ShouldNotify applies the suppression rules: deliver when the app is
// unfocused, or the message's conversation is not the active one, or the
// override flag is set.
func (d *Dispatcher) ShouldNotify(message models.Message, ctx Context) bool {
	if !d.opts.Available || d.opts.Notifier == nil {
		return false
	}
	if ctx.Override {
		return true
	}
	if !ctx.Focused {
		return true
	}
	return message.ConversationID != ctx.ActiveConversationID
}

// Deliver fires a notification for the message if the rules allow it.
// Platform errors are logged and swallowed.
func (d *Dispatcher) Deliver(message models.Message, senderName string, ctx Context) {
	if !d.ShouldNotify(message, ctx) {
		return
	}

	title := senderName
	if title == "" {
		title = message.SenderID
	}

	n := Notification{
		Title:          title,
		Body:           Preview(message.Content, message.Kind, d.opts.PreviewRunes),
		ConversationID: message.ConversationID,
		MessageID:      message.MessageID,
		SenderID:       message.SenderID,
	}

	if err := d.opts.Notifier.Notify(n); err != nil {
		d.logger.Warn("notification delivery failed",
			"conversation", n.ConversationID, "message", n.MessageID, "error", err)
	}
}

// Preview renders a message body for notifications and conversation
// lists: images become a fixed placeholder, text is truncated to limit
// runes with an ellipsis.
func Preview(content, kind string, limit int) string {
	if kind == models.KindImage {
		return ImagePlaceholder
	}
	if limit <= 0 {
		limit = DefaultPreviewRunes
	}

	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "..."
}
