// Package bot is the chat front end: it renders agent state into messages,
// keeps per-agent status messages edited in place, and dispatches the user's
// commands to the orchestrator.
package bot

import "context"

// Messenger is the transport the bot speaks through. The console TUI
// implements it for local use; a chat transport implements it for remote use.
type Messenger interface {
	// SendMessage posts a new message to a chat and returns its id, used for
	// later in-place edits.
	SendMessage(ctx context.Context, chatID int64, text string) (int, error)
	// EditMessage replaces the text of an existing message. Implementations
	// must treat an unchanged-content edit as a no-op, not an error.
	EditMessage(ctx context.Context, chatID int64, messageID int, text string) error
}
