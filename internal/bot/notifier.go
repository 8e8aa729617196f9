package bot

import (
	"context"
	"log"

	"github.com/ShayCichocki/attache/pkg/models"
)

// Notifier keeps one status message per agent edited in place. It implements
// the monitor's Notifier interface; the monitor decides when edits happen,
// this type decides what they say.
type Notifier struct {
	messenger Messenger
}

// NewNotifier creates a notifier over the given transport.
func NewNotifier(m Messenger) *Notifier {
	return &Notifier{messenger: m}
}

// CreateStatusMessage posts the initial status message for a fresh agent and
// remembers its id on the agent record. Failures are logged; a run without a
// status message still runs.
func (n *Notifier) CreateStatusMessage(ctx context.Context, a *models.AgentProcess) {
	text := FormatStatus(a, "Starting...")
	id, err := n.messenger.SendMessage(ctx, a.ChatID, text)
	if err != nil {
		log.Printf("[bot] agent %d: create status message failed: %v", a.ID, err)
		return
	}
	a.SetStatusMessageID(id)
}

// UpdateStatus edits the agent's status message with the latest activity.
func (n *Notifier) UpdateStatus(ctx context.Context, a *models.AgentProcess, activity string) {
	msgID := a.StatusMessageID()
	if msgID == 0 || a.ChatID == 0 {
		return
	}
	if err := n.messenger.EditMessage(ctx, a.ChatID, msgID, FormatStatus(a, activity)); err != nil {
		log.Printf("[bot] agent %d: status edit failed: %v", a.ID, err)
	}
}

// ShowCompletion replaces the status message with the terminal view.
func (n *Notifier) ShowCompletion(ctx context.Context, a *models.AgentProcess) {
	msgID := a.StatusMessageID()
	if msgID == 0 || a.ChatID == 0 {
		return
	}
	if err := n.messenger.EditMessage(ctx, a.ChatID, msgID, FormatCompletion(a)); err != nil {
		log.Printf("[bot] agent %d: completion edit failed: %v", a.ID, err)
	}
}
