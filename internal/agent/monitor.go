package agent

import (
	"context"
	"sync"
	"time"

	"github.com/ShayCichocki/attache/pkg/models"
)

// DefaultEditInterval is the minimum time between status edits for one
// agent, matching the transport's tolerance for message edits.
const DefaultEditInterval = 2 * time.Second

// Notifier renders agent state to the user. Implementations perform the
// actual message send/edit; the monitor only decides when.
type Notifier interface {
	// UpdateStatus edits the agent's status message with a new activity line.
	UpdateStatus(ctx context.Context, a *models.AgentProcess, activity string)
	// ShowCompletion replaces the status message with the terminal view
	// (result or error summary, changed files, follow-up affordances).
	ShowCompletion(ctx context.Context, a *models.AgentProcess)
}

type editState struct {
	lastSent time.Time
	pending  string
}

// Monitor rate-limits progress notifications per agent, coalescing bursts
// into the most recent activity string. Updates for one agent arrive from
// that agent's single run loop; the map itself is shared across agents and
// guarded by a mutex.
type Monitor struct {
	notifier Notifier
	interval time.Duration
	now      func() time.Time

	mu    sync.Mutex
	edits map[agentKey]*editState
}

// NewMonitor creates a monitor over the given notifier. A zero interval
// means DefaultEditInterval.
func NewMonitor(notifier Notifier, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultEditInterval
	}
	return &Monitor{
		notifier: notifier,
		interval: interval,
		now:      time.Now,
		edits:    make(map[agentKey]*editState),
	}
}

func (m *Monitor) state(a *models.AgentProcess) *editState {
	key := agentKey{a.UserID, a.ID}
	s, ok := m.edits[key]
	if !ok {
		s = &editState{}
		m.edits[key] = s
	}
	return s
}

// Update forwards the activity immediately if the agent's edit window has
// elapsed; otherwise it replaces any pending value (last write wins) and
// returns without sending.
func (m *Monitor) Update(ctx context.Context, a *models.AgentProcess, activity string) {
	m.mu.Lock()
	s := m.state(a)
	if m.now().Sub(s.lastSent) < m.interval {
		s.pending = activity
		m.mu.Unlock()
		return
	}
	s.pending = ""
	s.lastSent = m.now()
	m.mu.Unlock()

	m.notifier.UpdateStatus(ctx, a, activity)
}

// Flush sends any pending activity immediately. Called before a terminal
// notification so the latest activity is never silently dropped.
func (m *Monitor) Flush(ctx context.Context, a *models.AgentProcess) {
	m.mu.Lock()
	s := m.state(a)
	pending := s.pending
	if pending == "" {
		m.mu.Unlock()
		return
	}
	s.pending = ""
	s.lastSent = m.now()
	m.mu.Unlock()

	m.notifier.UpdateStatus(ctx, a, pending)
}

// ShowCompletion discards any pending activity (the terminal message
// supersedes it) and renders the terminal view.
func (m *Monitor) ShowCompletion(ctx context.Context, a *models.AgentProcess) {
	m.mu.Lock()
	m.state(a).pending = ""
	m.mu.Unlock()

	m.notifier.ShowCompletion(ctx, a)
}
