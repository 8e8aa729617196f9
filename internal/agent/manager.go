// Package agent implements the per-user agent process orchestrator: spawn,
// track, stop, and direct concurrent Claude sessions.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/attache/pkg/models"
)

const (
	// DefaultMaxConcurrent is the per-user ceiling on active agents.
	DefaultMaxConcurrent = 5

	// DefaultStopGrace is how long Stop waits for a run loop to observe
	// cancellation before giving up on it.
	DefaultStopGrace = 5 * time.Second
)

// ErrMaxConcurrent is returned by Spawn when the user already has the
// maximum number of active agents.
var ErrMaxConcurrent = errors.New("maximum concurrent agents reached")

// StreamUpdate is one incremental event from the executor: either assistant
// text or the names of tools being invoked.
type StreamUpdate struct {
	Content   string
	ToolNames []string
}

// Request describes one executor invocation.
type Request struct {
	Prompt    string
	WorkDir   string
	UserID    int64
	SessionID string
	OnStream  func(StreamUpdate)
}

// Result is the executor's final answer for one run.
type Result struct {
	SessionID string
	CostUSD   float64
	Content   string
	IsError   bool
}

// Executor performs the actual work behind an agent. Execute blocks until
// the task finishes, calling OnStream zero or more times along the way. It
// must return promptly once ctx is cancelled.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req Request) (*Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

// Hooks carries the notification callbacks supplied at Spawn/Direct time.
// Either field may be nil.
type Hooks struct {
	// OnUpdate receives rate-limit-worthy progress. Called from the run loop.
	OnUpdate func(ctx context.Context, a *models.AgentProcess, activity string)
	// OnComplete fires once per run when the agent reaches completed or
	// failed. It does not fire for a cancelled (stopped) run.
	OnComplete func(ctx context.Context, a *models.AgentProcess)
}

type agentKey struct {
	userID  int64
	agentID int
}

// runHandle tracks one live run loop for cancellation and completion waits.
type runHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager enforces the per-user concurrency ceiling and drives agent run
// loops. All state lives in memory for the lifetime of the process.
type Manager struct {
	executor      Executor
	registry      *Registry
	maxConcurrent int
	stopGrace     time.Duration

	mu    sync.Mutex
	locks map[int64]*sync.Mutex // per-user admission locks
	runs  map[agentKey]*runHandle
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Executor Executor
	// MaxConcurrent is the per-user active-agent ceiling. Zero means
	// DefaultMaxConcurrent.
	MaxConcurrent int
	// StopGrace bounds how long Stop waits for a cancelled run loop.
	// Zero means DefaultStopGrace.
	StopGrace time.Duration
}

// NewManager creates a Manager with an empty registry.
func NewManager(cfg ManagerConfig) *Manager {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	stopGrace := cfg.StopGrace
	if stopGrace <= 0 {
		stopGrace = DefaultStopGrace
	}
	return &Manager{
		executor:      cfg.Executor,
		registry:      NewRegistry(),
		maxConcurrent: maxConcurrent,
		stopGrace:     stopGrace,
		locks:         make(map[int64]*sync.Mutex),
		runs:          make(map[agentKey]*runHandle),
	}
}

// userLock returns the admission lock for a user, creating it on first use.
func (m *Manager) userLock(userID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[userID] = l
	}
	return l
}

// Spawn creates a new agent and schedules its run loop. It returns once the
// record exists and the run has been launched, not once it completes.
// Returns ErrMaxConcurrent (wrapped) when the user's ceiling is reached; in
// that case nothing is mutated.
func (m *Manager) Spawn(ctx context.Context, userID int64, task, projectPath string, chatID int64, hooks Hooks) (*models.AgentProcess, error) {
	lock := m.userLock(userID)
	lock.Lock()

	if active := len(m.registry.Active(userID)); active >= m.maxConcurrent {
		lock.Unlock()
		return nil, fmt.Errorf("%w (%d); stop an existing agent first with /stop <id>",
			ErrMaxConcurrent, m.maxConcurrent)
	}

	id := m.registry.NextID(userID)
	a := models.NewAgentProcess(id, userID, chatID, projectPath, task)
	m.registry.Insert(a)
	lock.Unlock()

	log.Printf("[agent] spawning agent %d for user %d: %s", id, userID, a.ShortTask())

	m.launch(a, hooks)
	return a, nil
}

// launch registers a cancellable run handle and starts the run loop. The
// handle is registered before the goroutine starts so Stop can never miss a
// run that is about to begin.
func (m *Manager) launch(a *models.AgentProcess, hooks Hooks) {
	key := agentKey{a.UserID, a.ID}
	runCtx, cancel := context.WithCancel(context.Background())
	h := &runHandle{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.runs[key] = h
	m.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				// A panicking run loop must not take the orchestrator
				// down with it; the record keeps whatever terminal state
				// the loop reached.
				log.Printf("[agent] run loop panic for agent %d (user %d): %v", a.ID, a.UserID, r)
			}
			cancel()
			m.mu.Lock()
			// A detached run may have been superseded by a Direct relaunch;
			// only the current owner removes the handle.
			if m.runs[key] == h {
				delete(m.runs, key)
			}
			m.mu.Unlock()
			close(h.done)
		}()
		m.run(runCtx, a, hooks, h)
	}()
}

// owns reports whether h is still the registered handle for key. A run loop
// that outlived its Stop grace loses ownership as soon as a new run is
// launched for the same record.
func (m *Manager) owns(key agentKey, h *runHandle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[key] == h
}

// run executes one agent task from start to terminal state.
func (m *Manager) run(ctx context.Context, a *models.AgentProcess, hooks Hooks, h *runHandle) {
	a.SetStatus(models.AgentStatusRunning)

	if hooks.OnUpdate != nil {
		hooks.OnUpdate(ctx, a, "Starting task...")
	}

	onStream := func(u StreamUpdate) {
		activity := extractActivity(u)
		if activity == "" {
			return
		}
		a.SetLastActivity(activity)
		if hooks.OnUpdate != nil {
			hooks.OnUpdate(ctx, a, activity)
		}
	}

	result, err := m.executor.Execute(ctx, Request{
		Prompt:    a.TaskDescription(),
		WorkDir:   a.ProjectPath,
		UserID:    a.UserID,
		SessionID: a.SessionID(),
		OnStream:  onStream,
	})

	now := time.Now()
	key := agentKey{a.UserID, a.ID}

	if ctx.Err() != nil || (err != nil && errors.Is(err, context.Canceled)) {
		// Cooperative stop. Whatever the executor eventually produced is
		// discarded: the record takes exactly one terminal transition, and
		// cancellations never fire the completion hook. Stop() stamps the
		// record itself once its grace wait resolves, so only stamp here
		// when this loop still owns an un-terminated record.
		if m.owns(key, h) && !a.Terminal() {
			a.SetStatus(models.AgentStatusStopped)
			a.MarkCompleted(now)
		}
		log.Printf("[agent] agent %d cancelled (user %d)", a.ID, a.UserID)
		return
	}

	if err != nil {
		a.SetStatus(models.AgentStatusFailed)
		a.SetErrorMessage(err.Error())
		a.MarkCompleted(now)
		log.Printf("[agent] agent %d failed (user %d): %v", a.ID, a.UserID, err)
		if hooks.OnComplete != nil {
			hooks.OnComplete(ctx, a)
		}
		return
	}

	a.SetSessionID(result.SessionID)
	a.AddCost(result.CostUSD)
	a.SetResultSummary(result.Content)
	a.MarkCompleted(now)

	if result.IsError {
		a.SetStatus(models.AgentStatusFailed)
		a.SetErrorMessage(result.Content)
	} else {
		a.SetStatus(models.AgentStatusCompleted)
	}

	log.Printf("[agent] agent %d done (user %d): status=%s cost=%.4f duration=%s",
		a.ID, a.UserID, a.Status(), a.CostUSD(), a.Duration().Round(time.Second))

	if hooks.OnComplete != nil {
		hooks.OnComplete(ctx, a)
	}
}

// extractActivity reduces a stream update to a short human-readable line.
func extractActivity(u StreamUpdate) string {
	if len(u.ToolNames) > 0 {
		return "Using: " + strings.Join(u.ToolNames, ", ")
	}
	content := strings.TrimSpace(u.Content)
	if content == "" {
		return ""
	}
	lines := strings.Split(content, "\n")
	activity := strings.TrimSpace(lines[len(lines)-1])
	// Cut on rune boundaries so multibyte text stays valid.
	if runes := []rune(activity); len(runes) > 100 {
		activity = string(runes[:100])
	}
	return activity
}

// Stop cancels a running agent and waits up to the grace period for its run
// loop to unwind. Returns false if the agent does not exist or is not
// active. The record is marked stopped even if the run loop ignored
// cancellation; callers must treat "stopped" as "no longer supervised",
// not as proof the underlying work already ceased.
func (m *Manager) Stop(ctx context.Context, userID int64, agentID int) bool {
	a := m.registry.Get(userID, agentID)
	if a == nil || !a.Active() {
		return false
	}

	m.mu.Lock()
	h := m.runs[agentKey{userID, agentID}]
	m.mu.Unlock()

	if h != nil {
		h.cancel()
		select {
		case <-h.done:
		case <-time.After(m.stopGrace):
			log.Printf("[agent] agent %d did not stop within %s; detaching", agentID, m.stopGrace)
		case <-ctx.Done():
		}
	}

	// The run loop may have recorded the terminal state while we waited;
	// a record only ever takes one terminal transition.
	if !a.Terminal() {
		a.SetStatus(models.AgentStatusStopped)
		a.MarkCompleted(time.Now())
	}
	log.Printf("[agent] agent %d stopped (user %d)", agentID, userID)
	return true
}

// StopAll stops every active agent for a user and returns how many were
// transitioned. Stops are sequential, so worst-case wall time is bounded by
// count times the grace period.
func (m *Manager) StopAll(ctx context.Context, userID int64) int {
	count := 0
	for _, a := range m.registry.Active(userID) {
		if m.Stop(ctx, userID, a.ID) {
			count++
		}
	}
	return count
}

// Direct sends a follow-up task to an existing agent. A terminal agent is
// respawned in place: same id, same Claude session, fresh run. Returns nil
// without mutating anything when the agent is unknown or still active
// (running agents cannot be redirected).
func (m *Manager) Direct(ctx context.Context, userID int64, agentID int, message string, hooks Hooks) *models.AgentProcess {
	lock := m.userLock(userID)
	lock.Lock()
	a := m.registry.Get(userID, agentID)
	if a == nil || a.Active() {
		// The active check shares Spawn's exclusive section: two concurrent
		// redirects of one terminal record must not both relaunch it.
		lock.Unlock()
		return nil
	}
	a.Reset(message)
	lock.Unlock()

	log.Printf("[agent] directing agent %d (user %d): %s", agentID, userID, a.ShortTask())

	m.launch(a, hooks)
	return a
}

// Agent returns a single agent record, or nil.
func (m *Manager) Agent(userID int64, agentID int) *models.AgentProcess {
	return m.registry.Get(userID, agentID)
}

// ActiveAgents returns the user's active agents ordered by id.
func (m *Manager) ActiveAgents(userID int64) []*models.AgentProcess {
	return m.registry.Active(userID)
}

// AllAgents returns every agent for a user ordered by id.
func (m *Manager) AllAgents(userID int64) []*models.AgentProcess {
	return m.registry.All(userID)
}

// Stats aggregates a user's agents.
func (m *Manager) Stats(userID int64) models.AgentStats {
	return m.registry.Stats(userID)
}

// Shutdown stops every agent for every user and clears all state. Safe to
// call repeatedly or with nothing running.
func (m *Manager) Shutdown(ctx context.Context) {
	log.Printf("[agent] shutting down agent manager")
	for _, userID := range m.registry.Users() {
		m.StopAll(ctx, userID)
	}
	m.registry.Clear()
	m.mu.Lock()
	m.runs = make(map[agentKey]*runHandle)
	m.mu.Unlock()
	log.Printf("[agent] agent manager shutdown complete")
}
