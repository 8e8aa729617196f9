// Package models defines the shared data types for attaché agents.
package models

import (
	"sync"
	"time"
)

// AgentStatus represents the lifecycle state of an agent process.
type AgentStatus string

const (
	// AgentStatusStarting indicates the agent has been created but not yet begun work.
	AgentStatusStarting AgentStatus = "starting"
	// AgentStatusRunning indicates the agent is actively working.
	AgentStatusRunning AgentStatus = "running"
	// AgentStatusCompleted indicates the agent finished successfully.
	AgentStatusCompleted AgentStatus = "completed"
	// AgentStatusFailed indicates the agent encountered an error.
	AgentStatusFailed AgentStatus = "failed"
	// AgentStatusAwaitingApproval indicates the agent finished and is waiting for human review.
	AgentStatusAwaitingApproval AgentStatus = "awaiting_approval"
	// AgentStatusStopped indicates the agent was cancelled by the user.
	AgentStatusStopped AgentStatus = "stopped"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusStarting, AgentStatusRunning, AgentStatusCompleted,
		AgentStatusFailed, AgentStatusAwaitingApproval, AgentStatusStopped:
		return true
	default:
		return false
	}
}

// Active returns true if an agent in this status still holds a run loop.
func (s AgentStatus) Active() bool {
	return s == AgentStatusStarting || s == AgentStatusRunning
}

// Terminal returns true if the status is a final state.
// AwaitingApproval is non-active but not final: the approval workflow
// moves it to completed or stopped.
func (s AgentStatus) Terminal() bool {
	return s == AgentStatusCompleted || s == AgentStatusFailed || s == AgentStatusStopped
}

// AgentProcess represents one tracked Claude agent session.
//
// Identity fields (ID, UserID, ChatID, ProjectPath) are set at creation and
// never change. The remaining fields are written by the run loop that owns
// the process and read concurrently by status rendering, so access goes
// through the accessor methods. Snapshot returns a consistent copy.
type AgentProcess struct {
	// ID is sequential per user (1, 2, 3, ...) and never reused.
	ID int
	// UserID is the owning user.
	UserID int64
	// ChatID is the chat that receives status messages for this agent.
	ChatID int64
	// ProjectPath is the working directory the agent operates in.
	ProjectPath string

	mu              sync.RWMutex
	sessionID       string
	taskDescription string
	status          AgentStatus
	statusMessageID int
	startedAt       time.Time
	completedAt     time.Time
	resultSummary   string
	errorMessage    string
	filesChanged    []string
	costUSD         float64
	lastActivity    string
}

// NewAgentProcess creates a process record in the starting state.
func NewAgentProcess(id int, userID, chatID int64, projectPath, task string) *AgentProcess {
	return &AgentProcess{
		ID:              id,
		UserID:          userID,
		ChatID:          chatID,
		ProjectPath:     projectPath,
		taskDescription: task,
		status:          AgentStatusStarting,
		startedAt:       time.Now(),
	}
}

// Status returns the current lifecycle status.
func (a *AgentProcess) Status() AgentStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// SetStatus updates the lifecycle status.
func (a *AgentProcess) SetStatus(s AgentStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = s
}

// Active returns true if the agent still holds a run loop.
func (a *AgentProcess) Active() bool {
	return a.Status().Active()
}

// Terminal returns true if the agent reached a final state.
func (a *AgentProcess) Terminal() bool {
	return a.Status().Terminal()
}

// SessionID returns the Claude session identifier, or "" before the first
// executor response.
func (a *AgentProcess) SessionID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sessionID
}

// SetSessionID stores the Claude session identifier.
func (a *AgentProcess) SetSessionID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionID = id
}

// TaskDescription returns the current task text.
func (a *AgentProcess) TaskDescription() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.taskDescription
}

// StatusMessageID returns the transport message being edited with progress,
// or 0 if none was created.
func (a *AgentProcess) StatusMessageID() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.statusMessageID
}

// SetStatusMessageID stores the transport message id for in-place edits.
func (a *AgentProcess) SetStatusMessageID(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statusMessageID = id
}

// StartedAt returns the start time of the current run.
func (a *AgentProcess) StartedAt() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.startedAt
}

// CompletedAt returns the completion time, zero until the run ends.
func (a *AgentProcess) CompletedAt() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.completedAt
}

// MarkCompleted stamps the completion time.
func (a *AgentProcess) MarkCompleted(t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.completedAt = t
}

// ResultSummary returns the final result text from the last run.
func (a *AgentProcess) ResultSummary() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.resultSummary
}

// SetResultSummary stores the final result text.
func (a *AgentProcess) SetResultSummary(s string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resultSummary = s
}

// ErrorMessage returns the failure message, if any.
func (a *AgentProcess) ErrorMessage() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.errorMessage
}

// SetErrorMessage stores the failure message.
func (a *AgentProcess) SetErrorMessage(s string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errorMessage = s
}

// FilesChanged returns the files touched during the run.
func (a *AgentProcess) FilesChanged() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.filesChanged))
	copy(out, a.filesChanged)
	return out
}

// SetFilesChanged replaces the changed-file list.
func (a *AgentProcess) SetFilesChanged(files []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.filesChanged = append([]string(nil), files...)
}

// CostUSD returns the accumulated API cost across all runs of this agent.
func (a *AgentProcess) CostUSD() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.costUSD
}

// AddCost accumulates API cost. Cost is never reset, even on continuation.
func (a *AgentProcess) AddCost(usd float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.costUSD += usd
}

// LastActivity returns the latest short activity string.
func (a *AgentProcess) LastActivity() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastActivity
}

// SetLastActivity stores the latest short activity string.
func (a *AgentProcess) SetLastActivity(s string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastActivity = s
}

// Reset prepares a terminal agent for a follow-up run in the same session.
// The session id and accumulated cost survive; everything else from the
// previous run is cleared.
func (a *AgentProcess) Reset(task string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.taskDescription = task
	a.status = AgentStatusStarting
	a.startedAt = time.Now()
	a.completedAt = time.Time{}
	a.resultSummary = ""
	a.errorMessage = ""
	a.lastActivity = ""
	a.filesChanged = nil
}

// Duration returns elapsed wall time of the current run: until completion
// if the run ended, until now otherwise.
func (a *AgentProcess) Duration() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	end := a.completedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(a.startedAt)
}

// ShortTask returns the task description truncated for display.
func (a *AgentProcess) ShortTask() string {
	return truncate(a.TaskDescription(), 50)
}

// Snapshot returns a consistent copy of the mutable state for rendering.
func (a *AgentProcess) Snapshot() AgentSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return AgentSnapshot{
		ID:              a.ID,
		UserID:          a.UserID,
		ChatID:          a.ChatID,
		ProjectPath:     a.ProjectPath,
		SessionID:       a.sessionID,
		TaskDescription: a.taskDescription,
		Status:          a.status,
		StatusMessageID: a.statusMessageID,
		StartedAt:       a.startedAt,
		CompletedAt:     a.completedAt,
		ResultSummary:   a.resultSummary,
		ErrorMessage:    a.errorMessage,
		FilesChanged:    append([]string(nil), a.filesChanged...),
		CostUSD:         a.costUSD,
		LastActivity:    a.lastActivity,
	}
}

// AgentSnapshot is a plain copy of an AgentProcess, safe to read without
// coordination.
type AgentSnapshot struct {
	ID              int
	UserID          int64
	ChatID          int64
	ProjectPath     string
	SessionID       string
	TaskDescription string
	Status          AgentStatus
	StatusMessageID int
	StartedAt       time.Time
	CompletedAt     time.Time
	ResultSummary   string
	ErrorMessage    string
	FilesChanged    []string
	CostUSD         float64
	LastActivity    string
}

// Duration returns elapsed wall time for the snapshot's run.
func (s AgentSnapshot) Duration() time.Duration {
	end := s.CompletedAt
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(s.StartedAt)
}

// ShortTask returns the task description truncated for display.
func (s AgentSnapshot) ShortTask() string {
	return truncate(s.TaskDescription, 50)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

// AgentStats aggregates a user's agents.
type AgentStats struct {
	TotalAgents int
	Active      int
	Completed   int
	Failed      int
	TotalCost   float64
}
