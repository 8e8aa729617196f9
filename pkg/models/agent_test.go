package models

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestAgentStatusValid(t *testing.T) {
	valid := []AgentStatus{
		AgentStatusStarting, AgentStatusRunning, AgentStatusCompleted,
		AgentStatusFailed, AgentStatusAwaitingApproval, AgentStatusStopped,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if AgentStatus("bogus").Valid() {
		t.Error("unknown status should not be valid")
	}
}

func TestAgentStatusActive(t *testing.T) {
	if !AgentStatusStarting.Active() || !AgentStatusRunning.Active() {
		t.Error("starting and running should be active")
	}
	for _, s := range []AgentStatus{AgentStatusCompleted, AgentStatusFailed, AgentStatusAwaitingApproval, AgentStatusStopped} {
		if s.Active() {
			t.Errorf("%q should not be active", s)
		}
	}
}

func TestAgentStatusTerminal(t *testing.T) {
	for _, s := range []AgentStatus{AgentStatusCompleted, AgentStatusFailed, AgentStatusStopped} {
		if !s.Terminal() {
			t.Errorf("%q should be terminal", s)
		}
	}
	if AgentStatusAwaitingApproval.Terminal() {
		t.Error("awaiting_approval is not a final state")
	}
}

func TestNewAgentProcess(t *testing.T) {
	a := NewAgentProcess(1, 42, 99, "/tmp/project", "fix the bug")

	if a.Status() != AgentStatusStarting {
		t.Errorf("Status = %q, want starting", a.Status())
	}
	if a.SessionID() != "" {
		t.Errorf("SessionID should be empty, got %q", a.SessionID())
	}
	if !a.CompletedAt().IsZero() {
		t.Error("CompletedAt should be zero for a new agent")
	}
	if a.StartedAt().IsZero() {
		t.Error("StartedAt should be set")
	}
}

func TestShortTask(t *testing.T) {
	short := NewAgentProcess(1, 1, 1, "/p", "short task")
	if short.ShortTask() != "short task" {
		t.Errorf("ShortTask = %q, want unchanged", short.ShortTask())
	}

	long := NewAgentProcess(2, 1, 1, "/p", strings.Repeat("x", 80))
	got := long.ShortTask()
	if len(got) != 50 {
		t.Errorf("truncated length = %d, want 50", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated task should end in ellipsis, got %q", got)
	}

	wide := NewAgentProcess(3, 1, 1, "/p", strings.Repeat("é", 80))
	gotWide := wide.ShortTask()
	if !utf8.ValidString(gotWide) {
		t.Errorf("truncated task is not valid UTF-8: %q", gotWide)
	}
	if n := utf8.RuneCountInString(gotWide); n != 50 {
		t.Errorf("truncated task has %d runes, want 50", n)
	}
	if !strings.HasSuffix(gotWide, "...") {
		t.Errorf("truncated task should end in ellipsis, got %q", gotWide)
	}
}

func TestReset(t *testing.T) {
	a := NewAgentProcess(1, 42, 99, "/p", "first task")
	a.SetSessionID("sess-1")
	a.SetStatus(AgentStatusCompleted)
	a.MarkCompleted(time.Now())
	a.SetResultSummary("done")
	a.SetErrorMessage("oops")
	a.SetLastActivity("finished")
	a.SetFilesChanged([]string{"a.go"})
	a.AddCost(0.5)

	a.Reset("second task")

	if a.Status() != AgentStatusStarting {
		t.Errorf("Status after Reset = %q, want starting", a.Status())
	}
	if a.TaskDescription() != "second task" {
		t.Errorf("TaskDescription = %q", a.TaskDescription())
	}
	if !a.CompletedAt().IsZero() {
		t.Error("CompletedAt should be cleared")
	}
	if a.ResultSummary() != "" || a.ErrorMessage() != "" || a.LastActivity() != "" {
		t.Error("result, error, and activity should be cleared")
	}
	if len(a.FilesChanged()) != 0 {
		t.Error("files changed should be cleared")
	}
	// Session and cost survive continuation.
	if a.SessionID() != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", a.SessionID())
	}
	if a.CostUSD() != 0.5 {
		t.Errorf("CostUSD = %f, want 0.5", a.CostUSD())
	}
}

func TestAddCostAccumulates(t *testing.T) {
	a := NewAgentProcess(1, 1, 1, "/p", "t")
	a.AddCost(0.25)
	a.AddCost(0.75)
	if a.CostUSD() != 1.0 {
		t.Errorf("CostUSD = %f, want 1.0", a.CostUSD())
	}
}

func TestSnapshot(t *testing.T) {
	a := NewAgentProcess(3, 42, 99, "/p", "task")
	a.SetStatus(AgentStatusRunning)
	a.SetLastActivity("Reading main.go")
	a.SetFilesChanged([]string{"main.go"})

	snap := a.Snapshot()
	if snap.ID != 3 || snap.UserID != 42 || snap.ChatID != 99 {
		t.Error("snapshot identity fields wrong")
	}
	if snap.Status != AgentStatusRunning {
		t.Errorf("snapshot Status = %q", snap.Status)
	}
	if snap.LastActivity != "Reading main.go" {
		t.Errorf("snapshot LastActivity = %q", snap.LastActivity)
	}

	// Mutating the snapshot's slice must not affect the process.
	snap.FilesChanged[0] = "other.go"
	if a.FilesChanged()[0] != "main.go" {
		t.Error("snapshot shares backing array with process")
	}
}

func TestDuration(t *testing.T) {
	a := NewAgentProcess(1, 1, 1, "/p", "t")
	end := a.StartedAt().Add(90 * time.Second)
	a.MarkCompleted(end)
	if d := a.Duration(); d != 90*time.Second {
		t.Errorf("Duration = %v, want 90s", d)
	}
}
