package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/ShayCichocki/attache/pkg/models"
)

// fakeExecutor is a scriptable Executor for manager tests.
type fakeExecutor struct {
	mu sync.Mutex
	// fn handles one Execute call. If nil, Execute blocks until ctx is
	// cancelled and returns ctx.Err().
	fn func(ctx context.Context, req Request) (*Result, error)
	// requests records every Execute invocation.
	requests []Request
}

func (f *fakeExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	fn := f.fn
	f.mu.Unlock()

	if fn == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return fn(ctx, req)
}

func (f *fakeExecutor) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeExecutor) lastRequest() Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// waitFor polls until cond is true or the deadline expires.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func newTestManager(exec Executor, maxConcurrent int) *Manager {
	return NewManager(ManagerConfig{
		Executor:      exec,
		MaxConcurrent: maxConcurrent,
		StopGrace:     100 * time.Millisecond,
	})
}

func TestSpawnRunsToCompletion(t *testing.T) {
	exec := &fakeExecutor{fn: func(ctx context.Context, req Request) (*Result, error) {
		req.OnStream(StreamUpdate{Content: "thinking\nEditing main.go"})
		return &Result{SessionID: "sess-1", CostUSD: 0.12, Content: "all done"}, nil
	}}
	m := newTestManager(exec, 5)

	var completions int32
	hooks := Hooks{
		OnComplete: func(ctx context.Context, a *models.AgentProcess) {
			atomic.AddInt32(&completions, 1)
		},
	}

	a, err := m.Spawn(context.Background(), 7, "fix the bug", "/p", 1, hooks)
	if err != nil {
		t.Fatalf("Spawn returned error: %v", err)
	}
	if a.ID != 1 {
		t.Errorf("first agent ID = %d, want 1", a.ID)
	}

	waitFor(t, a.Terminal)

	if a.Status() != models.AgentStatusCompleted {
		t.Errorf("Status = %q, want completed", a.Status())
	}
	if a.SessionID() != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", a.SessionID())
	}
	if a.CostUSD() != 0.12 {
		t.Errorf("CostUSD = %f, want 0.12", a.CostUSD())
	}
	if a.ResultSummary() != "all done" {
		t.Errorf("ResultSummary = %q", a.ResultSummary())
	}
	if a.CompletedAt().IsZero() {
		t.Error("CompletedAt should be stamped")
	}
	if got := a.LastActivity(); got != "Editing main.go" {
		t.Errorf("LastActivity = %q, want last line of stream", got)
	}
	if n := atomic.LoadInt32(&completions); n != 1 {
		t.Errorf("OnComplete fired %d times, want 1", n)
	}
}

func TestSpawnCeiling(t *testing.T) {
	exec := &fakeExecutor{} // blocks until cancelled
	m := newTestManager(exec, 2)
	ctx := context.Background()

	if _, err := m.Spawn(ctx, 7, "one", "/p", 1, Hooks{}); err != nil {
		t.Fatalf("first Spawn: %v", err)
	}
	if _, err := m.Spawn(ctx, 7, "two", "/p", 1, Hooks{}); err != nil {
		t.Fatalf("second Spawn: %v", err)
	}

	_, err := m.Spawn(ctx, 7, "three", "/p", 1, Hooks{})
	if !errors.Is(err, ErrMaxConcurrent) {
		t.Fatalf("third Spawn error = %v, want ErrMaxConcurrent", err)
	}

	// Denied spawn must not mutate the registry.
	if n := len(m.AllAgents(7)); n != 2 {
		t.Errorf("AllAgents = %d after denial, want 2", n)
	}

	// Other users have their own ceiling.
	if _, err := m.Spawn(ctx, 8, "other user", "/p", 1, Hooks{}); err != nil {
		t.Errorf("Spawn for another user should succeed: %v", err)
	}

	m.Shutdown(ctx)
}

func TestCeilingFreesAfterStop(t *testing.T) {
	exec := &fakeExecutor{} // blocks until cancelled
	m := newTestManager(exec, 2)
	ctx := context.Background()

	a1, _ := m.Spawn(ctx, 7, "one", "/p", 1, Hooks{})
	m.Spawn(ctx, 7, "two", "/p", 1, Hooks{})
	if _, err := m.Spawn(ctx, 7, "three", "/p", 1, Hooks{}); !errors.Is(err, ErrMaxConcurrent) {
		t.Fatalf("expected ErrMaxConcurrent, got %v", err)
	}

	if !m.Stop(ctx, 7, a1.ID) {
		t.Fatal("Stop of active agent should return true")
	}
	if n := len(m.ActiveAgents(7)); n != 1 {
		t.Fatalf("ActiveAgents = %d after stop, want 1", n)
	}

	a3, err := m.Spawn(ctx, 7, "three again", "/p", 1, Hooks{})
	if err != nil {
		t.Fatalf("Spawn after freeing a slot: %v", err)
	}
	// Ids advance and are never reused, even though slot 1 is free.
	if a3.ID != 3 {
		t.Errorf("new agent ID = %d, want 3", a3.ID)
	}

	m.Shutdown(ctx)
}

func TestStopUnknownAndTerminal(t *testing.T) {
	exec := &fakeExecutor{fn: func(ctx context.Context, req Request) (*Result, error) {
		return &Result{SessionID: "s", Content: "ok"}, nil
	}}
	m := newTestManager(exec, 5)
	ctx := context.Background()

	if m.Stop(ctx, 7, 1) {
		t.Error("Stop of unknown agent should return false")
	}

	a, _ := m.Spawn(ctx, 7, "task", "/p", 1, Hooks{})
	waitFor(t, a.Terminal)

	if m.Stop(ctx, 7, a.ID) {
		t.Error("Stop of terminal agent should return false")
	}
	if a.Status() != models.AgentStatusCompleted {
		t.Errorf("terminal status mutated by Stop: %q", a.Status())
	}
}

func TestStopCancelsRun(t *testing.T) {
	started := make(chan struct{})
	exec := &fakeExecutor{fn: func(ctx context.Context, req Request) (*Result, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	m := newTestManager(exec, 5)
	ctx := context.Background()

	var completions int32
	a, _ := m.Spawn(ctx, 7, "task", "/p", 1, Hooks{
		OnComplete: func(ctx context.Context, a *models.AgentProcess) {
			atomic.AddInt32(&completions, 1)
		},
	})
	<-started

	if !m.Stop(ctx, 7, a.ID) {
		t.Fatal("Stop should return true")
	}
	if a.Status() != models.AgentStatusStopped {
		t.Errorf("Status = %q, want stopped", a.Status())
	}
	if a.CompletedAt().IsZero() {
		t.Error("CompletedAt should be stamped on stop")
	}
	if n := atomic.LoadInt32(&completions); n != 0 {
		t.Errorf("OnComplete fired %d times for a cancelled run, want 0", n)
	}
}

func TestStopIgnoredCancellation(t *testing.T) {
	release := make(chan struct{})
	exec := &fakeExecutor{fn: func(ctx context.Context, req Request) (*Result, error) {
		// Ignores ctx entirely; simulates a wedged executor.
		<-release
		return &Result{Content: "late"}, nil
	}}
	m := newTestManager(exec, 5)
	ctx := context.Background()

	a, _ := m.Spawn(ctx, 7, "task", "/p", 1, Hooks{})
	waitFor(t, func() bool { return a.Status() == models.AgentStatusRunning })

	start := time.Now()
	if !m.Stop(ctx, 7, a.ID) {
		t.Fatal("Stop should still return true when the run ignores cancellation")
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Stop returned before the grace period: %v", elapsed)
	}
	if a.Status() != models.AgentStatusStopped {
		t.Errorf("Status = %q, want stopped", a.Status())
	}
	close(release)
}

func TestLateResultAfterDetachedStop(t *testing.T) {
	release := make(chan struct{})
	exec := &fakeExecutor{fn: func(ctx context.Context, req Request) (*Result, error) {
		// Ignores ctx; returns a success long after Stop gave up waiting.
		<-release
		return &Result{SessionID: "sess-late", Content: "late success"}, nil
	}}
	m := newTestManager(exec, 5)
	ctx := context.Background()

	var completions int32
	hooks := Hooks{OnComplete: func(ctx context.Context, a *models.AgentProcess) {
		atomic.AddInt32(&completions, 1)
	}}

	a, _ := m.Spawn(ctx, 7, "task", "/p", 1, hooks)
	waitFor(t, func() bool { return a.Status() == models.AgentStatusRunning })

	if !m.Stop(ctx, 7, a.ID) {
		t.Fatal("Stop should return true after the grace period")
	}
	if a.Status() != models.AgentStatusStopped {
		t.Fatalf("Status = %q, want stopped", a.Status())
	}

	// Release the wedged run and wait for its goroutine to unwind.
	close(release)
	key := agentKey{7, a.ID}
	waitFor(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		_, live := m.runs[key]
		return !live
	})

	// The stopped record took its one terminal transition already; the late
	// result must not produce a second one.
	if a.Status() != models.AgentStatusStopped {
		t.Errorf("late executor return overwrote stopped record: status = %q", a.Status())
	}
	if a.ResultSummary() != "" {
		t.Errorf("ResultSummary = %q, want empty for a stopped run", a.ResultSummary())
	}
	if n := atomic.LoadInt32(&completions); n != 0 {
		t.Errorf("OnComplete fired %d times for a stopped run, want 0", n)
	}
}

func TestDirectAfterDetachedStopKeepsNewHandle(t *testing.T) {
	release := make(chan struct{})
	var calls int32
	exec := &fakeExecutor{fn: func(ctx context.Context, req Request) (*Result, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			// First run wedges past the stop grace.
			<-release
			return &Result{Content: "late"}, nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	m := newTestManager(exec, 5)
	ctx := context.Background()

	a, _ := m.Spawn(ctx, 7, "task", "/p", 1, Hooks{})
	waitFor(t, func() bool { return a.Status() == models.AgentStatusRunning })
	if !m.Stop(ctx, 7, a.ID) {
		t.Fatal("Stop should return true after the grace period")
	}

	key := agentKey{7, a.ID}
	m.mu.Lock()
	orphan := m.runs[key]
	m.mu.Unlock()
	if orphan == nil {
		t.Fatal("detached run should still hold its handle")
	}

	// Relaunch in place while the first goroutine is still alive.
	if m.Direct(ctx, 7, a.ID, "follow up", Hooks{}) == nil {
		t.Fatal("Direct should respawn the stopped agent")
	}
	waitFor(t, func() bool { return atomic.LoadInt32(&calls) == 2 })

	m.mu.Lock()
	successor := m.runs[key]
	m.mu.Unlock()
	if successor == orphan {
		t.Fatal("relaunch should have registered a fresh handle")
	}

	// Let the orphan unwind; it must only remove its own entry.
	close(release)
	waitFor(t, func() bool {
		select {
		case <-orphan.done:
			return true
		default:
			return false
		}
	})

	m.mu.Lock()
	current := m.runs[key]
	m.mu.Unlock()
	if current != successor {
		t.Fatalf("stale goroutine removed the successor's handle: got %p, want %p", current, successor)
	}

	// The surviving handle still controls the live run.
	if !m.Stop(ctx, 7, a.ID) {
		t.Fatal("Stop should cancel the relaunched run")
	}
	if a.Status() != models.AgentStatusStopped {
		t.Errorf("Status = %q, want stopped", a.Status())
	}
}

func TestConcurrentDirectSingleRelaunch(t *testing.T) {
	exec := &fakeExecutor{fn: func(ctx context.Context, req Request) (*Result, error) {
		return &Result{Content: "done"}, nil
	}}
	m := newTestManager(exec, 5)
	ctx := context.Background()

	a, _ := m.Spawn(ctx, 7, "task", "/p", 1, Hooks{})
	waitFor(t, a.Terminal)

	// Relaunched runs block so the winner stays active while the losers
	// check the record.
	exec.mu.Lock()
	exec.fn = nil
	exec.mu.Unlock()

	const racers = 8
	start := make(chan struct{})
	var wg sync.WaitGroup
	var launched int32
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if m.Direct(ctx, 7, a.ID, "again", Hooks{}) != nil {
				atomic.AddInt32(&launched, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := atomic.LoadInt32(&launched); got != 1 {
		t.Errorf("Direct relaunched %d times, want exactly 1", got)
	}
	waitFor(t, func() bool { return exec.requestCount() >= 2 })
	m.Stop(ctx, 7, a.ID)
	if got := exec.requestCount(); got != 2 {
		t.Errorf("executor ran %d times, want 2 (spawn + one redirect)", got)
	}
}

func TestStopAll(t *testing.T) {
	exec := &fakeExecutor{}
	m := newTestManager(exec, 5)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.Spawn(ctx, 7, "task", "/p", 1, Hooks{})
	}
	done := models.NewAgentProcess(99, 7, 1, "/p", "old") // not tracked by a run
	done.SetStatus(models.AgentStatusCompleted)
	m.registry.Insert(done)

	if count := m.StopAll(ctx, 7); count != 3 {
		t.Errorf("StopAll = %d, want 3", count)
	}
	if n := len(m.ActiveAgents(7)); n != 0 {
		t.Errorf("ActiveAgents = %d after StopAll, want 0", n)
	}
}

func TestExecutorError(t *testing.T) {
	exec := &fakeExecutor{fn: func(ctx context.Context, req Request) (*Result, error) {
		return nil, errors.New("api exploded")
	}}
	m := newTestManager(exec, 5)

	var completions int32
	a, _ := m.Spawn(context.Background(), 7, "task", "/p", 1, Hooks{
		OnComplete: func(ctx context.Context, a *models.AgentProcess) {
			atomic.AddInt32(&completions, 1)
		},
	})
	waitFor(t, a.Terminal)

	if a.Status() != models.AgentStatusFailed {
		t.Errorf("Status = %q, want failed", a.Status())
	}
	if a.ErrorMessage() != "api exploded" {
		t.Errorf("ErrorMessage = %q", a.ErrorMessage())
	}
	if n := atomic.LoadInt32(&completions); n != 1 {
		t.Errorf("OnComplete fired %d times, want 1", n)
	}
}

func TestExecutorErrorResult(t *testing.T) {
	exec := &fakeExecutor{fn: func(ctx context.Context, req Request) (*Result, error) {
		return &Result{SessionID: "s", Content: "bad prompt", IsError: true}, nil
	}}
	m := newTestManager(exec, 5)

	var completions int32
	a, _ := m.Spawn(context.Background(), 7, "task", "/p", 1, Hooks{
		OnComplete: func(ctx context.Context, a *models.AgentProcess) {
			atomic.AddInt32(&completions, 1)
		},
	})
	waitFor(t, a.Terminal)

	if a.Status() != models.AgentStatusFailed {
		t.Errorf("Status = %q, want failed", a.Status())
	}
	if a.ErrorMessage() != "bad prompt" {
		t.Errorf("ErrorMessage = %q, want executor content", a.ErrorMessage())
	}
	if n := atomic.LoadInt32(&completions); n != 1 {
		t.Errorf("OnComplete fired %d times, want exactly 1", n)
	}
}

func TestDirectUnknownAndActive(t *testing.T) {
	exec := &fakeExecutor{}
	m := newTestManager(exec, 5)
	ctx := context.Background()

	if got := m.Direct(ctx, 7, 1, "hello", Hooks{}); got != nil {
		t.Error("Direct of unknown agent should return nil")
	}

	a, _ := m.Spawn(ctx, 7, "task", "/p", 1, Hooks{})
	if got := m.Direct(ctx, 7, a.ID, "follow up", Hooks{}); got != nil {
		t.Error("Direct of active agent should return nil")
	}
	if a.TaskDescription() != "task" {
		t.Error("Direct of active agent must not mutate the record")
	}

	m.Shutdown(ctx)
}

func TestDirectRespawnsInSession(t *testing.T) {
	exec := &fakeExecutor{fn: func(ctx context.Context, req Request) (*Result, error) {
		return &Result{SessionID: "sess-42", CostUSD: 0.1, Content: "ok"}, nil
	}}
	m := newTestManager(exec, 5)
	ctx := context.Background()

	a, _ := m.Spawn(ctx, 7, "first", "/p", 1, Hooks{})
	waitFor(t, a.Terminal)

	got := m.Direct(ctx, 7, a.ID, "second", Hooks{})
	if got == nil {
		t.Fatal("Direct of terminal agent should respawn")
	}
	if got.ID != a.ID {
		t.Errorf("Direct returned agent %d, want same id %d", got.ID, a.ID)
	}

	waitFor(t, func() bool { return exec.requestCount() == 2 && a.Terminal() })

	// The second run must continue the same Claude session.
	if req := exec.lastRequest(); req.SessionID != "sess-42" {
		t.Errorf("continuation SessionID = %q, want sess-42", req.SessionID)
	}
	if req := exec.lastRequest(); req.Prompt != "second" {
		t.Errorf("continuation Prompt = %q, want second", req.Prompt)
	}
	// Cost accumulates across runs.
	waitFor(t, func() bool { return a.CostUSD() > 0.19 })
}

func TestDirectResetsToStarting(t *testing.T) {
	block := make(chan struct{})
	var calls int32
	exec := &fakeExecutor{fn: func(ctx context.Context, req Request) (*Result, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return &Result{SessionID: "s", Content: "done", IsError: false}, nil
		}
		select {
		case <-block:
		case <-ctx.Done():
		}
		return &Result{SessionID: "s", Content: "later"}, nil
	}}
	m := newTestManager(exec, 5)
	ctx := context.Background()

	a, _ := m.Spawn(ctx, 7, "first", "/p", 1, Hooks{})
	waitFor(t, a.Terminal)
	a.SetErrorMessage("stale")
	a.SetLastActivity("stale")

	got := m.Direct(ctx, 7, a.ID, "second", Hooks{})
	if got == nil {
		t.Fatal("Direct should respawn a terminal agent")
	}
	if got.CompletedAt() != (time.Time{}) {
		t.Error("CompletedAt should be cleared by Direct")
	}
	if got.ErrorMessage() != "" || got.ResultSummary() != "" {
		t.Error("stale result fields should be cleared by Direct")
	}
	close(block)
	m.Shutdown(ctx)
}

func TestShutdownIdempotent(t *testing.T) {
	exec := &fakeExecutor{}
	m := newTestManager(exec, 5)
	ctx := context.Background()

	m.Spawn(ctx, 7, "a", "/p", 1, Hooks{})
	m.Spawn(ctx, 8, "b", "/p", 1, Hooks{})

	m.Shutdown(ctx)
	if len(m.AllAgents(7)) != 0 || len(m.AllAgents(8)) != 0 {
		t.Error("Shutdown should clear all records")
	}

	// Second call with nothing running must not panic or block.
	m.Shutdown(ctx)
}

func TestExtractActivity(t *testing.T) {
	tests := []struct {
		name string
		in   StreamUpdate
		want string
	}{
		{"tools win", StreamUpdate{Content: "text", ToolNames: []string{"Read", "Bash"}}, "Using: Read, Bash"},
		{"last line", StreamUpdate{Content: "first\nsecond\nthird"}, "third"},
		{"trims blank", StreamUpdate{Content: "line\n\n  "}, "line"},
		{"empty", StreamUpdate{}, ""},
	}
	for _, tt := range tests {
		if got := extractActivity(tt.in); got != tt.want {
			t.Errorf("%s: extractActivity = %q, want %q", tt.name, got, tt.want)
		}
	}

	long := extractActivity(StreamUpdate{Content: string(make([]byte, 300))})
	if len(long) > 100 {
		t.Errorf("activity length = %d, want <= 100", len(long))
	}

	wide := extractActivity(StreamUpdate{Content: strings.Repeat("界", 150)})
	if !utf8.ValidString(wide) {
		t.Error("truncated activity is not valid UTF-8")
	}
	if got := utf8.RuneCountInString(wide); got != 100 {
		t.Errorf("truncated activity has %d runes, want 100", got)
	}
}
