package bot

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/attache/internal/agent"
	"github.com/ShayCichocki/attache/internal/approval"
	"github.com/ShayCichocki/attache/internal/chief"
	"github.com/ShayCichocki/attache/internal/storage"
	"github.com/ShayCichocki/attache/internal/webhook"
	"github.com/ShayCichocki/attache/pkg/models"
)

type fakeMessenger struct {
	mu    sync.Mutex
	sent  []string
	edits []string
}

func (m *fakeMessenger) SendMessage(_ context.Context, _ int64, text string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, text)
	return len(m.sent), nil
}

func (m *fakeMessenger) EditMessage(_ context.Context, _ int64, _ int, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, text)
	return nil
}

type instantExecutor struct{}

func (instantExecutor) Execute(_ context.Context, req agent.Request) (*agent.Result, error) {
	return &agent.Result{SessionID: "sess-1", CostUSD: 0.01, Content: "done: " + req.Prompt}, nil
}

func newTestService(t *testing.T) (*Service, *fakeMessenger) {
	t.Helper()
	msgr := &fakeMessenger{}
	mgr := agent.NewManager(agent.ManagerConfig{Executor: instantExecutor{}})
	svc := NewService(ServiceConfig{
		Manager:     mgr,
		Monitor:     agent.NewMonitor(NewNotifier(msgr), time.Millisecond),
		Messenger:   msgr,
		Workflow:    approval.NewWorkflow(),
		ProjectPath: "/home/u/webapp",
	})
	return svc, msgr
}

func waitForTerminal(t *testing.T, svc *Service, userID int64, id int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a := svc.manager.Agent(userID, id); a != nil && a.Terminal() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("agent %d never reached a terminal state", id)
}

func TestRunCommandSpawns(t *testing.T) {
	svc, msgr := newTestService(t)

	reply := svc.HandleMessage(context.Background(), 1, 10, "/run fix the login bug")
	if !strings.Contains(reply, "Agent 1 spawned") {
		t.Fatalf("unexpected reply: %q", reply)
	}
	waitForTerminal(t, svc, 1, 1)

	// The spawn posted an initial status message.
	msgr.mu.Lock()
	defer msgr.mu.Unlock()
	if len(msgr.sent) == 0 || !strings.Contains(msgr.sent[0], "Starting...") {
		t.Errorf("missing initial status message: %v", msgr.sent)
	}
}

func TestRunCommandUsage(t *testing.T) {
	svc, _ := newTestService(t)
	reply := svc.HandleMessage(context.Background(), 1, 10, "/run")
	if !strings.Contains(reply, "Usage: /run") {
		t.Errorf("unexpected reply: %q", reply)
	}
}

func TestAgentsCommand(t *testing.T) {
	svc, _ := newTestService(t)
	svc.HandleMessage(context.Background(), 1, 10, "/run some task")
	waitForTerminal(t, svc, 1, 1)

	reply := svc.HandleMessage(context.Background(), 1, 10, "/agents")
	if !strings.Contains(reply, "some task") {
		t.Errorf("agents list missing task: %q", reply)
	}
}

func TestStopCommandValidation(t *testing.T) {
	svc, _ := newTestService(t)

	if reply := svc.HandleMessage(context.Background(), 1, 10, "/stop"); !strings.Contains(reply, "Usage") {
		t.Errorf("unexpected reply: %q", reply)
	}
	if reply := svc.HandleMessage(context.Background(), 1, 10, "/stop seven"); !strings.Contains(reply, "must be a number") {
		t.Errorf("unexpected reply: %q", reply)
	}
	if reply := svc.HandleMessage(context.Background(), 1, 10, "/stop 9"); !strings.Contains(reply, "not found") {
		t.Errorf("unexpected reply: %q", reply)
	}
}

func TestStopAllCommand(t *testing.T) {
	svc, _ := newTestService(t)
	reply := svc.HandleMessage(context.Background(), 1, 10, "/stop all")
	if !strings.Contains(reply, "Stopped 0 agent(s)") {
		t.Errorf("unexpected reply: %q", reply)
	}
}

func TestDirectCommand(t *testing.T) {
	svc, _ := newTestService(t)
	svc.HandleMessage(context.Background(), 1, 10, "/run first task")
	waitForTerminal(t, svc, 1, 1)

	reply := svc.HandleMessage(context.Background(), 1, 10, "/agent 1 now add docs")
	if !strings.Contains(reply, "Directed agent 1") {
		t.Fatalf("unexpected reply: %q", reply)
	}
	waitForTerminal(t, svc, 1, 1)

	a := svc.manager.Agent(1, 1)
	if a.SessionID() != "sess-1" {
		t.Errorf("session not carried over: %q", a.SessionID())
	}
}

func TestDirectCommandUnknownAgent(t *testing.T) {
	svc, _ := newTestService(t)
	reply := svc.HandleMessage(context.Background(), 1, 10, "/agent 5 do something")
	if !strings.Contains(reply, "not found") {
		t.Errorf("unexpected reply: %q", reply)
	}
}

func TestUnknownCommand(t *testing.T) {
	svc, _ := newTestService(t)
	reply := svc.HandleMessage(context.Background(), 1, 10, "/frobnicate")
	if !strings.Contains(reply, "Unknown command") {
		t.Errorf("unexpected reply: %q", reply)
	}
}

func TestStatsCommand(t *testing.T) {
	svc, _ := newTestService(t)
	dir := t.TempDir()
	store, err := storage.Open(filepath.Join(dir, "attache.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc.store = store

	svc.HandleMessage(context.Background(), 1, 10, "/run add pagination")
	waitForTerminal(t, svc, 1, 1)

	// The cost row lands after the status flips, so poll the ledger.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if total, err := store.UserCost(1); err == nil && total > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("cost was never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	reply := svc.HandleMessage(context.Background(), 1, 10, "/stats")
	if !strings.Contains(reply, "Agents this session: 1") {
		t.Errorf("missing session count: %q", reply)
	}
	if !strings.Contains(reply, "Session spend: $0.010") {
		t.Errorf("missing session spend: %q", reply)
	}
	if !strings.Contains(reply, "All-time spend: $0.010") {
		t.Errorf("missing ledger spend: %q", reply)
	}
}

type scriptedInterpreter struct {
	brief *chief.Brief
}

func (s *scriptedInterpreter) Interpret(_ context.Context, _, _ string, _ []models.AgentSnapshot) (*chief.Brief, error) {
	return s.brief, nil
}

func TestFreeformRunsThroughInterpreter(t *testing.T) {
	svc, _ := newTestService(t)
	svc.interpreter = &scriptedInterpreter{brief: &chief.Brief{
		Actions: []chief.Action{{Type: chief.ActionNewAgent, Task: "interpreted task"}},
		Summary: "One new task",
	}}

	reply := svc.HandleMessage(context.Background(), 1, 10, "please fix that thing")
	if !strings.Contains(reply, "Agent 1 spawned") || !strings.Contains(reply, "One new task") {
		t.Errorf("unexpected reply: %q", reply)
	}
}

func TestFreeformClarification(t *testing.T) {
	svc, _ := newTestService(t)
	svc.interpreter = &scriptedInterpreter{brief: &chief.Brief{
		NeedsClarification:    true,
		ClarificationQuestion: "Which agent do you mean?",
	}}

	reply := svc.HandleMessage(context.Background(), 1, 10, "stop it")
	if !strings.Contains(reply, "Which agent do you mean?") {
		t.Errorf("unexpected reply: %q", reply)
	}
}

func TestFreeformWithoutInterpreterSpawns(t *testing.T) {
	svc, _ := newTestService(t)
	reply := svc.HandleMessage(context.Background(), 1, 10, "build the report generator")
	if !strings.Contains(reply, "Agent 1 spawned") {
		t.Errorf("unexpected reply: %q", reply)
	}
}

func TestPublishEventCIFailureHint(t *testing.T) {
	svc, msgr := newTestService(t)

	err := svc.PublishEvent(context.Background(), 10, &webhook.Event{
		Type:       "workflow_run",
		Title:      "Workflow: CI — failure",
		Repo:       "me/repo",
		Conclusion: "failure",
	})
	if err != nil {
		t.Fatalf("PublishEvent failed: %v", err)
	}

	msgr.mu.Lock()
	defer msgr.mu.Unlock()
	if len(msgr.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgr.sent))
	}
	if !strings.Contains(msgr.sent[0], "/run fix the failing CI") {
		t.Errorf("missing fix hint: %q", msgr.sent[0])
	}
}

func TestStatusUpdatesEditInPlace(t *testing.T) {
	msgr := &fakeMessenger{}
	streamExec := agent.ExecutorFunc(func(ctx context.Context, req agent.Request) (*agent.Result, error) {
		req.OnStream(agent.StreamUpdate{Content: "thinking hard"})
		return &agent.Result{SessionID: "s", Content: "ok"}, nil
	})
	mgr := agent.NewManager(agent.ManagerConfig{Executor: streamExec})
	svc := NewService(ServiceConfig{
		Manager:     mgr,
		Monitor:     agent.NewMonitor(NewNotifier(msgr), time.Nanosecond),
		Messenger:   msgr,
		Workflow:    approval.NewWorkflow(),
		ProjectPath: "/p",
	})

	svc.HandleMessage(context.Background(), 1, 10, "/run stream test")
	waitForTerminal(t, svc, 1, 1)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		msgr.mu.Lock()
		n := len(msgr.edits)
		msgr.mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	msgr.mu.Lock()
	defer msgr.mu.Unlock()
	var sawActivity, sawCompletion bool
	for _, e := range msgr.edits {
		if strings.Contains(e, "thinking hard") {
			sawActivity = true
		}
		if strings.Contains(e, "Completed") {
			sawCompletion = true
		}
	}
	if !sawActivity || !sawCompletion {
		t.Errorf("edits missing activity or completion: %v", msgr.edits)
	}
}
