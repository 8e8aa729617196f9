package agent

import (
	"testing"

	"github.com/ShayCichocki/attache/pkg/models"
)

func TestNextIDSequential(t *testing.T) {
	r := NewRegistry()
	for want := 1; want <= 3; want++ {
		if got := r.NextID(7); got != want {
			t.Errorf("NextID = %d, want %d", got, want)
		}
	}
	// Counters are per user.
	if got := r.NextID(8); got != 1 {
		t.Errorf("NextID for second user = %d, want 1", got)
	}
}

func TestInsertAndGet(t *testing.T) {
	r := NewRegistry()
	a := models.NewAgentProcess(r.NextID(7), 7, 1, "/p", "task")
	r.Insert(a)

	if got := r.Get(7, a.ID); got != a {
		t.Error("Get should return the inserted agent")
	}
	if got := r.Get(7, 99); got != nil {
		t.Error("Get of unknown id should return nil")
	}
	if got := r.Get(8, a.ID); got != nil {
		t.Error("Get for wrong user should return nil")
	}
}

func TestActiveFiltersTerminal(t *testing.T) {
	r := NewRegistry()
	running := models.NewAgentProcess(r.NextID(7), 7, 1, "/p", "a")
	done := models.NewAgentProcess(r.NextID(7), 7, 1, "/p", "b")
	done.SetStatus(models.AgentStatusCompleted)
	waiting := models.NewAgentProcess(r.NextID(7), 7, 1, "/p", "c")
	waiting.SetStatus(models.AgentStatusAwaitingApproval)
	r.Insert(running)
	r.Insert(done)
	r.Insert(waiting)

	active := r.Active(7)
	if len(active) != 1 || active[0] != running {
		t.Errorf("Active = %d agents, want just the starting one", len(active))
	}
	if all := r.All(7); len(all) != 3 {
		t.Errorf("All = %d agents, want 3", len(all))
	}
}

func TestAllOrderedByID(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 5; i++ {
		r.Insert(models.NewAgentProcess(r.NextID(7), 7, 1, "/p", "t"))
	}
	all := r.All(7)
	for i, a := range all {
		if a.ID != i+1 {
			t.Fatalf("All[%d].ID = %d, want %d", i, a.ID, i+1)
		}
	}
}

func TestStatsEmptyUser(t *testing.T) {
	r := NewRegistry()
	stats := r.Stats(12345)
	if stats != (models.AgentStats{}) {
		t.Errorf("Stats for unknown user = %+v, want zero value", stats)
	}
}

func TestStatsAggregation(t *testing.T) {
	r := NewRegistry()

	running := models.NewAgentProcess(r.NextID(7), 7, 1, "/p", "a")
	running.SetStatus(models.AgentStatusRunning)
	running.AddCost(0.10)

	completed := models.NewAgentProcess(r.NextID(7), 7, 1, "/p", "b")
	completed.SetStatus(models.AgentStatusCompleted)
	completed.AddCost(0.40)

	failed := models.NewAgentProcess(r.NextID(7), 7, 1, "/p", "c")
	failed.SetStatus(models.AgentStatusFailed)

	for _, a := range []*models.AgentProcess{running, completed, failed} {
		r.Insert(a)
	}

	stats := r.Stats(7)
	if stats.TotalAgents != 3 {
		t.Errorf("TotalAgents = %d, want 3", stats.TotalAgents)
	}
	if stats.Active != 1 || stats.Completed != 1 || stats.Failed != 1 {
		t.Errorf("Active/Completed/Failed = %d/%d/%d, want 1/1/1",
			stats.Active, stats.Completed, stats.Failed)
	}
	if stats.TotalCost != 0.5 {
		t.Errorf("TotalCost = %f, want 0.5", stats.TotalCost)
	}
}

func TestClear(t *testing.T) {
	r := NewRegistry()
	r.Insert(models.NewAgentProcess(r.NextID(7), 7, 1, "/p", "t"))
	r.Clear()

	if len(r.All(7)) != 0 {
		t.Error("All should be empty after Clear")
	}
	if len(r.Users()) != 0 {
		t.Error("Users should be empty after Clear")
	}
}
