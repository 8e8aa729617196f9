package agent

import (
	"sort"
	"sync"

	"github.com/ShayCichocki/attache/pkg/models"
)

// Registry is the single source of truth for agent process records and
// per-user id assignment. It holds no lifecycle logic; the Manager owns
// admission and run loops.
type Registry struct {
	mu sync.Mutex
	// agents maps userID -> agentID -> process.
	agents map[int64]map[int]*models.AgentProcess
	// counters maps userID -> last assigned agent id.
	counters map[int64]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		agents:   make(map[int64]map[int]*models.AgentProcess),
		counters: make(map[int64]int),
	}
}

// NextID returns the next sequential agent id for a user, starting at 1.
// Ids are never reused, even after agents terminate.
func (r *Registry) NextID(userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[userID]++
	return r.counters[userID]
}

// Insert adds an agent record for its user.
func (r *Registry) Insert(a *models.AgentProcess) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byID, ok := r.agents[a.UserID]
	if !ok {
		byID = make(map[int]*models.AgentProcess)
		r.agents[a.UserID] = byID
	}
	byID[a.ID] = a
}

// Get returns the agent with the given id, or nil.
func (r *Registry) Get(userID int64, agentID int) *models.AgentProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agents[userID][agentID]
}

// Active returns the user's agents that still hold a run loop, ordered by id.
func (r *Registry) Active(userID int64) []*models.AgentProcess {
	var active []*models.AgentProcess
	for _, a := range r.All(userID) {
		if a.Active() {
			active = append(active, a)
		}
	}
	return active
}

// All returns every agent for a user, including terminal ones, ordered by id.
func (r *Registry) All(userID int64) []*models.AgentProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.AgentProcess, 0, len(r.agents[userID]))
	for _, a := range r.agents[userID] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Users returns the ids of every user with at least one record.
func (r *Registry) Users() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, 0, len(r.agents))
	for id := range r.agents {
		out = append(out, id)
	}
	return out
}

// Stats aggregates a user's agents. A user with no records gets zeroed stats.
func (r *Registry) Stats(userID int64) models.AgentStats {
	var stats models.AgentStats
	for _, a := range r.All(userID) {
		stats.TotalAgents++
		stats.TotalCost += a.CostUSD()
		switch {
		case a.Active():
			stats.Active++
		case a.Status() == models.AgentStatusCompleted:
			stats.Completed++
		case a.Status() == models.AgentStatusFailed:
			stats.Failed++
		}
	}
	return stats
}

// Clear removes all records and counters.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = make(map[int64]map[int]*models.AgentProcess)
	r.counters = make(map[int64]int)
}
