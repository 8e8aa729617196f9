package webhook

import "sync"

// Target is one destination chat for an event.
type Target struct {
	UserID int64
	ChatID int64
}

// Router maps repositories to chat targets. Events for repositories with no
// route fall back to the default chat, when one is configured.
type Router struct {
	mu          sync.RWMutex
	routes      map[string][]Target
	defaultChat int64
}

// NewRouter creates a router. defaultChat may be zero for no fallback.
func NewRouter(defaultChat int64) *Router {
	return &Router{
		routes:      make(map[string][]Target),
		defaultChat: defaultChat,
	}
}

// AddRoute registers a repo to user/chat mapping.
func (r *Router) AddRoute(repo string, userID, chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[repo] = append(r.routes[repo], Target{UserID: userID, ChatID: chatID})
}

// Targets returns the destinations for an event.
func (r *Router) Targets(e *Event) []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if targets := r.routes[e.Repo]; len(targets) > 0 {
		return targets
	}
	if r.defaultChat != 0 {
		return []Target{{ChatID: r.defaultChat}}
	}
	return nil
}
