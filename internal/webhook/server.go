package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"
)

// Publisher delivers a formatted event notification to one chat.
type Publisher interface {
	PublishEvent(ctx context.Context, chatID int64, e *Event) error
}

// Server receives webhook POSTs and forwards matched events to the publisher.
type Server struct {
	router    *Router
	publisher Publisher
	addr      string

	// githubSecret verifies X-Hub-Signature-256 on /webhook/github. Empty
	// disables verification.
	githubSecret string
	// bearerToken guards /webhook/generic. Empty disables the check.
	bearerToken string

	srv *http.Server
}

// ServerConfig configures a webhook Server.
type ServerConfig struct {
	Addr         string
	Router       *Router
	Publisher    Publisher
	GitHubSecret string
	BearerToken  string
}

// NewServer creates a webhook server. It does not start listening until
// Start is called.
func NewServer(cfg ServerConfig) *Server {
	addr := cfg.Addr
	if addr == "" {
		addr = ":9090"
	}
	return &Server{
		router:       cfg.Router,
		publisher:    cfg.Publisher,
		addr:         addr,
		githubSecret: cfg.GitHubSecret,
		bearerToken:  cfg.BearerToken,
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook/github", s.handleGitHub)
	mux.HandleFunc("POST /webhook/generic", s.handleGeneric)
	mux.HandleFunc("GET /health", s.handleHealth)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("webhook listen on %s: %w", s.addr, err)
	}

	s.srv = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("[webhook] server error: %v", err)
		}
	}()

	log.Printf("[webhook] listening on %s", s.addr)
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleGitHub(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	if s.githubSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !VerifySignature(body, sig, s.githubSecret) {
			log.Printf("[webhook] invalid GitHub signature from %s", r.RemoteAddr)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if eventType == "" {
		eventType = "unknown"
	}

	event, err := ParseGitHubEvent(eventType, body)
	if err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	log.Printf("[webhook] github %s event for %s: %s", eventType, event.Repo, event.Title)
	s.dispatch(r.Context(), event)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

func (s *Server) handleGeneric(w http.ResponseWriter, r *http.Request) {
	if s.bearerToken != "" {
		auth := r.Header.Get("Authorization")
		if auth != "Bearer "+s.bearerToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var payload struct {
		Type        string `json:"type"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Message     string `json:"message"`
		Repo        string `json:"repo"`
		Project     string `json:"project"`
		URL         string `json:"url"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	event := &Event{
		Type:        payload.Type,
		Title:       payload.Title,
		Description: payload.Description,
		Repo:        payload.Repo,
		URL:         payload.URL,
	}
	if event.Type == "" {
		event.Type = "generic"
	}
	if event.Title == "" {
		event.Title = "Webhook Notification"
	}
	if event.Description == "" {
		event.Description = payload.Message
	}
	if event.Repo == "" {
		event.Repo = payload.Project
	}

	log.Printf("[webhook] generic event: %s", event.Title)
	s.dispatch(r.Context(), event)
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, `{"status":"ok"}`)
}

func (s *Server) dispatch(ctx context.Context, e *Event) {
	for _, target := range s.router.Targets(e) {
		if err := s.publisher.PublishEvent(ctx, target.ChatID, e); err != nil {
			log.Printf("[webhook] publish to chat %d failed: %v", target.ChatID, err)
		}
	}
}

// FormatEvent renders an event as display text. The publisher may use this
// directly or build richer output from the Event fields.
func FormatEvent(e *Event) string {
	var b strings.Builder
	b.WriteString(e.Title)
	if e.Repo != "" {
		b.WriteString("\n" + e.Repo)
	}
	if e.Description != "" {
		b.WriteString("\n\n" + e.Description)
	}
	if e.URL != "" {
		b.WriteString("\n" + e.URL)
	}
	return b.String()
}
