package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/attache/internal/agent"
	"github.com/ShayCichocki/attache/internal/approval"
	"github.com/ShayCichocki/attache/internal/bot"
	"github.com/ShayCichocki/attache/internal/chief"
	"github.com/ShayCichocki/attache/internal/claude"
	"github.com/ShayCichocki/attache/internal/config"
	"github.com/ShayCichocki/attache/internal/storage"
	"github.com/ShayCichocki/attache/internal/tui"
	"github.com/ShayCichocki/attache/internal/webhook"
	"github.com/ShayCichocki/attache/internal/workspace"
)

// The console is single-operator: one local user, one transcript.
const (
	consoleUserID int64 = 1
	consoleChatID int64 = 1
)

func runConsole() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if rootModel != "" {
		cfg.Anthropic.Model = rootModel
	}

	projectPath := rootProjectPath
	if projectPath == "" {
		projectPath = cfg.Project.Path
	}
	if projectPath == "" {
		projectPath, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
	}
	projectPath, err = filepath.Abs(projectPath)
	if err != nil {
		return fmt.Errorf("resolve project path: %w", err)
	}
	if info, err := os.Stat(projectPath); err != nil || !info.IsDir() {
		return fmt.Errorf("project path %s is not a directory", projectPath)
	}

	dbPath := cfg.Storage.Path
	if dbPath == "" {
		dbPath = storage.DefaultPath()
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	client, err := claude.NewClient(claude.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        cfg.Anthropic.APIKey,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return fmt.Errorf("create Claude client: %w", err)
	}

	executor := claude.NewExecutor(claude.ExecutorConfig{
		Client:        client,
		Store:         store,
		MaxIterations: cfg.Agents.MaxIterations,
	})

	manager := agent.NewManager(agent.ManagerConfig{
		Executor:      executor,
		MaxConcurrent: cfg.Agents.MaxConcurrent,
		StopGrace:     cfg.Agents.StopGrace,
	})

	// The watcher is optional: without it agents just report no file list.
	tracker, err := workspace.NewTracker(projectPath)
	if err != nil {
		log.Printf("[attache] file tracking disabled: %v", err)
		tracker = nil
	} else {
		defer tracker.Close()
	}

	var interpreter bot.Interpreter
	if !rootNoChief {
		interpreter = chief.NewInterpreter(client.SDK(), client.Model())
	}

	// The service closes over itself through the handler: the console needs a
	// handler up front, and the service needs the console as its messenger.
	var svc *bot.Service
	console := tui.NewConsole(func(ctx context.Context, text string) string {
		return svc.HandleMessage(ctx, consoleUserID, consoleChatID, text)
	})

	monitor := agent.NewMonitor(bot.NewNotifier(console), cfg.Agents.EditInterval)
	svc = bot.NewService(bot.ServiceConfig{
		Manager:     manager,
		Monitor:     monitor,
		Messenger:   console,
		Workflow:    approval.NewWorkflow(),
		Interpreter: interpreter,
		Store:       store,
		Tracker:     tracker,
		ProjectPath: projectPath,
	})

	if cfg.Webhook.Enabled {
		srv := webhook.NewServer(webhook.ServerConfig{
			Addr:         cfg.Webhook.Addr,
			Router:       buildRouter(cfg),
			Publisher:    svc,
			GitHubSecret: cfg.Webhook.GitHubSecret,
			BearerToken:  cfg.Webhook.BearerToken,
		})
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start webhook server: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Stop(ctx); err != nil {
				log.Printf("[attache] webhook server stop: %v", err)
			}
		}()
	}

	// SIGTERM lands here; ctrl+c inside the TUI quits on its own.
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		console.Quit()
	}()

	runErr := console.Run()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Agents.StopGrace+time.Second)
	defer cancel()
	manager.Shutdown(shutdownCtx)

	return runErr
}

// buildRouter merges explicit webhook routes with repositories declared in
// the project registry.
func buildRouter(cfg *config.Config) *webhook.Router {
	router := webhook.NewRouter(cfg.Webhook.DefaultChatID)
	for repo, chatID := range cfg.Webhook.Routes {
		router.AddRoute(repo, consoleUserID, chatID)
	}
	projects, err := config.LoadProjects(config.ProjectsPath())
	if err != nil {
		log.Printf("[attache] load project registry: %v", err)
		return router
	}
	for _, p := range projects {
		if p.Repo == "" {
			continue
		}
		chatID := p.ChatID
		if chatID == 0 {
			chatID = cfg.Webhook.DefaultChatID
		}
		if chatID != 0 {
			router.AddRoute(p.Repo, consoleUserID, chatID)
		}
	}
	return router
}
