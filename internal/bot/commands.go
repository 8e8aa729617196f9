package bot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/ShayCichocki/attache/internal/agent"
	"github.com/ShayCichocki/attache/internal/approval"
	"github.com/ShayCichocki/attache/internal/chief"
	"github.com/ShayCichocki/attache/internal/storage"
	"github.com/ShayCichocki/attache/internal/webhook"
	"github.com/ShayCichocki/attache/internal/workspace"
	"github.com/ShayCichocki/attache/pkg/models"
)

// Interpreter resolves free-form text into structured agent actions.
type Interpreter interface {
	Interpret(ctx context.Context, input, projectPath string, agents []models.AgentSnapshot) (*chief.Brief, error)
}

// Service dispatches user messages to the orchestrator and replies through
// the messenger. Slash commands are handled directly; anything else goes to
// the chief-of-staff interpreter when one is configured.
type Service struct {
	manager     *agent.Manager
	monitor     *agent.Monitor
	notifier    *Notifier
	workflow    *approval.Workflow
	interpreter Interpreter
	messenger   Messenger
	store       *storage.DB
	tracker     *workspace.Tracker
	projectPath string
}

// ServiceConfig wires a Service together. Interpreter and Store are optional.
type ServiceConfig struct {
	Manager     *agent.Manager
	Monitor     *agent.Monitor
	Messenger   Messenger
	Workflow    *approval.Workflow
	Interpreter Interpreter
	Store       *storage.DB
	// Tracker, when set, attributes filesystem changes observed during a run
	// to the completing agent.
	Tracker     *workspace.Tracker
	ProjectPath string
}

// NewService creates the command dispatcher.
func NewService(cfg ServiceConfig) *Service {
	return &Service{
		manager:     cfg.Manager,
		monitor:     cfg.Monitor,
		notifier:    NewNotifier(cfg.Messenger),
		workflow:    cfg.Workflow,
		interpreter: cfg.Interpreter,
		messenger:   cfg.Messenger,
		store:       cfg.Store,
		tracker:     cfg.Tracker,
		projectPath: cfg.ProjectPath,
	}
}

// hooks builds the per-run callbacks: progress goes through the rate-limited
// monitor, completion flushes pending activity, shows the terminal view and
// records the run's cost.
func (s *Service) hooks() agent.Hooks {
	return agent.Hooks{
		OnUpdate: func(ctx context.Context, a *models.AgentProcess, activity string) {
			s.monitor.Update(ctx, a, activity)
		},
		OnComplete: func(ctx context.Context, a *models.AgentProcess) {
			s.monitor.Flush(ctx, a)
			s.captureFiles(a)
			s.monitor.ShowCompletion(ctx, a)
			s.recordCost(a)
		},
	}
}

// captureFiles folds watcher-observed changes into the agent's file list.
// Concurrent agents in the same project share the watcher, so attribution is
// best effort: the completing agent claims whatever touched since the last
// completion.
func (s *Service) captureFiles(a *models.AgentProcess) {
	if s.tracker == nil {
		return
	}
	if files := s.tracker.Files(); len(files) > 0 && len(a.FilesChanged()) == 0 {
		a.SetFilesChanged(files)
	}
	s.tracker.Reset()
}

func (s *Service) recordCost(a *models.AgentProcess) {
	if s.store == nil || a.CostUSD() == 0 {
		return
	}
	if err := s.store.RecordCost(a.UserID, a.ID, a.SessionID(), a.CostUSD()); err != nil {
		log.Printf("[bot] agent %d: cost record failed: %v", a.ID, err)
	}
}

// HandleMessage processes one inbound message and returns the reply text.
func (s *Service) HandleMessage(ctx context.Context, userID, chatID int64, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if strings.HasPrefix(text, "/") {
		return s.handleCommand(ctx, userID, chatID, text)
	}
	return s.handleFreeform(ctx, userID, chatID, text)
}

func (s *Service) handleCommand(ctx context.Context, userID, chatID int64, text string) string {
	fields := strings.Fields(text)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/run":
		return s.cmdRun(ctx, userID, chatID, strings.Join(args, " "))
	case "/agents":
		return s.cmdAgents(userID)
	case "/stop":
		return s.cmdStop(ctx, userID, args)
	case "/agent":
		return s.cmdDirect(ctx, userID, args)
	case "/dash":
		return s.cmdDash(userID)
	case "/stats":
		return s.cmdStats(userID)
	case "/approve":
		return s.cmdApprove(ctx, userID, args)
	case "/reject":
		return s.cmdReject(userID, args)
	case "/diff":
		return s.cmdDiff(userID, args)
	case "/help", "/start":
		return helpText
	default:
		return fmt.Sprintf("Unknown command %s. Try /help.", cmd)
	}
}

const helpText = `Commands:
/run <task> — spawn a new agent
/agents — list your agents
/stop <id|all> — stop agent(s)
/agent <id> <message> — follow up with a finished agent
/approve <id> — review, commit and push an agent's changes
/reject <id> — discard an agent's review
/diff <id> — show what an agent changed
/dash — command center overview
/stats — session counts and spend

Plain text without a slash is interpreted as instructions.`

func (s *Service) cmdRun(ctx context.Context, userID, chatID int64, task string) string {
	if task == "" {
		return "Usage: /run <task description>\n\nExamples:\n- /run refactor the auth middleware\n- /run write tests for the user model"
	}

	a, err := s.manager.Spawn(ctx, userID, task, s.projectPath, chatID, s.hooks())
	if err != nil {
		return fmt.Sprintf("Failed to spawn agent: %v", err)
	}

	s.notifier.CreateStatusMessage(ctx, a)
	return fmt.Sprintf("Agent %d spawned\n%s\n`%s`", a.ID, a.ShortTask(), projectName(a.ProjectPath))
}

func (s *Service) cmdAgents(userID int64) string {
	return FormatAgentsList(s.manager.AllAgents(userID), s.manager.Stats(userID))
}

func (s *Service) cmdStop(ctx context.Context, userID int64, args []string) string {
	if len(args) == 0 {
		return "Usage: /stop <agent_id> or /stop all"
	}

	if strings.EqualFold(args[0], "all") {
		count := s.manager.StopAll(ctx, userID)
		return fmt.Sprintf("Stopped %d agent(s).", count)
	}

	id, err := strconv.Atoi(args[0])
	if err != nil {
		return "Agent ID must be a number or 'all'."
	}
	if !s.manager.Stop(ctx, userID, id) {
		return fmt.Sprintf("Agent %d not found or already stopped.", id)
	}
	return fmt.Sprintf("Agent %d stopped.", id)
}

func (s *Service) cmdDirect(ctx context.Context, userID int64, args []string) string {
	if len(args) < 2 {
		return "Usage: /agent <id> <message>\n\nExample: /agent 1 also fix the rate limiting bug"
	}

	id, err := strconv.Atoi(args[0])
	if err != nil {
		return "Agent ID must be a number."
	}
	message := strings.Join(args[1:], " ")

	existing := s.manager.Agent(userID, id)
	if existing == nil {
		return fmt.Sprintf("Agent %d not found.", id)
	}
	if existing.Active() {
		return fmt.Sprintf("Agent %d is still running. Wait for it to finish, then send follow-up instructions.", id)
	}

	a := s.manager.Direct(ctx, userID, id, message, s.hooks())
	if a == nil {
		return fmt.Sprintf("Could not direct agent %d.", id)
	}

	s.notifier.CreateStatusMessage(ctx, a)
	if len(message) > 80 {
		message = message[:80]
	}
	return fmt.Sprintf("Directed agent %d: _%s_", id, EscapeMarkdown(message))
}

func (s *Service) cmdDash(userID int64) string {
	return FormatDashboard(s.manager.AllAgents(userID), s.manager.Stats(userID))
}

func (s *Service) cmdStats(userID int64) string {
	stats := s.manager.Stats(userID)
	var b strings.Builder
	b.WriteString("*Your stats*\n")
	fmt.Fprintf(&b, "Agents this session: %d (%d active, %d completed, %d failed)\n",
		stats.TotalAgents, stats.Active, stats.Completed, stats.Failed)
	fmt.Fprintf(&b, "Session spend: $%.3f", stats.TotalCost)
	if s.store != nil {
		if total, err := s.store.UserCost(userID); err != nil {
			log.Printf("[bot] user %d: cost lookup failed: %v", userID, err)
		} else {
			fmt.Fprintf(&b, "\nAll-time spend: $%.3f", total)
		}
		if week, err := s.store.CostSince(userID, time.Now().AddDate(0, 0, -7)); err == nil {
			fmt.Fprintf(&b, "\nLast 7 days: $%.3f", week)
		}
	}
	return b.String()
}

func (s *Service) cmdApprove(ctx context.Context, userID int64, args []string) string {
	if len(args) == 0 {
		return "Usage: /approve <agent_id>"
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return "Agent ID must be a number."
	}

	a := s.manager.Agent(userID, id)
	if a == nil {
		return fmt.Sprintf("Agent %d not found.", id)
	}

	if a.Status() != models.AgentStatusAwaitingApproval {
		changes, err := s.workflow.RequestReview(a)
		if err != nil {
			return fmt.Sprintf("Cannot review agent %d: %v", id, err)
		}
		if changes.Empty() {
			return fmt.Sprintf("Agent %d made no changes; nothing to commit.", id)
		}
	}

	out, err := s.workflow.Approve(ctx, a, "")
	if err != nil {
		return fmt.Sprintf("Approve failed: %v", err)
	}
	return fmt.Sprintf("Agent %d approved.\n%s", id, out)
}

func (s *Service) cmdReject(userID int64, args []string) string {
	if len(args) == 0 {
		return "Usage: /reject <agent_id>"
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return "Agent ID must be a number."
	}

	a := s.manager.Agent(userID, id)
	if a == nil {
		return fmt.Sprintf("Agent %d not found.", id)
	}
	if a.Status() != models.AgentStatusAwaitingApproval {
		if _, err := s.workflow.RequestReview(a); err != nil {
			return fmt.Sprintf("Cannot review agent %d: %v", id, err)
		}
	}
	if err := s.workflow.Reject(a); err != nil {
		return fmt.Sprintf("Reject failed: %v", err)
	}
	return fmt.Sprintf("Agent %d rejected. Changes are kept in the working tree for inspection.", id)
}

func (s *Service) cmdDiff(userID int64, args []string) string {
	if len(args) == 0 {
		return "Usage: /diff <agent_id>"
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return "Agent ID must be a number."
	}

	a := s.manager.Agent(userID, id)
	if a == nil {
		return fmt.Sprintf("Agent %d not found.", id)
	}

	changes, err := approval.DetectChanges(a.ProjectPath)
	if err != nil {
		return fmt.Sprintf("Diff failed: %v", err)
	}
	if changes.Empty() {
		return fmt.Sprintf("Agent %d: working tree is clean.", id)
	}

	lines := []string{
		fmt.Sprintf("Agent %d: %d file(s), +%d/-%d", id, len(changes.Files), changes.Insertions, changes.Deletions),
		"",
	}
	for _, f := range changes.Files {
		lines = append(lines, "  - "+f)
	}
	if changes.DiffStat != "" {
		stat := changes.DiffStat
		if len(stat) > 500 {
			stat = stat[:500]
		}
		lines = append(lines, "", "```", stat, "```")
	}
	return strings.Join(lines, "\n")
}

// handleFreeform routes plain text through the chief-of-staff interpreter
// and executes the resulting actions.
func (s *Service) handleFreeform(ctx context.Context, userID, chatID int64, text string) string {
	if s.interpreter == nil {
		// Without an interpreter, plain text starts a new agent directly.
		return s.cmdRun(ctx, userID, chatID, text)
	}

	var snapshots []models.AgentSnapshot
	for _, a := range s.manager.AllAgents(userID) {
		snapshots = append(snapshots, a.Snapshot())
	}

	brief, err := s.interpreter.Interpret(ctx, text, s.projectPath, snapshots)
	if err != nil {
		return fmt.Sprintf("Could not interpret that: %v", err)
	}

	if brief.NeedsClarification {
		question := brief.ClarificationQuestion
		if question == "" {
			question = "Could you rephrase that?"
		}
		return "I need some clarification:\n\n" + question
	}

	if len(brief.Actions) == 0 {
		return "Could not extract any actions.\n\n" + brief.Summary
	}

	var replies []string
	for _, action := range brief.Actions {
		switch action.Type {
		case chief.ActionNewAgent:
			replies = append(replies, s.cmdRun(ctx, userID, chatID, action.Task))
		case chief.ActionDirectAgent:
			args := append([]string{strconv.Itoa(action.AgentID)}, strings.Fields(action.Message)...)
			replies = append(replies, s.cmdDirect(ctx, userID, args))
		case chief.ActionStopAgent:
			replies = append(replies, s.cmdStop(ctx, userID, []string{strconv.Itoa(action.AgentID)}))
		case chief.ActionApproveAgent:
			replies = append(replies, s.cmdApprove(ctx, userID, []string{strconv.Itoa(action.AgentID)}))
		default:
			replies = append(replies, fmt.Sprintf("Skipped unknown action %q.", action.Type))
		}
	}

	if brief.Summary != "" {
		replies = append(replies, "", brief.Summary)
	}
	if len(brief.Ambiguities) > 0 {
		replies = append(replies, "", "Unclear:")
		for _, amb := range brief.Ambiguities {
			replies = append(replies, "  - "+amb)
		}
	}
	return strings.Join(replies, "\n")
}

// PublishEvent forwards a webhook event to a chat. Failed CI runs get a hint
// that an agent can pick them up.
func (s *Service) PublishEvent(ctx context.Context, chatID int64, e *webhook.Event) error {
	text := webhook.FormatEvent(e)
	if e.CIFailure() {
		text += "\n\nSend /run fix the failing CI to hand this to an agent."
	}
	_, err := s.messenger.SendMessage(ctx, chatID, text)
	return err
}
