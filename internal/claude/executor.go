package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"

	"github.com/ShayCichocki/attache/internal/agent"
	"github.com/ShayCichocki/attache/internal/storage"
)

const defaultMaxIterations = 50

const systemPrompt = `You are a software engineering assistant working inside a project directory.
Use the available tools to read, modify and test code. Work autonomously:
do not ask the user questions, make reasonable decisions and report what you
did. When the task is finished, summarize the changes in your final message.`

// Executor drives an agentic tool-use loop against the Anthropic API. It
// implements the agent.Executor interface and keeps per-session transcripts so
// a finished conversation can be continued later.
type Executor struct {
	client        *Client
	store         *storage.DB
	maxIterations int
}

// ExecutorConfig configures a new Executor.
type ExecutorConfig struct {
	Client *Client
	// Store persists session transcripts and cost records. Optional; with a
	// nil store sessions only live in memory for the duration of one run.
	Store *storage.DB
	// MaxIterations caps the number of API round trips per run.
	MaxIterations int
}

// NewExecutor creates an Executor backed by the given client.
func NewExecutor(cfg ExecutorConfig) *Executor {
	maxIter := cfg.MaxIterations
	if maxIter == 0 {
		maxIter = defaultMaxIterations
	}
	return &Executor{
		client:        cfg.Client,
		store:         cfg.Store,
		maxIterations: maxIter,
	}
}

// Execute runs the agent loop until the model ends its turn, the iteration
// cap is hit, or ctx is cancelled. A request carrying a session id resumes
// that session's transcript; otherwise a fresh session is started.
func (e *Executor) Execute(ctx context.Context, req agent.Request) (*agent.Result, error) {
	sessionID := req.SessionID
	messages, err := e.loadHistory(sessionID)
	if err != nil {
		log.Printf("[claude] session %s: transcript load failed, starting fresh: %v", sessionID, err)
		messages = nil
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)))

	tools := NewToolExecutor(req.WorkDir)
	var totalCost float64
	var finalText string

	for iter := 0; iter < e.maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := e.client.SDK().Messages.New(ctx, anthropic.MessageNewParams{
			Model:     e.client.Model(),
			MaxTokens: 8192,
			System: []anthropic.TextBlockParam{
				{Text: systemPrompt},
			},
			Messages: messages,
			Tools:    ToolDefinitions(),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("messages API call: %w", err)
		}

		totalCost += costForUsage(e.client.Model(), resp.Usage.InputTokens, resp.Usage.OutputTokens)

		var assistantBlocks []anthropic.ContentBlockParamUnion
		var toolResultBlocks []anthropic.ContentBlockParamUnion
		var toolNames []string
		var textParts []string

		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				textParts = append(textParts, variant.Text)
				assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(variant.Text))

			case anthropic.ToolUseBlock:
				toolNames = append(toolNames, variant.Name)
				result := tools.Execute(ctx, variant.Name, variant.Input)

				assistantBlocks = append(assistantBlocks,
					anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))
				toolResultBlocks = append(toolResultBlocks,
					anthropic.NewToolResultBlock(variant.ID, result.Content, result.IsError))
			}
		}

		if req.OnStream != nil {
			if len(textParts) > 0 {
				req.OnStream(agent.StreamUpdate{Content: strings.Join(textParts, "\n")})
			}
			if len(toolNames) > 0 {
				req.OnStream(agent.StreamUpdate{ToolNames: toolNames})
			}
		}

		messages = append(messages, anthropic.NewAssistantMessage(assistantBlocks...))
		if len(toolResultBlocks) > 0 {
			messages = append(messages, anthropic.NewUserMessage(toolResultBlocks...))
		}

		if resp.StopReason == anthropic.StopReasonEndTurn {
			finalText = strings.Join(textParts, "\n")
			e.persist(sessionID, req, messages, totalCost)
			return &agent.Result{
				SessionID: sessionID,
				CostUSD:   totalCost,
				Content:   finalText,
			}, nil
		}
	}

	e.persist(sessionID, req, messages, totalCost)
	return &agent.Result{
		SessionID: sessionID,
		CostUSD:   totalCost,
		Content:   fmt.Sprintf("Stopped after %d iterations without finishing the task.", e.maxIterations),
		IsError:   true,
	}, nil
}

// loadHistory returns the stored transcript for a session, or nil when the
// session is unknown or no store is configured.
func (e *Executor) loadHistory(sessionID string) ([]anthropic.MessageParam, error) {
	if e.store == nil || sessionID == "" {
		return nil, nil
	}
	stored, err := e.store.LoadTranscript(sessionID)
	if err != nil {
		return nil, err
	}

	var messages []anthropic.MessageParam
	for _, m := range stored {
		var msg anthropic.MessageParam
		raw, err := json.Marshal(map[string]json.RawMessage{
			"role":    json.RawMessage(fmt.Sprintf("%q", m.Role)),
			"content": m.Content,
		})
		if err != nil {
			return nil, fmt.Errorf("rebuild message: %w", err)
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("rebuild message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// persist stores the session record, transcript and cost. Persistence
// failures are logged, not fatal: the run's result is already in hand.
func (e *Executor) persist(sessionID string, req agent.Request, messages []anthropic.MessageParam, cost float64) {
	if e.store == nil {
		return
	}

	err := e.store.SaveSession(&storage.Session{
		ID:          sessionID,
		UserID:      req.UserID,
		ProjectPath: req.WorkDir,
	})
	if err != nil {
		log.Printf("[claude] session %s: save failed: %v", sessionID, err)
		return
	}

	transcript := make([]storage.TranscriptMessage, 0, len(messages))
	for _, m := range messages {
		content, err := json.Marshal(m.Content)
		if err != nil {
			log.Printf("[claude] session %s: transcript marshal failed: %v", sessionID, err)
			return
		}
		transcript = append(transcript, storage.TranscriptMessage{
			Role:    string(m.Role),
			Content: content,
		})
	}
	if err := e.store.SaveTranscript(sessionID, transcript); err != nil {
		log.Printf("[claude] session %s: transcript save failed: %v", sessionID, err)
	}
}
