// Package chief turns free-form natural language instructions into structured
// agent actions. A single model call parses the user's intent against the
// current agent roster and either returns actions to execute or asks for
// clarification.
package chief

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/attache/pkg/models"
)

// Action types the interpreter can emit.
const (
	ActionDirectAgent  = "direct_agent"
	ActionNewAgent     = "new_agent"
	ActionStopAgent    = "stop_agent"
	ActionApproveAgent = "approve_agent"
)

// Action is one instruction extracted from the user's input.
type Action struct {
	Type    string `json:"type"`
	AgentID int    `json:"agent_id,omitempty"`
	Message string `json:"message,omitempty"`
	Task    string `json:"task,omitempty"`
}

// Brief is the interpreter's structured reading of one user message.
type Brief struct {
	NeedsClarification    bool     `json:"needs_clarification"`
	ClarificationQuestion string   `json:"clarification_question"`
	Actions               []Action `json:"actions"`
	Summary               string   `json:"summary"`
	Ambiguities           []string `json:"ambiguities"`
}

const briefPrompt = `You are the user's chief of staff for software development.
You receive free-form, possibly rambling instructions and structure them into
clear, actionable briefs.

== ACTIVE AGENTS ==
%s

== CURRENT PROJECT ==
%s

== USER'S MESSAGE ==
"%s"

== YOUR TASK ==
1. Parse the user's intent. They may reference things vaguely ("that auth
   thing", "the broken part", "agent one"); resolve using the context above.
2. Structure the intent into per-agent instructions, each a clear brief.
3. If the message describes a new task not directed at any existing agent,
   mark it as "new_agent".
4. If the message is genuinely unclear and you cannot confidently determine
   what the user wants, set "needs_clarification" to true and put a specific
   question in "clarification_question". Do not guess.
5. If you are mostly confident but a small ambiguity remains, proceed with
   the most likely interpretation and note the ambiguity in "ambiguities".

Respond with ONLY a JSON object in this format:
{
  "needs_clarification": false,
  "clarification_question": null,
  "actions": [
    {"type": "direct_agent", "agent_id": 1, "message": "Clear instruction for the agent"},
    {"type": "new_agent", "task": "Task description for a new agent"},
    {"type": "stop_agent", "agent_id": 2},
    {"type": "approve_agent", "agent_id": 3}
  ],
  "summary": "Brief human-readable summary of what was interpreted",
  "ambiguities": ["Any unclear points, if any"]
}

If needs_clarification is true, actions must be empty.`

// modelCaller is the slice of the Anthropic API the interpreter needs.
type modelCaller interface {
	completeBrief(ctx context.Context, prompt string) (string, error)
}

// Interpreter drives the chief-of-staff model call.
type Interpreter struct {
	caller modelCaller
}

// anthropicCaller adapts the SDK client to modelCaller.
type anthropicCaller struct {
	client *anthropic.Client
	model  anthropic.Model
}

func (c *anthropicCaller) completeBrief(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", err
	}
	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}
	return text.String(), nil
}

// NewInterpreter creates an interpreter backed by the given SDK client.
func NewInterpreter(client *anthropic.Client, model anthropic.Model) *Interpreter {
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	return &Interpreter{caller: &anthropicCaller{client: client, model: model}}
}

// Interpret parses one user message into a Brief. When the model's reply can
// not be parsed, the whole message falls back to a single new_agent action so
// no instruction is ever silently dropped.
func (i *Interpreter) Interpret(ctx context.Context, input, projectPath string, agents []models.AgentSnapshot) (*Brief, error) {
	prompt := fmt.Sprintf(briefPrompt,
		agentsContext(agents),
		fmt.Sprintf("%s (%s)", filepath.Base(projectPath), projectPath),
		input,
	)

	text, err := i.caller.completeBrief(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("chief of staff call: %w", err)
	}

	brief, err := ParseBrief(text)
	if err != nil {
		return &Brief{
			Actions:     []Action{{Type: ActionNewAgent, Task: input}},
			Summary:     fmt.Sprintf("Could not parse structured intent. Treating as new task: %s", truncate(input, 100)),
			Ambiguities: []string{"Could not parse structured intent from the message"},
		}, nil
	}
	return brief, nil
}

// agentsContext renders the agent roster for the prompt.
func agentsContext(agents []models.AgentSnapshot) string {
	if len(agents) == 0 {
		return "(No agents currently running)"
	}
	var lines []string
	for _, a := range agents {
		line := fmt.Sprintf("- Agent %d (%s): %q — %s",
			a.ID, filepath.Base(a.ProjectPath), a.TaskDescription, a.Status)
		if a.LastActivity != "" {
			line += " | Last: " + a.LastActivity
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// ParseBrief extracts the JSON brief from a model reply, stripping a markdown
// code fence when present.
func ParseBrief(text string) (*Brief, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		parts := strings.SplitN(text, "```", 3)
		if len(parts) >= 2 {
			text = parts[1]
		}
		text = strings.TrimPrefix(text, "json")
		text = strings.TrimSpace(text)
	}

	var brief Brief
	if err := json.Unmarshal([]byte(text), &brief); err != nil {
		return nil, fmt.Errorf("parse brief: %w", err)
	}
	return &brief, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
