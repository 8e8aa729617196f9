// Package tui is the local console front end: a chat-style terminal view
// that stands in for a remote messenger. Agent status messages are rendered
// and edited in place exactly as they would be in a chat transport.
package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	userStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	botStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	inputStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type message struct {
	text     string
	fromUser bool
}

// messageStore holds the transcript. Agent goroutines append and edit
// concurrently with the render loop.
type messageStore struct {
	mu       sync.Mutex
	messages []message
}

func (s *messageStore) append(text string, fromUser bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message{text: text, fromUser: fromUser})
	return len(s.messages)
}

func (s *messageStore) edit(id int, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id < 1 || id > len(s.messages) {
		return false
	}
	s.messages[id-1].text = text
	return true
}

func (s *messageStore) render() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, m := range s.messages {
		if m.fromUser {
			b.WriteString(userStyle.Render("you> ") + m.text)
		} else {
			b.WriteString(botStyle.Render(m.text))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

// Console implements the bot's Messenger over the local terminal. Message ids
// are indices into the transcript, so edits land in place like chat edits.
type Console struct {
	store   *messageStore
	program *tea.Program
}

// Handler processes one submitted input line and returns the reply text.
type Handler func(ctx context.Context, text string) string

// NewConsole builds the console and its bubbletea program. Run blocks until
// the user quits.
func NewConsole(handler Handler) *Console {
	c := &Console{store: &messageStore{}}
	app := newApp(c.store, handler)
	c.program = tea.NewProgram(app, tea.WithAltScreen())
	return c
}

// Run starts the interactive loop and blocks until exit.
func (c *Console) Run() error {
	_, err := c.program.Run()
	return err
}

// Quit asks the program to exit.
func (c *Console) Quit() {
	c.program.Quit()
}

// SendMessage appends a new message to the transcript.
func (c *Console) SendMessage(_ context.Context, _ int64, text string) (int, error) {
	id := c.store.append(text, false)
	c.program.Send(refreshMsg{})
	return id, nil
}

// EditMessage replaces an earlier message's text. Unchanged content is a
// no-op either way.
func (c *Console) EditMessage(_ context.Context, _ int64, messageID int, text string) error {
	if !c.store.edit(messageID, text) {
		return fmt.Errorf("no message %d", messageID)
	}
	c.program.Send(refreshMsg{})
	return nil
}

type refreshMsg struct{}

type replyMsg struct{ text string }

// app is the bubbletea model for the console.
type app struct {
	store   *messageStore
	handler Handler

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	busy   bool
	ready  bool
	width  int
	height int
}

func newApp(store *messageStore, handler Handler) *app {
	input := textinput.New()
	input.Placeholder = "/run <task>, /agents, /dash — or plain instructions"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &app{
		store:   store,
		handler: handler,
		input:   input,
		spinner: sp,
	}
}

func (a *app) Init() tea.Cmd {
	return textinput.Blink
}

func (a *app) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return a, tea.Quit
		case "enter":
			text := strings.TrimSpace(a.input.Value())
			if text == "" || a.busy {
				return a, nil
			}
			a.input.SetValue("")
			a.store.append(text, true)
			a.busy = true
			a.refreshViewport()
			return a, tea.Batch(a.spinner.Tick, a.submit(text))
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		inputHeight := 3
		if !a.ready {
			a.viewport = viewport.New(msg.Width, msg.Height-inputHeight-1)
			a.ready = true
		} else {
			a.viewport.Width = msg.Width
			a.viewport.Height = msg.Height - inputHeight - 1
		}
		a.input.Width = msg.Width - 6
		a.refreshViewport()

	case refreshMsg:
		a.refreshViewport()

	case replyMsg:
		a.busy = false
		if msg.text != "" {
			a.store.append(msg.text, false)
		}
		a.refreshViewport()

	case spinner.TickMsg:
		if a.busy {
			var cmd tea.Cmd
			a.spinner, cmd = a.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)
	a.viewport, cmd = a.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return a, tea.Batch(cmds...)
}

func (a *app) submit(text string) tea.Cmd {
	return func() tea.Msg {
		reply := a.handler(context.Background(), text)
		return replyMsg{text: reply}
	}
}

func (a *app) refreshViewport() {
	if !a.ready {
		return
	}
	a.viewport.SetContent(a.store.render())
	a.viewport.GotoBottom()
}

func (a *app) View() string {
	if !a.ready {
		return "starting..."
	}

	prompt := a.input.View()
	if a.busy {
		prompt = a.spinner.View() + " " + prompt
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		a.viewport.View(),
		inputStyle.Width(a.width-2).Render(prompt),
	)
}
