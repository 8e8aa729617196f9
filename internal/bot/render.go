package bot

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ShayCichocki/attache/pkg/models"
)

// clip truncates on rune boundaries so multibyte text never renders as
// mojibake.
func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// statusLabel maps a terminal status to its display word.
func statusLabel(s models.AgentStatus) string {
	switch s {
	case models.AgentStatusCompleted:
		return "Completed"
	case models.AgentStatusFailed:
		return "Failed"
	case models.AgentStatusStopped:
		return "Stopped"
	case models.AgentStatusAwaitingApproval:
		return "Awaiting Approval"
	default:
		return string(s)
	}
}

// EscapeMarkdown escapes the characters that break Markdown v1 parsing.
func EscapeMarkdown(text string) string {
	for _, ch := range []string{"_", "*", "[", "]", "`"} {
		text = strings.ReplaceAll(text, ch, "\\"+ch)
	}
	return text
}

func projectName(path string) string {
	return filepath.Base(path)
}

func formatElapsed(a *models.AgentProcess) string {
	elapsed := int(a.Duration().Seconds())
	return fmt.Sprintf("%dm %ds", elapsed/60, elapsed%60)
}

// FormatStatus renders the in-progress status message for an agent.
func FormatStatus(a *models.AgentProcess, activity string) string {
	lines := []string{
		fmt.Sprintf("*Agent %d* — %s", a.ID, EscapeMarkdown(a.ShortTask())),
		fmt.Sprintf("`%s`", projectName(a.ProjectPath)),
		formatElapsed(a),
	}
	if a.CostUSD() > 0 {
		lines = append(lines, fmt.Sprintf("$%.4f", a.CostUSD()))
	}
	activity = clip(activity, 150)
	lines = append(lines, "", "_"+EscapeMarkdown(activity)+"_")
	return strings.Join(lines, "\n")
}

// FormatCompletion renders the terminal message for an agent.
func FormatCompletion(a *models.AgentProcess) string {
	lines := []string{
		fmt.Sprintf("*Agent %d* — %s", a.ID, statusLabel(a.Status())),
		EscapeMarkdown(a.ShortTask()),
		fmt.Sprintf("`%s`", projectName(a.ProjectPath)),
		fmt.Sprintf("%s | $%.4f", formatElapsed(a), a.CostUSD()),
	}

	if summary := a.ResultSummary(); summary != "" {
		if utf8.RuneCountInString(summary) > 300 {
			summary = clip(summary, 300) + "..."
		}
		lines = append(lines, "", EscapeMarkdown(summary))
	}
	if errMsg := a.ErrorMessage(); errMsg != "" {
		errMsg = clip(errMsg, 200)
		lines = append(lines, "", "_"+EscapeMarkdown(errMsg)+"_")
	}

	if files := a.FilesChanged(); len(files) > 0 {
		lines = append(lines, "", fmt.Sprintf("Files changed: %d", len(files)))
		for i, f := range files {
			if i == 5 {
				lines = append(lines, fmt.Sprintf("  ... and %d more", len(files)-5))
				break
			}
			lines = append(lines, fmt.Sprintf("  - `%s`", f))
		}
	}

	return strings.Join(lines, "\n")
}

// FormatAgentsList renders the /agents overview: active agents with elapsed
// time and latest activity, then the most recent finished ones.
func FormatAgentsList(agents []*models.AgentProcess, stats models.AgentStats) string {
	if len(agents) == 0 {
		return "*No agents*\n\nSpawn one with `/run <task>`"
	}

	var active, done []*models.AgentProcess
	for _, a := range agents {
		if a.Active() {
			active = append(active, a)
		} else if a.Terminal() {
			done = append(done, a)
		}
	}

	lines := []string{"*Your Agents*", ""}

	if len(active) > 0 {
		lines = append(lines, "*Active:*")
		for _, a := range active {
			line := fmt.Sprintf("  %d: %s (%s)", a.ID, EscapeMarkdown(a.ShortTask()), formatElapsed(a))
			if activity := a.LastActivity(); activity != "" {
				line += " — _" + EscapeMarkdown(clip(activity, 60)) + "_"
			}
			lines = append(lines, line)
		}
		lines = append(lines, "")
	}

	if len(done) > 0 {
		sort.Slice(done, func(i, j int) bool {
			ti, tj := done[i].CompletedAt(), done[j].CompletedAt()
			if ti.IsZero() {
				ti = done[i].StartedAt()
			}
			if tj.IsZero() {
				tj = done[j].StartedAt()
			}
			return ti.After(tj)
		})
		lines = append(lines, "*Recent:*")
		for i, a := range done {
			if i == 5 {
				break
			}
			line := fmt.Sprintf("  %d [%s]: %s", a.ID, a.Status(), EscapeMarkdown(a.ShortTask()))
			if a.CostUSD() > 0 {
				line += fmt.Sprintf(" $%.3f", a.CostUSD())
			}
			lines = append(lines, line)
		}
	}

	lines = append(lines, "", fmt.Sprintf("Total: %d | $%.3f", stats.TotalAgents, stats.TotalCost))
	return strings.Join(lines, "\n")
}

// FormatDashboard renders the /dash command center view, grouping agents by
// project.
func FormatDashboard(agents []*models.AgentProcess, stats models.AgentStats) string {
	lines := []string{"*Command Center*", ""}

	if len(agents) == 0 {
		lines = append(lines, "_No agents running. Spawn one with_ `/run <task>`")
	} else {
		byProject := make(map[string][]*models.AgentProcess)
		var order []string
		for _, a := range agents {
			if _, seen := byProject[a.ProjectPath]; !seen {
				order = append(order, a.ProjectPath)
			}
			byProject[a.ProjectPath] = append(byProject[a.ProjectPath], a)
		}
		sort.Strings(order)

		for _, project := range order {
			lines = append(lines, fmt.Sprintf("*%s*", projectName(project)))
			group := byProject[project]
			sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })

			for _, a := range group {
				switch {
				case a.Active():
					lines = append(lines, fmt.Sprintf("  Agent %d: %q — %s",
						a.ID, a.ShortTask(), formatElapsed(a)))
				case a.Status() == models.AgentStatusAwaitingApproval:
					lines = append(lines, fmt.Sprintf("  Agent %d: Awaiting approval", a.ID))
				default:
					lines = append(lines, fmt.Sprintf("  Agent %d: %s — %q",
						a.ID, statusLabel(a.Status()), a.ShortTask()))
				}
			}
			lines = append(lines, "")
		}
	}

	lines = append(lines, fmt.Sprintf("Agents: %d active, %d done | $%.2f",
		stats.Active, stats.Completed, stats.TotalCost))

	pending := 0
	for _, a := range agents {
		if a.Status() == models.AgentStatusAwaitingApproval {
			pending++
		}
	}
	if pending > 0 {
		lines = append(lines, fmt.Sprintf("%d pending approval(s)", pending))
	}

	return strings.Join(lines, "\n")
}
