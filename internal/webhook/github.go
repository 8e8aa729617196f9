// Package webhook receives CI and repository notifications over HTTP and
// forwards them to chat targets. GitHub events are verified and normalized;
// anything else comes in through a generic JSON endpoint.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Event is a normalized inbound notification.
type Event struct {
	Type        string
	Title       string
	Description string
	Repo        string
	Branch      string
	URL         string
	Conclusion  string
}

// CIFailure reports whether the event is a failed CI run, which callers may
// offer to hand to an agent.
func (e *Event) CIFailure() bool {
	switch e.Type {
	case "check_run", "check_suite", "workflow_run":
		return e.Conclusion == "failure" || e.Conclusion == "error"
	}
	return false
}

// VerifySignature checks a GitHub X-Hub-Signature-256 header (HMAC-SHA256)
// against the raw request body.
func VerifySignature(payload []byte, signature, secret string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature[len(prefix):]))
}

// ParseGitHubEvent normalizes a GitHub webhook payload. Unknown event types
// produce a generic event rather than an error.
func ParseGitHubEvent(eventType string, payload []byte) (*Event, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("parse %s payload: %w", eventType, err)
	}

	switch eventType {
	case "push":
		return parsePush(payload)
	case "pull_request":
		return parsePullRequest(payload)
	case "issues":
		return parseIssue(payload)
	case "check_run":
		return parseCheckRun(payload)
	case "check_suite":
		return parseCheckSuite(payload)
	case "workflow_run":
		return parseWorkflowRun(payload)
	case "deployment_status":
		return parseDeploymentStatus(payload)
	}

	var p struct {
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	json.Unmarshal(payload, &p)
	repo := p.Repository.FullName
	if repo == "" {
		repo = "unknown"
	}
	return &Event{
		Type:  eventType,
		Title: fmt.Sprintf("GitHub event: %s", eventType),
		Repo:  repo,
	}, nil
}

func parsePush(payload []byte) (*Event, error) {
	var p struct {
		Ref        string `json:"ref"`
		Compare    string `json:"compare"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
		Pusher struct {
			Name string `json:"name"`
		} `json:"pusher"`
		Commits []struct {
			Message string `json:"message"`
		} `json:"commits"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}

	branch := strings.TrimPrefix(p.Ref, "refs/heads/")
	pusher := p.Pusher.Name
	if pusher == "" {
		pusher = "unknown"
	}

	var lines []string
	for i, c := range p.Commits {
		if i == 3 {
			break
		}
		first := strings.SplitN(c.Message, "\n", 2)[0]
		lines = append(lines, "- "+first)
	}

	return &Event{
		Type:        "push",
		Title:       fmt.Sprintf("Push to %s/%s", p.Repository.FullName, branch),
		Description: fmt.Sprintf("By %s, %d commit(s):\n%s", pusher, len(p.Commits), strings.Join(lines, "\n")),
		Repo:        p.Repository.FullName,
		Branch:      branch,
		URL:         p.Compare,
	}, nil
}

func parsePullRequest(payload []byte) (*Event, error) {
	var p struct {
		Action      string `json:"action"`
		PullRequest struct {
			Title   string `json:"title"`
			Number  int    `json:"number"`
			HTMLURL string `json:"html_url"`
			User    struct {
				Login string `json:"login"`
			} `json:"user"`
		} `json:"pull_request"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}

	return &Event{
		Type:        "pull_request",
		Title:       fmt.Sprintf("PR %s: %s", p.Action, p.PullRequest.Title),
		Description: fmt.Sprintf("#%d by %s", p.PullRequest.Number, p.PullRequest.User.Login),
		Repo:        p.Repository.FullName,
		URL:         p.PullRequest.HTMLURL,
	}, nil
}

func parseIssue(payload []byte) (*Event, error) {
	var p struct {
		Action string `json:"action"`
		Issue  struct {
			Title   string `json:"title"`
			Number  int    `json:"number"`
			HTMLURL string `json:"html_url"`
			User    struct {
				Login string `json:"login"`
			} `json:"user"`
		} `json:"issue"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}

	return &Event{
		Type:        "issue",
		Title:       fmt.Sprintf("Issue %s: %s", p.Action, p.Issue.Title),
		Description: fmt.Sprintf("#%d by %s", p.Issue.Number, p.Issue.User.Login),
		Repo:        p.Repository.FullName,
		URL:         p.Issue.HTMLURL,
	}, nil
}

func parseCheckRun(payload []byte) (*Event, error) {
	var p struct {
		CheckRun struct {
			Name       string `json:"name"`
			Conclusion string `json:"conclusion"`
			HTMLURL    string `json:"html_url"`
			Output     struct {
				Summary string `json:"summary"`
			} `json:"output"`
		} `json:"check_run"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}

	conclusion := p.CheckRun.Conclusion
	if conclusion == "" {
		conclusion = "pending"
	}
	name := p.CheckRun.Name
	if name == "" {
		name = "unknown"
	}

	return &Event{
		Type:        "check_run",
		Title:       fmt.Sprintf("Check: %s — %s", name, conclusion),
		Description: truncate(p.CheckRun.Output.Summary, 200),
		Repo:        p.Repository.FullName,
		URL:         p.CheckRun.HTMLURL,
		Conclusion:  conclusion,
	}, nil
}

func parseCheckSuite(payload []byte) (*Event, error) {
	var p struct {
		CheckSuite struct {
			Conclusion   string            `json:"conclusion"`
			HeadBranch   string            `json:"head_branch"`
			PullRequests []json.RawMessage `json:"pull_requests"`
		} `json:"check_suite"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}

	conclusion := p.CheckSuite.Conclusion
	if conclusion == "" {
		conclusion = "pending"
	}
	branch := p.CheckSuite.HeadBranch
	if branch == "" {
		branch = "unknown"
	}

	return &Event{
		Type:        "check_suite",
		Title:       fmt.Sprintf("CI: %s/%s — %s", p.Repository.FullName, branch, conclusion),
		Description: fmt.Sprintf("%d PR(s) affected", len(p.CheckSuite.PullRequests)),
		Repo:        p.Repository.FullName,
		Branch:      branch,
		Conclusion:  conclusion,
	}, nil
}

func parseWorkflowRun(payload []byte) (*Event, error) {
	var p struct {
		WorkflowRun struct {
			Name       string `json:"name"`
			Conclusion string `json:"conclusion"`
			HeadBranch string `json:"head_branch"`
			HTMLURL    string `json:"html_url"`
		} `json:"workflow_run"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}

	conclusion := p.WorkflowRun.Conclusion
	if conclusion == "" {
		conclusion = "in_progress"
	}
	name := p.WorkflowRun.Name
	if name == "" {
		name = "unknown"
	}
	branch := p.WorkflowRun.HeadBranch
	if branch == "" {
		branch = "unknown"
	}

	return &Event{
		Type:        "workflow_run",
		Title:       fmt.Sprintf("Workflow: %s — %s", name, conclusion),
		Description: fmt.Sprintf("Branch: %s", branch),
		Repo:        p.Repository.FullName,
		Branch:      branch,
		URL:         p.WorkflowRun.HTMLURL,
		Conclusion:  conclusion,
	}, nil
}

func parseDeploymentStatus(payload []byte) (*Event, error) {
	var p struct {
		DeploymentStatus struct {
			State       string `json:"state"`
			Environment string `json:"environment"`
			Description string `json:"description"`
			TargetURL   string `json:"target_url"`
		} `json:"deployment_status"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, err
	}

	state := p.DeploymentStatus.State
	if state == "" {
		state = "unknown"
	}
	env := p.DeploymentStatus.Environment
	if env == "" {
		env = "unknown"
	}

	return &Event{
		Type:        "deployment",
		Title:       fmt.Sprintf("Deploy to %s: %s", env, state),
		Description: truncate(p.DeploymentStatus.Description, 200),
		Repo:        p.Repository.FullName,
		URL:         p.DeploymentStatus.TargetURL,
		Conclusion:  state,
	}, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
