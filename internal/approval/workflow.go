// Package approval implements the review workflow for agent results: detect
// what the agent changed in the project, hold the agent while a human
// reviews, then commit and push on approval or discard on rejection.
package approval

import (
	"context"
	"fmt"
	"log"

	"github.com/ShayCichocki/attache/internal/git"
	"github.com/ShayCichocki/attache/pkg/models"
)

// ChangeSet summarizes the uncommitted work in a project directory.
type ChangeSet struct {
	Files      []string
	Insertions int
	Deletions  int
	DiffStat   string
}

// Empty reports whether the change set contains no files.
func (c *ChangeSet) Empty() bool {
	return len(c.Files) == 0
}

// DetectChanges inspects the git state of a project directory.
func DetectChanges(projectPath string) (*ChangeSet, error) {
	r := git.NewRunner(projectPath)

	files, err := r.ChangedFiles()
	if err != nil {
		return nil, fmt.Errorf("detect changed files: %w", err)
	}
	stat, err := r.DiffStat()
	if err != nil {
		return nil, fmt.Errorf("diff stat: %w", err)
	}
	ins, del, err := r.ShortStat()
	if err != nil {
		return nil, fmt.Errorf("short stat: %w", err)
	}

	return &ChangeSet{
		Files:      files,
		Insertions: ins,
		Deletions:  del,
		DiffStat:   stat,
	}, nil
}

// FileDiff returns the diff for one file in a project directory.
func FileDiff(projectPath, file string) (string, error) {
	return git.NewRunner(projectPath).FileDiff(file)
}

// Workflow moves agents through the review states. It has no transport of its
// own; callers render the change set to the user and invoke Approve or Reject
// on their decision.
type Workflow struct{}

// NewWorkflow creates a review workflow.
func NewWorkflow() *Workflow {
	return &Workflow{}
}

// RequestReview parks a finished agent in the awaiting-approval state and
// returns what it changed. Agents that are still active cannot be reviewed.
func (w *Workflow) RequestReview(a *models.AgentProcess) (*ChangeSet, error) {
	if a.Status().Active() {
		return nil, fmt.Errorf("agent %d is still active", a.ID)
	}

	changes, err := DetectChanges(a.ProjectPath)
	if err != nil {
		return nil, err
	}
	if changes.Empty() {
		return changes, nil
	}

	a.SetStatus(models.AgentStatusAwaitingApproval)
	log.Printf("[approval] agent %d awaiting review: %d file(s), +%d/-%d",
		a.ID, len(changes.Files), changes.Insertions, changes.Deletions)
	return changes, nil
}

// Approve commits the agent's changes and pushes them to origin. The agent
// moves to completed whether or not the push succeeds; an unpushed commit is
// still approved work.
func (w *Workflow) Approve(ctx context.Context, a *models.AgentProcess, message string) (string, error) {
	if a.Status() != models.AgentStatusAwaitingApproval {
		return "", fmt.Errorf("agent %d is not awaiting approval", a.ID)
	}

	r := git.NewRunner(a.ProjectPath)
	if err := r.Add(); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}

	if message == "" {
		message = fmt.Sprintf("Agent task: %s", a.ShortTask())
	}
	out, err := r.Commit(message)
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	a.SetStatus(models.AgentStatusCompleted)

	if pushOut, err := r.Push("origin", ""); err != nil {
		log.Printf("[approval] agent %d: push failed: %v", a.ID, err)
		return out + "\n(push failed, commit is local only)", nil
	} else if pushOut != "" {
		out = out + "\n" + pushOut
	}
	return out, nil
}

// Reject abandons the review. The changes stay in the working tree for the
// user to inspect or discard by hand; the agent moves to stopped.
func (w *Workflow) Reject(a *models.AgentProcess) error {
	if a.Status() != models.AgentStatusAwaitingApproval {
		return fmt.Errorf("agent %d is not awaiting approval", a.ID)
	}
	a.SetStatus(models.AgentStatusStopped)
	log.Printf("[approval] agent %d rejected", a.ID)
	return nil
}
