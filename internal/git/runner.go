// Package git provides the git operations behind the approval workflow.
package git

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// Runner executes git commands in a repository.
type Runner struct {
	repoPath string
}

// NewRunner creates a runner for the repository at the given path.
func NewRunner(repoPath string) *Runner {
	return &Runner{repoPath: repoPath}
}

// run executes a git command and returns its trimmed output.
func (r *Runner) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// ChangedFiles returns modified tracked files plus untracked files.
func (r *Runner) ChangedFiles() ([]string, error) {
	modified, err := r.run("diff", "--name-only")
	if err != nil {
		return nil, err
	}
	untracked, err := r.run("ls-files", "--others", "--exclude-standard")
	if err != nil {
		return nil, err
	}

	var files []string
	for _, line := range strings.Split(modified+"\n"+untracked, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// DiffStat returns the output of git diff --stat.
func (r *Runner) DiffStat() (string, error) {
	return r.run("diff", "--stat")
}

var (
	insertionRe = regexp.MustCompile(`(\d+) insertion`)
	deletionRe  = regexp.MustCompile(`(\d+) deletion`)
)

// ShortStat returns the insertion and deletion counts from git diff --shortstat.
func (r *Runner) ShortStat() (insertions, deletions int, err error) {
	out, err := r.run("diff", "--shortstat")
	if err != nil {
		return 0, 0, err
	}
	insertions, deletions = ParseShortStat(out)
	return insertions, deletions, nil
}

// ParseShortStat extracts insertion and deletion counts from a --shortstat line.
func ParseShortStat(line string) (insertions, deletions int) {
	if m := insertionRe.FindStringSubmatch(line); m != nil {
		insertions, _ = strconv.Atoi(m[1])
	}
	if m := deletionRe.FindStringSubmatch(line); m != nil {
		deletions, _ = strconv.Atoi(m[1])
	}
	return insertions, deletions
}

// FileDiff returns the diff for a single file.
func (r *Runner) FileDiff(path string) (string, error) {
	return r.run("diff", "--no-color", "--", path)
}

// Add stages the given paths, or everything when none are given.
func (r *Runner) Add(paths ...string) error {
	args := []string{"add"}
	if len(paths) == 0 {
		args = append(args, "-A")
	} else {
		args = append(args, "--")
		args = append(args, paths...)
	}
	_, err := r.run(args...)
	return err
}

// Commit creates a commit with the given message.
func (r *Runner) Commit(message string) (string, error) {
	return r.run("commit", "-m", message)
}

// Push pushes to the remote; branch may be empty for the current branch.
func (r *Runner) Push(remote, branch string) (string, error) {
	args := []string{"push", remote}
	if branch != "" {
		args = append(args, branch)
	}
	return r.run(args...)
}
