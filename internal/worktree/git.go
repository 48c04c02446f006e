package worktree

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// gitRunner wraps git CLI invocations rooted at a repository. All methods
// use os/exec to call the git binary, following the same pattern as gh,
// lazygit, and k9s.
type gitRunner struct {
	repoPath string
	bin      string
}

func newGitRunner(repoPath string) *gitRunner {
	return &gitRunner{repoPath: repoPath, bin: "git"}
}

// available reports whether the git binary can be started at all.
func (g *gitRunner) available() bool {
	_, err := exec.LookPath(g.bin)
	return err == nil
}

// defaultBranch resolves the remote HEAD branch name, falling back to
// "main" when origin has no HEAD reference.
func (g *gitRunner) defaultBranch(ctx context.Context) string {
	out, err := g.run(ctx, "symbolic-ref", "refs/remotes/origin/HEAD", "--short")
	if err == nil {
		if name := strings.TrimPrefix(strings.TrimSpace(out), "origin/"); name != "" {
			return name
		}
	}
	return "main"
}

// addWorktree creates a worktree at path on a new branch rooted at base.
func (g *gitRunner) addWorktree(ctx context.Context, path, branch, base string) error {
	args := []string{"worktree", "add", "-b", branch, path}
	if base != "" {
		args = append(args, base)
	}
	if _, err := g.run(ctx, args...); err != nil {
		return fmt.Errorf("git worktree add %q: %w", path, err)
	}
	return nil
}

// removeWorktree removes a worktree, optionally forced.
func (g *gitRunner) removeWorktree(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	if _, err := g.run(ctx, args...); err != nil {
		return fmt.Errorf("git worktree remove %q: %w", path, err)
	}
	return nil
}

// listWorktrees parses `git worktree list --porcelain` into entries.
func (g *gitRunner) listWorktrees(ctx context.Context) ([]Info, error) {
	out, err := g.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("git worktree list: %w", err)
	}
	return parsePorcelain(out), nil
}

// parsePorcelain decodes the porcelain worktree listing. Each stanza is a
// blank-line separated block of "worktree <path>", "HEAD <sha>",
// "branch refs/heads/<name>" lines.
func parsePorcelain(output string) []Info {
	var infos []Info
	var current Info

	flush := func() {
		if current.Path != "" {
			current.Name = filepath.Base(current.Path)
			infos = append(infos, current)
		}
		current = Info{}
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	flush()
	return infos
}

// run executes a git command and returns stdout. stderr is folded into the
// error when the command fails.
func (g *gitRunner) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.bin, args...)
	cmd.Dir = g.repoPath

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("exit status %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderrBuf.String()))
		}
		return "", err
	}
	return stdoutBuf.String(), nil
}
