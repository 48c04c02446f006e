// Package worktree maps features to isolated working directories backed by
// git worktrees.
//
// Each feature gets <repo>/.trees/<NNN>-<slug> on branch
// feature/<NNN>-<slug>, with specs/ inside the worktree symlinked back to
// the main worktree's specs/ so state is shared. Worktrees are optional:
// outside a git repository the caller falls back to the main directory.
// specs/ is permanent and never deleted by clean.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/scribe-cli/scribe/internal/hosting"
	"github.com/scribe-cli/scribe/internal/logging"
	"github.com/scribe-cli/scribe/internal/state"
)

// ErrNotGitRepo is returned by Create when the repository root has no
// version-control metadata. Callers fall back to the main directory.
var ErrNotGitRepo = errors.New("not a git repository")

// ErrGitMissing is returned when the git binary is not on PATH.
var ErrGitMissing = errors.New("git not installed")

// ErrWorktreeExists is returned when the target worktree path already exists.
var ErrWorktreeExists = errors.New("worktree already exists")

// ErrWorktreeMissing is returned when removing a worktree that does not exist.
var ErrWorktreeMissing = errors.New("worktree does not exist")

// treesDirName is the directory under the repo root holding all worktrees.
const treesDirName = ".trees"

// Info describes one worktree rooted under .trees/.
type Info struct {
	// Name is the directory name, e.g. "001-add-auth".
	Name string
	// Path is the absolute worktree path.
	Path string
	// Branch is the checked-out branch, e.g. "feature/001-add-auth".
	Branch string
}

// prStater is the hosting-CLI surface clean_completed needs. Satisfied by
// *hosting.Client.
type prStater interface {
	PRState(ctx context.Context, number int) (string, error)
}

// Manager creates, lists, removes, and cleans feature worktrees.
type Manager struct {
	repoPath string
	treesDir string
	git      *gitRunner
	hosting  prStater
	logger   interface {
		Info(msg interface{}, keyvals ...interface{})
		Warn(msg interface{}, keyvals ...interface{})
		Debug(msg interface{}, keyvals ...interface{})
	}
}

// NewManager creates a manager for the repository root. The hosting client
// is consulted by CleanCompleted for PR state; pass nil to rely only on the
// stored merged flag.
func NewManager(repoPath string, host prStater) *Manager {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		abs = repoPath
	}
	return &Manager{
		repoPath: abs,
		treesDir: filepath.Join(abs, treesDirName),
		git:      newGitRunner(abs),
		hosting:  host,
		logger:   logging.New("worktree"),
	}
}

// NewManagerWithHostingCLI is the common construction: PR state comes from
// the gh CLI rooted at the repository.
func NewManagerWithHostingCLI(repoPath string) *Manager {
	return NewManager(repoPath, hosting.NewClient(repoPath))
}

// IsGitRepo reports whether the repo root contains version-control
// metadata. A .git file (not directory) also counts: that is what a
// worktree checkout looks like.
func (m *Manager) IsGitRepo() bool {
	_, err := os.Stat(filepath.Join(m.repoPath, ".git"))
	return err == nil
}

// Path returns the worktree path for a feature directory name.
func (m *Manager) Path(name string) string {
	return filepath.Join(m.treesDir, name)
}

// Exists reports whether the named worktree directory exists.
func (m *Manager) Exists(name string) bool {
	_, err := os.Stat(m.Path(name))
	return err == nil
}

// Create creates the worktree for a feature: .trees/<NNN>-<slug> on a new
// branch feature/<NNN>-<slug> rooted at baseBranch (or the auto-detected
// default branch when empty). The new worktree's specs/ becomes a symlink
// to the main worktree's specs/. Creation is atomic from the caller's
// perspective: on failure the partially created path is removed.
func (m *Manager) Create(ctx context.Context, slug string, ordinal int, baseBranch string) (string, error) {
	if !m.IsGitRepo() {
		return "", fmt.Errorf("worktree: %w: %s", ErrNotGitRepo, m.repoPath)
	}
	if !m.git.available() {
		return "", fmt.Errorf("worktree: %w", ErrGitMissing)
	}

	name := state.DirName(ordinal, slug)
	path := m.Path(name)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("worktree: %w: %s", ErrWorktreeExists, path)
	}

	if baseBranch == "" {
		baseBranch = m.git.defaultBranch(ctx)
	}
	branch := state.BranchName(ordinal, slug)

	if err := os.MkdirAll(m.treesDir, 0o755); err != nil {
		return "", fmt.Errorf("worktree: creating %q: %w", m.treesDir, err)
	}

	if err := m.git.addWorktree(ctx, path, branch, baseBranch); err != nil {
		os.RemoveAll(path) //nolint:errcheck
		return "", fmt.Errorf("worktree: %w", err)
	}

	if err := m.linkSpecs(path); err != nil {
		// The worktree is usable without the link; state just is not shared.
		m.logger.Warn("specs link setup failed", "worktree", name, "error", err)
	}

	m.logger.Info("worktree created", "path", path, "branch", branch, "base", baseBranch)
	return path, nil
}

// linkSpecs replaces the worktree's specs/ with a symlink to the main
// worktree's specs/. On platforms without symlink support a best-effort
// plain directory is created and a note logged.
func (m *Manager) linkSpecs(worktreePath string) error {
	target := filepath.Join(m.repoPath, "specs")
	link := filepath.Join(worktreePath, "specs")

	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("creating %q: %w", target, err)
	}
	if _, err := os.Lstat(link); err == nil {
		if err := os.RemoveAll(link); err != nil {
			return fmt.Errorf("removing %q: %w", link, err)
		}
	}

	if err := os.Symlink(target, link); err != nil {
		m.logger.Warn("symlinks unsupported, using plain specs directory", "path", link)
		return os.MkdirAll(link, 0o755)
	}
	return nil
}

// Remove removes the named worktree, trying a normal removal first and
// falling back to a forced one.
func (m *Manager) Remove(ctx context.Context, name string) error {
	if !m.git.available() {
		return fmt.Errorf("worktree: %w", ErrGitMissing)
	}
	path := m.Path(name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("worktree: %w: %s", ErrWorktreeMissing, path)
	}

	if err := m.git.removeWorktree(ctx, path, false); err != nil {
		m.logger.Debug("normal removal failed, forcing", "worktree", name, "error", err)
		if err := m.git.removeWorktree(ctx, path, true); err != nil {
			return fmt.Errorf("worktree: %w", err)
		}
	}

	m.logger.Info("worktree removed", "path", path)
	return nil
}

// List returns the worktrees rooted under .trees/.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	if !m.IsGitRepo() {
		return nil, nil
	}
	all, err := m.git.listWorktrees(ctx)
	if err != nil {
		return nil, fmt.Errorf("worktree: %w", err)
	}

	var infos []Info
	for _, info := range all {
		if strings.HasPrefix(info.Path, m.treesDir+string(os.PathSeparator)) {
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// CleanCompleted scans specs/*/state.yml for features whose overall status
// is completed and whose delivery PR is MERGED or CLOSED (as reported by
// the hosting CLI, falling back to the stored merged flag), then removes
// the matching worktrees. specs/ itself is never touched. With dryRun the
// candidate names are returned without removing anything.
func (m *Manager) CleanCompleted(ctx context.Context, dryRun bool) ([]string, error) {
	if !m.IsGitRepo() {
		return nil, nil
	}

	specsDir := filepath.Join(m.repoPath, "specs")
	entries, err := os.ReadDir(specsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("worktree: reading %q: %w", specsDir, err)
	}

	var candidates []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		name := entry.Name()
		if !m.Exists(name) {
			continue
		}

		fs, err := state.ReadStateFile(filepath.Join(specsDir, name, state.StateFileName))
		if err != nil {
			continue
		}
		if fs.Status.OverallStatus != state.StatusCompleted {
			continue
		}
		if m.deliveryClosed(ctx, fs) {
			candidates = append(candidates, name)
		}
	}

	if dryRun {
		return candidates, nil
	}

	var removed []string
	for _, name := range candidates {
		if err := m.Remove(ctx, name); err != nil {
			m.logger.Warn("clean: removal failed", "worktree", name, "error", err)
			continue
		}
		removed = append(removed, name)
	}
	return removed, nil
}

// deliveryClosed reports whether the feature's PR is merged or closed,
// preferring the hosting CLI and falling back to the stored merged flag.
func (m *Manager) deliveryClosed(ctx context.Context, fs *state.FeatureState) bool {
	if fs.Delivery.PRNumber > 0 && m.hosting != nil {
		if prState, err := m.hosting.PRState(ctx, fs.Delivery.PRNumber); err == nil {
			return prState == "MERGED" || prState == "CLOSED"
		}
	}
	return fs.Delivery.Merged
}
