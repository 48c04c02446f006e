// Package hosting wraps the gh CLI for pull-request operations.
//
// All calls use non-interactive flags and parse stdout. Following the
// pattern gh, lazygit, and k9s use for git itself, the hosting CLI is a
// subprocess, never a library dependency.
package hosting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/scribe-cli/scribe/internal/logging"
)

// ErrGHMissing is returned when the gh binary cannot be started.
var ErrGHMissing = errors.New("gh CLI not found")

// prNumberRe extracts a PR number from a GitHub PR URL.
// Example: "https://github.com/owner/repo/pull/42".
var prNumberRe = regexp.MustCompile(`/pull/(\d+)`)

// Client runs gh commands in a working directory.
type Client struct {
	workDir string
	bin     string
	logger  interface {
		Info(msg interface{}, keyvals ...interface{})
		Debug(msg interface{}, keyvals ...interface{})
	}
}

// NewClient creates a hosting client rooted at workDir.
func NewClient(workDir string) *Client {
	return &Client{
		workDir: workDir,
		bin:     "gh",
		logger:  logging.New("hosting"),
	}
}

// CreateOpts are the options for CreatePR.
type CreateOpts struct {
	// Title is the PR title. Required.
	Title string

	// Body is the PR body in Markdown. Written to a temp file to avoid
	// shell escaping issues.
	Body string

	// Head is the branch the PR ships. Required.
	Head string

	// Base is the branch the PR targets. Defaults to "main".
	Base string
}

// CreateResult is the outcome of CreatePR.
type CreateResult struct {
	// URL is the HTML URL of the created PR.
	URL string

	// Number is the PR number extracted from the URL. Zero when unknown.
	Number int
}

// CreatePR creates a pull request via `gh pr create` and returns its URL
// and number.
func (c *Client) CreatePR(ctx context.Context, opts CreateOpts) (*CreateResult, error) {
	if opts.Base == "" {
		opts.Base = "main"
	}

	bodyFile, err := os.CreateTemp("", "scribe-pr-body-*.md")
	if err != nil {
		return nil, fmt.Errorf("hosting: creating body temp file: %w", err)
	}
	defer os.Remove(bodyFile.Name()) //nolint:errcheck
	if _, err := bodyFile.WriteString(opts.Body); err != nil {
		bodyFile.Close() //nolint:errcheck
		return nil, fmt.Errorf("hosting: writing body temp file: %w", err)
	}
	if err := bodyFile.Close(); err != nil {
		return nil, fmt.Errorf("hosting: closing body temp file: %w", err)
	}

	args := []string{
		"pr", "create",
		"--title", opts.Title,
		"--body-file", bodyFile.Name(),
		"--head", opts.Head,
		"--base", opts.Base,
	}

	c.logger.Info("creating pull request", "title", opts.Title, "head", opts.Head, "base", opts.Base)

	exitCode, stdout, stderr, err := c.run(ctx, args...)
	if err != nil {
		if exitCode == -1 {
			return nil, fmt.Errorf("hosting: %w: %v", ErrGHMissing, err)
		}
		return nil, fmt.Errorf("hosting: gh pr create exited %d: %s", exitCode, strings.TrimSpace(stderr))
	}

	url := lastNonEmptyLine(stdout)
	return &CreateResult{
		URL:    url,
		Number: ExtractPRNumber(url),
	}, nil
}

// PRState returns the state reported by `gh pr view --json state` for the
// PR number: "OPEN", "MERGED", or "CLOSED". An empty string with a nil
// error is never returned; failures return an error.
func (c *Client) PRState(ctx context.Context, number int) (string, error) {
	exitCode, stdout, stderr, err := c.run(ctx,
		"pr", "view", strconv.Itoa(number), "--json", "state", "-q", ".state")
	if err != nil {
		if exitCode == -1 {
			return "", fmt.Errorf("hosting: %w: %v", ErrGHMissing, err)
		}
		return "", fmt.Errorf("hosting: gh pr view %d exited %d: %s", number, exitCode, strings.TrimSpace(stderr))
	}
	state := strings.ToUpper(strings.TrimSpace(stdout))
	if state == "" {
		return "", fmt.Errorf("hosting: gh pr view %d returned no state", number)
	}
	return state, nil
}

// run executes gh and returns (exitCode, stdout, stderr, error). exitCode
// is -1 when the binary could not be started.
func (c *Client) run(ctx context.Context, args ...string) (int, string, string, error) {
	cmd := exec.CommandContext(ctx, c.bin, args...)
	if c.workDir != "" {
		cmd.Dir = c.workDir
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	runErr := cmd.Run()
	if runErr == nil {
		return 0, stdoutBuf.String(), stderrBuf.String(), nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		code := exitErr.ExitCode()
		stderr := strings.TrimSpace(stderrBuf.String())
		return code, stdoutBuf.String(), stderr, fmt.Errorf("exit status %d: %s", code, stderr)
	}
	return -1, "", "", runErr
}

// ExtractPRNumber parses the PR number from a GitHub PR URL. Returns 0 when
// no number can be found.
func ExtractPRNumber(url string) int {
	m := prNumberRe.FindStringSubmatch(url)
	if len(m) < 2 {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// lastNonEmptyLine returns the last non-empty line of output; gh prints the
// created PR URL there.
func lastNonEmptyLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
