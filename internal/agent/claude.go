package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/scribe-cli/scribe/internal/logging"
)

// Compile-time check that Claude implements Agent.
var _ Agent = (*Claude)(nil)

// maxInlinePromptBytes is the threshold above which a prompt is written to
// a temp file instead of being passed on the command line.
const maxInlinePromptBytes = 100 * 1024 // 100 KiB

// ClaudeConfig configures the Claude CLI adapter.
type ClaudeConfig struct {
	// Command is the CLI executable name. Defaults to "claude".
	Command string

	// Model is the model identifier passed as --model.
	Model string
}

// Claude executes prompts via the claude CLI subprocess, decoding its
// stream-json stdout in real time.
type Claude struct {
	config ClaudeConfig
	logger interface {
		Debug(msg interface{}, keyvals ...interface{})
	}
}

// NewClaude creates a Claude adapter.
func NewClaude(config ClaudeConfig) *Claude {
	return &Claude{
		config: config,
		logger: logging.New("agent"),
	}
}

// Type returns TypeClaude.
func (c *Claude) Type() Type { return TypeClaude }

// Capabilities returns the Claude capability descriptor.
func (c *Claude) Capabilities() Capabilities { return CapabilitiesFor(TypeClaude) }

// Validate reports whether the claude CLI is on PATH and a credential is
// detectable.
func (c *Claude) Validate(_ context.Context) bool {
	if _, err := exec.LookPath(c.command()); err != nil {
		return false
	}
	_, err := TypeClaude.DetectCredential()
	return err == nil
}

// Execute runs one request through the claude CLI. Stream events are
// decoded from stdout as they arrive and forwarded to events with
// non-blocking sends (a slow consumer drops events; the full output is
// still accumulated into the Result). The context cancels the subprocess.
func (c *Claude) Execute(ctx context.Context, req Request, events chan<- StreamEvent) (*Result, error) {
	args, cleanup, err := c.buildArgs(req)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	cmd := exec.CommandContext(ctx, c.command(), args...)
	setProcGroup(cmd)
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}
	cmd.Env = os.Environ()

	c.logger.Debug("running claude",
		"request_id", req.ID,
		"model", c.config.Model,
		"max_turns", req.MaxTurns,
		"work_dir", req.WorkDir,
	)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agent: creating stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("agent: creating stderr pipe: %w", err)
	}

	result := &Result{}
	var (
		output    strings.Builder
		stderrBuf bytes.Buffer
		wg        sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		decoder := NewStreamDecoder(stdoutPipe)
		for {
			event, err := decoder.Next()
			if err != nil {
				// io.EOF or decode error: stop reading.
				return
			}
			c.accumulate(result, &output, event)
			if events != nil {
				// Non-blocking send: drop when the consumer is slow.
				select {
				case events <- *event:
				default:
				}
			}
		}
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&stderrBuf, stderrPipe)
	}()

	if err := cmd.Start(); err != nil {
		wg.Wait()
		return nil, fmt.Errorf("agent: starting claude: %w", err)
	}

	wg.Wait()
	waitErr := cmd.Wait()

	result.Output = output.String()

	if waitErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("agent: claude cancelled: %w", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("agent: claude exited %d: %s",
				exitErr.ExitCode(), strings.TrimSpace(stderrBuf.String()))
		}
		return nil, fmt.Errorf("agent: waiting for claude: %w", waitErr)
	}

	return result, nil
}

// accumulate folds one stream event into the running result.
func (c *Claude) accumulate(result *Result, output *strings.Builder, event *StreamEvent) {
	switch event.Type {
	case StreamEventSystem:
		if event.SessionID != "" {
			result.SessionID = event.SessionID
		}
	case StreamEventAssistant:
		output.WriteString(event.TextContent())
		if event.Message != nil && event.Message.Usage != nil {
			result.TokensInput += event.Message.Usage.InputTokens
			result.TokensOutput += event.Message.Usage.OutputTokens
		}
	case StreamEventResult:
		result.IsError = event.IsError
		result.NumTurns = event.NumTurns
		result.CostUSD = event.CostUSD
		if event.Usage != nil {
			if event.Usage.InputTokens > 0 {
				result.TokensInput = event.Usage.InputTokens
			}
			if event.Usage.OutputTokens > 0 {
				result.TokensOutput = event.Usage.OutputTokens
			}
		}
	}
}

// command returns the configured executable name, defaulting to "claude".
func (c *Claude) command() string {
	if c.config.Command != "" {
		return c.config.Command
	}
	return "claude"
}

// buildArgs constructs the CLI argument list for the request. The returned
// cleanup removes any prompt temp file.
func (c *Claude) buildArgs(req Request) ([]string, func(), error) {
	cleanup := func() {}

	args := []string{"--print", "--output-format", "stream-json", "--verbose"}

	if req.PermissionMode != "" {
		args = append(args, "--permission-mode", req.PermissionMode)
	}
	if c.config.Model != "" {
		args = append(args, "--model", c.config.Model)
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.AllowedTools, ","))
	}
	if len(req.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools", strings.Join(req.DisallowedTools, ","))
	}
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.MaxTurns))
	}
	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}

	// Long prompts go through a temp file to avoid arg-length limits.
	if len(req.Prompt) > maxInlinePromptBytes {
		f, err := os.CreateTemp("", "scribe-prompt-*.md")
		if err != nil {
			return nil, cleanup, fmt.Errorf("agent: creating prompt temp file: %w", err)
		}
		if _, err := f.WriteString(req.Prompt); err != nil {
			f.Close()          //nolint:errcheck
			os.Remove(f.Name()) //nolint:errcheck
			return nil, cleanup, fmt.Errorf("agent: writing prompt temp file: %w", err)
		}
		if err := f.Close(); err != nil {
			os.Remove(f.Name()) //nolint:errcheck
			return nil, cleanup, fmt.Errorf("agent: closing prompt temp file: %w", err)
		}
		name := f.Name()
		cleanup = func() { os.Remove(name) } //nolint:errcheck
		args = append(args, "--prompt-file", name)
	} else {
		args = append(args, req.Prompt)
	}

	return args, cleanup, nil
}
