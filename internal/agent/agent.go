// Package agent abstracts the external AI coding agents Scribe can drive.
//
// The variant set is sealed: Claude, Cursor, and Copilot. Each variant
// carries a capability descriptor and a small enumerated set of credential
// environment variables so detection is a flat lookup. The Claude adapter
// executes the claude CLI as a subprocess and decodes its stream-json
// output; Cursor and Copilot are declared but return ErrNotImplemented
// from the factory.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrNotImplemented is returned by the factory for declared-but-unbuilt
// agent variants.
var ErrNotImplemented = errors.New("agent not implemented")

// ErrUnknownType is returned by the factory for unrecognised variant tags.
var ErrUnknownType = errors.New("unknown agent type")

// ErrMissingCredential is returned when none of a variant's credential
// environment variables is set.
var ErrMissingCredential = errors.New("missing agent credential")

// Type is the sealed agent variant tag.
type Type string

const (
	TypeClaude  Type = "claude"
	TypeCursor  Type = "cursor"
	TypeCopilot Type = "copilot"
)

// EnvVarNames returns the credential environment variables recognised for
// the variant, in lookup order.
func (t Type) EnvVarNames() []string {
	switch t {
	case TypeClaude:
		return []string{"ANTHROPIC_API_KEY", "CLAUDE_API_KEY"}
	case TypeCursor:
		return []string{"CURSOR_API_KEY"}
	case TypeCopilot:
		return []string{"COPILOT_GITHUB_TOKEN", "GH_TOKEN", "GITHUB_TOKEN"}
	default:
		return nil
	}
}

// DetectCredential returns the first non-empty credential from the
// variant's environment variables, or ErrMissingCredential.
func (t Type) DetectCredential() (string, error) {
	for _, name := range t.EnvVarNames() {
		if v := os.Getenv(name); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("agent %s: %w (set one of %v)", t, ErrMissingCredential, t.EnvVarNames())
}

// Capabilities describes what a variant supports.
type Capabilities struct {
	SystemPrompt   bool
	ToolControl    bool
	PermissionMode bool
	CostControl    bool
	Streaming      bool
	Multimodal     bool
}

// CapabilitiesFor returns the capability descriptor for the variant.
func CapabilitiesFor(t Type) Capabilities {
	switch t {
	case TypeClaude:
		return Capabilities{
			SystemPrompt:   true,
			ToolControl:    true,
			PermissionMode: true,
			CostControl:    true,
			Streaming:      true,
			Multimodal:     true,
		}
	case TypeCursor, TypeCopilot:
		return Capabilities{SystemPrompt: true}
	default:
		return Capabilities{}
	}
}

// Request is one agent invocation. It carries everything a phase needs to
// constrain the run: prompts, tool allow/deny lists, permission mode, turn
// limit, and an optional budget cap.
type Request struct {
	// ID is a fresh identifier for this invocation.
	ID string

	// Prompt is the rendered user prompt.
	Prompt string

	// SystemPrompt is the optional rendered system prompt.
	SystemPrompt string

	// AllowedTools lists the tools the agent may invoke. Empty means all.
	AllowedTools []string

	// DisallowedTools lists explicitly denied tools.
	DisallowedTools []string

	// PermissionMode is the phase's permission mode string.
	PermissionMode string

	// MaxTurns caps the conversation length. Zero means unlimited.
	MaxTurns int

	// MaxBudgetUSD is the spend cap for the invocation. Zero means uncapped.
	// The Claude adapter does not pass it to the CLI, so it is not enforced
	// there.
	MaxBudgetUSD float64

	// WorkDir is the working directory for the agent process.
	WorkDir string
}

// Result is the terminal outcome of one Execute call.
type Result struct {
	// Output is the concatenated assistant text.
	Output string

	// IsError is true when the agent reported a failed session.
	IsError bool

	// NumTurns is the number of conversation turns consumed.
	NumTurns int

	// CostUSD is the session cost reported by the agent.
	CostUSD float64

	// TokensInput and TokensOutput are cumulative token counts.
	TokensInput  int
	TokensOutput int

	// SessionID is the agent-side session identifier, when reported.
	SessionID string
}

// Agent is the contract every variant adapter implements. Execute streams
// typed events to the caller-owned channel as they arrive and blocks until
// the run finishes; it never closes the channel. Validate is a cheap
// connectivity/prerequisite check.
type Agent interface {
	// Type returns the variant tag.
	Type() Type

	// Capabilities returns the variant's capability descriptor.
	Capabilities() Capabilities

	// Execute runs one request, forwarding stream events to events (which
	// may be nil). The context cancels the in-flight run.
	Execute(ctx context.Context, req Request, events chan<- StreamEvent) (*Result, error)

	// Validate reports whether the agent is usable (binary present,
	// credential detectable).
	Validate(ctx context.Context) bool
}

// Descriptor pairs a variant with its model for persistence in feature
// state.
type Descriptor struct {
	Type  Type
	Model string
}

// New creates an agent for the variant. Cursor and Copilot are declared in
// the sealed set but have no adapter yet.
func New(t Type, model, command string) (Agent, error) {
	switch t {
	case TypeClaude:
		return NewClaude(ClaudeConfig{Model: model, Command: command}), nil
	case TypeCursor, TypeCopilot:
		return nil, fmt.Errorf("agent %s: %w", t, ErrNotImplemented)
	default:
		return nil, fmt.Errorf("agent %q: %w", t, ErrUnknownType)
	}
}
