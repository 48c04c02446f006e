package agent

import (
	"context"
	"fmt"
)

// Compile-time check that Mock implements Agent.
var _ Agent = (*Mock)(nil)

// Mock is a scriptable Agent for tests. Each Execute call consumes the
// next scripted output in order; the last script entry repeats once the
// script is exhausted. All requests are recorded for inspection.
type Mock struct {
	// Outputs are the scripted final texts, consumed per call.
	Outputs []string

	// Errs maps call index (0-based) to an error returned instead of a
	// result. A nil map means no scripted errors.
	Errs map[int]error

	// CostPerCall is reported as the session cost of every call.
	CostPerCall float64

	// Events are stream events forwarded to the consumer on every call,
	// before the result is returned.
	Events []StreamEvent

	// Valid is the value returned by Validate.
	Valid bool

	// Calls records every request passed to Execute, in order.
	Calls []Request
}

// NewMock creates a mock that always succeeds with the given outputs.
func NewMock(outputs ...string) *Mock {
	return &Mock{Outputs: outputs, Valid: true}
}

// Type returns TypeClaude so the mock slots into claude-configured flows.
func (m *Mock) Type() Type { return TypeClaude }

// Capabilities returns the full descriptor.
func (m *Mock) Capabilities() Capabilities { return CapabilitiesFor(TypeClaude) }

// Validate returns the scripted validity.
func (m *Mock) Validate(_ context.Context) bool { return m.Valid }

// Execute records the request, forwards scripted events, and returns the
// next scripted output.
func (m *Mock) Execute(ctx context.Context, req Request, events chan<- StreamEvent) (*Result, error) {
	call := len(m.Calls)
	m.Calls = append(m.Calls, req)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("agent: mock cancelled: %w", err)
	}
	if err, ok := m.Errs[call]; ok && err != nil {
		return nil, err
	}

	if events != nil {
		for _, ev := range m.Events {
			select {
			case events <- ev:
			default:
			}
		}
	}

	output := ""
	if len(m.Outputs) > 0 {
		idx := call
		if idx >= len(m.Outputs) {
			idx = len(m.Outputs) - 1
		}
		output = m.Outputs[idx]
	}

	return &Result{
		Output:       output,
		NumTurns:     1,
		CostUSD:      m.CostPerCall,
		TokensInput:  100,
		TokensOutput: 50,
	}, nil
}
