package agent

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// StreamEventType identifies the type of a stream-json event.
type StreamEventType string

const (
	// StreamEventSystem is emitted once at session start with init metadata.
	StreamEventSystem StreamEventType = "system"
	// StreamEventAssistant contains assistant messages (text and tool calls).
	StreamEventAssistant StreamEventType = "assistant"
	// StreamEventUser contains tool results sent back to the model.
	StreamEventUser StreamEventType = "user"
	// StreamEventResult is emitted once at session end with cost and usage.
	StreamEventResult StreamEventType = "result"
)

// StreamEvent is a single JSONL event from the agent's stream-json output.
// The Type field determines which other fields are populated.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	Subtype   string          `json:"subtype,omitempty"`
	SessionID string          `json:"session_id,omitempty"`

	// System init fields (populated when Type == "system").
	Tools []string `json:"tools,omitempty"`
	Model string   `json:"model,omitempty"`

	// Message fields (populated when Type == "assistant" or "user").
	Message *StreamMessage `json:"message,omitempty"`

	// Result fields (populated when Type == "result").
	CostUSD    float64 `json:"cost_usd,omitempty"`
	DurationMS int64   `json:"duration_ms,omitempty"`
	IsError    bool    `json:"is_error,omitempty"`
	NumTurns   int     `json:"num_turns,omitempty"`
	ResultText string  `json:"result,omitempty"`
	Usage      *Usage  `json:"usage,omitempty"`
}

// StreamMessage is a message within a stream event.
type StreamMessage struct {
	ID      string         `json:"id,omitempty"`
	Role    string         `json:"role,omitempty"`
	Content []ContentBlock `json:"content,omitempty"`
	Model   string         `json:"model,omitempty"`
	Usage   *Usage         `json:"usage,omitempty"`
}

// ContentBlock is a content block within a message. The Type field decides
// which other fields are populated:
//   - "text": Text holds reasoning text
//   - "tool_use": ID, Name, and Input describe the tool call
//   - "tool_result": ToolUseID and Content hold the tool output
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// Usage captures token usage from a stream event.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	CacheRead    int `json:"cache_read_input_tokens,omitempty"`
	CacheCreate  int `json:"cache_creation_input_tokens,omitempty"`
}

// maxScannerBuffer is the maximum line length the decoder can handle (1MB).
// Tool results can be very large.
const maxScannerBuffer = 1 << 20

// StreamDecoder reads JSONL events from an io.Reader line-by-line.
type StreamDecoder struct {
	scanner *bufio.Scanner
}

// NewStreamDecoder creates a decoder that reads JSONL from r.
func NewStreamDecoder(r io.Reader) *StreamDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScannerBuffer)
	return &StreamDecoder{scanner: scanner}
}

// Next reads and decodes the next stream event. Returns io.EOF at end of
// stream and a decode error for malformed JSON lines. Empty and
// whitespace-only lines are skipped.
func (d *StreamDecoder) Next() (*StreamEvent, error) {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" {
			continue
		}
		var event StreamEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return nil, fmt.Errorf("decoding stream event: %w", err)
		}
		return &event, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}
	return nil, io.EOF
}

// TextContent returns concatenated text from all text content blocks in
// this event's message.
func (e *StreamEvent) TextContent() string {
	if e.Message == nil {
		return ""
	}
	var parts []string
	for _, b := range e.Message.Content {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "")
}

// ToolUseBlocks returns all tool_use content blocks from this event's message.
func (e *StreamEvent) ToolUseBlocks() []ContentBlock {
	if e.Message == nil {
		return nil
	}
	var blocks []ContentBlock
	for _, b := range e.Message.Content {
		if b.Type == "tool_use" {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// ToolResultBlocks returns all tool_result content blocks from this event's
// message.
func (e *StreamEvent) ToolResultBlocks() []ContentBlock {
	if e.Message == nil {
		return nil
	}
	var blocks []ContentBlock
	for _, b := range e.Message.Content {
		if b.Type == "tool_result" {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// ContentString returns the tool result content as a string. A JSON string
// is unquoted; structured content is returned as raw JSON.
func (b *ContentBlock) ContentString() string {
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	return string(b.Content)
}
