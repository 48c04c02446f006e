// Package event carries streaming agent activity from the executing phase
// to any number of consumers.
//
// Each consumer owns a bounded queue, so per-consumer delivery is strictly
// FIFO. Bulk events (stream text, tool calls, tool results, stats updates)
// are lossy on overflow --
// the producer drops them and logs a warning rather than block, because
// agent progress must never stall behind a slow UI. Lifecycle events
// (phase transitions, errors, completion) are non-lossy: they enqueue into
// capacity reserved above the bulk soft limit, so a queue saturated with
// stream chunks never loses a phase boundary.
package event

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/scribe-cli/scribe/internal/logging"
)

// Kind identifies the type of a stream event.
type Kind string

const (
	// KindStreamText is a chunk of agent output text.
	KindStreamText Kind = "stream_text"
	// KindToolUse reports a tool invocation.
	KindToolUse Kind = "tool_use"
	// KindToolResult reports a tool's output summary.
	KindToolResult Kind = "tool_result"
	// KindError reports a failure with a short code and message.
	KindError Kind = "error"
	// KindComplete signals the end of the run.
	KindComplete Kind = "complete"
	// KindStatsUpdate carries running turn and cost counters.
	KindStatsUpdate Kind = "stats_update"
	// KindPhaseStart marks a phase beginning.
	KindPhaseStart Kind = "phase_start"
	// KindPhaseComplete marks a phase finishing.
	KindPhaseComplete Kind = "phase_complete"
	// KindPhaseFailed marks a phase failing.
	KindPhaseFailed Kind = "phase_failed"
)

// Event is one message on the fan-out. Only the fields matching Kind are
// populated.
type Event struct {
	Kind Kind

	// Text is the chunk for KindStreamText.
	Text string

	// Tool and Input describe a KindToolUse call.
	Tool  string
	Input json.RawMessage

	// Result is the summary for KindToolResult.
	Result string

	// Code and Message describe a KindError (short code + human message)
	// or a KindPhaseFailed message.
	Code    string
	Message string

	// Turns and CostUSD are the counters for KindStatsUpdate.
	Turns   int
	CostUSD float64

	// Phase and PhaseName identify phase lifecycle events.
	Phase     int
	PhaseName string
}

// Lossy reports whether the event may be dropped on queue overflow.
// Lifecycle kinds are never lossy.
func (e Event) Lossy() bool {
	switch e.Kind {
	case KindStreamText, KindToolResult, KindToolUse, KindStatsUpdate:
		return true
	default:
		return false
	}
}

// DefaultQueueSize is the per-consumer queue capacity for bulk events.
const DefaultQueueSize = 256

// lifecycleHeadroom is extra capacity reserved for non-lossy events. Bulk
// events stop enqueueing at the soft limit, so lifecycle events always
// have room; a run emits a small bounded number of them per phase.
const lifecycleHeadroom = 64

// Consumer is one subscriber's view of the fan-out. Events arrive on C in
// the exact order the producer emitted them.
type Consumer struct {
	C chan Event
}

// Bus fans events out from a single producer to registered consumers.
// A Bus also carries the run's cancellation flag: a single writer sets it,
// the producer polls it between emissions.
type Bus struct {
	mu        sync.Mutex
	consumers []*Consumer
	closed    bool
	stopped   atomic.Bool
	queueSize int
	dropped   atomic.Int64
	logger    interface {
		Warn(msg interface{}, keyvals ...interface{})
	}
}

// NewBus creates a bus with the given per-consumer queue size. A size of
// zero or less uses DefaultQueueSize.
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		queueSize: queueSize,
		logger:    logging.New("event"),
	}
}

// Subscribe registers a new consumer. Returns nil after Close.
func (b *Bus) Subscribe() *Consumer {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	c := &Consumer{C: make(chan Event, b.queueSize+lifecycleHeadroom)}
	b.consumers = append(b.consumers, c)
	return c
}

// Publish delivers the event to every consumer. Lossy events are dropped
// per consumer when that consumer's queue is full; non-lossy events go into
// the reserved headroom above it and are dropped only when that is full
// too. Nothing already queued is evicted.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, c := range b.consumers {
		b.deliver(c, ev)
	}
}

// deliver enqueues ev on one consumer, applying the overflow policy: bulk
// events stop at the soft limit (dropped with a warning, never blocking),
// lifecycle events may use the reserved headroom above it. FIFO order is
// never disturbed. Callers must hold b.mu.
func (b *Bus) deliver(c *Consumer, ev Event) {
	if ev.Lossy() && len(c.C) >= b.queueSize {
		b.dropped.Add(1)
		b.logger.Warn("event queue full, dropping event", "kind", ev.Kind)
		return
	}

	select {
	case c.C <- ev:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event queue full, dropping event", "kind", ev.Kind)
	}
}

// Dropped returns the number of events dropped across all consumers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes every consumer channel. The producer must not Publish after
// Close.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, c := range b.consumers {
		close(c.C)
	}
	b.consumers = nil
}

// Stop raises the cancellation flag. Safe to call from any goroutine and
// idempotent.
func (b *Bus) Stop() {
	b.stopped.Store(true)
}

// Stopped reports whether cancellation has been requested. The producer
// checks this between event emissions and between phases.
func (b *Bus) Stopped() bool {
	return b.stopped.Load()
}
