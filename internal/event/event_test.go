package event

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerConsumerFIFO(t *testing.T) {
	bus := NewBus(64)
	a := bus.Subscribe()
	b := bus.Subscribe()

	for i := 0; i < 10; i++ {
		bus.Publish(Event{Kind: KindStreamText, Text: fmt.Sprintf("chunk-%d", i)})
	}
	bus.Close()

	for _, c := range []*Consumer{a, b} {
		i := 0
		for ev := range c.C {
			assert.Equal(t, fmt.Sprintf("chunk-%d", i), ev.Text)
			i++
		}
		assert.Equal(t, 10, i)
	}
}

func TestLossyOverflowDropsBulkEvents(t *testing.T) {
	bus := NewBus(4)
	c := bus.Subscribe()

	for i := 0; i < 10; i++ {
		bus.Publish(Event{Kind: KindStreamText, Text: fmt.Sprintf("chunk-%d", i)})
	}
	bus.Close()

	var received []Event
	for ev := range c.C {
		received = append(received, ev)
	}
	assert.Len(t, received, 4)
	assert.Equal(t, int64(6), bus.Dropped())
	// The survivors are the earliest chunks, in order.
	for i, ev := range received {
		assert.Equal(t, fmt.Sprintf("chunk-%d", i), ev.Text)
	}
}

func TestLifecycleSurvivesBulkOverflow(t *testing.T) {
	bus := NewBus(2)
	c := bus.Subscribe()

	bus.Publish(Event{Kind: KindStreamText, Text: "a"})
	bus.Publish(Event{Kind: KindStreamText, Text: "b"})
	bus.Publish(Event{Kind: KindStreamText, Text: "c"}) // over the soft limit
	// A lifecycle event must still get through, in order.
	bus.Publish(Event{Kind: KindPhaseComplete, Phase: 3})
	bus.Close()

	var kinds []Kind
	for ev := range c.C {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []Kind{KindStreamText, KindStreamText, KindPhaseComplete}, kinds)
}

func TestPhaseBoundariesOrdered(t *testing.T) {
	bus := NewBus(16)
	c := bus.Subscribe()

	bus.Publish(Event{Kind: KindPhaseStart, Phase: 1, PhaseName: "Build Observer"})
	bus.Publish(Event{Kind: KindStreamText, Text: "thinking"})
	bus.Publish(Event{Kind: KindPhaseComplete, Phase: 1})
	bus.Publish(Event{Kind: KindPhaseStart, Phase: 2, PhaseName: "Build Plan"})
	bus.Publish(Event{Kind: KindComplete})
	bus.Close()

	var kinds []Kind
	for ev := range c.C {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []Kind{KindPhaseStart, KindStreamText, KindPhaseComplete, KindPhaseStart, KindComplete}, kinds)
}

func TestSubscribeAfterCloseReturnsNil(t *testing.T) {
	bus := NewBus(4)
	bus.Close()
	assert.Nil(t, bus.Subscribe())
	// Publishing after close is a no-op, not a panic.
	bus.Publish(Event{Kind: KindComplete})
}

func TestStopFlag(t *testing.T) {
	bus := NewBus(4)
	require.False(t, bus.Stopped())
	bus.Stop()
	assert.True(t, bus.Stopped())
	bus.Stop() // idempotent
	assert.True(t, bus.Stopped())
}

func TestLossyClassification(t *testing.T) {
	lossy := []Kind{KindStreamText, KindToolUse, KindToolResult, KindStatsUpdate}
	for _, k := range lossy {
		assert.True(t, Event{Kind: k}.Lossy(), "%s", k)
	}
	durable := []Kind{KindPhaseStart, KindPhaseComplete, KindPhaseFailed, KindError, KindComplete}
	for _, k := range durable {
		assert.False(t, Event{Kind: k}.Lossy(), "%s", k)
	}
}
