package intake

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracefold/tracefold/internal/bus"
	"github.com/tracefold/tracefold/internal/envelope"
)

func newTestConsumer(t *testing.T, b bus.Bus) *Consumer {
	t.Helper()
	return &Consumer{
		Bus:       b,
		Processor: newTestProcessor(t),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Drain:     true,
	}
}

func TestRunPartition_DrainsAndCheckpoints(t *testing.T) {
	b := bus.NewMemoryBus()
	b.Append("decisions", 0, decisionEnvelope(t, "evt-1", "dec-1", 10))
	b.Append("decisions", 0, decisionEnvelope(t, "evt-2", "dec-2", 20))

	c := newTestConsumer(t, b)
	require.NoError(t, c.RunPartition(context.Background(), "decisions", 0))

	cp, ok, err := c.Processor.Store.Checkpoint(context.Background(), "decisions", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), cp.NextOffset)

	scope := envelope.Scope{PlatformRunID: "plat-1", ScenarioRunID: "scen-1"}
	counts, err := c.Processor.Store.CandidateCount(context.Background(), scope)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[envelope.KindDecision])
}

func TestRunPartition_ResumesFromCheckpoint(t *testing.T) {
	b := bus.NewMemoryBus()
	b.Append("decisions", 0, decisionEnvelope(t, "evt-1", "dec-1", 10))

	c := newTestConsumer(t, b)
	ctx := context.Background()
	require.NoError(t, c.RunPartition(ctx, "decisions", 0))

	// New records appear; a second run picks up only those.
	b.Append("decisions", 0, decisionEnvelope(t, "evt-2", "dec-2", 20))
	require.NoError(t, c.RunPartition(ctx, "decisions", 0))

	cp, _, err := c.Processor.Store.Checkpoint(ctx, "decisions", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cp.NextOffset)

	scope := envelope.Scope{PlatformRunID: "plat-1", ScenarioRunID: "scen-1"}
	snap, err := c.Processor.Store.MetricsSnapshot(ctx, scope)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap["accepted_total"])
	assert.Zero(t, snap["duplicate_total"])
}

func TestRunTopics_AllPartitions(t *testing.T) {
	b := bus.NewMemoryBus()
	b.Append("decisions", 0, decisionEnvelope(t, "evt-1", "dec-1", 10))
	b.Append("decisions", 1, decisionEnvelope(t, "evt-2", "dec-2", 20))
	b.Append("intents", 0, envelopeJSON(t, "evt-3", envelope.EventTypeActionIntent, "1.0", map[string]any{
		"decision_id": "dec-1",
		"action_id":   "act-1",
		"action_type": "notify",
	}))

	c := newTestConsumer(t, b)
	require.NoError(t, c.RunTopics(context.Background(), []string{"decisions", "intents"}))

	scope := envelope.Scope{PlatformRunID: "plat-1", ScenarioRunID: "scen-1"}
	counts, err := c.Processor.Store.CandidateCount(context.Background(), scope)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[envelope.KindDecision])
	assert.Equal(t, 1, counts[envelope.KindActionIntent])
}

func TestRunPartition_Cancellation(t *testing.T) {
	b := bus.NewMemoryBus()
	b.Append("decisions", 0, decisionEnvelope(t, "evt-1", "dec-1", 10))

	c := newTestConsumer(t, b)
	c.Drain = false

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.RunPartition(ctx, "decisions", 0)
	assert.ErrorIs(t, err, context.Canceled)
}
