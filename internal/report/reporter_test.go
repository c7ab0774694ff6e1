package report

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracefold/tracefold/internal/envelope"
	"github.com/tracefold/tracefold/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "report.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testScope() envelope.Scope {
	return envelope.Scope{PlatformRunID: "plat-1", ScenarioRunID: "scen-1"}
}

func admit(t *testing.T, s *store.Store, cand *envelope.Candidate, payload []byte, offset int64) store.Admission {
	t.Helper()
	adm, err := s.AdmitCandidate(context.Background(), cand, payload, "seq", offset+1)
	require.NoError(t, err)
	return adm
}

func decisionCand(eventID, decisionID, digest string, payload []byte, offset int64) *envelope.Candidate {
	hash, err := envelope.PayloadHash(payload)
	if err != nil {
		panic(err)
	}
	return &envelope.Candidate{
		Kind:            envelope.KindDecision,
		EventID:         eventID,
		PayloadHash:     hash,
		Pins:            envelope.Pins{PlatformRunID: "plat-1", ScenarioRunID: "scen-1"},
		Source:          envelope.SourceRef{Topic: "decisions", Partition: 0, Offset: offset},
		DecisionID:      decisionID,
		RunConfigDigest: digest,
	}
}

func TestScope_GreenWhenAllResolved(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	decPayload := []byte(`{"decision_id":"dec-1","run_config_digest":"digest-a","amount":10}`)
	intPayload := []byte(`{"decision_id":"dec-1","action_id":"act-1","action_type":"notify"}`)
	outPayload := []byte(`{"decision_id":"dec-1","action_id":"act-1","outcome_id":"out-1","run_config_digest":"digest-a","status":"SUCCESS"}`)

	intHash, err := envelope.PayloadHash(intPayload)
	require.NoError(t, err)
	outHash, err := envelope.PayloadHash(outPayload)
	require.NoError(t, err)

	admit(t, s, decisionCand("evt-d", "dec-1", "digest-a", decPayload, 0), decPayload, 0)
	admit(t, s, &envelope.Candidate{
		Kind: envelope.KindActionIntent, EventID: "evt-i", PayloadHash: intHash,
		Pins:   envelope.Pins{PlatformRunID: "plat-1", ScenarioRunID: "scen-1"},
		Source: envelope.SourceRef{Topic: "intents", Partition: 0, Offset: 0},
		DecisionID: "dec-1", ActionID: "act-1", ActionType: "notify",
	}, intPayload, 0)
	admit(t, s, &envelope.Candidate{
		Kind: envelope.KindActionOutcome, EventID: "evt-o", PayloadHash: outHash,
		Pins:   envelope.Pins{PlatformRunID: "plat-1", ScenarioRunID: "scen-1"},
		Source: envelope.SourceRef{Topic: "outcomes", Partition: 0, Offset: 0},
		DecisionID: "dec-1", ActionID: "act-1", OutcomeID: "out-1",
		RunConfigDigest: "digest-a", Status: "SUCCESS",
	}, outPayload, 0)

	r := &Reporter{Store: s}
	snap, err := r.Scope(ctx, testScope())
	require.NoError(t, err)

	assert.Equal(t, HealthGreen, snap.Health)
	assert.Equal(t, 1, snap.Chains.Resolved)
	assert.Zero(t, snap.Chains.Unresolved)
	assert.Len(t, snap.Fingerprint, 64)
	assert.Equal(t, int64(3), snap.Metrics[store.MetricAccepted])
	assert.Equal(t, 1, snap.Candidates[envelope.EventTypeDecision])
}

func TestScope_AmberOnUnresolvedChain(t *testing.T) {
	s := newTestStore(t)

	decPayload := []byte(`{"decision_id":"dec-1","run_config_digest":"digest-a","amount":10}`)
	admit(t, s, decisionCand("evt-d", "dec-1", "digest-a", decPayload, 0), decPayload, 0)

	r := &Reporter{Store: s}
	snap, err := r.Scope(context.Background(), testScope())
	require.NoError(t, err)
	assert.Equal(t, HealthAmber, snap.Health)
	assert.Equal(t, 1, snap.Chains.Unresolved)
}

func TestScope_AmberOnValidationQuarantine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := store.QuarantineRow{
		Source:     envelope.SourceRef{Topic: "decisions", Partition: 0, Offset: 0},
		ReasonCode: "PAYLOAD_CONTRACT_INVALID",
		Detail:     "amount missing",
		RawPayload: `{}`,
		Scope:      testScope(),
	}
	require.NoError(t, s.QuarantineRecord(ctx, testScope(), q, "seq", 1))

	r := &Reporter{Store: s}
	snap, err := r.Scope(ctx, testScope())
	require.NoError(t, err)
	assert.Equal(t, HealthAmber, snap.Health)
	assert.Equal(t, 1, snap.QuarantineReasons["PAYLOAD_CONTRACT_INVALID"])
}

func TestScope_RedOnConflictQuarantine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := []byte(`{"decision_id":"dec-1","run_config_digest":"digest-a","amount":10}`)
	second := []byte(`{"decision_id":"dec-1","run_config_digest":"digest-a","amount":99}`)
	admit(t, s, decisionCand("evt-1", "dec-1", "digest-a", first, 0), first, 0)

	adm := admit(t, s, decisionCand("evt-1", "dec-1", "digest-a", second, 1), second, 1)
	require.Equal(t, store.AdmissionHashMismatch, adm.Status)

	r := &Reporter{Store: s}
	snap, err := r.Scope(ctx, testScope())
	require.NoError(t, err)
	assert.Equal(t, HealthRed, snap.Health)
}

func TestExport_AllScopesOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	decPayload := []byte(`{"decision_id":"dec-1","run_config_digest":"digest-a","amount":10}`)
	admit(t, s, decisionCand("evt-1", "dec-1", "digest-a", decPayload, 0), decPayload, 0)

	other := envelope.Scope{PlatformRunID: "plat-0", ScenarioRunID: "scen-0"}
	q := store.QuarantineRow{
		Source:     envelope.SourceRef{Topic: "decisions", Partition: 1, Offset: 0},
		ReasonCode: "UNKNOWN_EVENT_FAMILY",
		Detail:     "event_type audit.log",
		RawPayload: `{}`,
		Scope:      other,
	}
	require.NoError(t, s.QuarantineRecord(ctx, other, q, "seq", 1))

	r := &Reporter{Store: s}
	snapshots, err := r.Export(ctx)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, "plat-0", snapshots[0].Scope.PlatformRunID)
	assert.Equal(t, "plat-1", snapshots[1].Scope.PlatformRunID)
	assert.Equal(t, HealthAmber, snapshots[0].Health)
	assert.Equal(t, HealthAmber, snapshots[1].Health)
}
