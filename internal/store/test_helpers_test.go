package store

import (
	"path/filepath"
	"testing"

	"github.com/tracefold/tracefold/internal/envelope"
)

// createTestStore creates a file-backed store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPins() envelope.Pins {
	return envelope.Pins{
		PlatformRunID: "plat-1",
		ScenarioRunID: "scen-1",
	}
}

func testScope() envelope.Scope {
	return testPins().Scope()
}

// mustHash computes the canonical payload hash, panicking on malformed
// JSON. Test payloads are literals, so a panic here is a test bug.
func mustHash(payload []byte) string {
	h, err := envelope.PayloadHash(payload)
	if err != nil {
		panic(err)
	}
	return h
}

// decisionCandidate builds a decision candidate with a payload hash derived
// from the payload bytes, matching what the inlet would produce.
func decisionCandidate(eventID, decisionID, digest string, payload []byte, offset int64) *envelope.Candidate {
	return &envelope.Candidate{
		Kind:            envelope.KindDecision,
		EventID:         eventID,
		PayloadHash:     mustHash(payload),
		Pins:            testPins(),
		Source:          envelope.SourceRef{Topic: "decisions", Partition: 0, Offset: offset, EventID: eventID},
		DecisionID:      decisionID,
		RunConfigDigest: digest,
	}
}

func intentCandidate(eventID, decisionID, actionID string, payload []byte, offset int64) *envelope.Candidate {
	return &envelope.Candidate{
		Kind:        envelope.KindActionIntent,
		EventID:     eventID,
		PayloadHash: mustHash(payload),
		Pins:        testPins(),
		Source:      envelope.SourceRef{Topic: "intents", Partition: 0, Offset: offset, EventID: eventID},
		DecisionID:  decisionID,
		ActionID:    actionID,
		ActionType:  "notify",
	}
}

func outcomeCandidate(eventID, decisionID, actionID, outcomeID, digest string, payload []byte, offset int64) *envelope.Candidate {
	return &envelope.Candidate{
		Kind:            envelope.KindActionOutcome,
		EventID:         eventID,
		PayloadHash:     mustHash(payload),
		Pins:            testPins(),
		Source:          envelope.SourceRef{Topic: "outcomes", Partition: 0, Offset: offset, EventID: eventID},
		DecisionID:      decisionID,
		RunConfigDigest: digest,
		ActionID:        actionID,
		OutcomeID:       outcomeID,
		Status:          "SUCCESS",
	}
}
