package envelope

import (
	"encoding/json"
	"fmt"
)

// SourceRef records where a candidate came from for provenance.
// One ref per admitted event; quarantine records carry the same coordinates.
type SourceRef struct {
	Topic     string `json:"topic"`
	Partition int    `json:"partition"`
	Offset    int64  `json:"offset"`
	EventID   string `json:"event_id"`
}

// String formats the ref as topic/partition@offset for logs and detail strings.
func (r SourceRef) String() string {
	return fmt.Sprintf("%s/%d@%d", r.Topic, r.Partition, r.Offset)
}

// Candidate is the accepted, typed decomposition of an envelope.
// Exactly one of the kind-specific field groups is meaningful, selected by
// Kind. The zero values of the other groups are never read.
type Candidate struct {
	Kind        Kind
	EventID     string
	PayloadHash string
	Pins        Pins
	Source      SourceRef

	// Payload is the validated raw payload as received. The store persists
	// its canonical form; PayloadHash is derived from that form.
	Payload json.RawMessage

	// Decision fields (KindDecision).
	DecisionID      string
	RunConfigDigest string

	// Intent fields (KindActionIntent). DecisionID is shared.
	ActionID   string
	ActionType string

	// Outcome fields (KindActionOutcome). DecisionID, ActionID and
	// RunConfigDigest are shared with the groups above.
	OutcomeID string
	Status    string
}

// NaturalKey returns the per-kind identity used for dedup and conflict
// detection: decision_id for decisions, action_id for intents, outcome_id
// for outcomes.
func (c Candidate) NaturalKey() string {
	switch c.Kind {
	case KindDecision:
		return c.DecisionID
	case KindActionIntent:
		return c.ActionID
	case KindActionOutcome:
		return c.OutcomeID
	default:
		return ""
	}
}
