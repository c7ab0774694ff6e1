package envelope

import (
	"encoding/json"
	"fmt"
)

// Kind identifies one of the three known event families.
type Kind int

const (
	// KindDecision is a decision record emitted by an upstream decision engine.
	KindDecision Kind = iota + 1
	// KindActionIntent is a downstream action intent derived from a decision.
	KindActionIntent
	// KindActionOutcome is the recorded outcome of an attempted action.
	KindActionOutcome
)

// Event type strings as they appear on the wire.
const (
	EventTypeDecision      = "decision.recorded"
	EventTypeActionIntent  = "action.intended"
	EventTypeActionOutcome = "action.outcome"
)

// String returns the wire event type for the kind.
func (k Kind) String() string {
	switch k {
	case KindDecision:
		return EventTypeDecision
	case KindActionIntent:
		return EventTypeActionIntent
	case KindActionOutcome:
		return EventTypeActionOutcome
	default:
		return "unknown"
	}
}

// KindFromEventType maps a wire event type to a Kind.
// Returns false for event types outside the known families.
func KindFromEventType(eventType string) (Kind, bool) {
	switch eventType {
	case EventTypeDecision:
		return KindDecision, true
	case EventTypeActionIntent:
		return KindActionIntent, true
	case EventTypeActionOutcome:
		return KindActionOutcome, true
	default:
		return 0, false
	}
}

// Kinds returns all known kinds in declaration order.
// Used by policy loading and metrics to enumerate families deterministically.
func Kinds() []Kind {
	return []Kind{KindDecision, KindActionIntent, KindActionOutcome}
}

// Pins is the run-scope coordinate tuple attached to every envelope.
// It identifies which platform/scenario run produced the event.
type Pins struct {
	PlatformRunID       string `json:"platform_run_id"`
	ScenarioRunID       string `json:"scenario_run_id"`
	ManifestFingerprint string `json:"manifest_fingerprint,omitempty"`
	ParameterHash       string `json:"parameter_hash,omitempty"`
	ScenarioID          string `json:"scenario_id,omitempty"`
	Seed                int64  `json:"seed,omitempty"`
	RunID               string `json:"run_id,omitempty"`
}

// Scope is the (platform run, scenario run) pair that keys the metrics
// ledger and all reporting aggregations.
type Scope struct {
	PlatformRunID string `json:"platform_run_id"`
	ScenarioRunID string `json:"scenario_run_id"`
}

// Scope extracts the metrics scope from the pins.
func (p Pins) Scope() Scope {
	return Scope{PlatformRunID: p.PlatformRunID, ScenarioRunID: p.ScenarioRunID}
}

// Envelope is one event as published by an upstream producer.
// Immutable once validated. The payload is kept raw; typed decomposition
// happens at the inlet after contract validation.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SchemaVersion string          `json:"schema_version"`
	TSUTC         string          `json:"ts_utc"`
	Pins          Pins            `json:"pins"`
	Payload       json.RawMessage `json:"payload"`
}

// Decode parses a raw bus payload into an Envelope.
// Unknown fields are tolerated; structural errors are returned verbatim so
// the inlet can surface them as validation detail.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
