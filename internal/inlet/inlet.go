// Package inlet implements the stateless admission gate. It consumes one
// bus record plus the loaded policy and produces either a typed candidate
// or a rejection reason. It performs no I/O and holds no state.
package inlet

import (
	"encoding/json"
	"fmt"

	"github.com/tracefold/tracefold/internal/bus"
	"github.com/tracefold/tracefold/internal/envelope"
	"github.com/tracefold/tracefold/internal/policy"
)

// Validation rejection codes.
const (
	ReasonRunScopeMismatch       = "RUN_SCOPE_MISMATCH"
	ReasonUnknownEventFamily     = "UNKNOWN_EVENT_FAMILY"
	ReasonSchemaVersionRejected  = "SCHEMA_VERSION_REJECTED"
	ReasonPayloadContractInvalid = "PAYLOAD_CONTRACT_INVALID"
)

// Result is the outcome of evaluating one bus record.
// When Accepted is true, Candidate is non-nil and ReasonCode is empty.
// Pins is populated whenever the envelope decoded, including on rejections,
// so rejection metrics can still be attributed to a run scope.
type Result struct {
	Accepted   bool
	ReasonCode string
	Detail     string
	Pins       envelope.Pins
	Candidate  *envelope.Candidate
}

// Evaluate validates one bus record against the policy.
//
// The check order is a contract, not an implementation detail:
//
//  1. run-scope check (before family recognition, so out-of-scope poison
//     records from ANY family are rejected uniformly as scope mismatches)
//  2. event-family recognition
//  3. schema-version allowlist for the recognized family
//  4. payload contract completeness
//
// Each check short-circuits on failure. A record whose envelope cannot be
// decoded at all is rejected as PAYLOAD_CONTRACT_INVALID with the decode
// error as detail.
func Evaluate(rec bus.Record, pol *policy.Policy) Result {
	env, err := envelope.Decode(rec.Payload)
	if err != nil {
		return Result{ReasonCode: ReasonPayloadContractInvalid, Detail: err.Error()}
	}
	reject := func(code, detail string) Result {
		return Result{ReasonCode: code, Detail: detail, Pins: env.Pins}
	}

	// 1. Run scope.
	if pol.RequiredPlatformRunID != "" && env.Pins.PlatformRunID != pol.RequiredPlatformRunID {
		return reject(ReasonRunScopeMismatch,
			fmt.Sprintf("platform_run_id %q, required %q", env.Pins.PlatformRunID, pol.RequiredPlatformRunID))
	}

	// 2. Event family.
	kind, ok := envelope.KindFromEventType(env.EventType)
	if !ok {
		return reject(ReasonUnknownEventFamily, fmt.Sprintf("event_type %q", env.EventType))
	}
	fam, ok := pol.Family(kind)
	if !ok {
		return reject(ReasonUnknownEventFamily,
			fmt.Sprintf("event_type %q is not configured by the intake policy", env.EventType))
	}

	// 3. Schema version allowlist.
	if !fam.AllowsVersion(env.SchemaVersion) {
		return reject(ReasonSchemaVersionRejected,
			fmt.Sprintf("schema_version %q not in %v for %s", env.SchemaVersion, fam.SchemaVersions, env.EventType))
	}

	// 4. Payload contract.
	if err := fam.ValidatePayload(env.Payload); err != nil {
		return reject(ReasonPayloadContractInvalid, err.Error())
	}

	cand, err := decompose(kind, env, rec)
	if err != nil {
		return reject(ReasonPayloadContractInvalid, err.Error())
	}

	return Result{Accepted: true, Pins: env.Pins, Candidate: cand}
}

// Per-kind payload shapes for identity extraction. Only the fields needed
// for identity and consistency checks are decoded; the full payload is
// persisted in canonical form by the store.
type decisionPayload struct {
	DecisionID      string `json:"decision_id"`
	RunConfigDigest string `json:"run_config_digest"`
}

type intentPayload struct {
	DecisionID string `json:"decision_id"`
	ActionID   string `json:"action_id"`
	ActionType string `json:"action_type"`
}

type outcomePayload struct {
	DecisionID      string `json:"decision_id"`
	ActionID        string `json:"action_id"`
	OutcomeID       string `json:"outcome_id"`
	RunConfigDigest string `json:"run_config_digest"`
	Status          string `json:"status"`
}

// decompose builds the typed candidate for an already contract-valid
// envelope. Identity fields are re-checked for emptiness as a guard against
// custom policies whose contracts do not pin them.
func decompose(kind envelope.Kind, env envelope.Envelope, rec bus.Record) (*envelope.Candidate, error) {
	hash, err := envelope.PayloadHash(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("hash payload: %w", err)
	}

	cand := &envelope.Candidate{
		Kind:        kind,
		EventID:     env.EventID,
		PayloadHash: hash,
		Pins:        env.Pins,
		Payload:     env.Payload,
		Source: envelope.SourceRef{
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Offset:    rec.Offset,
			EventID:   env.EventID,
		},
	}
	if cand.EventID == "" {
		return nil, fmt.Errorf("envelope has empty event_id")
	}

	switch kind {
	case envelope.KindDecision:
		var p decisionPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decision payload: %w", err)
		}
		cand.DecisionID = p.DecisionID
		cand.RunConfigDigest = p.RunConfigDigest

	case envelope.KindActionIntent:
		var p intentPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("action intent payload: %w", err)
		}
		cand.DecisionID = p.DecisionID
		cand.ActionID = p.ActionID
		cand.ActionType = p.ActionType

	case envelope.KindActionOutcome:
		var p outcomePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("action outcome payload: %w", err)
		}
		cand.DecisionID = p.DecisionID
		cand.ActionID = p.ActionID
		cand.OutcomeID = p.OutcomeID
		cand.RunConfigDigest = p.RunConfigDigest
		cand.Status = p.Status
	}

	if cand.DecisionID == "" || cand.NaturalKey() == "" {
		return nil, fmt.Errorf("payload is missing identity fields for %s", kind)
	}

	return cand, nil
}
