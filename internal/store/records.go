package store

import "github.com/tracefold/tracefold/internal/envelope"

// Quarantine reason codes for consistency conflicts detected at admission.
// Validation rejection codes originate in the inlet and are passed through.
const (
	ReasonPayloadHashMismatch = "PAYLOAD_HASH_MISMATCH"
	ReasonLineageConflict     = "LINEAGE_CONFLICT"
)

// Metric names recorded in the per-scope ledger.
const (
	MetricAccepted        = "accepted_total"
	MetricRejected        = "rejected_total"
	MetricDuplicate       = "duplicate_total"
	MetricHashMismatch    = "hash_mismatch_total"
	MetricLineageConflict = "lineage_conflict_total"
	MetricRunScopeSkipped = "run_scope_skipped_total"
)

// AdmissionStatus is the outcome of an admission transaction.
type AdmissionStatus int

const (
	// AdmissionStored means a new candidate row was written and the chain
	// updated.
	AdmissionStored AdmissionStatus = iota + 1
	// AdmissionDuplicate means an identical candidate already existed; the
	// transaction only advanced the checkpoint.
	AdmissionDuplicate
	// AdmissionHashMismatch means the same identity was re-observed with
	// different content; the record was quarantined.
	AdmissionHashMismatch
	// AdmissionLineageConflict means the candidate would break a chain
	// invariant; the record was quarantined and the chain left unchanged.
	AdmissionLineageConflict
)

// String returns the status name for logs.
func (a AdmissionStatus) String() string {
	switch a {
	case AdmissionStored:
		return "stored"
	case AdmissionDuplicate:
		return "duplicate"
	case AdmissionHashMismatch:
		return "hash_mismatch"
	case AdmissionLineageConflict:
		return "lineage_conflict"
	default:
		return "unknown"
	}
}

// Admission is the result of AdmitCandidate. ReasonCode and Detail are set
// for the quarantined outcomes.
type Admission struct {
	Status     AdmissionStatus
	ReasonCode string
	Detail     string
}

// CheckpointRow is one durable partition read position.
type CheckpointRow struct {
	Topic      string `json:"topic"`
	Partition  int    `json:"partition"`
	NextOffset int64  `json:"next_offset"`
	OffsetKind string `json:"offset_kind"`
}

// QuarantineRow is one append-only rejection record.
type QuarantineRow struct {
	ID         int64              `json:"id"`
	Source     envelope.SourceRef `json:"source"`
	ReasonCode string             `json:"reason_code"`
	Detail     string             `json:"detail"`
	RawPayload string             `json:"raw_payload"`
	Scope      envelope.Scope     `json:"scope"`
}

// ChainRecord is the persisted lineage chain for one decision id.
type ChainRecord struct {
	DecisionID          string         `json:"decision_id"`
	ChainStatus         string         `json:"chain_status"`
	DecisionEventID     string         `json:"decision_event_id"`
	DecisionRef         string         `json:"decision_ref"`
	RunConfigDigest     string         `json:"run_config_digest"`
	DecisionPayloadHash string         `json:"decision_payload_hash"`
	IntentCount         int            `json:"intent_count"`
	OutcomeCount        int            `json:"outcome_count"`
	UnresolvedReasons   []string       `json:"unresolved_reasons"`
	Scope               envelope.Scope `json:"scope"`
}

// IntentRecord is one persisted action intent row.
type IntentRecord struct {
	ActionID   string `json:"action_id"`
	DecisionID string `json:"decision_id"`
	ActionType string `json:"action_type"`
	EventID    string `json:"event_id"`
	SourceRef  string `json:"source_ref"`
}

// OutcomeRecord is one persisted action outcome row.
type OutcomeRecord struct {
	OutcomeID       string `json:"outcome_id"`
	DecisionID      string `json:"decision_id"`
	ActionID        string `json:"action_id"`
	RunConfigDigest string `json:"run_config_digest"`
	Status          string `json:"status"`
	EventID         string `json:"event_id"`
	SourceRef       string `json:"source_ref"`
}

// ChainCounts aggregates chain statuses for one scope.
type ChainCounts struct {
	Resolved   int `json:"resolved"`
	Unresolved int `json:"unresolved"`
}
