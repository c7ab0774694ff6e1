package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tracefold/tracefold/internal/envelope"
	"github.com/tracefold/tracefold/internal/lineage"
)

// AdvanceCheckpoint durably advances a partition checkpoint and records one
// metric increment in the same transaction. Used for the outcomes that
// write nothing else (run-scope skips).
//
// The checkpoint is monotonically non-decreasing.
func (s *Store) AdvanceCheckpoint(ctx context.Context, scope envelope.Scope, src envelope.SourceRef, offsetKind string, nextOffset int64, metric string) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return fmt.Errorf("advance checkpoint: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := advanceCheckpointTx(ctx, tx, src, offsetKind, nextOffset); err != nil {
		return fmt.Errorf("advance checkpoint: %w", err)
	}
	if metric != "" {
		if err := bumpMetricTx(ctx, tx, scope, metric); err != nil {
			return fmt.Errorf("advance checkpoint: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("advance checkpoint: commit: %w", err)
	}
	return nil
}

// QuarantineRecord appends a rejected record to the quarantine log and
// advances the checkpoint in the same transaction.
//
// The quarantine table's UNIQUE source coordinate makes replayed appends
// no-ops, so quarantining the same offset twice neither duplicates the row
// nor double-counts the metric.
func (s *Store) QuarantineRecord(ctx context.Context, scope envelope.Scope, q QuarantineRow, offsetKind string, nextOffset int64) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return fmt.Errorf("quarantine record: begin tx: %w", err)
	}
	defer tx.Rollback()

	inserted, err := appendQuarantineTx(ctx, tx, scope, q)
	if err != nil {
		return fmt.Errorf("quarantine record: %w", err)
	}
	if err := advanceCheckpointTx(ctx, tx, q.Source, offsetKind, nextOffset); err != nil {
		return fmt.Errorf("quarantine record: %w", err)
	}
	if inserted {
		if err := bumpMetricTx(ctx, tx, scope, MetricRejected); err != nil {
			return fmt.Errorf("quarantine record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("quarantine record: commit: %w", err)
	}
	return nil
}

// AdmitCandidate runs the full admission protocol for an inlet-accepted
// candidate inside ONE transaction:
//
//  1. dedup check on event id (identical content is a no-op duplicate)
//  2. payload-hash-mismatch check on event id and natural key
//  3. lineage conflict check against the chain's recorded state
//  4. candidate + kind-row insert and chain recompute/upsert, or internal
//     conversion to a quarantine append when a check failed
//  5. checkpoint advance and metric increment
//
// Running the checks inside the transaction is what keeps first-writer-wins
// provenance intact when partitions race on the same decision id: the
// single SQLite writer serializes whole admission transactions, never
// interleaving one partition's check with another partition's write.
//
// The chain is never modified on a conflicting admission; the original
// candidate is never overwritten.
func (s *Store) AdmitCandidate(ctx context.Context, cand *envelope.Candidate, canonicalPayload []byte, offsetKind string, nextOffset int64) (Admission, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return Admission{}, fmt.Errorf("admit candidate: begin tx: %w", err)
	}
	defer tx.Rollback()

	adm, err := admitTx(ctx, tx, cand, canonicalPayload)
	if err != nil {
		return Admission{}, fmt.Errorf("admit candidate: %w", err)
	}

	if err := advanceCheckpointTx(ctx, tx, cand.Source, offsetKind, nextOffset); err != nil {
		return Admission{}, fmt.Errorf("admit candidate: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Admission{}, fmt.Errorf("admit candidate: commit: %w", err)
	}
	return adm, nil
}

// admitTx performs the admission checks and writes. Caller owns the
// transaction and the checkpoint advance.
func admitTx(ctx context.Context, tx *sql.Tx, cand *envelope.Candidate, canonicalPayload []byte) (Admission, error) {
	scope := cand.Pins.Scope()

	// Event-id dedup and content check.
	var existingHash string
	err := tx.QueryRowContext(ctx, `
		SELECT payload_hash FROM candidates WHERE event_id = ?
	`, cand.EventID).Scan(&existingHash)
	switch {
	case err == sql.ErrNoRows:
		// First observation of this event id.
	case err != nil:
		return Admission{}, fmt.Errorf("lookup event: %w", err)
	case existingHash == cand.PayloadHash:
		if err := bumpMetricTx(ctx, tx, scope, MetricDuplicate); err != nil {
			return Admission{}, err
		}
		return Admission{Status: AdmissionDuplicate}, nil
	default:
		detail := fmt.Sprintf("event %s re-observed at %s with payload hash %s, original %s",
			cand.EventID, cand.Source, cand.PayloadHash, existingHash)
		return quarantineConflictTx(ctx, tx, scope, cand, canonicalPayload, AdmissionHashMismatch, ReasonPayloadHashMismatch, detail)
	}

	// Natural-key content check: the same per-kind identity reached by a
	// different event id.
	var nkEventID, nkHash string
	err = tx.QueryRowContext(ctx, `
		SELECT event_id, payload_hash FROM candidates WHERE kind = ? AND natural_key = ?
	`, cand.Kind.String(), cand.NaturalKey()).Scan(&nkEventID, &nkHash)
	switch {
	case err == sql.ErrNoRows:
		// Fresh identity.
	case err != nil:
		return Admission{}, fmt.Errorf("lookup natural key: %w", err)
	case nkHash == cand.PayloadHash:
		// Same content re-emitted under a new event id: a no-op duplicate.
		if err := bumpMetricTx(ctx, tx, scope, MetricDuplicate); err != nil {
			return Admission{}, err
		}
		return Admission{Status: AdmissionDuplicate}, nil
	case cand.Kind != envelope.KindDecision:
		detail := fmt.Sprintf("%s %s already admitted by event %s with payload hash %s, got %s",
			cand.Kind, cand.NaturalKey(), nkEventID, nkHash, cand.PayloadHash)
		return quarantineConflictTx(ctx, tx, scope, cand, canonicalPayload, AdmissionHashMismatch, ReasonPayloadHashMismatch, detail)
	default:
		// A second, different decision for an existing decision id falls
		// through to the lineage check, which names the chain invariant it
		// breaks.
	}

	// Lineage conflict check against current chain knowledge.
	chain, err := loadChainTx(ctx, tx, cand.DecisionID)
	if err != nil {
		return Admission{}, err
	}

	var conflict *lineage.Conflict
	switch cand.Kind {
	case envelope.KindDecision:
		conflict = chain.CheckDecision(cand.EventID, cand.RunConfigDigest)
	case envelope.KindActionOutcome:
		conflict = chain.CheckOutcome(cand.OutcomeID, cand.RunConfigDigest)
	case envelope.KindActionIntent:
		// Intents carry no digest; their content conflicts are caught by
		// the natural-key check above.
	}
	if conflict != nil {
		return quarantineConflictTx(ctx, tx, scope, cand, canonicalPayload, AdmissionLineageConflict, ReasonLineageConflict, conflict.Error())
	}

	// Persist candidate, kind row, and recomputed chain.
	if err := insertCandidateTx(ctx, tx, cand, canonicalPayload); err != nil {
		return Admission{}, err
	}
	if err := applyToChainTx(ctx, tx, chain, cand); err != nil {
		return Admission{}, err
	}

	if err := bumpMetricTx(ctx, tx, scope, MetricAccepted); err != nil {
		return Admission{}, err
	}

	return Admission{Status: AdmissionStored}, nil
}

// quarantineConflictTx converts a failed admission into a quarantine append
// plus its conflict metric, inside the caller's transaction.
func quarantineConflictTx(ctx context.Context, tx *sql.Tx, scope envelope.Scope, cand *envelope.Candidate, canonicalPayload []byte, status AdmissionStatus, reason, detail string) (Admission, error) {
	inserted, err := appendQuarantineTx(ctx, tx, scope, QuarantineRow{
		Source:     cand.Source,
		ReasonCode: reason,
		Detail:     detail,
		RawPayload: string(canonicalPayload),
		Scope:      scope,
	})
	if err != nil {
		return Admission{}, err
	}

	if inserted {
		metric := MetricHashMismatch
		if status == AdmissionLineageConflict {
			metric = MetricLineageConflict
		}
		if err := bumpMetricTx(ctx, tx, scope, metric); err != nil {
			return Admission{}, err
		}
	}

	return Admission{Status: status, ReasonCode: reason, Detail: detail}, nil
}

// insertCandidateTx writes the candidate row. The primary key and event
// index also act as belt-and-braces guards: the checks above have already
// claimed this identity inside the same transaction.
func insertCandidateTx(ctx context.Context, tx *sql.Tx, cand *envelope.Candidate, canonicalPayload []byte) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO candidates
		(kind, natural_key, event_id, decision_id, payload_hash, payload,
		 platform_run_id, scenario_run_id, source_topic, source_partition, source_offset)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		cand.Kind.String(),
		cand.NaturalKey(),
		cand.EventID,
		cand.DecisionID,
		cand.PayloadHash,
		string(canonicalPayload),
		cand.Pins.PlatformRunID,
		cand.Pins.ScenarioRunID,
		cand.Source.Topic,
		cand.Source.Partition,
		cand.Source.Offset,
	)
	if err != nil {
		return fmt.Errorf("insert candidate: %w", err)
	}
	return nil
}

// applyToChainTx adds the candidate's contribution to the loaded chain,
// writes the kind-specific row, and upserts the recomputed chain.
func applyToChainTx(ctx context.Context, tx *sql.Tx, chain *lineage.Chain, cand *envelope.Candidate) error {
	switch cand.Kind {
	case envelope.KindDecision:
		chain.Decision = &lineage.Decision{
			EventID:         cand.EventID,
			RunConfigDigest: cand.RunConfigDigest,
			PayloadHash:     cand.PayloadHash,
		}

	case envelope.KindActionIntent:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO lineage_intents (action_id, decision_id, action_type, event_id, source_ref)
			VALUES (?, ?, ?, ?, ?)
		`, cand.ActionID, cand.DecisionID, cand.ActionType, cand.EventID, cand.Source.String())
		if err != nil {
			return fmt.Errorf("insert intent: %w", err)
		}
		chain.Intents = append(chain.Intents, lineage.Intent{ActionID: cand.ActionID})

	case envelope.KindActionOutcome:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO lineage_outcomes
			(outcome_id, decision_id, action_id, run_config_digest, status, event_id, source_ref)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, cand.OutcomeID, cand.DecisionID, cand.ActionID, cand.RunConfigDigest, cand.Status, cand.EventID, cand.Source.String())
		if err != nil {
			return fmt.Errorf("insert outcome: %w", err)
		}
		chain.Outcomes = append(chain.Outcomes, lineage.Outcome{
			OutcomeID:       cand.OutcomeID,
			ActionID:        cand.ActionID,
			RunConfigDigest: cand.RunConfigDigest,
		})
	}

	return upsertChainTx(ctx, tx, chain, cand)
}

// upsertChainTx writes the recomputed chain row. Decision-derived columns
// only overwrite when this transaction carries the decision contribution;
// otherwise the stored values (first writer's) are kept.
func upsertChainTx(ctx context.Context, tx *sql.Tx, chain *lineage.Chain, cand *envelope.Candidate) error {
	state := chain.Recompute()

	reasons := state.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	reasonsJSON, err := json.Marshal(reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}

	var decisionEventID, decisionRef, digest, decisionHash string
	if cand.Kind == envelope.KindDecision {
		decisionEventID = cand.EventID
		decisionRef = cand.Source.String()
		digest = cand.RunConfigDigest
		decisionHash = cand.PayloadHash
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO lineage_chains
		(decision_id, chain_status, decision_event_id, decision_ref, run_config_digest,
		 decision_payload_hash, intent_count, outcome_count, unresolved_reasons,
		 platform_run_id, scenario_run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(decision_id) DO UPDATE SET
			chain_status = excluded.chain_status,
			decision_event_id = CASE WHEN excluded.decision_event_id != ''
				THEN excluded.decision_event_id ELSE lineage_chains.decision_event_id END,
			decision_ref = CASE WHEN excluded.decision_ref != ''
				THEN excluded.decision_ref ELSE lineage_chains.decision_ref END,
			run_config_digest = CASE WHEN excluded.run_config_digest != ''
				THEN excluded.run_config_digest ELSE lineage_chains.run_config_digest END,
			decision_payload_hash = CASE WHEN excluded.decision_payload_hash != ''
				THEN excluded.decision_payload_hash ELSE lineage_chains.decision_payload_hash END,
			intent_count = excluded.intent_count,
			outcome_count = excluded.outcome_count,
			unresolved_reasons = excluded.unresolved_reasons
	`,
		chain.DecisionID,
		state.Status,
		decisionEventID,
		decisionRef,
		digest,
		decisionHash,
		len(chain.Intents),
		len(chain.Outcomes),
		string(reasonsJSON),
		cand.Pins.PlatformRunID,
		cand.Pins.ScenarioRunID,
	)
	if err != nil {
		return fmt.Errorf("upsert chain: %w", err)
	}
	return nil
}

// loadChainTx reads the full observed chain for a decision id inside the
// admission transaction. Query results are ordered deterministically so
// admission decisions never depend on storage order.
func loadChainTx(ctx context.Context, tx *sql.Tx, decisionID string) (*lineage.Chain, error) {
	chain := &lineage.Chain{DecisionID: decisionID}

	var eventID, digest, payloadHash string
	err := tx.QueryRowContext(ctx, `
		SELECT decision_event_id, run_config_digest, decision_payload_hash
		FROM lineage_chains
		WHERE decision_id = ? AND decision_event_id != ''
	`, decisionID).Scan(&eventID, &digest, &payloadHash)
	switch {
	case err == sql.ErrNoRows:
		// No decision contribution yet.
	case err != nil:
		return nil, fmt.Errorf("load chain decision: %w", err)
	default:
		chain.Decision = &lineage.Decision{EventID: eventID, RunConfigDigest: digest, PayloadHash: payloadHash}
	}

	intents, err := tx.QueryContext(ctx, `
		SELECT action_id FROM lineage_intents
		WHERE decision_id = ?
		ORDER BY action_id COLLATE BINARY ASC
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("load chain intents: %w", err)
	}
	defer intents.Close()
	for intents.Next() {
		var in lineage.Intent
		if err := intents.Scan(&in.ActionID); err != nil {
			return nil, fmt.Errorf("scan intent: %w", err)
		}
		chain.Intents = append(chain.Intents, in)
	}
	if err := intents.Err(); err != nil {
		return nil, fmt.Errorf("iterate intents: %w", err)
	}

	outcomes, err := tx.QueryContext(ctx, `
		SELECT outcome_id, action_id, run_config_digest FROM lineage_outcomes
		WHERE decision_id = ?
		ORDER BY outcome_id COLLATE BINARY ASC
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("load chain outcomes: %w", err)
	}
	defer outcomes.Close()
	for outcomes.Next() {
		var out lineage.Outcome
		if err := outcomes.Scan(&out.OutcomeID, &out.ActionID, &out.RunConfigDigest); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		chain.Outcomes = append(chain.Outcomes, out)
	}
	if err := outcomes.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}

	return chain, nil
}

// appendQuarantineTx inserts a quarantine row, reporting whether a new row
// was written. ON CONFLICT DO NOTHING keeps the log append-only and makes
// replayed appends no-ops.
func appendQuarantineTx(ctx context.Context, tx *sql.Tx, scope envelope.Scope, q QuarantineRow) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO quarantine
		(source_topic, source_partition, source_offset, reason_code, detail, raw_payload,
		 platform_run_id, scenario_run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_topic, source_partition, source_offset) DO NOTHING
	`,
		q.Source.Topic,
		q.Source.Partition,
		q.Source.Offset,
		q.ReasonCode,
		q.Detail,
		q.RawPayload,
		scope.PlatformRunID,
		scope.ScenarioRunID,
	)
	if err != nil {
		return false, fmt.Errorf("append quarantine: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append quarantine: rows affected: %w", err)
	}
	return affected > 0, nil
}

// advanceCheckpointTx upserts the partition checkpoint. MAX() keeps the
// position monotonically non-decreasing under replays.
func advanceCheckpointTx(ctx context.Context, tx *sql.Tx, src envelope.SourceRef, offsetKind string, nextOffset int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoints (topic, partition, next_offset, offset_kind)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(topic, partition) DO UPDATE SET
			next_offset = MAX(checkpoints.next_offset, excluded.next_offset),
			offset_kind = excluded.offset_kind,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
	`, src.Topic, src.Partition, nextOffset, offsetKind)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

// bumpMetricTx increments one metric in the per-scope ledger.
func bumpMetricTx(ctx context.Context, tx *sql.Tx, scope envelope.Scope, name string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO metrics (platform_run_id, scenario_run_id, name, value)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(platform_run_id, scenario_run_id, name) DO UPDATE SET
			value = metrics.value + 1
	`, scope.PlatformRunID, scope.ScenarioRunID, name)
	if err != nil {
		return fmt.Errorf("bump metric %s: %w", name, err)
	}
	return nil
}
