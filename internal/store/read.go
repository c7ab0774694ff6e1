package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tracefold/tracefold/internal/envelope"
)

// Checkpoint returns the durable read position for one partition.
// Returns ok=false if the partition has never been checkpointed.
func (s *Store) Checkpoint(ctx context.Context, topic string, partition int) (CheckpointRow, bool, error) {
	var row CheckpointRow
	err := s.db.QueryRowContext(ctx, `
		SELECT topic, partition, next_offset, offset_kind
		FROM checkpoints
		WHERE topic = ? AND partition = ?
	`, topic, partition).Scan(&row.Topic, &row.Partition, &row.NextOffset, &row.OffsetKind)
	if err == sql.ErrNoRows {
		return CheckpointRow{}, false, nil
	}
	if err != nil {
		return CheckpointRow{}, false, fmt.Errorf("read checkpoint %s/%d: %w", topic, partition, err)
	}
	return row, true, nil
}

// Checkpoints returns every checkpoint row ordered by topic then partition.
func (s *Store) Checkpoints(ctx context.Context) ([]CheckpointRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT topic, partition, next_offset, offset_kind
		FROM checkpoints
		ORDER BY topic COLLATE BINARY ASC, partition ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []CheckpointRow
	for rows.Next() {
		var row CheckpointRow
		if err := rows.Scan(&row.Topic, &row.Partition, &row.NextOffset, &row.OffsetKind); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return out, nil
}

// GetLineageChain returns the persisted chain record for a decision id.
// Returns ok=false when no contribution has been admitted for the id.
func (s *Store) GetLineageChain(ctx context.Context, decisionID string) (ChainRecord, bool, error) {
	var rec ChainRecord
	var reasonsJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT decision_id, chain_status, decision_event_id, decision_ref,
		       run_config_digest, decision_payload_hash, intent_count,
		       outcome_count, unresolved_reasons, platform_run_id, scenario_run_id
		FROM lineage_chains
		WHERE decision_id = ?
	`, decisionID).Scan(
		&rec.DecisionID,
		&rec.ChainStatus,
		&rec.DecisionEventID,
		&rec.DecisionRef,
		&rec.RunConfigDigest,
		&rec.DecisionPayloadHash,
		&rec.IntentCount,
		&rec.OutcomeCount,
		&reasonsJSON,
		&rec.Scope.PlatformRunID,
		&rec.Scope.ScenarioRunID,
	)
	if err == sql.ErrNoRows {
		return ChainRecord{}, false, nil
	}
	if err != nil {
		return ChainRecord{}, false, fmt.Errorf("read chain %s: %w", decisionID, err)
	}
	if err := json.Unmarshal([]byte(reasonsJSON), &rec.UnresolvedReasons); err != nil {
		return ChainRecord{}, false, fmt.Errorf("decode chain reasons %s: %w", decisionID, err)
	}
	return rec, true, nil
}

// ListLineageChains returns every chain for a scope ordered by decision id.
func (s *Store) ListLineageChains(ctx context.Context, scope envelope.Scope) ([]ChainRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT decision_id, chain_status, decision_event_id, decision_ref,
		       run_config_digest, decision_payload_hash, intent_count,
		       outcome_count, unresolved_reasons, platform_run_id, scenario_run_id
		FROM lineage_chains
		WHERE platform_run_id = ? AND scenario_run_id = ?
		ORDER BY decision_id COLLATE BINARY ASC
	`, scope.PlatformRunID, scope.ScenarioRunID)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	defer rows.Close()

	var out []ChainRecord
	for rows.Next() {
		var rec ChainRecord
		var reasonsJSON string
		if err := rows.Scan(
			&rec.DecisionID,
			&rec.ChainStatus,
			&rec.DecisionEventID,
			&rec.DecisionRef,
			&rec.RunConfigDigest,
			&rec.DecisionPayloadHash,
			&rec.IntentCount,
			&rec.OutcomeCount,
			&reasonsJSON,
			&rec.Scope.PlatformRunID,
			&rec.Scope.ScenarioRunID,
		); err != nil {
			return nil, fmt.Errorf("scan chain: %w", err)
		}
		if err := json.Unmarshal([]byte(reasonsJSON), &rec.UnresolvedReasons); err != nil {
			return nil, fmt.Errorf("decode chain reasons %s: %w", rec.DecisionID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chains: %w", err)
	}
	return out, nil
}

// ListLineageIntents returns the intents recorded for a decision id,
// ordered by action id.
func (s *Store) ListLineageIntents(ctx context.Context, decisionID string) ([]IntentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action_id, decision_id, action_type, event_id, source_ref
		FROM lineage_intents
		WHERE decision_id = ?
		ORDER BY action_id COLLATE BINARY ASC
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list intents %s: %w", decisionID, err)
	}
	defer rows.Close()

	var out []IntentRecord
	for rows.Next() {
		var rec IntentRecord
		if err := rows.Scan(&rec.ActionID, &rec.DecisionID, &rec.ActionType, &rec.EventID, &rec.SourceRef); err != nil {
			return nil, fmt.Errorf("scan intent: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate intents: %w", err)
	}
	return out, nil
}

// ListLineageOutcomes returns the outcomes recorded for a decision id,
// ordered by outcome id.
func (s *Store) ListLineageOutcomes(ctx context.Context, decisionID string) ([]OutcomeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome_id, decision_id, action_id, run_config_digest, status, event_id, source_ref
		FROM lineage_outcomes
		WHERE decision_id = ?
		ORDER BY outcome_id COLLATE BINARY ASC
	`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("list outcomes %s: %w", decisionID, err)
	}
	defer rows.Close()

	var out []OutcomeRecord
	for rows.Next() {
		var rec OutcomeRecord
		if err := rows.Scan(&rec.OutcomeID, &rec.DecisionID, &rec.ActionID, &rec.RunConfigDigest, &rec.Status, &rec.EventID, &rec.SourceRef); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return out, nil
}

// ListQuarantine returns the quarantine log for a scope in append order.
func (s *Store) ListQuarantine(ctx context.Context, scope envelope.Scope) ([]QuarantineRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_topic, source_partition, source_offset,
		       reason_code, detail, raw_payload, platform_run_id, scenario_run_id
		FROM quarantine
		WHERE platform_run_id = ? AND scenario_run_id = ?
		ORDER BY id ASC
	`, scope.PlatformRunID, scope.ScenarioRunID)
	if err != nil {
		return nil, fmt.Errorf("list quarantine: %w", err)
	}
	defer rows.Close()

	var out []QuarantineRow
	for rows.Next() {
		var q QuarantineRow
		if err := rows.Scan(
			&q.ID,
			&q.Source.Topic,
			&q.Source.Partition,
			&q.Source.Offset,
			&q.ReasonCode,
			&q.Detail,
			&q.RawPayload,
			&q.Scope.PlatformRunID,
			&q.Scope.ScenarioRunID,
		); err != nil {
			return nil, fmt.Errorf("scan quarantine row: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quarantine: %w", err)
	}
	return out, nil
}

// QuarantineReasonCounts tallies quarantine rows per reason code for a scope.
func (s *Store) QuarantineReasonCounts(ctx context.Context, scope envelope.Scope) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reason_code, COUNT(*)
		FROM quarantine
		WHERE platform_run_id = ? AND scenario_run_id = ?
		GROUP BY reason_code
	`, scope.PlatformRunID, scope.ScenarioRunID)
	if err != nil {
		return nil, fmt.Errorf("count quarantine reasons: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, fmt.Errorf("scan quarantine count: %w", err)
		}
		counts[reason] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quarantine counts: %w", err)
	}
	return counts, nil
}

// CandidateCount returns the number of admitted candidates for a scope,
// keyed by kind.
func (s *Store) CandidateCount(ctx context.Context, scope envelope.Scope) (map[envelope.Kind]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*)
		FROM candidates
		WHERE platform_run_id = ? AND scenario_run_id = ?
		GROUP BY kind
	`, scope.PlatformRunID, scope.ScenarioRunID)
	if err != nil {
		return nil, fmt.Errorf("count candidates: %w", err)
	}
	defer rows.Close()

	counts := make(map[envelope.Kind]int)
	for rows.Next() {
		var kindStr string
		var n int
		if err := rows.Scan(&kindStr, &n); err != nil {
			return nil, fmt.Errorf("scan candidate count: %w", err)
		}
		kind, ok := envelope.KindFromEventType(kindStr)
		if !ok {
			return nil, fmt.Errorf("candidate count: unknown kind %q", kindStr)
		}
		counts[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate counts: %w", err)
	}
	return counts, nil
}

// ChainStatusCounts tallies resolved versus unresolved chains for a scope.
func (s *Store) ChainStatusCounts(ctx context.Context, scope envelope.Scope) (ChainCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chain_status, COUNT(*)
		FROM lineage_chains
		WHERE platform_run_id = ? AND scenario_run_id = ?
		GROUP BY chain_status
	`, scope.PlatformRunID, scope.ScenarioRunID)
	if err != nil {
		return ChainCounts{}, fmt.Errorf("count chain statuses: %w", err)
	}
	defer rows.Close()

	var counts ChainCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return ChainCounts{}, fmt.Errorf("scan chain status count: %w", err)
		}
		switch status {
		case "RESOLVED":
			counts.Resolved = n
		case "UNRESOLVED":
			counts.Unresolved = n
		default:
			return ChainCounts{}, fmt.Errorf("chain status counts: unknown status %q", status)
		}
	}
	if err := rows.Err(); err != nil {
		return ChainCounts{}, fmt.Errorf("iterate chain status counts: %w", err)
	}
	return counts, nil
}

// MetricsSnapshot returns the metrics ledger for one scope as a name→value
// map. Absent metrics are simply missing from the map.
func (s *Store) MetricsSnapshot(ctx context.Context, scope envelope.Scope) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, value
		FROM metrics
		WHERE platform_run_id = ? AND scenario_run_id = ?
	`, scope.PlatformRunID, scope.ScenarioRunID)
	if err != nil {
		return nil, fmt.Errorf("read metrics: %w", err)
	}
	defer rows.Close()

	snap := make(map[string]int64)
	for rows.Next() {
		var name string
		var value int64
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		snap[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metrics: %w", err)
	}
	return snap, nil
}

// Scopes returns every (platform run, scenario run) pair known to any
// table, deduplicated and deterministically ordered.
func (s *Store) Scopes(ctx context.Context) ([]envelope.Scope, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT platform_run_id, scenario_run_id FROM candidates
		UNION
		SELECT platform_run_id, scenario_run_id FROM quarantine
		UNION
		SELECT platform_run_id, scenario_run_id FROM metrics
	`)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	defer rows.Close()

	var out []envelope.Scope
	for rows.Next() {
		var sc envelope.Scope
		if err := rows.Scan(&sc.PlatformRunID, &sc.ScenarioRunID); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scopes: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].PlatformRunID != out[j].PlatformRunID {
			return out[i].PlatformRunID < out[j].PlatformRunID
		}
		return out[i].ScenarioRunID < out[j].ScenarioRunID
	})
	return out, nil
}
