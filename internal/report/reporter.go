// Package report derives operator-facing summaries from the store: per-scope
// snapshots, health classification, and the lineage fingerprint.
package report

import (
	"context"
	"fmt"

	"github.com/tracefold/tracefold/internal/envelope"
	"github.com/tracefold/tracefold/internal/store"
)

// Health states, ordered by severity.
const (
	HealthGreen = "GREEN"
	HealthAmber = "AMBER"
	HealthRed   = "RED"
)

// Snapshot is the full reporting view of one scope.
type Snapshot struct {
	Scope             envelope.Scope    `json:"scope"`
	Health            string            `json:"health"`
	Fingerprint       string            `json:"fingerprint"`
	Candidates        map[string]int    `json:"candidates"`
	Chains            store.ChainCounts `json:"chains"`
	Metrics           map[string]int64  `json:"metrics"`
	QuarantineReasons map[string]int    `json:"quarantine_reasons"`
}

// Reporter reads aggregates from the store. It never writes.
type Reporter struct {
	Store *store.Store
}

// Scope builds the snapshot for one scope.
func (r *Reporter) Scope(ctx context.Context, scope envelope.Scope) (Snapshot, error) {
	kinds, err := r.Store.CandidateCount(ctx, scope)
	if err != nil {
		return Snapshot{}, fmt.Errorf("report scope: %w", err)
	}
	chains, err := r.Store.ChainStatusCounts(ctx, scope)
	if err != nil {
		return Snapshot{}, fmt.Errorf("report scope: %w", err)
	}
	metrics, err := r.Store.MetricsSnapshot(ctx, scope)
	if err != nil {
		return Snapshot{}, fmt.Errorf("report scope: %w", err)
	}
	reasons, err := r.Store.QuarantineReasonCounts(ctx, scope)
	if err != nil {
		return Snapshot{}, fmt.Errorf("report scope: %w", err)
	}
	fingerprint, err := r.Store.Fingerprint(ctx, scope)
	if err != nil {
		return Snapshot{}, fmt.Errorf("report scope: %w", err)
	}

	candidates := make(map[string]int, len(kinds))
	for k, n := range kinds {
		candidates[k.String()] = n
	}

	return Snapshot{
		Scope:             scope,
		Health:            classify(chains, reasons),
		Fingerprint:       fingerprint,
		Candidates:        candidates,
		Chains:            chains,
		Metrics:           metrics,
		QuarantineReasons: reasons,
	}, nil
}

// Export builds snapshots for every scope the store knows, in scope order.
func (r *Reporter) Export(ctx context.Context) ([]Snapshot, error) {
	scopes, err := r.Store.Scopes(ctx)
	if err != nil {
		return nil, fmt.Errorf("report export: %w", err)
	}

	snapshots := make([]Snapshot, 0, len(scopes))
	for _, scope := range scopes {
		snap, err := r.Scope(ctx, scope)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

// classify derives the scope health:
//
//	RED    any consistency-conflict quarantine (hash mismatch or lineage
//	       conflict): admitted state disagrees with the bus.
//	AMBER  any other quarantine, or any unresolved chain: incomplete but
//	       not contradictory.
//	GREEN  everything admitted and every chain resolved.
func classify(chains store.ChainCounts, reasons map[string]int) string {
	if reasons[store.ReasonPayloadHashMismatch] > 0 || reasons[store.ReasonLineageConflict] > 0 {
		return HealthRed
	}
	total := 0
	for _, n := range reasons {
		total += n
	}
	if total > 0 || chains.Unresolved > 0 {
		return HealthAmber
	}
	return HealthGreen
}
