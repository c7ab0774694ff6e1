package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/tracefold/tracefold/internal/bus"
	"github.com/tracefold/tracefold/internal/intake"
	"github.com/tracefold/tracefold/internal/policy"
	"github.com/tracefold/tracefold/internal/report"
	"github.com/tracefold/tracefold/internal/store"
)

// Disposition records how one scenario record was handled.
type Disposition struct {
	Topic      string `json:"topic"`
	Partition  int    `json:"partition"`
	Offset     int64  `json:"offset"`
	Status     string `json:"status"`
	ReasonCode string `json:"reason_code,omitempty"`
}

// Result is the outcome of running one scenario.
type Result struct {
	Dispositions []Disposition
	Snapshots    []report.Snapshot
	Failures     []string
}

// Passed reports whether every expectation held.
func (r *Result) Passed() bool {
	return len(r.Failures) == 0
}

// Run executes a scenario against a fresh in-memory store.
//
// Records are processed strictly in publication order through the same
// processor the production consumer uses, so dispositions and the final
// report are deterministic for a given scenario.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("harness: open store: %w", err)
	}
	defer st.Close()

	pol := policy.Default()
	if scenario.Policy != "" {
		pol, err = policy.LoadFile(scenario.Policy)
		if err != nil {
			return nil, fmt.Errorf("harness: %w", err)
		}
	}

	proc := &intake.Processor{
		Store:  st,
		Policy: pol,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	b := bus.NewMemoryBus()
	ctx := context.Background()
	result := &Result{}

	for i, step := range scenario.Records {
		payload, err := json.Marshal(step.Envelope)
		if err != nil {
			return nil, fmt.Errorf("harness: marshal records[%d]: %w", i, err)
		}
		offset := b.Append(step.Topic, step.Partition, payload)

		res, err := proc.ProcessRecord(ctx, bus.Record{
			Topic:      step.Topic,
			Partition:  step.Partition,
			Offset:     offset,
			OffsetKind: bus.OffsetKindSeq,
			Payload:    payload,
		})
		if err != nil {
			return nil, fmt.Errorf("harness: records[%d]: %w", i, err)
		}

		result.Dispositions = append(result.Dispositions, Disposition{
			Topic:      step.Topic,
			Partition:  step.Partition,
			Offset:     offset,
			Status:     string(res.WriteStatus),
			ReasonCode: res.ReasonCode,
		})
	}

	reporter := &report.Reporter{Store: st}
	result.Snapshots, err = reporter.Export(ctx)
	if err != nil {
		return nil, fmt.Errorf("harness: %w", err)
	}

	checkExpectations(ctx, st, scenario, result)
	return result, nil
}

// checkExpectations evaluates the scenario's Expect block against the run.
func checkExpectations(ctx context.Context, st *store.Store, scenario *Scenario, result *Result) {
	for i, want := range scenario.Expect.Dispositions {
		got := result.Dispositions[i].Status
		if got != want {
			result.Failures = append(result.Failures,
				fmt.Sprintf("records[%d]: disposition %s, want %s", i, got, want))
		}
	}

	for scopeKey, want := range scenario.Expect.Health {
		found := false
		for _, snap := range result.Snapshots {
			key := snap.Scope.PlatformRunID + "/" + snap.Scope.ScenarioRunID
			if key != scopeKey {
				continue
			}
			found = true
			if snap.Health != want {
				result.Failures = append(result.Failures,
					fmt.Sprintf("scope %s: health %s, want %s", scopeKey, snap.Health, want))
			}
		}
		if !found {
			result.Failures = append(result.Failures,
				fmt.Sprintf("scope %s: no snapshot produced", scopeKey))
		}
	}

	checkChainStatus(ctx, st, scenario.Expect.Resolved, "RESOLVED", result)
	checkChainStatus(ctx, st, scenario.Expect.Unresolved, "UNRESOLVED", result)
}

func checkChainStatus(ctx context.Context, st *store.Store, decisionIDs []string, want string, result *Result) {
	for _, id := range decisionIDs {
		chain, ok, err := st.GetLineageChain(ctx, id)
		if err != nil {
			result.Failures = append(result.Failures, fmt.Sprintf("chain %s: %v", id, err))
			continue
		}
		if !ok {
			result.Failures = append(result.Failures, fmt.Sprintf("chain %s: not found", id))
			continue
		}
		if chain.ChainStatus != want {
			result.Failures = append(result.Failures,
				fmt.Sprintf("chain %s: status %s, want %s", id, chain.ChainStatus, want))
		}
	}
}
