package harness

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/gowebpki/jcs"
	"github.com/sebdah/goldie/v2"

	"github.com/tracefold/tracefold/internal/store"
)

// goldenScope is the per-scope view captured in golden files. The lineage
// fingerprint is deliberately excluded: its exact digest is covered by the
// store tests, and keeping it out lets golden files stay hand-readable.
type goldenScope struct {
	PlatformRunID     string            `json:"platform_run_id"`
	ScenarioRunID     string            `json:"scenario_run_id"`
	Health            string            `json:"health"`
	Candidates        map[string]int    `json:"candidates"`
	Chains            store.ChainCounts `json:"chains"`
	Metrics           map[string]int64  `json:"metrics"`
	QuarantineReasons map[string]int    `json:"quarantine_reasons"`
}

// goldenSnapshot is the canonical serialization of one scenario run.
type goldenSnapshot struct {
	ScenarioName string        `json:"scenario_name"`
	Dispositions []Disposition `json:"dispositions"`
	Scopes       []goldenScope `json:"scopes"`
}

// RunWithGolden executes a scenario and compares its canonical snapshot
// against testdata/golden/{scenario.Name}.golden.
//
// Regenerate golden files with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, failure := range result.Failures {
		t.Errorf("%s: %s", scenario.Name, failure)
	}

	snapshot := goldenSnapshot{
		ScenarioName: scenario.Name,
		Dispositions: result.Dispositions,
		Scopes:       make([]goldenScope, 0, len(result.Snapshots)),
	}
	for _, snap := range result.Snapshots {
		snapshot.Scopes = append(snapshot.Scopes, goldenScope{
			PlatformRunID:     snap.Scope.PlatformRunID,
			ScenarioRunID:     snap.Scope.ScenarioRunID,
			Health:            snap.Health,
			Candidates:        snap.Candidates,
			Chains:            snap.Chains,
			Metrics:           snap.Metrics,
			QuarantineReasons: snap.QuarantineReasons,
		})
	}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return fmt.Errorf("canonicalize snapshot: %w", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, canonical)
	return nil
}
