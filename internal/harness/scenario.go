// Package harness provides a conformance harness for the intake pipeline.
//
// Scenarios are YAML documents describing a sequence of bus records plus
// expectations on their dispositions and the final store state. The harness
// runs each scenario against a fresh in-memory store, so runs are fully
// deterministic and suitable for golden-file comparison.
package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Policy is an optional path to a CUE policy file, relative to the
	// scenario file. Empty means the embedded default policy.
	Policy string `yaml:"policy,omitempty"`

	// Records is the publication order: each step appends one envelope to a
	// (topic, partition) and is processed immediately.
	Records []RecordStep `yaml:"records"`

	// Expect validates the outcome. All fields are optional.
	Expect Expectations `yaml:"expect,omitempty"`
}

// RecordStep publishes one envelope document.
type RecordStep struct {
	Topic     string         `yaml:"topic"`
	Partition int            `yaml:"partition"`
	Envelope  map[string]any `yaml:"envelope"`
}

// Expectations validate dispositions and final state.
type Expectations struct {
	// Dispositions lists the expected write status per record, in record
	// order (STORED, DUPLICATE, QUARANTINED, RUN_SCOPE_SKIPPED).
	Dispositions []string `yaml:"dispositions,omitempty"`

	// Health maps "platform_run_id/scenario_run_id" to the expected health
	// state (GREEN, AMBER, RED).
	Health map[string]string `yaml:"health,omitempty"`

	// Resolved and Unresolved list decision ids expected in each status.
	Resolved   []string `yaml:"resolved,omitempty"`
	Unresolved []string `yaml:"unresolved,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos in expectation keys fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}

	if scenario.Policy != "" {
		scenario.Policy = filepath.Join(filepath.Dir(path), scenario.Policy)
	}
	return &scenario, nil
}

// LoadScenarioDir loads every *.yaml scenario in a directory, sorted by
// file name for stable test ordering.
func LoadScenarioDir(dir string) ([]*Scenario, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("glob scenarios: %w", err)
	}
	sort.Strings(matches)

	scenarios := make([]*Scenario, 0, len(matches))
	for _, path := range matches {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("missing 'name'")
	}
	if len(s.Records) == 0 {
		return fmt.Errorf("scenario has no records")
	}
	for i, rec := range s.Records {
		if rec.Topic == "" {
			return fmt.Errorf("records[%d]: missing 'topic'", i)
		}
		if rec.Partition < 0 {
			return fmt.Errorf("records[%d]: negative partition", i)
		}
		if len(rec.Envelope) == 0 {
			return fmt.Errorf("records[%d]: missing 'envelope'", i)
		}
	}
	if n := len(s.Expect.Dispositions); n != 0 && n != len(s.Records) {
		return fmt.Errorf("expect.dispositions has %d entries for %d records", n, len(s.Records))
	}
	return nil
}
