package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func TestLoadScenario_Valid(t *testing.T) {
	path := writeScenario(t, `
name: sample
description: one record
records:
  - topic: decisions
    partition: 0
    envelope:
      event_id: evt-1
      event_type: decision.recorded
expect:
  dispositions: [STORED]
`)
	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "sample", s.Name)
	require.Len(t, s.Records, 1)
	assert.Equal(t, "decisions", s.Records[0].Topic)
	assert.Equal(t, []string{"STORED"}, s.Expect.Dispositions)
}

func TestLoadScenario_UnknownFieldRejected(t *testing.T) {
	path := writeScenario(t, `
name: sample
recrods:
  - topic: decisions
    partition: 0
    envelope: {event_id: evt-1}
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
}

func TestLoadScenario_DispositionCountMismatch(t *testing.T) {
	path := writeScenario(t, `
name: sample
records:
  - topic: decisions
    partition: 0
    envelope: {event_id: evt-1}
expect:
  dispositions: [STORED, STORED]
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispositions")
}

func TestLoadScenario_MissingRecords(t *testing.T) {
	path := writeScenario(t, `
name: sample
records: []
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
}

func TestLoadScenarioDir(t *testing.T) {
	scenarios, err := LoadScenarioDir(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	names := make([]string, 0, len(scenarios))
	for _, s := range scenarios {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "happy_chain")
	assert.Contains(t, names, "conflict_quarantine")
}

func TestLoadScenario_PolicyPathResolved(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "run_scope_skip.yaml"))
	require.NoError(t, err)
	assert.FileExists(t, s.Policy)
}
