package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(eventID, eventType string, payload map[string]any) map[string]any {
	return map[string]any{
		"event_id":       eventID,
		"event_type":     eventType,
		"schema_version": "1.0",
		"ts_utc":         "2026-08-30T12:00:00Z",
		"pins": map[string]any{
			"platform_run_id": "plat-1",
			"scenario_run_id": "scen-1",
		},
		"payload": payload,
	}
}

func TestRun_OutOfOrderChainResolves(t *testing.T) {
	// Outcome first, decision last: the resolver must not care.
	scenario := &Scenario{
		Name: "out_of_order",
		Records: []RecordStep{
			{Topic: "outcomes", Partition: 0, Envelope: env("evt-o", "action.outcome", map[string]any{
				"decision_id": "dec-1", "action_id": "act-1", "outcome_id": "out-1",
				"run_config_digest": "digest-a", "status": "SUCCESS",
			})},
			{Topic: "intents", Partition: 0, Envelope: env("evt-i", "action.intended", map[string]any{
				"decision_id": "dec-1", "action_id": "act-1", "action_type": "notify",
			})},
			{Topic: "decisions", Partition: 0, Envelope: env("evt-d", "decision.recorded", map[string]any{
				"decision_id": "dec-1", "run_config_digest": "digest-a", "amount": 10,
			})},
		},
		Expect: Expectations{
			Dispositions: []string{"STORED", "STORED", "STORED"},
			Health:       map[string]string{"plat-1/scen-1": "GREEN"},
			Resolved:     []string{"dec-1"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Passed(), "failures: %v", result.Failures)
}

func TestRun_ExpectationFailureIsReported(t *testing.T) {
	scenario := &Scenario{
		Name: "expect_mismatch",
		Records: []RecordStep{
			{Topic: "decisions", Partition: 0, Envelope: env("evt-d", "decision.recorded", map[string]any{
				"decision_id": "dec-1", "run_config_digest": "digest-a", "amount": 10,
			})},
		},
		Expect: Expectations{
			// Wrong on purpose: a lone decision stays UNRESOLVED.
			Resolved: []string{"dec-1"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Passed())
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0], "dec-1")
}

func TestRun_SchemaVersionRejected(t *testing.T) {
	record := env("evt-d", "decision.recorded", map[string]any{
		"decision_id": "dec-1", "run_config_digest": "digest-a", "amount": 10,
	})
	record["schema_version"] = "9.9"

	scenario := &Scenario{
		Name:    "bad_version",
		Records: []RecordStep{{Topic: "decisions", Partition: 0, Envelope: record}},
		Expect: Expectations{
			Dispositions: []string{"QUARANTINED"},
			Health:       map[string]string{"plat-1/scen-1": "AMBER"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Passed(), "failures: %v", result.Failures)
	assert.Equal(t, "SCHEMA_VERSION_REJECTED", result.Dispositions[0].ReasonCode)
}
