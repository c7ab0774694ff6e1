// Package lineage implements the per-decision chain resolver.
//
// The resolver is pure: it recomputes chain status and unresolved reasons
// from the full set of observed rows for one decision id, so the result is
// identical for any arrival order of decision, intent, and outcome events.
// It never repairs or merges conflicting data - a contribution that would
// introduce an inconsistency is reported as a Conflict and the caller
// (the intake store, inside its admission transaction) quarantines it
// without touching the chain.
package lineage

import "fmt"

// Chain status values. RESOLVED is terminal.
const (
	StatusUnresolved = "UNRESOLVED"
	StatusResolved   = "RESOLVED"
)

// Unresolved reasons. Outcome absence is intentionally not a reason: it is
// visible through outcome_count == 0 while the chain stays UNRESOLVED.
const (
	ReasonMissingDecision   = "MISSING_DECISION"
	ReasonMissingIntentLink = "MISSING_INTENT_LINK"
)

// Conflict invariants, embedded in quarantine detail strings.
const (
	ConflictRunConfigDigestMismatch = "RUN_CONFIG_DIGEST_MISMATCH"
	ConflictDecisionAlreadyRecorded = "DECISION_ALREADY_RECORDED"
)

// Decision is the chain's recorded decision contribution.
type Decision struct {
	EventID         string
	RunConfigDigest string
	PayloadHash     string
}

// Intent is one recorded action intent contribution.
type Intent struct {
	ActionID string
}

// Outcome is one recorded action outcome contribution.
type Outcome struct {
	OutcomeID       string
	ActionID        string
	RunConfigDigest string
}

// Chain is the full observed state for one decision id.
type Chain struct {
	DecisionID string
	Decision   *Decision
	Intents    []Intent
	Outcomes   []Outcome
}

// State is the recomputed chain status.
type State struct {
	Status  string
	Reasons []string
}

// Conflict describes a contribution that would break a chain invariant.
type Conflict struct {
	Invariant string
	Detail    string
}

func (c *Conflict) Error() string {
	return fmt.Sprintf("%s: %s", c.Invariant, c.Detail)
}

// CheckDecision reports whether adding a decision contribution conflicts
// with the chain. A second, non-identical decision for a chain that already
// has one is always a conflict: first-writer-wins provenance. A decision
// whose digest disagrees with already-observed outcomes is the symmetric
// form of the outcome digest check, so detection stays order-independent.
func (ch *Chain) CheckDecision(eventID, runConfigDigest string) *Conflict {
	if ch.Decision != nil {
		return &Conflict{
			Invariant: ConflictDecisionAlreadyRecorded,
			Detail: fmt.Sprintf("decision %s already recorded by event %s",
				ch.DecisionID, ch.Decision.EventID),
		}
	}
	for _, out := range ch.Outcomes {
		if out.RunConfigDigest != runConfigDigest {
			return &Conflict{
				Invariant: ConflictRunConfigDigestMismatch,
				Detail: fmt.Sprintf("decision digest %q disagrees with outcome %s digest %q",
					runConfigDigest, out.OutcomeID, out.RunConfigDigest),
			}
		}
	}
	return nil
}

// CheckOutcome reports whether adding an outcome contribution conflicts
// with the chain's recorded decision.
func (ch *Chain) CheckOutcome(outcomeID, runConfigDigest string) *Conflict {
	if ch.Decision != nil && ch.Decision.RunConfigDigest != runConfigDigest {
		return &Conflict{
			Invariant: ConflictRunConfigDigestMismatch,
			Detail: fmt.Sprintf("outcome %s digest %q disagrees with decision digest %q",
				outcomeID, runConfigDigest, ch.Decision.RunConfigDigest),
		}
	}
	return nil
}

// Recompute derives the chain state from current knowledge.
//
// RESOLVED requires a decision, at least one intent, at least one outcome,
// every outcome linked to an observed intent's action id, and every outcome
// digest matching the decision digest. Anything else is UNRESOLVED with
// deterministic reasons (MISSING_DECISION before MISSING_INTENT_LINK).
func (ch *Chain) Recompute() State {
	var reasons []string

	if ch.Decision == nil {
		reasons = append(reasons, ReasonMissingDecision)
	}

	intentActions := make(map[string]bool, len(ch.Intents))
	for _, in := range ch.Intents {
		intentActions[in.ActionID] = true
	}

	linked := true
	for _, out := range ch.Outcomes {
		if !intentActions[out.ActionID] {
			linked = false
			break
		}
	}
	if len(ch.Intents) == 0 || !linked {
		reasons = append(reasons, ReasonMissingIntentLink)
	}

	if len(reasons) > 0 || len(ch.Outcomes) == 0 {
		return State{Status: StatusUnresolved, Reasons: reasons}
	}

	// Conflicting digests are quarantined before they reach the chain, so
	// this loop only fires if a caller bypassed the conflict checks.
	for _, out := range ch.Outcomes {
		if out.RunConfigDigest != ch.Decision.RunConfigDigest {
			return State{Status: StatusUnresolved, Reasons: reasons}
		}
	}

	return State{Status: StatusResolved, Reasons: nil}
}
