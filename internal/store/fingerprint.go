package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/tracefold/tracefold/internal/envelope"
)

// fingerprintChain is the canonical projection of one chain that feeds the
// scope fingerprint. Only admitted content participates; source coordinates
// and arrival order are deliberately excluded so the fingerprint is stable
// across partition layouts and replay order.
type fingerprintChain struct {
	DecisionID      string               `json:"decision_id"`
	ChainStatus     string               `json:"chain_status"`
	DecisionHash    string               `json:"decision_payload_hash"`
	RunConfigDigest string               `json:"run_config_digest"`
	Intents         []string             `json:"intents"`
	Outcomes        []fingerprintOutcome `json:"outcomes"`
}

type fingerprintOutcome struct {
	OutcomeID       string `json:"outcome_id"`
	ActionID        string `json:"action_id"`
	RunConfigDigest string `json:"run_config_digest"`
	Status          string `json:"status"`
}

// Fingerprint computes the lineage fingerprint for one scope: the
// domain-separated hash of the scope's chains in canonical form. Two stores
// that admitted the same content, in any order, over any partitioning,
// produce the same fingerprint.
func (s *Store) Fingerprint(ctx context.Context, scope envelope.Scope) (string, error) {
	chains, err := s.ListLineageChains(ctx, scope)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}

	projection := make([]fingerprintChain, 0, len(chains))
	for _, c := range chains {
		fc := fingerprintChain{
			DecisionID:      c.DecisionID,
			ChainStatus:     c.ChainStatus,
			DecisionHash:    c.DecisionPayloadHash,
			RunConfigDigest: c.RunConfigDigest,
			Intents:         []string{},
			Outcomes:        []fingerprintOutcome{},
		}

		intents, err := s.ListLineageIntents(ctx, c.DecisionID)
		if err != nil {
			return "", fmt.Errorf("fingerprint: %w", err)
		}
		for _, in := range intents {
			fc.Intents = append(fc.Intents, in.ActionID)
		}

		outcomes, err := s.ListLineageOutcomes(ctx, c.DecisionID)
		if err != nil {
			return "", fmt.Errorf("fingerprint: %w", err)
		}
		for _, out := range outcomes {
			fc.Outcomes = append(fc.Outcomes, fingerprintOutcome{
				OutcomeID:       out.OutcomeID,
				ActionID:        out.ActionID,
				RunConfigDigest: out.RunConfigDigest,
				Status:          out.Status,
			})
		}

		projection = append(projection, fc)
	}

	raw, err := json.Marshal(projection)
	if err != nil {
		return "", fmt.Errorf("fingerprint: marshal projection: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("fingerprint: canonicalize: %w", err)
	}

	return envelope.HashWithDomain(envelope.DomainFingerprint, canonical), nil
}
