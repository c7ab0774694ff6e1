// Package policy loads and represents the intake policy: which event
// families are admitted, which schema versions each family allows, the
// payload contract each family must satisfy, and the optional required run
// scope.
//
// Policy documents are CUE files. Payload contracts are CUE schemas and
// contract checking is CUE unification, so "present and well-typed" is
// evaluated by the CUE evaluator rather than hand-rolled field walks.
//
// A Policy is immutable after loading and is passed explicitly into the
// inlet and processor constructors. There is no process-wide policy state.
package policy

import (
	"fmt"

	"cuelang.org/go/cue"
	cuejson "cuelang.org/go/encoding/json"

	"github.com/tracefold/tracefold/internal/envelope"
)

// Policy is the loaded, immutable intake policy.
type Policy struct {
	// RequiredPlatformRunID pins intake to a single platform run when
	// non-empty. Envelopes from other runs are rejected before any other
	// validation.
	RequiredPlatformRunID string

	families map[envelope.Kind]FamilyPolicy
}

// FamilyPolicy is the per-event-family admission configuration.
type FamilyPolicy struct {
	ContractName   string
	SchemaVersions []string

	contract cue.Value
}

// Family returns the policy for a kind. The second return is false when the
// loaded document does not configure the family, in which case the inlet
// rejects its envelopes as unknown.
func (p *Policy) Family(k envelope.Kind) (FamilyPolicy, bool) {
	f, ok := p.families[k]
	return f, ok
}

// AllowsVersion reports whether the family admits the given schema version.
func (f FamilyPolicy) AllowsVersion(version string) bool {
	for _, v := range f.SchemaVersions {
		if v == version {
			return true
		}
	}
	return false
}

// ValidatePayload checks a raw JSON payload against the family contract.
//
// The payload must unify with the contract and every non-optional contract
// field must be concrete afterwards. Extra payload fields are allowed
// (contracts are open structs).
func (f FamilyPolicy) ValidatePayload(raw []byte) error {
	expr, err := cuejson.Extract("payload", raw)
	if err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}

	val := f.contract.Context().BuildExpr(expr)
	if err := val.Err(); err != nil {
		return fmt.Errorf("payload is not valid JSON: %w", err)
	}

	unified := f.contract.Unify(val)
	if err := unified.Validate(cue.Final(), cue.Concrete(true)); err != nil {
		return fmt.Errorf("contract %s: %w", f.ContractName, err)
	}
	return nil
}
