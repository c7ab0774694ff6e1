package policy

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/tracefold/tracefold/internal/envelope"
)

//go:embed default.cue
var defaultPolicyCUE []byte

// Error codes for policy loading failures.
const (
	ErrCodeNotFound      = "POLICY_NOT_FOUND"
	ErrCodeBuildFailed   = "POLICY_BUILD_FAILED"
	ErrCodeBadDocument   = "POLICY_DOCUMENT_INVALID"
	ErrCodeUnknownFamily = "POLICY_UNKNOWN_FAMILY"
)

// LoadError is a structured policy loading failure.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Default returns the embedded default policy.
// Panics only if the embedded document is itself broken, which is a build
// defect, so callers treat Default as infallible.
func Default() *Policy {
	p, err := compile(defaultPolicyCUE)
	if err != nil {
		panic(fmt.Sprintf("embedded default policy is invalid: %v", err))
	}
	return p
}

// LoadFile loads a policy document from a CUE file.
func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("policy file not found: %s", path)}
		}
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading policy file: %v", err)}
	}
	return compile(data)
}

// compile builds a Policy from CUE source.
func compile(src []byte) (*Policy, error) {
	ctx := cuecontext.New()

	value := ctx.CompileBytes(src)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}

	policyVal := value.LookupPath(cue.ParsePath("policy"))
	if !policyVal.Exists() {
		return nil, &LoadError{Code: ErrCodeBadDocument, Message: "document has no top-level 'policy' field"}
	}
	contractsVal := value.LookupPath(cue.ParsePath("contracts"))
	if !contractsVal.Exists() {
		return nil, &LoadError{Code: ErrCodeBadDocument, Message: "document has no top-level 'contracts' field"}
	}

	p := &Policy{families: make(map[envelope.Kind]FamilyPolicy)}

	runID := policyVal.LookupPath(cue.ParsePath("required_platform_run_id"))
	if runID.Exists() {
		s, err := runID.String()
		if err != nil {
			return nil, &LoadError{Code: ErrCodeBadDocument, Message: fmt.Sprintf("required_platform_run_id: %v", err)}
		}
		p.RequiredPlatformRunID = s
	}

	familiesVal := policyVal.LookupPath(cue.ParsePath("families"))
	if !familiesVal.Exists() {
		return nil, &LoadError{Code: ErrCodeBadDocument, Message: "policy has no 'families' field"}
	}

	iter, err := familiesVal.Fields()
	if err != nil {
		return nil, &LoadError{Code: ErrCodeBadDocument, Message: fmt.Sprintf("iterating families: %v", err)}
	}
	for iter.Next() {
		eventType := iter.Selector().Unquoted()
		kind, ok := envelope.KindFromEventType(eventType)
		if !ok {
			return nil, &LoadError{
				Code:    ErrCodeUnknownFamily,
				Message: fmt.Sprintf("family %q is not a known event type", eventType),
			}
		}

		fam, err := compileFamily(iter.Value(), contractsVal)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeBadDocument, Message: fmt.Sprintf("family %q: %v", eventType, err)}
		}
		p.families[kind] = fam
	}

	if len(p.families) == 0 {
		return nil, &LoadError{Code: ErrCodeBadDocument, Message: "policy configures no event families"}
	}

	return p, nil
}

// compileFamily extracts one family's schema versions and resolves its
// contract schema from the contracts block.
func compileFamily(famVal, contractsVal cue.Value) (FamilyPolicy, error) {
	var fam FamilyPolicy

	versionsVal := famVal.LookupPath(cue.ParsePath("schema_versions"))
	if !versionsVal.Exists() {
		return fam, fmt.Errorf("missing 'schema_versions'")
	}
	vIter, err := versionsVal.List()
	if err != nil {
		return fam, fmt.Errorf("schema_versions: %w", err)
	}
	for vIter.Next() {
		v, err := vIter.Value().String()
		if err != nil {
			return fam, fmt.Errorf("schema_versions: %w", err)
		}
		fam.SchemaVersions = append(fam.SchemaVersions, v)
	}
	if len(fam.SchemaVersions) == 0 {
		return fam, fmt.Errorf("schema_versions is empty")
	}

	nameVal := famVal.LookupPath(cue.ParsePath("contract"))
	if !nameVal.Exists() {
		return fam, fmt.Errorf("missing 'contract'")
	}
	fam.ContractName, err = nameVal.String()
	if err != nil {
		return fam, fmt.Errorf("contract: %w", err)
	}

	contract := contractsVal.LookupPath(cue.MakePath(cue.Str(fam.ContractName)))
	if !contract.Exists() {
		return fam, fmt.Errorf("contract %q not defined in contracts block", fam.ContractName)
	}
	if err := contract.Err(); err != nil {
		return fam, fmt.Errorf("contract %q: %w", fam.ContractName, err)
	}
	fam.contract = contract

	return fam, nil
}
