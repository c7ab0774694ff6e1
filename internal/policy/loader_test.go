package policy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tracefold/tracefold/internal/envelope"
)

func TestDefault_ConfiguresAllFamilies(t *testing.T) {
	p := Default()

	for _, kind := range envelope.Kinds() {
		fam, ok := p.Family(kind)
		if !ok {
			t.Errorf("default policy has no family for %v", kind)
			continue
		}
		if fam.ContractName == "" {
			t.Errorf("family %v has empty contract name", kind)
		}
		if len(fam.SchemaVersions) == 0 {
			t.Errorf("family %v has no schema versions", kind)
		}
	}

	if p.RequiredPlatformRunID != "" {
		t.Errorf("default policy pins run scope %q, want unpinned", p.RequiredPlatformRunID)
	}
}

func TestDefault_SchemaVersionAllowlist(t *testing.T) {
	p := Default()
	fam, _ := p.Family(envelope.KindDecision)

	if !fam.AllowsVersion("1.0") {
		t.Error("decision family should allow 1.0")
	}
	if fam.AllowsVersion("9.9") {
		t.Error("decision family should not allow 9.9")
	}
}

func TestValidatePayload_Decision(t *testing.T) {
	p := Default()
	fam, _ := p.Family(envelope.KindDecision)

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{
			name:    "complete",
			payload: `{"decision_id":"dec-1","run_config_digest":"rcd-1","amount":100}`,
			wantErr: false,
		},
		{
			name:    "extra fields allowed",
			payload: `{"decision_id":"dec-1","run_config_digest":"rcd-1","amount":100,"vendor":"x"}`,
			wantErr: false,
		},
		{
			name:    "optional fields allowed",
			payload: `{"decision_id":"dec-1","run_config_digest":"rcd-1","amount":100,"currency":"USD","score":87}`,
			wantErr: false,
		},
		{
			name:    "missing decision_id",
			payload: `{"run_config_digest":"rcd-1","amount":100}`,
			wantErr: true,
		},
		{
			name:    "empty decision_id",
			payload: `{"decision_id":"","run_config_digest":"rcd-1","amount":100}`,
			wantErr: true,
		},
		{
			name:    "wrong type for amount",
			payload: `{"decision_id":"dec-1","run_config_digest":"rcd-1","amount":"lots"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			payload: `{broken`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fam.ValidatePayload([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePayload() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePayload_Outcome(t *testing.T) {
	p := Default()
	fam, _ := p.Family(envelope.KindActionOutcome)

	ok := `{"decision_id":"dec-1","action_id":"act-1","outcome_id":"out-1","run_config_digest":"rcd-1","status":"EXECUTED"}`
	if err := fam.ValidatePayload([]byte(ok)); err != nil {
		t.Errorf("ValidatePayload(valid outcome) failed: %v", err)
	}

	missing := `{"decision_id":"dec-1","action_id":"act-1","outcome_id":"out-1","status":"EXECUTED"}`
	if err := fam.ValidatePayload([]byte(missing)); err == nil {
		t.Error("expected error for outcome missing run_config_digest")
	}
}

func TestLoadFile_PinnedRunScope(t *testing.T) {
	doc := `
policy: {
	required_platform_run_id: "plat-7"
	families: {
		"decision.recorded": {
			schema_versions: ["2.0"]
			contract: "decision/v2"
		}
	}
}
contracts: {
	"decision/v2": {
		decision_id: string & !=""
	}
}
`
	path := filepath.Join(t.TempDir(), "policy.cue")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	p, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() failed: %v", err)
	}

	if p.RequiredPlatformRunID != "plat-7" {
		t.Errorf("RequiredPlatformRunID = %q, want plat-7", p.RequiredPlatformRunID)
	}

	fam, ok := p.Family(envelope.KindDecision)
	if !ok {
		t.Fatal("decision family missing")
	}
	if !fam.AllowsVersion("2.0") || fam.AllowsVersion("1.0") {
		t.Errorf("schema versions = %v, want exactly [2.0]", fam.SchemaVersions)
	}

	if _, ok := p.Family(envelope.KindActionIntent); ok {
		t.Error("intent family should be absent from this policy")
	}
}

func TestLoadFile_NotFound(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.cue"))
	var loadErr *LoadError
	if !errors.As(err, &loadErr) || loadErr.Code != ErrCodeNotFound {
		t.Errorf("expected %s, got %v", ErrCodeNotFound, err)
	}
}

func TestLoadFile_UnknownFamily(t *testing.T) {
	doc := `
policy: {
	families: {
		"decision.scored": {
			schema_versions: ["1.0"]
			contract: "decision/v1"
		}
	}
}
contracts: {
	"decision/v1": {decision_id: string}
}
`
	path := filepath.Join(t.TempDir(), "policy.cue")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	_, err := LoadFile(path)
	var loadErr *LoadError
	if !errors.As(err, &loadErr) || loadErr.Code != ErrCodeUnknownFamily {
		t.Errorf("expected %s, got %v", ErrCodeUnknownFamily, err)
	}
}

func TestLoadFile_MissingContract(t *testing.T) {
	doc := `
policy: {
	families: {
		"decision.recorded": {
			schema_versions: ["1.0"]
			contract: "decision/v9"
		}
	}
}
contracts: {}
`
	path := filepath.Join(t.TempDir(), "policy.cue")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write policy: %v", err)
	}

	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for unresolved contract name")
	}
}
