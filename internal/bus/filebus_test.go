package bus

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// writeBusDir lays out a records directory with the given partition files.
func writeBusDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return dir
}

func TestOpenFileBus_LoadsTopicsAndPartitions(t *testing.T) {
	dir := writeBusDir(t, map[string]string{
		"decisions/0.ndjson": "{\"a\":1}\n{\"a\":2}\n",
		"decisions/1.ndjson": "{\"a\":3}\n",
		"actions/0.ndjson":   "{\"b\":1}\n",
	})

	fb, err := OpenFileBus(dir)
	if err != nil {
		t.Fatalf("OpenFileBus() failed: %v", err)
	}

	topics := fb.Topics()
	if len(topics) != 2 || topics[0] != "actions" || topics[1] != "decisions" {
		t.Errorf("Topics() = %v", topics)
	}

	parts, _ := fb.Partitions("decisions")
	if len(parts) != 2 || parts[0] != 0 || parts[1] != 1 {
		t.Errorf("Partitions(decisions) = %v", parts)
	}
}

func TestFileBus_OffsetsAreLineNumbers(t *testing.T) {
	// A blank line consumes an offset but yields no record.
	dir := writeBusDir(t, map[string]string{
		"decisions/0.ndjson": "{\"a\":1}\n\n{\"a\":3}\n",
	})

	fb, err := OpenFileBus(dir)
	if err != nil {
		t.Fatalf("OpenFileBus() failed: %v", err)
	}

	recs, err := fb.Read(context.Background(), "decisions", 0, 0, 10)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Read() returned %d records, want 2", len(recs))
	}
	if recs[0].Offset != 0 || recs[1].Offset != 2 {
		t.Errorf("offsets = %d,%d, want 0,2", recs[0].Offset, recs[1].Offset)
	}
	if recs[0].OffsetKind != OffsetKindLine {
		t.Errorf("OffsetKind = %q, want %q", recs[0].OffsetKind, OffsetKindLine)
	}
}

func TestFileBus_ReadFromMidOffset(t *testing.T) {
	dir := writeBusDir(t, map[string]string{
		"decisions/0.ndjson": "{\"a\":1}\n{\"a\":2}\n{\"a\":3}\n",
	})

	fb, err := OpenFileBus(dir)
	if err != nil {
		t.Fatalf("OpenFileBus() failed: %v", err)
	}

	recs, err := fb.Read(context.Background(), "decisions", 0, 2, 10)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Offset != 2 {
		t.Errorf("Read(from=2) = %v", recs)
	}
}

func TestOpenFileBus_RejectsNonNumericPartition(t *testing.T) {
	dir := writeBusDir(t, map[string]string{
		"decisions/zero.ndjson": "{}\n",
	})

	if _, err := OpenFileBus(dir); err == nil {
		t.Error("expected error for non-numeric partition file name")
	}
}

func TestOpenFileBus_MissingDir(t *testing.T) {
	if _, err := OpenFileBus(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Error("expected error for missing directory")
	}
}
