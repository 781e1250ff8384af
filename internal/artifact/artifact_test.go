package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestComputeStableForSameContent(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "contigs.fa")
	writeFile(t, p, ">c1\nACGT\n")

	first, err := Compute(p)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Compute(p)
	if err != nil {
		t.Fatal(err)
	}
	if !first.Equal(second) {
		t.Fatalf("hash changed without content change: %s vs %s", first.SHA256, second.SHA256)
	}
	if first.IsZero() {
		t.Fatal("computed fingerprint reported zero")
	}
}

func TestChangedDetectsContentNotTimestamp(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "reads.fq")
	writeFile(t, p, "@r1\nACGT\n+\nIIII\n")

	fp, err := Compute(p)
	if err != nil {
		t.Fatal(err)
	}

	// Touch the mtime without changing content. The cheap filter misses but
	// the hash must still report unchanged.
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(p, later, later); err != nil {
		t.Fatal(err)
	}
	changed, _, err := Changed(p, fp)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Fatal("timestamp-only touch reported as changed")
	}

	writeFile(t, p, "@r1\nTTTT\n+\nIIII\n")
	changed, current, err := Changed(p, fp)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("content change not detected")
	}
	if current.SHA256 == fp.SHA256 {
		t.Fatal("new fingerprint kept old hash")
	}
}

func TestChangedMissingFile(t *testing.T) {
	dir := t.TempDir()
	changed, _, err := Changed(filepath.Join(dir, "absent.fa"), Fingerprint{SHA256: "abc"})
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("missing file should count as changed")
	}
}

func TestPromoteIsAtomicRename(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "out", "votus.fa")
	tmp := TempPath(final)
	if err := os.MkdirAll(filepath.Dir(tmp), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, tmp, ">vOTU1\nACGT\n")

	if err := Promote(tmp, final); err != nil {
		t.Fatal(err)
	}
	if !Exists(final) {
		t.Fatal("promoted artifact missing")
	}
	if Exists(tmp) {
		t.Fatal("staging file left behind after promote")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	fp := Fingerprint{Size: 42, ModTimeNS: 1234, SHA256: "deadbeef"}
	s.Record("/results/s1/contigs.fa", fp)
	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := reloaded.Recorded("/results/s1/contigs.fa")
	if !ok {
		t.Fatal("recorded fingerprint lost on reload")
	}
	if got != fp {
		t.Fatalf("got %+v want %+v", got, fp)
	}

	reloaded.Invalidate("/results/s1/contigs.fa")
	if _, ok := reloaded.Recorded("/results/s1/contigs.fa"); ok {
		t.Fatal("invalidated fingerprint still present")
	}
}
