package sample

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSheet(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "samples.tsv")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write sheet: %v", err)
	}
	return path
}

func TestLoadSheet(t *testing.T) {
	path := writeSheet(t, strings.Join([]string{
		"sample\tmode\tinput1\tinput2\thost",
		"s1\treads\ts1_R1.fq.gz\ts1_R2.fq.gz\thuman",
		"s2\tcontigs\ts2.contigs.fa\t\t",
	}, "\n")+"\n")

	samples, err := LoadSheet(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0].ID != "s1" || samples[0].Mode != ModeReads || samples[0].Host != "human" {
		t.Fatalf("unexpected first sample: %+v", samples[0])
	}
	if !filepath.IsAbs(samples[0].Input1) {
		t.Fatalf("input path not resolved: %q", samples[0].Input1)
	}
	if samples[1].Mode != ModeContigs || samples[1].Input2 != "" {
		t.Fatalf("unexpected second sample: %+v", samples[1])
	}
}

func TestLoadSheetErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing column", "sample\tmode\ns1\treads\n"},
		{"reads without input2", "sample\tmode\tinput1\tinput2\ns1\treads\tr1.fq\t\n"},
		{"invalid mode", "sample\tmode\tinput1\ns1\tassembled\tin.fa\n"},
		{"duplicate id", "sample\tmode\tinput1\ns1\tcontigs\ta.fa\ns1\tcontigs\tb.fa\n"},
		{"missing sample id", "sample\tmode\tinput1\n\tcontigs\ta.fa\n"},
		{"no rows", "sample\tmode\tinput1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadSheet(writeSheet(t, tc.body))
			if err == nil {
				t.Fatalf("expected error")
			}
			if _, ok := err.(*SheetError); !ok {
				t.Fatalf("expected *SheetError, got %T", err)
			}
		})
	}
}
