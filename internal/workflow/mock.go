package workflow

import (
	"fmt"
	"strings"

	"github.com/JustinRaoV/GutMicrobe-Virus/internal/fasta"
)

// Mock mode replaces every external tool with a deterministic in-process
// stand-in so the whole pipeline can run on a laptop or in CI without the
// multi-gigabyte tool databases. Stand-ins derive their output from their
// inputs only.

// mockContigs is the assembly stand-in: three contigs per sample, one long
// enough to survive every gate, one borderline, one below the length
// filter.
func mockContigs(sampleID string) []fasta.Record {
	return []fasta.Record{
		{ID: sampleID + "_c1", Seq: []byte(strings.Repeat("ATGCGT", 600))},
		{ID: sampleID + "_c2", Seq: []byte(strings.Repeat("GGATCC", 340))},
		{ID: sampleID + "_c3", Seq: []byte(strings.Repeat("TTAACC", 130))},
	}
}

// mockPrefilterSummary fabricates a gene-content summary: the first contig
// is clearly viral, the second ambiguous, any further contigs host-heavy.
func mockPrefilterSummary(ids []string) string {
	var b strings.Builder
	b.WriteString("contig_id\tcontig_length\tviral_genes\thost_genes\tcheckv_quality\tcompleteness\n")
	for i, id := range ids {
		switch i {
		case 0:
			b.WriteString(fmt.Sprintf("%s\t3600\t8\t0\tNot-determined\t0\n", id))
		case 1:
			b.WriteString(fmt.Sprintf("%s\t2040\t2\t3\tNot-determined\t0\n", id))
		default:
			b.WriteString(fmt.Sprintf("%s\t780\t1\t14\tNot-determined\t0\n", id))
		}
	}
	return b.String()
}

// mockDetectorOutput fabricates each tool's native output with the first
// contig as a confident hit.
func mockDetectorOutput(tool string, ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	var b strings.Builder
	switch tool {
	case "virsorter":
		b.WriteString("seqname\tdsDNAphage\tssDNA\tmax_score\tmax_score_group\n")
		b.WriteString(fmt.Sprintf("%s||full\t0.91\t0.02\t0.93\tdsDNAphage\n", ids[0]))
	case "genomad":
		b.WriteString("seq_name\tlength\ttopology\tvirus_score\n")
		b.WriteString(fmt.Sprintf("%s\t3600\tlinear\t0.96\n", ids[0]))
	case "dvf":
		b.WriteString("name\tlen\tscore\tpvalue\n")
		for i, id := range ids {
			if i == 0 {
				b.WriteString(fmt.Sprintf("%s\t3600\t0.97\t0.002\n", id))
			} else {
				b.WriteString(fmt.Sprintf("%s\t2040\t0.41\t0.300\n", id))
			}
		}
	case "vibrant":
		b.WriteString(ids[0] + "\n")
	case "blastn":
		b.WriteString(fmt.Sprintf("%s\tNC_074662.1\t97.8\t1e-42\t92\n", ids[0]))
	}
	return b.String()
}

// mockQualitySummary grades the first contig High-quality and the rest
// Low-quality.
func mockQualitySummary(ids []string) string {
	var b strings.Builder
	b.WriteString("contig_id\tcontig_length\tviral_genes\thost_genes\tcheckv_quality\tcompleteness\n")
	for i, id := range ids {
		if i == 0 {
			b.WriteString(fmt.Sprintf("%s\t3600\t8\t0\tHigh-quality\t94.8\n", id))
		} else {
			b.WriteString(fmt.Sprintf("%s\t2040\t2\t1\tLow-quality\t18.2\n", id))
		}
	}
	return b.String()
}

// mockBuscoOutputs fabricates predicted genes and a marker table with every
// contig under the contamination threshold.
func mockBuscoOutputs(ids []string) (genes, table string) {
	var g, t strings.Builder
	t.WriteString("# Busco id\tStatus\tSequence\tScore\n")
	for _, id := range ids {
		for n := 1; n <= 40; n++ {
			g.WriteString(fmt.Sprintf(">%s_%d # %d # %d # 1\nATGAAATTTGGGCCC\n", id, n, n*100, n*100+90))
		}
		t.WriteString(fmt.Sprintf("1205at2\tComplete\t%s:100-900\t88.0\n", id))
	}
	return g.String(), t.String()
}
