package quality

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ContaminationRecord carries the fraction of a sequence's predicted genes
// that hit bacterial marker genes. A ratio above the threshold marks the
// sequence as contamination.
type ContaminationRecord struct {
	SequenceID  string
	MarkerRatio float64
}

// GeneCounts counts predicted genes per contig from a prodigal FASTA. Gene
// ids are contig ids with a trailing _N index.
func GeneCounts(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("contamination: %w", err)
	}
	defer f.Close()

	counts := make(map[string]int)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, ">") {
			continue
		}
		gene := strings.Fields(line[1:])[0]
		if i := strings.LastIndex(gene, "_"); i > 0 {
			counts[gene[:i]]++
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("contamination: %s: %w", path, err)
	}
	return counts, nil
}

// MarkerCounts counts Complete and Fragmented marker hits per contig from a
// marker full_table.tsv. Comment lines are skipped; the third column holds
// the hit location as contig:start-end.
func MarkerCounts(path string) (map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("contamination: %w", err)
	}
	defer f.Close()

	counts := make(map[string]int)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 3 {
			continue
		}
		if fields[1] != "Complete" && fields[1] != "Fragmented" {
			continue
		}
		contig := fields[2]
		if parts := strings.Split(contig, ":"); len(parts) >= 2 {
			contig = parts[len(parts)-2]
		} else if tokens := strings.Fields(contig); len(tokens) > 0 {
			contig = tokens[0]
		} else {
			// Complete row without a hit location; nothing to count it against.
			continue
		}
		counts[contig]++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("contamination: %s: %w", path, err)
	}
	return counts, nil
}

// ContaminationRecords combines gene and marker counts into per-sequence
// ratios. A sequence with zero predicted genes has ratio 0.
func ContaminationRecords(genes, markers map[string]int) []ContaminationRecord {
	recs := make([]ContaminationRecord, 0, len(genes))
	for contig, total := range genes {
		ratio := 0.0
		if total > 0 {
			ratio = float64(markers[contig]) / float64(total)
		}
		recs = append(recs, ContaminationRecord{SequenceID: contig, MarkerRatio: ratio})
	}
	return recs
}

// FilterContamination keeps sequences whose marker ratio does not exceed
// the threshold. The threshold must lie in [0,1]; out-of-range values are
// a configuration error, never clamped.
func FilterContamination(recs []ContaminationRecord, threshold float64) (map[string]bool, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("contamination: ratio threshold %v outside [0,1]", threshold)
	}
	out := make(map[string]bool)
	for _, r := range recs {
		if r.MarkerRatio <= threshold {
			out[r.SequenceID] = true
		}
	}
	return out, nil
}
