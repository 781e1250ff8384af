// Package quality classifies candidate sequences by completeness tier and
// filters them against a tier whitelist. Tiers come from the external
// quality-assessment run; this package only reads its summary table.
package quality

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Tier is a sequence's completeness classification. A sequence starts
// Unassessed and is assigned its tier exactly once from the assessment
// summary; sequences missing from the summary become NotDetermined.
type Tier string

const (
	Unassessed    Tier = "Unassessed"
	Complete      Tier = "Complete"
	High          Tier = "High"
	Medium        Tier = "Medium"
	Low           Tier = "Low"
	NotDetermined Tier = "NotDetermined"
)

// tierRank orders tiers from best to worst for best-record selection.
var tierRank = map[Tier]int{
	Complete:      5,
	High:          4,
	Medium:        3,
	Low:           2,
	NotDetermined: 1,
	Unassessed:    0,
}

// Rank returns the tier's ordering value; higher is better.
func (t Tier) Rank() int { return tierRank[t] }

// ParseTier maps an assessment label to a Tier. Unrecognized labels map to
// NotDetermined rather than failing, matching how the summary table treats
// sequences it could not classify.
func ParseTier(label string) Tier {
	switch label {
	case "Complete":
		return Complete
	case "High-quality":
		return High
	case "Medium-quality":
		return Medium
	case "Low-quality":
		return Low
	default:
		return NotDetermined
	}
}

// Record is one row of the assessment summary.
type Record struct {
	SequenceID   string
	Tier         Tier
	Completeness float64
	Length       int
	ViralGenes   int
	HostGenes    int
}

// LoadSummary reads a quality_summary.tsv table. The columns contig_id and
// checkv_quality are required; completeness and contig_length are kept when
// present for best-record selection.
func LoadSummary(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("quality: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	var header map[string]int
	var recs []Record
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if header == nil {
			header = make(map[string]int, len(fields))
			for i, name := range fields {
				header[name] = i
			}
			for _, required := range []string{"contig_id", "checkv_quality"} {
				if _, ok := header[required]; !ok {
					return nil, fmt.Errorf("quality: %s: missing column %q", path, required)
				}
			}
			continue
		}
		get := func(name string) string {
			i, ok := header[name]
			if !ok || i >= len(fields) {
				return ""
			}
			return fields[i]
		}
		rec := Record{
			SequenceID: get("contig_id"),
			Tier:       ParseTier(get("checkv_quality")),
		}
		if rec.SequenceID == "" {
			return nil, fmt.Errorf("quality: %s: row with empty contig_id", path)
		}
		if v, err := strconv.ParseFloat(get("completeness"), 64); err == nil {
			rec.Completeness = v
		}
		if v, err := strconv.Atoi(get("contig_length")); err == nil {
			rec.Length = v
		}
		if v, err := strconv.Atoi(get("viral_genes")); err == nil {
			rec.ViralGenes = v
		}
		if v, err := strconv.Atoi(get("host_genes")); err == nil {
			rec.HostGenes = v
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("quality: %s: %w", path, err)
	}
	return recs, nil
}

// Assess assigns each candidate its tier from the summary records. A
// candidate absent from the summary is NotDetermined; it is never silently
// dropped, so the gate can exclude it explicitly. Each candidate is
// assigned exactly once; duplicate summary rows keep the first assignment.
func Assess(candidates []string, recs []Record) map[string]Tier {
	byID := make(map[string]Tier, len(recs))
	for _, r := range recs {
		if _, ok := byID[r.SequenceID]; !ok {
			byID[r.SequenceID] = r.Tier
		}
	}
	out := make(map[string]Tier, len(candidates))
	for _, id := range candidates {
		if tier, ok := byID[id]; ok {
			out[id] = tier
		} else {
			out[id] = NotDetermined
		}
	}
	return out
}

// Prefilter screens contigs on gene content before the detectors run. A
// contig dominated by host genes (more than 10, and over five times the
// viral gene count) is dropped; a contig with more viral than host genes is
// additionally recorded as a viral vote for the consensus step. Everything
// not dropped is kept.
func Prefilter(recs []Record) (keep []string, viral []string) {
	for _, r := range recs {
		if r.HostGenes > 10 && r.HostGenes > r.ViralGenes*5 {
			continue
		}
		keep = append(keep, r.SequenceID)
		if r.ViralGenes > r.HostGenes {
			viral = append(viral, r.SequenceID)
		}
	}
	return keep, viral
}

// Filter keeps the sequences whose tier is in the allowed set. Filtering an
// already filtered set is a no-op.
func Filter(tiers map[string]Tier, allowed []string) map[string]bool {
	allowSet := make(map[Tier]bool, len(allowed))
	for _, name := range allowed {
		allowSet[Tier(name)] = true
	}
	out := make(map[string]bool)
	for id, tier := range tiers {
		if allowSet[tier] {
			out[id] = true
		}
	}
	return out
}
