// Package library builds the non-redundant virus library. Sequences that
// survived per-sample filtering are merged across samples, clustered by
// similarity, and reduced to one representative per cluster.
package library

import (
	"fmt"
	"math"
	"sort"

	"github.com/exascience/pargo/parallel"

	"github.com/JustinRaoV/GutMicrobe-Virus/internal/fasta"
)

// kmerSize balances sensitivity and speed for genome-scale sequences.
const kmerSize = 21

// Cluster groups near-identical sequences under one representative.
// Members lists every sequence in the cluster, the representative first,
// so the cluster table on disk is a complete partition of the input.
// Every later member's similarity to the representative meets the
// clustering thresholds; representatives are mutually below them.
type Cluster struct {
	Representative string
	Members        []string
}

// Similarity is the identity and coverage of a candidate against a
// representative. Identity approximates average nucleotide identity from
// shared k-mer content; coverage is the fraction of the candidate's k-mers
// contained in the representative.
type Similarity struct {
	Identity float64
	Coverage float64
}

type kmerSet map[uint64]struct{}

func kmersOf(seq []byte) kmerSet {
	set := make(kmerSet)
	if len(seq) < kmerSize {
		return set
	}
	var h uint64
	valid := 0
	for i := 0; i < len(seq); i++ {
		code, ok := baseCode(seq[i])
		if !ok {
			h, valid = 0, 0
			continue
		}
		h = h<<2 | code
		valid++
		if valid >= kmerSize {
			set[h&(1<<(2*kmerSize)-1)] = struct{}{}
		}
	}
	return set
}

func baseCode(b byte) (uint64, bool) {
	switch b {
	case 'A', 'a':
		return 0, true
	case 'C', 'c':
		return 1, true
	case 'G', 'g':
		return 2, true
	case 'T', 't':
		return 3, true
	}
	return 0, false
}

// compare scores candidate k-mers against a representative's set.
func compare(candidate, representative kmerSet) Similarity {
	if len(candidate) == 0 || len(representative) == 0 {
		return Similarity{}
	}
	shared := 0
	for k := range candidate {
		if _, ok := representative[k]; ok {
			shared++
		}
	}
	if shared == 0 {
		return Similarity{}
	}
	union := len(candidate) + len(representative) - shared
	jaccard := float64(shared) / float64(union)
	// Mash distance turned around: identity from the Jaccard index of
	// k-mer sets.
	identity := 1 + math.Log(2*jaccard/(1+jaccard))/kmerSize
	if identity < 0 {
		identity = 0
	}
	return Similarity{
		Identity: identity,
		Coverage: float64(shared) / float64(len(candidate)),
	}
}

// Dedup clusters sequences greedily. Candidates are visited in a fixed
// order, length descending then id ascending, so representative choice is
// deterministic: each sequence joins the first existing cluster whose
// representative meets both thresholds, or founds its own.
func Dedup(seqs []fasta.Record, identity, coverage float64) ([]Cluster, error) {
	if identity <= 0 || identity > 1 {
		return nil, fmt.Errorf("library: identity threshold %v outside (0,1]", identity)
	}
	if coverage <= 0 || coverage > 1 {
		return nil, fmt.Errorf("library: coverage threshold %v outside (0,1]", coverage)
	}

	ordered := make([]fasta.Record, len(seqs))
	copy(ordered, seqs)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Len() != ordered[j].Len() {
			return ordered[i].Len() > ordered[j].Len()
		}
		return ordered[i].ID < ordered[j].ID
	})

	var clusters []Cluster
	var repSets []kmerSet
	for _, seq := range ordered {
		candidate := kmersOf(seq.Seq)

		// Score against every representative in parallel, then pick the
		// first match in creation order so the outcome stays stable.
		matched := make([]bool, len(repSets))
		parallel.Range(0, len(repSets), 0, func(low, high int) {
			for i := low; i < high; i++ {
				sim := compare(candidate, repSets[i])
				matched[i] = sim.Identity >= identity && sim.Coverage >= coverage
			}
		})

		assigned := false
		for i := range matched {
			if matched[i] {
				clusters[i].Members = append(clusters[i].Members, seq.ID)
				assigned = true
				break
			}
		}
		if !assigned {
			clusters = append(clusters, Cluster{Representative: seq.ID, Members: []string{seq.ID}})
			repSets = append(repSets, candidate)
		}
	}
	return clusters, nil
}

// Merge concatenates per-sample survivor sets into one candidate list.
// Sample order is fixed by sorting ids, so merged output is reproducible.
func Merge(bySample map[string][]fasta.Record) []fasta.Record {
	samples := make([]string, 0, len(bySample))
	for id := range bySample {
		samples = append(samples, id)
	}
	sort.Strings(samples)
	var out []fasta.Record
	for _, id := range samples {
		out = append(out, bySample[id]...)
	}
	return out
}

// Representatives extracts each cluster's representative sequence, renamed
// vOTU1, vOTU2, ... in cluster order.
func Representatives(clusters []Cluster, seqs []fasta.Record) []fasta.Record {
	byID := make(map[string]fasta.Record, len(seqs))
	for _, s := range seqs {
		byID[s.ID] = s
	}
	out := make([]fasta.Record, 0, len(clusters))
	for i, c := range clusters {
		rep, ok := byID[c.Representative]
		if !ok {
			continue
		}
		out = append(out, fasta.Record{
			ID:  fmt.Sprintf("vOTU%d", i+1),
			Seq: rep.Seq,
		})
	}
	return out
}
