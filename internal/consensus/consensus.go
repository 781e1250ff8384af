// Package consensus merges per-tool detection records into one decision
// per candidate sequence.
package consensus

import (
	"sort"

	"github.com/JustinRaoV/GutMicrobe-Virus/internal/detect"
)

// Decision is the combined verdict for one sequence. ToolsHit is sorted
// so equal inputs always produce byte-identical output.
type Decision struct {
	SequenceID string
	ToolsHit   []string
	Included   bool
}

// Combine folds the records of every enabled tool into one decision per
// sequence. A sequence is included when at least minToolsHit tools called
// it a hit. The result is sorted by sequence id and is independent of map
// iteration order.
func Combine(recordsByTool map[string][]detect.Record, minToolsHit int) []Decision {
	hitsBySeq := make(map[string]map[string]bool)
	for tool, recs := range recordsByTool {
		for _, r := range recs {
			m, ok := hitsBySeq[r.SequenceID]
			if !ok {
				m = make(map[string]bool)
				hitsBySeq[r.SequenceID] = m
			}
			if r.Hit {
				m[tool] = true
			}
		}
	}

	decisions := make([]Decision, 0, len(hitsBySeq))
	for seq, hits := range hitsBySeq {
		tools := make([]string, 0, len(hits))
		for tool := range hits {
			tools = append(tools, tool)
		}
		sort.Strings(tools)
		decisions = append(decisions, Decision{
			SequenceID: seq,
			ToolsHit:   tools,
			Included:   len(tools) >= minToolsHit,
		})
	}
	sort.Slice(decisions, func(i, j int) bool { return decisions[i].SequenceID < decisions[j].SequenceID })
	return decisions
}

// Included returns the set of sequence ids whose decision is positive.
func Included(decisions []Decision) map[string]bool {
	out := make(map[string]bool)
	for _, d := range decisions {
		if d.Included {
			out[d.SequenceID] = true
		}
	}
	return out
}
