package consensus

import (
	"reflect"
	"testing"

	"github.com/JustinRaoV/GutMicrobe-Virus/internal/detect"
)

func rec(seq, tool string, hit bool) detect.Record {
	return detect.Record{SequenceID: seq, Tool: tool, Hit: hit}
}

func TestCombineThreshold(t *testing.T) {
	records := map[string][]detect.Record{
		"virsorter": {rec("c1", "virsorter", true), rec("c2", "virsorter", true)},
		"dvf":       {rec("c1", "dvf", true), rec("c2", "dvf", false), rec("c3", "dvf", false)},
		"blastn":    {rec("c1", "blastn", true)},
	}
	decisions := Combine(records, 2)
	want := []Decision{
		{SequenceID: "c1", ToolsHit: []string{"blastn", "dvf", "virsorter"}, Included: true},
		{SequenceID: "c2", ToolsHit: []string{"virsorter"}, Included: false},
		{SequenceID: "c3", ToolsHit: []string{}, Included: false},
	}
	if !reflect.DeepEqual(decisions, want) {
		t.Fatalf("got %+v\nwant %+v", decisions, want)
	}
	kept := Included(decisions)
	if len(kept) != 1 || !kept["c1"] {
		t.Fatalf("unexpected kept set: %v", kept)
	}
}

func TestCombineOrderIndependent(t *testing.T) {
	a := map[string][]detect.Record{
		"virsorter": {rec("c1", "virsorter", true)},
		"vibrant":   {rec("c1", "vibrant", true), rec("c2", "vibrant", true)},
	}
	b := map[string][]detect.Record{
		"vibrant":   {rec("c2", "vibrant", true), rec("c1", "vibrant", true)},
		"virsorter": {rec("c1", "virsorter", true)},
	}
	if !reflect.DeepEqual(Combine(a, 1), Combine(b, 1)) {
		t.Fatal("combine depends on input order")
	}
}

func TestCombineMissedByAllToolsExcluded(t *testing.T) {
	records := map[string][]detect.Record{
		"dvf": {rec("c9", "dvf", false)},
	}
	decisions := Combine(records, 1)
	if len(decisions) != 1 || decisions[0].Included {
		t.Fatalf("sequence with zero hits must be excluded: %+v", decisions)
	}
}

func TestCombineEmptyInput(t *testing.T) {
	if got := Combine(nil, 1); len(got) != 0 {
		t.Fatalf("nil input should give no decisions, got %+v", got)
	}
}
