package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JustinRaoV/GutMicrobe-Virus/internal/artifact"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/consensus"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/decision"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/detect"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/fasta"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/library"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/quality"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/sample"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/tools"
)

// threads resolves the CPU count handed to external tools.
func threads(rc *RunContext) int {
	n := rc.Config.Resources.DefaultThreads
	if n <= 0 {
		n = 1
	}
	return n
}

// binary resolves a tool's executable, allowing overrides in tools.params.
func binary(rc *RunContext, tool string) string {
	if v, ok := rc.Config.Tools.Params[tool+"_bin"]; ok && v != "" {
		return v
	}
	return tool
}

// param reads a tool parameter such as a database path.
func param(rc *RunContext, key string) string {
	return rc.Config.Tools.Params[key]
}

func writeFastaAtomic(path string, recs []fasta.Record) error {
	tmp := artifact.TempPath(path)
	if err := fasta.WriteFile(tmp, recs); err != nil {
		return err
	}
	return artifact.Promote(tmp, path)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := artifact.TempPath(path)
	if err := os.MkdirAll(filepath.Dir(tmp), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return artifact.Promote(tmp, path)
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return writeFileAtomic(dst, data)
}

func runPreprocess(ctx context.Context, rc *RunContext, st *Step) error {
	if rc.Mock() {
		for i, in := range st.Inputs {
			if err := copyFile(in, st.Outputs[i]); err != nil {
				return err
			}
		}
		return nil
	}
	if err := os.MkdirAll(st.Dir(rc.Layout), 0o755); err != nil {
		return err
	}
	return rc.Runner.Run(ctx, tools.Command{
		Tool: "fastp",
		Argv: []string{binary(rc, "fastp"),
			"-i", st.Inputs[0], "-I", st.Inputs[1],
			"-o", st.Outputs[0], "-O", st.Outputs[1],
			"-w", fmt.Sprint(threads(rc)),
		},
		LogPath: filepath.Join(st.WorkDir(rc.Layout), "fastp.log"),
	})
}

func runHostRemoval(ctx context.Context, rc *RunContext, st *Step) error {
	if rc.Mock() {
		for i, in := range st.Inputs {
			if err := copyFile(in, st.Outputs[i]); err != nil {
				return err
			}
		}
		return nil
	}
	s, err := rc.Sample(st.Sample)
	if err != nil {
		return err
	}
	index := param(rc, "bowtie2_index_"+s.Host)
	if index == "" {
		return fmt.Errorf("workflow: no bowtie2 index configured for host %q", s.Host)
	}
	if err := os.MkdirAll(st.Dir(rc.Layout), 0o755); err != nil {
		return err
	}
	// --un-conc-gz keeps only read pairs that did not align to the host.
	unConc := strings.Replace(st.Outputs[0], "_1.fq.gz", "_%.fq.gz", 1)
	return rc.Runner.Run(ctx, tools.Command{
		Tool: "bowtie2",
		Argv: []string{binary(rc, "bowtie2"),
			"-x", index,
			"-1", st.Inputs[0], "-2", st.Inputs[1],
			"--un-conc-gz", unConc,
			"-p", fmt.Sprint(threads(rc)),
			"-S", os.DevNull,
		},
		LogPath: filepath.Join(st.WorkDir(rc.Layout), "bowtie2.log"),
	})
}

func runAssembly(ctx context.Context, rc *RunContext, st *Step) error {
	if rc.Mock() {
		recs := mockContigs(st.Sample)
		return writeFastaAtomic(st.Outputs[0], recs)
	}
	work := filepath.Join(st.WorkDir(rc.Layout), "megahit_out")
	err := rc.Runner.Run(ctx, tools.Command{
		Tool: "megahit",
		Argv: []string{binary(rc, "megahit"),
			"-1", st.Inputs[0], "-2", st.Inputs[1],
			"-o", work,
			"-t", fmt.Sprint(threads(rc)),
		},
		LogPath: filepath.Join(st.WorkDir(rc.Layout), "megahit.log"),
	})
	if err != nil {
		return err
	}
	return copyFile(filepath.Join(work, "final.contigs.fa"), st.Outputs[0])
}

func runLengthFilter(ctx context.Context, rc *RunContext, st *Step) error {
	minLen := rc.Config.Thresholds.MinContigLength
	if rc.Mock() {
		recs, err := fasta.ReadFile(st.Inputs[0])
		if err != nil {
			return err
		}
		var kept []fasta.Record
		for _, r := range recs {
			if r.Len() >= minLen {
				kept = append(kept, r)
			}
		}
		sort.Slice(kept, func(i, j int) bool { return kept[i].Len() > kept[j].Len() })
		return writeFastaAtomic(st.Outputs[0], kept)
	}
	if err := os.MkdirAll(st.Dir(rc.Layout), 0o755); err != nil {
		return err
	}
	tmp := artifact.TempPath(st.Outputs[0])
	err := rc.Runner.Run(ctx, tools.Command{
		Tool: "vsearch",
		Argv: []string{binary(rc, "vsearch"),
			"--sortbylength", st.Inputs[0],
			"--output", tmp,
			"--minseqlength", fmt.Sprint(minLen),
		},
		LogPath: filepath.Join(st.WorkDir(rc.Layout), "vsearch.log"),
	})
	if err != nil {
		return err
	}
	return artifact.Promote(tmp, st.Outputs[0])
}

func runPrefilter(ctx context.Context, rc *RunContext, st *Step) error {
	summaryPath, filteredPath, viralPath := st.Outputs[0], st.Outputs[1], st.Outputs[2]
	if rc.Mock() {
		ids, err := fastaIDs(st.Inputs[0])
		if err != nil {
			return err
		}
		if err := writeFileAtomic(summaryPath, []byte(mockPrefilterSummary(ids))); err != nil {
			return err
		}
	} else {
		work := st.WorkDir(rc.Layout)
		err := rc.Runner.Run(ctx, tools.Command{
			Tool: "checkv",
			Argv: []string{binary(rc, "checkv"), "end_to_end",
				st.Inputs[0], work,
				"-d", param(rc, "checkv_db"),
				"-t", fmt.Sprint(threads(rc)),
			},
			LogPath: filepath.Join(work, "checkv.log"),
		})
		if err != nil {
			return err
		}
		if err := copyFile(filepath.Join(work, "quality_summary.tsv"), summaryPath); err != nil {
			return err
		}
	}

	recs, err := quality.LoadSummary(summaryPath)
	if err != nil {
		return err
	}
	keep, viral := quality.Prefilter(recs)
	keepSet := make(map[string]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}
	tmp := artifact.TempPath(filteredPath)
	if _, err := fasta.FilterFile(st.Inputs[0], tmp, func(id string) bool { return keepSet[id] }); err != nil {
		return err
	}
	if err := artifact.Promote(tmp, filteredPath); err != nil {
		return err
	}
	return writeFileAtomic(viralPath, []byte(strings.Join(viral, "\n")+"\n"))
}

func runDetect(ctx context.Context, rc *RunContext, st *Step) error {
	if rc.Mock() {
		ids, err := fastaIDs(st.Inputs[0])
		if err != nil {
			return err
		}
		return writeFileAtomic(st.Outputs[0], []byte(mockDetectorOutput(st.Tool, ids)))
	}
	work := st.WorkDir(rc.Layout)
	cmd, harvest, err := detectCommand(rc, st, work)
	if err != nil {
		return err
	}
	if err := rc.Runner.Run(ctx, cmd); err != nil {
		return err
	}
	return harvest()
}

// detectCommand builds the invocation and the harvest that copies each
// tool's native result file into the step's output path.
func detectCommand(rc *RunContext, st *Step, work string) (tools.Command, func() error, error) {
	logPath := filepath.Join(work, st.Tool+".log")
	copyOut := func(src string) func() error {
		return func() error { return copyFile(src, st.Outputs[0]) }
	}
	switch st.Tool {
	case "virsorter":
		return tools.Command{
			Tool: "virsorter",
			Argv: []string{binary(rc, "virsorter"), "run",
				"-i", st.Inputs[0], "-w", work,
				"-j", fmt.Sprint(threads(rc)), "all",
			},
			LogPath: logPath,
		}, copyOut(filepath.Join(work, "final-viral-score.tsv")), nil
	case "genomad":
		base := strings.TrimSuffix(filepath.Base(st.Inputs[0]), filepath.Ext(st.Inputs[0]))
		return tools.Command{
			Tool: "genomad",
			Argv: []string{binary(rc, "genomad"), "end-to-end", "--cleanup",
				st.Inputs[0], work, param(rc, "genomad_db"),
				"-t", fmt.Sprint(threads(rc)),
			},
			LogPath: logPath,
		}, copyOut(filepath.Join(work, base+"_summary", base+"_virus_summary.tsv")), nil
	case "dvf":
		return tools.Command{
			Tool: "dvf",
			Argv: []string{binary(rc, "dvf"),
				"-i", st.Inputs[0], "-o", work,
				"-c", fmt.Sprint(threads(rc)),
				"-m", param(rc, "dvf_models"),
			},
			LogPath: logPath,
		}, func() error {
			matches, err := filepath.Glob(filepath.Join(work, "*_dvfpred.txt"))
			if err != nil || len(matches) == 0 {
				return fmt.Errorf("workflow: dvf produced no prediction table in %s", work)
			}
			return copyFile(matches[0], st.Outputs[0])
		}, nil
	case "vibrant":
		base := strings.TrimSuffix(filepath.Base(st.Inputs[0]), filepath.Ext(st.Inputs[0]))
		return tools.Command{
			Tool: "vibrant",
			Argv: []string{binary(rc, "vibrant"),
				"-i", st.Inputs[0], "-folder", work,
				"-t", fmt.Sprint(threads(rc)),
			},
			LogPath: logPath,
		}, copyOut(filepath.Join(work,
			"VIBRANT_"+base, "VIBRANT_phages_"+base, base+".phages_combined.txt")), nil
	case "blastn":
		db := param(rc, "blastn_db")
		tmp := artifact.TempPath(st.Outputs[0])
		return tools.Command{
			Tool: "blastn",
			Argv: []string{binary(rc, "blastn"),
				"-query", st.Inputs[0], "-db", db,
				"-outfmt", "6 qseqid sseqid pident evalue qcovs",
				"-num_threads", fmt.Sprint(threads(rc)),
				"-out", tmp,
			},
			LogPath: logPath,
		}, func() error { return artifact.Promote(tmp, st.Outputs[0]) }, nil
	}
	return tools.Command{}, nil, fmt.Errorf("workflow: no detector command for %q", st.Tool)
}

func runCombine(ctx context.Context, rc *RunContext, st *Step) error {
	recordsByTool := make(map[string][]detect.Record)
	for _, tool := range rc.Config.EnabledTools() {
		parser, err := detect.NewParser(tool, rc.Config.Thresholds)
		if err != nil {
			return err
		}
		recs, err := parser.Parse(detectorOutputPath(rc, st, tool))
		if err != nil {
			// An unreadable detector output drops that tool from this
			// sample's vote; the surviving tools still reach consensus.
			var perr *detect.ParseError
			if !errors.As(err, &perr) {
				return err
			}
			rc.Log.Printf("[%s] %v, excluding %s from consensus", st.Name, err, tool)
			if recErr := rc.Decisions.Record(decision.Entry{
				Step:      st.Name,
				Sample:    st.Sample,
				Action:    decision.ActionReport,
				Rationale: fmt.Sprintf("%s output unreadable, tool excluded from consensus: %v", tool, err),
				Outcome:   "recorded",
			}); recErr != nil {
				return recErr
			}
			continue
		}
		recordsByTool[tool] = recs
	}

	decisions := consensus.Combine(recordsByTool, rc.Config.Thresholds.MinToolsHit)
	kept := consensus.Included(decisions)

	contigsPath, infoPath := st.Outputs[0], st.Outputs[1]
	tmp := artifact.TempPath(contigsPath)
	n, err := fasta.FilterFile(st.Inputs[0], tmp, func(id string) bool { return kept[id] })
	if err != nil {
		return err
	}
	if err := artifact.Promote(tmp, contigsPath); err != nil {
		return err
	}

	var info strings.Builder
	enabled := rc.Config.EnabledTools()
	info.WriteString("contig\t" + strings.Join(enabled, "\t") + "\n")
	for _, d := range decisions {
		if !d.Included {
			continue
		}
		hit := make(map[string]bool, len(d.ToolsHit))
		for _, t := range d.ToolsHit {
			hit[t] = true
		}
		info.WriteString(d.SequenceID)
		for _, t := range enabled {
			if hit[t] {
				info.WriteString("\t1")
			} else {
				info.WriteString("\t0")
			}
		}
		info.WriteString("\n")
	}
	if err := writeFileAtomic(infoPath, []byte(info.String())); err != nil {
		return err
	}
	rc.Log.Printf("[%s] consensus kept %d contigs (min_tools_hit=%d)", st.Name, n, rc.Config.Thresholds.MinToolsHit)
	return rc.Decisions.Record(decision.Entry{
		Step:      st.Name,
		Sample:    st.Sample,
		Action:    decision.ActionReport,
		Rationale: fmt.Sprintf("%d contigs met the %d-tool consensus threshold", n, rc.Config.Thresholds.MinToolsHit),
		Outcome:   "recorded",
	})
}

// detectorOutputPath locates a tool's raw output among the combine step's
// inputs. The prefilter's viral list stands in for checkv.
func detectorOutputPath(rc *RunContext, st *Step, tool string) string {
	if tool == "checkv" {
		for _, in := range st.Inputs {
			if strings.HasSuffix(in, "viral_contigs.list") {
				return in
			}
		}
		return ""
	}
	name := rawOutputName(tool)
	for _, in := range st.Inputs {
		if filepath.Base(in) == name {
			return in
		}
	}
	return ""
}

func runQuality(ctx context.Context, rc *RunContext, st *Step) error {
	if rc.Mock() {
		ids, err := fastaIDs(st.Inputs[0])
		if err != nil {
			return err
		}
		return writeFileAtomic(st.Outputs[0], []byte(mockQualitySummary(ids)))
	}
	work := st.WorkDir(rc.Layout)
	err := rc.Runner.Run(ctx, tools.Command{
		Tool: "checkv",
		Argv: []string{binary(rc, "checkv"), "end_to_end",
			st.Inputs[0], work,
			"-d", param(rc, "checkv_db"),
			"-t", fmt.Sprint(threads(rc)),
		},
		LogPath: filepath.Join(work, "checkv.log"),
	})
	if err != nil {
		return err
	}
	return copyFile(filepath.Join(work, "quality_summary.tsv"), st.Outputs[0])
}

func runQualityGate(ctx context.Context, rc *RunContext, st *Step) error {
	candidates, err := fastaIDs(st.Inputs[0])
	if err != nil {
		return err
	}
	recs, err := quality.LoadSummary(st.Inputs[1])
	if err != nil {
		return err
	}
	tiers := quality.Assess(candidates, recs)
	kept := quality.Filter(tiers, rc.Config.Thresholds.AllowedTiers)

	tmp := artifact.TempPath(st.Outputs[0])
	n, err := fasta.FilterFile(st.Inputs[0], tmp, func(id string) bool { return kept[id] })
	if err != nil {
		return err
	}
	if err := artifact.Promote(tmp, st.Outputs[0]); err != nil {
		return err
	}
	rc.Log.Printf("[%s] quality gate kept %d of %d contigs", st.Name, n, len(candidates))
	if err := rc.Decisions.Record(decision.Entry{
		Step:      st.Name,
		Sample:    st.Sample,
		Action:    decision.ActionReport,
		Rationale: fmt.Sprintf("%d of %d contigs in allowed tiers %v", n, len(candidates), rc.Config.Thresholds.AllowedTiers),
		Outcome:   "recorded",
	}); err != nil {
		return err
	}

	// A thin yield is worth an advisory suggestion, but the gate itself
	// never relaxes its own thresholds.
	if n < rc.Config.Agent.LowYieldThreshold {
		policy := decision.NewPolicy(rc.Config.Agent)
		prop := policy.Evaluate(st.Name, decision.Signal{Status: "low_yield", YieldCount: n})
		if prop.Action != decision.ActionNone {
			if err := rc.Decisions.Record(decision.Entry{
				Step:      st.Name,
				Sample:    st.Sample,
				Risk:      prop.Risk,
				Action:    prop.Action,
				Rationale: prop.Rationale,
				Outcome:   "suggested",
				Params:    prop.Params,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func runContamination(ctx context.Context, rc *RunContext, st *Step) error {
	genesPath, tablePath, outPath := st.Outputs[0], st.Outputs[1], st.Outputs[2]
	if rc.Mock() {
		ids, err := fastaIDs(st.Inputs[0])
		if err != nil {
			return err
		}
		genes, table := mockBuscoOutputs(ids)
		if err := writeFileAtomic(genesPath, []byte(genes)); err != nil {
			return err
		}
		if err := writeFileAtomic(tablePath, []byte(table)); err != nil {
			return err
		}
	} else {
		work := st.WorkDir(rc.Layout)
		err := rc.Runner.Run(ctx, tools.Command{
			Tool: "busco",
			Argv: []string{binary(rc, "busco"), "-f",
				"-i", st.Inputs[0],
				"-c", fmt.Sprint(threads(rc)),
				"-o", work,
				"-m", "geno",
				"-l", param(rc, "busco_db"),
				"--offline",
			},
			LogPath: filepath.Join(work, "busco.log"),
		})
		if err != nil {
			return err
		}
		if err := copyFile(filepath.Join(work, "prodigal_output", "predicted_genes", "predicted.fna"), genesPath); err != nil {
			return err
		}
		table, err := filepath.Glob(filepath.Join(work, "run_*", "full_table.tsv"))
		if err != nil || len(table) == 0 {
			return fmt.Errorf("workflow: busco produced no full_table.tsv in %s", work)
		}
		if err := copyFile(table[0], tablePath); err != nil {
			return err
		}
	}

	genes, err := quality.GeneCounts(genesPath)
	if err != nil {
		return err
	}
	markers, err := quality.MarkerCounts(tablePath)
	if err != nil {
		return err
	}
	recs := quality.ContaminationRecords(genes, markers)
	kept, err := quality.FilterContamination(recs, rc.Config.Thresholds.ContaminationRatio)
	if err != nil {
		return err
	}

	// Survivors are renamed <sample>_<n> so ids stay unique when samples
	// merge into the library.
	in, err := fasta.ReadFile(st.Inputs[0])
	if err != nil {
		return err
	}
	var out []fasta.Record
	removed := 0
	for _, r := range in {
		if _, counted := genes[r.ID]; counted && !kept[r.ID] {
			removed++
			continue
		}
		out = append(out, fasta.Record{
			ID:  fmt.Sprintf("%s_%d", st.Sample, len(out)+1),
			Seq: r.Seq,
		})
	}
	if err := writeFastaAtomic(outPath, out); err != nil {
		return err
	}
	rc.Log.Printf("[%s] contamination filter removed %d contigs, %d remain", st.Name, removed, len(out))
	return rc.Decisions.Record(decision.Entry{
		Step:      st.Name,
		Sample:    st.Sample,
		Action:    decision.ActionReport,
		Rationale: fmt.Sprintf("%d contigs over marker ratio %v", removed, rc.Config.Thresholds.ContaminationRatio),
		Outcome:   "recorded",
	})
}

func runLibraryMerge(ctx context.Context, rc *RunContext, st *Step) error {
	bySample := make(map[string][]fasta.Record)
	excluded := make(map[string]string)
	for i, in := range st.Inputs {
		sampleID := sampleOfDep(st.Deps[i])
		if !artifact.Exists(in) {
			excluded[sampleID] = "terminal contig set missing, chain failed or was skipped"
			continue
		}
		recs, err := fasta.ReadFile(in)
		if err != nil {
			return err
		}
		bySample[sampleID] = recs
	}
	if len(bySample) == 0 {
		return &BarrierIncompleteError{Step: st.Name, Excluded: excluded}
	}

	merged := library.Merge(bySample)
	if err := writeFastaAtomic(st.Outputs[0], merged); err != nil {
		return err
	}

	for sampleID, reason := range excluded {
		if err := rc.Decisions.Record(decision.Entry{
			Step:      st.Name,
			Sample:    sampleID,
			Action:    decision.ActionReport,
			Rationale: "excluded from library: " + reason,
			Outcome:   "recorded",
		}); err != nil {
			return err
		}
	}
	rc.Log.Printf("[%s] merged %d sequences from %d samples (%d excluded)", st.Name, len(merged), len(bySample), len(excluded))
	return rc.Decisions.Record(decision.Entry{
		Step:      st.Name,
		Action:    decision.ActionReport,
		Rationale: fmt.Sprintf("library merge over %d samples, %d excluded", len(bySample), len(excluded)),
		Outcome:   "recorded",
	})
}

func sampleOfDep(dep string) string {
	if i := strings.Index(dep, "/"); i > 0 {
		return dep[:i]
	}
	return dep
}

func runDedup(ctx context.Context, rc *RunContext, st *Step) error {
	seqs, err := fasta.ReadFile(st.Inputs[0])
	if err != nil {
		return err
	}
	clusters, err := library.Dedup(seqs, rc.Config.Thresholds.Identity, rc.Config.Thresholds.Coverage)
	if err != nil {
		return err
	}
	reps := library.Representatives(clusters, seqs)
	if err := writeFastaAtomic(st.Outputs[0], reps); err != nil {
		return err
	}

	var table strings.Builder
	table.WriteString("votu\trepresentative\tmembers\n")
	for i, c := range clusters {
		table.WriteString(fmt.Sprintf("vOTU%d\t%s\t%s\n", i+1, c.Representative, strings.Join(c.Members, ",")))
	}
	if err := writeFileAtomic(st.Outputs[1], []byte(table.String())); err != nil {
		return err
	}
	rc.Log.Printf("[%s] %d sequences clustered into %d vOTUs", st.Name, len(seqs), len(clusters))
	return rc.Decisions.Record(decision.Entry{
		Step:      st.Name,
		Action:    decision.ActionReport,
		Rationale: fmt.Sprintf("%d sequences reduced to %d representatives", len(seqs), len(clusters)),
		Outcome:   "recorded",
	})
}

func runQuantify(ctx context.Context, rc *RunContext, st *Step) error {
	if rc.Mock() {
		reps, err := fasta.ReadFile(st.Inputs[0])
		if err != nil {
			return err
		}
		var table strings.Builder
		table.WriteString("votu\tlength\tmean_coverage\n")
		for _, r := range reps {
			// Deterministic stand-in derived from sequence length.
			table.WriteString(fmt.Sprintf("%s\t%d\t%.2f\n", r.ID, r.Len(), float64(r.Len()%97)))
		}
		return writeFileAtomic(st.Outputs[0], []byte(table.String()))
	}
	var argv []string
	argv = append(argv, binary(rc, "coverm"), "contig",
		"--reference", st.Inputs[0],
		"-t", fmt.Sprint(threads(rc)))
	for _, s := range rc.Samples {
		if s.Mode == sample.ModeReads {
			argv = append(argv, "--coupled", s.Input1, s.Input2)
		}
	}
	tmp := artifact.TempPath(st.Outputs[0])
	argv = append(argv, "-o", tmp)
	err := rc.Runner.Run(ctx, tools.Command{
		Tool:    "coverm",
		Argv:    argv,
		LogPath: filepath.Join(st.WorkDir(rc.Layout), "coverm.log"),
	})
	if err != nil {
		return err
	}
	return artifact.Promote(tmp, st.Outputs[0])
}

// RunSummary is the JSON document the summary step leaves behind.
type RunSummary struct {
	RunID          string            `json:"run_id"`
	Samples        []string          `json:"samples"`
	VOTUs          int               `json:"votus"`
	AbundanceBuilt bool              `json:"abundance_built"`
	Excluded       map[string]string `json:"excluded,omitempty"`
}

func runSummary(ctx context.Context, rc *RunContext, st *Step) error {
	reps, err := fasta.ReadFile(st.Inputs[0])
	if err != nil {
		return err
	}
	summary := RunSummary{
		RunID:          rc.RunID,
		VOTUs:          len(reps),
		AbundanceBuilt: artifact.Exists(st.Inputs[1]),
	}
	for _, s := range rc.Samples {
		summary.Samples = append(summary.Samples, s.ID)
	}
	sort.Strings(summary.Samples)

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(st.Outputs[0], data); err != nil {
		return err
	}
	return rc.Decisions.Record(decision.Entry{
		Step:      st.Name,
		Action:    decision.ActionReport,
		Rationale: fmt.Sprintf("run complete: %d vOTUs across %d samples", summary.VOTUs, len(summary.Samples)),
		Outcome:   "recorded",
	})
}

func fastaIDs(path string) ([]string, error) {
	recs, err := fasta.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids, nil
}

// BarrierIncompleteError reports a project step that found no surviving
// sample chains to work with.
type BarrierIncompleteError struct {
	Step     string
	Excluded map[string]string
}

func (e *BarrierIncompleteError) Error() string {
	return fmt.Sprintf("workflow: %s: no sample chain reached its terminal artifact (%d excluded)", e.Step, len(e.Excluded))
}
