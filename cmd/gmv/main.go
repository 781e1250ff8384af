// cmd/gmv/main.go
//
// Entry point for the gmv pipeline CLI.
//
// Subcommands:
//   run      execute the pipeline for a sample sheet
//   plan     show which steps a run would execute, without running them
//   replay   print the decision log of a finished or running run
//   monitor  attach the terminal monitor to a running pipeline

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/JustinRaoV/GutMicrobe-Virus/internal/artifact"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/config"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/decision"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/logging"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/resources"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/sample"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/tools"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/tui"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/workflow"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/workflow/engine"
	"github.com/JustinRaoV/GutMicrobe-Virus/internal/workflow/graph"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "run":
		cmdRun(os.Args[2:])
	case "plan":
		cmdPlan(os.Args[2:])
	case "replay":
		cmdReplay(os.Args[2:])
	case "monitor":
		cmdMonitor(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "gmv: unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: gmv <command> [flags]

commands:
  run      execute the pipeline for a sample sheet
  plan     show which steps would run, without executing them
  replay   print a run's decision log
  monitor  attach the terminal monitor to a run

run 'gmv <command> -h' for command flags`)
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "gmv: "+format+"\n", args...)
	os.Exit(1)
}

// runFlags are the flags shared by run and plan.
type runFlags struct {
	configPath string
	sheetPath  string
	runID      string
	mock       bool
	force      stringList
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func bindRunFlags(fs *flag.FlagSet, rf *runFlags) {
	fs.StringVar(&rf.configPath, "config", "", "path to the pipeline YAML config (built-in defaults when empty)")
	fs.StringVar(&rf.sheetPath, "samples", "", "path to the sample sheet (overrides the config)")
	fs.StringVar(&rf.runID, "run-id", "", "run identifier (resume an existing run, or a fresh UUID)")
	fs.BoolVar(&rf.mock, "mock", false, "run with deterministic in-process tool stand-ins")
	fs.Var(&rf.force, "force", "step to re-run even if its artifacts are fresh (repeatable)")
}

func setup(rf runFlags) (*workflow.RunContext, *graph.Graph) {
	cfg := config.Default()
	if rf.configPath != "" {
		var err error
		cfg, err = config.Load(rf.configPath)
		if err != nil {
			die("%v", err)
		}
	}
	if rf.mock {
		cfg.Execution.MockMode = true
	}

	sheet := rf.sheetPath
	if sheet == "" {
		sheet = cfg.Execution.SampleSheet
	}
	if sheet == "" {
		die("no sample sheet: pass -samples or set execution.sample_sheet")
	}
	samples, err := sample.LoadSheet(sheet)
	if err != nil {
		die("%v", err)
	}

	runID := rf.runID
	if runID == "" {
		runID = cfg.Execution.RunID
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	layout := workflow.Layout{
		ResultsDir: cfg.Execution.ResultsDir,
		WorkDir:    cfg.Execution.WorkDir,
		RunID:      runID,
	}
	if err := layout.Initialize(); err != nil {
		die("%v", err)
	}

	log, err := logging.New(layout.RunDir())
	if err != nil {
		die("%v", err)
	}
	decisions, err := decision.Open(layout.DecisionLogPath())
	if err != nil {
		die("%v", err)
	}
	store, err := artifact.NewStore(layout.StateDir())
	if err != nil {
		die("%v", err)
	}

	rc := &workflow.RunContext{
		Config:    cfg,
		RunID:     runID,
		Layout:    layout,
		Samples:   samples,
		Log:       log,
		Decisions: decisions,
		Estimator: resources.New(cfg.Resources),
		Store:     store,
		Runner:    tools.ExecRunner{},
	}

	steps := workflow.Build(cfg, samples, layout)
	g, err := graph.New(steps, store)
	if err != nil {
		die("%v", err)
	}
	for _, name := range rf.force {
		g.Force(name)
	}
	return rc, g
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("gmv run", flag.ExitOnError)
	var rf runFlags
	bindRunFlags(fs, &rf)
	fs.Parse(args)

	rc, g := setup(rf)
	defer rc.Log.Close()
	defer rc.Decisions.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("run %s: %d samples, %d steps\n", rc.RunID, len(rc.Samples), len(g.Snapshot()))
	summary, err := engine.New(g, rc).Run(ctx)
	if err != nil {
		if summary != nil {
			printSummary(summary)
		}
		die("%v", err)
	}
	printSummary(summary)

	for _, status := range summary.Samples {
		if status == workflow.StatusFailed {
			os.Exit(1)
		}
	}
}

func printSummary(s *engine.Summary) {
	ids := make([]string, 0, len(s.Samples))
	for id := range s.Samples {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Printf("run %s finished\n", s.RunID)
	for _, id := range ids {
		fmt.Printf("  %-24s %s\n", id, s.Samples[id])
	}
	for _, st := range s.Steps {
		if st.Status == workflow.StatusFailed {
			fmt.Printf("  failed: %s (%s)\n", st.Name, st.Reason)
		}
	}
}

func cmdPlan(args []string) {
	fs := flag.NewFlagSet("gmv plan", flag.ExitOnError)
	var rf runFlags
	bindRunFlags(fs, &rf)
	fs.Parse(args)

	rc, g := setup(rf)
	defer rc.Log.Close()
	defer rc.Decisions.Close()

	plan, err := g.Plan()
	if err != nil {
		die("%v", err)
	}
	if len(plan) == 0 {
		fmt.Printf("run %s: everything is up to date\n", rc.RunID)
		return
	}
	fmt.Printf("run %s: %d steps would run\n", rc.RunID, len(plan))
	for _, name := range plan {
		fmt.Printf("  %s\n", name)
	}
}

func cmdReplay(args []string) {
	fs := flag.NewFlagSet("gmv replay", flag.ExitOnError)
	logPath := fs.String("log", "", "path to a decisions.jsonl file")
	resultsDir := fs.String("results", "results", "results directory")
	runID := fs.String("run-id", "", "run identifier")
	fs.Parse(args)

	path := *logPath
	if path == "" {
		if *runID == "" {
			die("pass -log, or -results with -run-id")
		}
		layout := workflow.Layout{ResultsDir: *resultsDir, RunID: *runID}
		path = layout.DecisionLogPath()
	}
	entries, err := decision.Replay(path)
	if err != nil {
		die("%v", err)
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s  %-4s %-20s %-30s %s",
			e.Timestamp.Format("2006-01-02 15:04:05"), e.Risk, e.Action, e.Step, e.Rationale)
		if e.Outcome != "" {
			line += " [" + e.Outcome + "]"
		}
		fmt.Println(line)
	}
}

func cmdMonitor(args []string) {
	fs := flag.NewFlagSet("gmv monitor", flag.ExitOnError)
	resultsDir := fs.String("results", "results", "results directory")
	runID := fs.String("run-id", "", "run identifier")
	fs.Parse(args)

	if *runID == "" {
		die("-run-id is required")
	}
	layout := workflow.Layout{ResultsDir: *resultsDir, RunID: *runID}
	if err := tui.Run(layout.StatusSnapshotPath(), layout.DecisionLogPath()); err != nil {
		die("%v", err)
	}
}
