// Package sample parses and validates the run's sample sheet. The sheet is
// a tab-separated table with one row per sample; the rest of the pipeline
// consumes the validated Sample list and never re-reads the file.
package sample

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Mode declares the kind of raw input a sample provides.
type Mode string

const (
	// ModeReads samples provide paired sequencing reads and go through the
	// full upstream chain (preprocess, host removal, assembly).
	ModeReads Mode = "reads"
	// ModeContigs samples provide pre-assembled contigs and skip assembly.
	ModeContigs Mode = "contigs"
)

// Sample is one row of the sample sheet. Immutable after parsing.
type Sample struct {
	ID     string
	Mode   Mode
	Input1 string
	Input2 string
	// Host names the host genome index used for read removal. Empty means
	// the host-removal stage is skipped for this sample.
	Host string
}

// SheetError reports a malformed sample sheet. Sheet errors are fatal
// configuration errors: the run must not start on a partial sample list.
type SheetError struct {
	Path   string
	Line   int
	Reason string
}

func (e *SheetError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("sample sheet %s line %d: %s", e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("sample sheet %s: %s", e.Path, e.Reason)
}

var requiredColumns = []string{"sample", "mode", "input1"}

// LoadSheet reads a tab-separated sample sheet. Columns: sample, mode,
// input1, input2 (required iff mode=reads), host (optional). Relative input
// paths are resolved against the sheet's directory.
func LoadSheet(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &SheetError{Path: path, Reason: err.Error()}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return nil, &SheetError{Path: path, Reason: "empty file"}
	}
	header := strings.Split(strings.TrimRight(scanner.Text(), "\r\n"), "\t")
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := col[name]; !ok {
			return nil, &SheetError{Path: path, Reason: fmt.Sprintf("missing required column %q", name)}
		}
	}

	base := filepath.Dir(path)
	var samples []Sample
	seen := make(map[string]bool)
	lineNo := 1
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		get := func(name string) string {
			i, ok := col[name]
			if !ok || i >= len(fields) {
				return ""
			}
			return strings.TrimSpace(fields[i])
		}

		s := Sample{
			ID:     get("sample"),
			Mode:   Mode(get("mode")),
			Input1: get("input1"),
			Input2: get("input2"),
			Host:   get("host"),
		}
		if s.ID == "" {
			return nil, &SheetError{Path: path, Line: lineNo, Reason: "missing sample id"}
		}
		if seen[s.ID] {
			return nil, &SheetError{Path: path, Line: lineNo, Reason: fmt.Sprintf("duplicate sample id %q", s.ID)}
		}
		seen[s.ID] = true
		switch s.Mode {
		case ModeReads:
			if s.Input2 == "" {
				return nil, &SheetError{Path: path, Line: lineNo, Reason: fmt.Sprintf("sample %q: mode=reads requires input2", s.ID)}
			}
		case ModeContigs:
			// input2 ignored for contigs
		default:
			return nil, &SheetError{Path: path, Line: lineNo, Reason: fmt.Sprintf("sample %q: invalid mode %q", s.ID, s.Mode)}
		}
		if s.Input1 == "" {
			return nil, &SheetError{Path: path, Line: lineNo, Reason: fmt.Sprintf("sample %q: missing input1", s.ID)}
		}
		s.Input1 = resolve(base, s.Input1)
		if s.Input2 != "" {
			s.Input2 = resolve(base, s.Input2)
		}
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, &SheetError{Path: path, Reason: err.Error()}
	}
	if len(samples) == 0 {
		return nil, &SheetError{Path: path, Reason: "no samples declared"}
	}
	return samples, nil
}

func resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
