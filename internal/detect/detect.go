// Package detect normalizes the native output of each virus detector into
// one record type. Each tool has its own grammar; the adapter set is closed
// and selected by tool name.
package detect

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/JustinRaoV/GutMicrobe-Virus/internal/config"
)

// Record is one detector's verdict on one sequence.
type Record struct {
	SequenceID string
	Tool       string
	Hit        bool
	Score      float64
	HasScore   bool
}

// ParseError reports a hard parser failure: the file exists but could not
// be read or does not match the tool's schema. An absent or empty output
// file is not an error, it is an empty record set.
type ParseError struct {
	Tool string
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("detect: %s output %s: %v", e.Tool, e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parser reads one tool's raw output file into normalized records.
type Parser interface {
	Tool() string
	Parse(path string) ([]Record, error)
}

// NewParser returns the adapter for tool. The set of supported tools is
// fixed; an unknown name is a configuration error.
func NewParser(tool string, th config.ThresholdsConfig) (Parser, error) {
	switch tool {
	case "virsorter":
		return virsorterParser{}, nil
	case "genomad":
		return genomadParser{}, nil
	case "dvf":
		return dvfParser{minScore: th.DVFScore, maxPValue: th.DVFPValue}, nil
	case "vibrant":
		return listParser{tool: "vibrant"}, nil
	case "blastn":
		return blastnParser{minPident: th.BlastnPident, maxEvalue: th.BlastnEvalue, minQcovs: th.BlastnQcovs}, nil
	case "checkv":
		return listParser{tool: "checkv"}, nil
	}
	return nil, fmt.Errorf("detect: no parser for tool %q", tool)
}

// Parsers builds the adapters for every enabled tool in cfg.
func Parsers(cfg config.Config) (map[string]Parser, error) {
	out := make(map[string]Parser)
	for _, tool := range cfg.EnabledTools() {
		p, err := NewParser(tool, cfg.Thresholds)
		if err != nil {
			return nil, err
		}
		out[tool] = p
	}
	return out, nil
}

// openOutput opens a raw output file. A missing file yields (nil, nil) so
// callers can treat it as zero records.
func openOutput(tool, path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &ParseError{Tool: tool, Path: path, Err: err}
	}
	return f, nil
}

func sortRecords(recs []Record) []Record {
	sort.Slice(recs, func(i, j int) bool { return recs[i].SequenceID < recs[j].SequenceID })
	return recs
}

// virsorterParser reads final-viral-score.tsv. The first column carries
// the contig name with a "||type" suffix that must be stripped; max_score
// is taken when the column is present.
type virsorterParser struct{}

func (virsorterParser) Tool() string { return "virsorter" }

func (p virsorterParser) Parse(path string) ([]Record, error) {
	rows, header, err := readTable(p.Tool(), path, "seqname", "max_score")
	if err != nil || rows == nil {
		return nil, err
	}
	scoreCol := columnIndex(header, "max_score")
	seen := make(map[string]bool)
	var recs []Record
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		id, _, _ := strings.Cut(row[0], "|")
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		rec := Record{SequenceID: id, Tool: p.Tool(), Hit: true}
		if scoreCol >= 0 && scoreCol < len(row) {
			if v, err := strconv.ParseFloat(row[scoreCol], 64); err == nil {
				rec.Score, rec.HasScore = v, true
			}
		}
		recs = append(recs, rec)
	}
	return sortRecords(recs), nil
}

// genomadParser reads the *_virus_summary.tsv table.
type genomadParser struct{}

func (genomadParser) Tool() string { return "genomad" }

func (p genomadParser) Parse(path string) ([]Record, error) {
	rows, header, err := readTable(p.Tool(), path, "seq_name", "virus_score")
	if err != nil || rows == nil {
		return nil, err
	}
	scoreCol := columnIndex(header, "virus_score")
	seen := make(map[string]bool)
	var recs []Record
	for _, row := range rows {
		if len(row) == 0 || row[0] == "" || seen[row[0]] {
			continue
		}
		seen[row[0]] = true
		rec := Record{SequenceID: row[0], Tool: p.Tool(), Hit: true}
		if scoreCol >= 0 && scoreCol < len(row) {
			if v, err := strconv.ParseFloat(row[scoreCol], 64); err == nil {
				rec.Score, rec.HasScore = v, true
			}
		}
		recs = append(recs, rec)
	}
	return sortRecords(recs), nil
}

// dvfParser reads *_dvfpred.txt: name, length, score, pvalue. A sequence
// counts as a hit when score exceeds the threshold and pvalue stays under
// it; other rows are kept as explicit misses.
type dvfParser struct {
	minScore  float64
	maxPValue float64
}

func (dvfParser) Tool() string { return "dvf" }

func (p dvfParser) Parse(path string) ([]Record, error) {
	f, err := openOutput(p.Tool(), path)
	if err != nil || f == nil {
		return nil, err
	}
	defer f.Close()

	var recs []Record
	seen := make(map[string]bool)
	sc := bufio.NewScanner(f)
	first := true
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, &ParseError{Tool: p.Tool(), Path: path, Err: fmt.Errorf("expected 4 columns, got %d", len(fields))}
		}
		score, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, &ParseError{Tool: p.Tool(), Path: path, Err: fmt.Errorf("bad score %q", fields[2])}
		}
		pvalue, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, &ParseError{Tool: p.Tool(), Path: path, Err: fmt.Errorf("bad pvalue %q", fields[3])}
		}
		if seen[fields[0]] {
			continue
		}
		seen[fields[0]] = true
		recs = append(recs, Record{
			SequenceID: fields[0],
			Tool:       p.Tool(),
			Hit:        score > p.minScore && pvalue < p.maxPValue,
			Score:      score,
			HasScore:   true,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, &ParseError{Tool: p.Tool(), Path: path, Err: err}
	}
	return sortRecords(recs), nil
}

// listParser reads outputs that are plain sequence-id lists, one per line.
// VIBRANT's phage list and the prefilter's viral contig list share this
// shape.
type listParser struct {
	tool string
}

func (p listParser) Tool() string { return p.tool }

func (p listParser) Parse(path string) ([]Record, error) {
	f, err := openOutput(p.tool, path)
	if err != nil || f == nil {
		return nil, err
	}
	defer f.Close()

	var recs []Record
	seen := make(map[string]bool)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || seen[fields[0]] {
			continue
		}
		seen[fields[0]] = true
		recs = append(recs, Record{SequenceID: fields[0], Tool: p.tool, Hit: true})
	}
	if err := sc.Err(); err != nil {
		return nil, &ParseError{Tool: p.tool, Path: path, Err: err}
	}
	return sortRecords(recs), nil
}

// blastnParser reads tabular (outfmt 6) alignments. The first five columns
// are qseqid, sseqid, pident, evalue, qcovs; an alignment counts as a hit
// when it clears the identity, evalue and query-coverage thresholds. One
// record per query, keeping the best-identity passing alignment.
type blastnParser struct {
	minPident float64
	maxEvalue float64
	minQcovs  float64
}

func (blastnParser) Tool() string { return "blastn" }

func (p blastnParser) Parse(path string) ([]Record, error) {
	f, err := openOutput(p.Tool(), path)
	if err != nil || f == nil {
		return nil, err
	}
	defer f.Close()

	best := make(map[string]Record)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 5 {
			return nil, &ParseError{Tool: p.Tool(), Path: path, Err: fmt.Errorf("expected >= 5 columns, got %d", len(fields))}
		}
		pident, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, &ParseError{Tool: p.Tool(), Path: path, Err: fmt.Errorf("bad pident %q", fields[2])}
		}
		evalue, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, &ParseError{Tool: p.Tool(), Path: path, Err: fmt.Errorf("bad evalue %q", fields[3])}
		}
		qcovs, err := strconv.ParseFloat(fields[4], 64)
		if err != nil {
			return nil, &ParseError{Tool: p.Tool(), Path: path, Err: fmt.Errorf("bad qcovs %q", fields[4])}
		}
		hit := pident >= p.minPident && evalue <= p.maxEvalue && qcovs >= p.minQcovs
		rec := Record{SequenceID: fields[0], Tool: p.Tool(), Hit: hit, Score: pident, HasScore: true}
		prev, ok := best[fields[0]]
		if !ok || betterAlignment(rec, prev) {
			best[fields[0]] = rec
		}
	}
	if err := sc.Err(); err != nil {
		return nil, &ParseError{Tool: p.Tool(), Path: path, Err: err}
	}
	recs := make([]Record, 0, len(best))
	for _, rec := range best {
		recs = append(recs, rec)
	}
	return sortRecords(recs), nil
}

func betterAlignment(a, b Record) bool {
	if a.Hit != b.Hit {
		return a.Hit
	}
	return a.Score > b.Score
}

// readTable reads a tab-separated file with a header row. It returns
// (nil, nil, nil) for an absent or empty file. A present header must carry
// every required column or the file does not match the tool's schema.
func readTable(tool, path string, required ...string) (rows [][]string, header []string, err error) {
	f, err := openOutput(tool, path)
	if err != nil || f == nil {
		return nil, nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if header == nil {
			header = fields
			for _, col := range required {
				if columnIndex(header, col) < 0 {
					return nil, nil, &ParseError{Tool: tool, Path: path, Err: fmt.Errorf("header is missing column %q", col)}
				}
			}
			continue
		}
		if len(fields) != len(header) {
			return nil, nil, &ParseError{Tool: tool, Path: path, Err: fmt.Errorf("row has %d columns, header has %d", len(fields), len(header))}
		}
		rows = append(rows, fields)
	}
	if err := sc.Err(); err != nil {
		return nil, nil, &ParseError{Tool: tool, Path: path, Err: err}
	}
	return rows, header, nil
}

func columnIndex(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}
