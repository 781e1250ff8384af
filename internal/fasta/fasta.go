// Package fasta provides streaming FASTA input/output for the pipeline's
// in-process filtering steps. Record IDs are the first whitespace-delimited
// token of the header line, matching how every downstream table refers to
// sequences.
package fasta

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Record is one FASTA entry.
type Record struct {
	ID  string
	Seq []byte
}

// Len returns the sequence length in bases.
func (r Record) Len() int { return len(r.Seq) }

// Read parses all records from r.
func Read(r io.Reader) ([]Record, error) {
	var records []Record
	var current *Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			tokens := bytes.Fields(line[1:])
			if len(tokens) == 0 {
				return nil, fmt.Errorf("fasta: header without a sequence id")
			}
			records = append(records, Record{ID: string(tokens[0])})
			current = &records[len(records)-1]
			continue
		}
		if current == nil {
			return nil, fmt.Errorf("fasta: sequence data before first header")
		}
		current.Seq = append(current.Seq, bytes.TrimSpace(line)...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("fasta: %w", err)
	}
	return records, nil
}

// ReadFile parses all records from the file at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	records, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// Write emits records in single-line sequence form.
func Write(w io.Writer, records []Record) error {
	bw := bufio.NewWriter(w)
	for _, rec := range records {
		if _, err := fmt.Fprintf(bw, ">%s\n%s\n", rec.ID, rec.Seq); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile writes records to path, creating parent directories as needed.
func WriteFile(path string, records []Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// FilterFile streams records from inPath to outPath, keeping those whose ID
// satisfies keep. The input is never fully loaded into memory.
func FilterFile(inPath, outPath string, keep func(id string) bool) (kept int, err error) {
	in, err := os.Open(inPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return 0, err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriter(out)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	writing := false
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) > 0 && line[0] == '>' {
			id := string(bytes.Fields(line[1:])[0])
			writing = keep(id)
			if writing {
				kept++
			}
		}
		if writing {
			if _, err := bw.Write(line); err != nil {
				return kept, err
			}
			if err := bw.WriteByte('\n'); err != nil {
				return kept, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return kept, fmt.Errorf("fasta: %s: %w", inPath, err)
	}
	return kept, bw.Flush()
}
