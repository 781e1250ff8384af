// Package decision records every scheduling and filtering decision a run
// makes, graded by risk. The log is append-only JSON lines, one file per
// run, replayable for audit.
package decision

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Risk grades a decision. High actions execute work with side effects and
// need operator confirmation or an auto-approve flag; Low entries are
// advisory or read-only and may be recorded without confirmation.
type Risk string

const (
	RiskLow  Risk = "low"
	RiskHigh Risk = "high"
)

// Action names what a decision does.
type Action string

const (
	ActionNone              Action = "noop"
	ActionRetry             Action = "retry"
	ActionEscalateResources Action = "escalate-resources"
	ActionCancel            Action = "cancel"
	ActionRelaxThresholds   Action = "relax-thresholds"
	ActionManualReview      Action = "manual-review"
	ActionReport            Action = "report"
)

// Classify assigns exactly one risk tier to every action. Side-effecting
// actions are High; advisory and reporting actions are Low. Unrecognized
// actions are graded High so nothing unknown runs unconfirmed.
func Classify(a Action) Risk {
	switch a {
	case ActionRetry, ActionEscalateResources, ActionCancel:
		return RiskHigh
	case ActionNone, ActionRelaxThresholds, ActionManualReview, ActionReport:
		return RiskLow
	}
	return RiskHigh
}

// Entry is one immutable log line.
type Entry struct {
	Timestamp time.Time         `json:"timestamp"`
	Step      string            `json:"step"`
	Sample    string            `json:"sample,omitempty"`
	Risk      Risk              `json:"risk"`
	Action    Action            `json:"action"`
	Rationale string            `json:"rationale"`
	Outcome   string            `json:"outcome"`
	Params    map[string]string `json:"params,omitempty"`
}

// Log appends entries to one file for the lifetime of a run. Concurrent
// writers are serialized so each line stays intact.
type Log struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// Open creates or appends to the decision log at path.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("decision: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("decision: %w", err)
	}
	return &Log{f: f, w: bufio.NewWriter(f)}, nil
}

// Record appends one entry. The timestamp is stamped at write time when
// unset, and the risk tier is derived from the action when unset so every
// written line carries exactly one tier.
func (l *Log) Record(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Risk == "" {
		e.Risk = Classify(e.Action)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("decision: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("decision: %w", err)
	}
	return l.w.Flush()
}

// Close flushes and closes the log file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Flush(); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}

// Replay reads a decision log back in write order.
func Replay(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decision: %w", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("decision: %s line %d: %w", path, line, err)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("decision: %s: %w", path, err)
	}
	return entries, nil
}
