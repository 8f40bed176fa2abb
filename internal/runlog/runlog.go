// Package runlog writes one JSON object per pipeline stage (lex, parse,
// purify, lint, emit, inspect) to a log file, so a CI run can be replayed
// from its audit trail without re-invoking the CLI.
package runlog

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/bashrs-dev/bashrs/internal/diagnostic"
)

// Entry is one line of the run log.
type Entry struct {
	Time        time.Time              `json:"time"`
	Stage       string                 `json:"stage"`
	OK          bool                   `json:"ok"`
	Rewrites    int                    `json:"rewrites,omitempty"`
	Diagnostics []diagnostic.Diagnostic `json:"diagnostics,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// Logger appends Entry values as newline-delimited JSON to a single file,
// serializing writes the way a shared audit log must.
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

// Open appends to (or creates) the run log at path.
func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Logger{file: f}, nil
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	return l.file.Close()
}

// Record appends one stage's outcome.
func (l *Logger) Record(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	enc := json.NewEncoder(l.file)
	return enc.Encode(e)
}

// StageOK is a convenience for the common success case.
func (l *Logger) StageOK(stage string, rewrites int, diags []diagnostic.Diagnostic) error {
	return l.Record(Entry{Time: time.Now(), Stage: stage, OK: true, Rewrites: rewrites, Diagnostics: diags})
}

// StageFailed records a stage that returned an error.
func (l *Logger) StageFailed(stage string, err error) error {
	return l.Record(Entry{Time: time.Now(), Stage: stage, OK: false, Error: err.Error()})
}
