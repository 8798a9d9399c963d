package app

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Journal event names
const (
	EventStatusChanged    = "status_changed"
	EventErrorRecorded    = "error_recorded"
	EventRetryIncremented = "retry_incremented"
	EventApprovalRecorded = "approval_recorded"
	EventPhaseReset       = "phase_reset"
	EventRunOutcome       = "run_outcome"
)

// JournalEvent is one line of journal.ndjson: a single phase transition or
// run-level event. The journal is append-only and never rewritten.
type JournalEvent struct {
	Ts          string   `json:"ts"`
	ExecutionID string   `json:"execution_id"`
	Phase       int      `json:"phase"`
	Event       string   `json:"event"`
	FromStatus  string   `json:"from_status,omitempty"`
	ToStatus    string   `json:"to_status,omitempty"`
	RetryCount  int      `json:"retry_count"`
	ErrorKind   string   `json:"error_kind,omitempty"`
	Message     string   `json:"message,omitempty"`
	Outputs     []string `json:"outputs,omitempty"`
}

// JournalWriter appends events to an NDJSON file
type JournalWriter struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
	now  func() time.Time
}

// NewJournalWriter creates a new JournalWriter instance
func NewJournalWriter(fs afero.Fs, path string) *JournalWriter {
	return &JournalWriter{fs: fs, path: path, now: time.Now}
}

// Path returns the journal location
func (w *JournalWriter) Path() string {
	return w.path
}

// Record appends one event, filling Ts when empty
func (w *JournalWriter) Record(event JournalEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if event.Ts == "" {
		event.Ts = w.now().UTC().Format(time.RFC3339Nano)
	}

	if err := w.fs.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("journal: create dir: %w", err)
	}

	f, err := w.fs.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open: %w", err)
	}
	defer f.Close()

	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("journal: marshal: %w", err)
	}

	bw := bufio.NewWriter(f)
	if _, err := bw.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("journal: write: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("journal: flush: %w", err)
	}

	// Best effort durability; the append itself already succeeded
	_ = f.Sync()

	return nil
}

// ReadJournal loads all events from path. A missing journal yields no events.
// Lines that fail to parse are skipped and counted.
func ReadJournal(fs afero.Fs, path string) ([]JournalEvent, int, error) {
	f, err := fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []JournalEvent{}, 0, nil
		}
		return nil, 0, fmt.Errorf("journal: open: %w", err)
	}
	defer f.Close()

	events := []JournalEvent{}
	skipped := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev JournalEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			skipped++
			continue
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("journal: scan: %w", err)
	}
	return events, skipped, nil
}

// FilterByPhase keeps only events of the given phase
func FilterByPhase(events []JournalEvent, phase int) []JournalEvent {
	out := []JournalEvent{}
	for _, ev := range events {
		if ev.Phase == phase {
			out = append(out, ev)
		}
	}
	return out
}
