// Package state owns the persisted execution state (state.json).
//
// Store is the single source of truth for an execution: every other component
// reads and mutates phase records through it. The store is single-writer and
// holds no locks; running two processes against one snapshot results in
// last-write-wins and must be prevented by the caller.
package state

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/YoshitsuguKoike/deepipe/internal/app"
	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
	"github.com/YoshitsuguKoike/deepipe/internal/infra/persistence/file"
)

// Recorder receives every phase mutation (the journal implements it)
type Recorder interface {
	Record(event app.JournalEvent) error
}

// Store loads, mutates and saves one ExecutionState
type Store struct {
	fs       afero.Fs
	path     string
	logger   *zap.Logger
	recorder Recorder
	now      func() time.Time
	newID    func(time.Time) string

	state    *execution.ExecutionState
	fromDisk bool
}

// Option customizes the store
type Option func(*Store)

// WithLogger sets the logger used for load warnings
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = app.OrNop(l) }
}

// WithRecorder forwards mutations to r
func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

// WithClock injects a deterministic clock (primarily for tests)
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides execution ID generation
func WithIDGenerator(gen func(time.Time) string) Option {
	return func(s *Store) { s.newID = gen }
}

// NewStore creates a store for the snapshot at path. The store starts with a
// fresh in-memory state until Load is called.
func NewStore(fs afero.Fs, path string, opts ...Option) *Store {
	s := &Store{
		fs:     fs,
		path:   path,
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  newULID,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state = s.freshState()
	return s
}

func newULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

func (s *Store) freshState() *execution.ExecutionState {
	now := s.now().UTC()
	return execution.NewExecutionState(s.newID(now), now)
}

// Path returns the snapshot location
func (s *Store) Path() string {
	return s.path
}

// Load reads the snapshot. A missing or unparsable snapshot is not fatal: a
// fresh state is initialized and fresh=true is returned. A parsable snapshot
// that breaks the state invariants is returned as an error so that history is
// never discarded silently.
func (s *Store) Load() (fresh bool, err error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Warn("no state snapshot found, starting a new execution", zap.String("path", s.path))
			s.state = s.freshState()
			s.fromDisk = false
			return true, nil
		}
		return false, fmt.Errorf("state: read %s: %w", s.path, err)
	}

	var loaded execution.ExecutionState
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.logger.Warn("state snapshot is unparsable, prior history is discarded and a new execution starts",
			zap.String("path", s.path), zap.Error(err))
		s.state = s.freshState()
		s.fromDisk = false
		return true, nil
	}

	normalizeLoaded(&loaded)
	if err := loaded.Validate(); err != nil {
		return false, fmt.Errorf("state: %s: %w", s.path, err)
	}

	s.state = &loaded
	s.fromDisk = true
	return false, nil
}

// normalizeLoaded replaces null collections so callers never see nil slices
func normalizeLoaded(st *execution.ExecutionState) {
	for _, rec := range st.Phases {
		if rec == nil {
			continue
		}
		if rec.Outputs == nil {
			rec.Outputs = []string{}
		}
		if rec.Errors == nil {
			rec.Errors = []execution.ErrorEntry{}
		}
		if rec.Metadata == nil {
			rec.Metadata = map[string]interface{}{}
		}
	}
}

// Save rewrites the whole snapshot atomically and stamps last_updated
func (s *Store) Save() error {
	now := s.now().UTC()
	s.state.LastUpdated = &now
	if err := file.WriteJSONAtomic(s.fs, s.path, s.state); err != nil {
		return fmt.Errorf("state: save: %w", err)
	}
	return nil
}

// Snapshot returns a deep copy of the current state for pure readers
func (s *Store) Snapshot() *execution.ExecutionState {
	return s.state.Clone()
}

// ExecutionID returns the stable execution identifier
func (s *Store) ExecutionID() string {
	return s.state.ExecutionID
}

// CurrentPhase returns the phase the orchestrator is pinned at
func (s *Store) CurrentPhase() int {
	return s.state.CurrentPhase
}

// AdvanceTo moves current_phase forward. p may be LastPhase+1 once every
// phase is done. Moving backwards is only possible through ResetPhase.
func (s *Store) AdvanceTo(p int) error {
	if p < execution.FirstPhase || p > execution.LastPhase+1 {
		return execution.ErrPhaseOutOfRange.WithDetails(map[string]interface{}{"phase": p})
	}
	if p < s.state.CurrentPhase {
		return execution.ErrBackwardAdvance.WithDetails(map[string]interface{}{
			"current": s.state.CurrentPhase,
			"target":  p,
		})
	}
	s.state.CurrentPhase = p
	return nil
}

// OverallStatus returns the execution-level status
func (s *Store) OverallStatus() execution.OverallStatus {
	return s.state.OverallStatus
}

// SetOverallStatus updates the execution-level status
func (s *Store) SetOverallStatus(status execution.OverallStatus) error {
	if !status.IsValid() {
		return execution.ErrInvalidStatus.WithDetails(map[string]interface{}{"overall_status": string(status)})
	}
	s.state.OverallStatus = status
	return nil
}

// PhaseStatus returns the status of phase p
func (s *Store) PhaseStatus(p int) (execution.PhaseStatus, error) {
	rec, err := s.state.Phase(p)
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

// SetPhaseStatus changes the status of p and stamps started_at when entering
// in_progress and completed_at when entering completed, failed or approved.
// Leaving the done statuses clears the approval flag.
func (s *Store) SetPhaseStatus(p int, status execution.PhaseStatus) error {
	rec, err := s.state.Phase(p)
	if err != nil {
		return err
	}
	if !status.IsValid() {
		return execution.ErrInvalidStatus.WithDetails(map[string]interface{}{"status": string(status)})
	}

	from := rec.Status
	if from != status && !from.CanTransitionTo(status) {
		s.logger.Debug("phase status set outside the standard transitions",
			zap.Int("phase", p), zap.String("from", from.String()), zap.String("to", status.String()))
	}

	now := s.now().UTC()
	switch status {
	case execution.PhaseStatusInProgress:
		rec.StartedAt = &now
		rec.CompletedAt = nil
	case execution.PhaseStatusCompleted, execution.PhaseStatusFailed:
		rec.CompletedAt = &now
	case execution.PhaseStatusApproved:
		if rec.CompletedAt == nil {
			rec.CompletedAt = &now
		}
		rec.Approved = true
	}
	if !status.IsDone() {
		rec.Approved = false
	}
	rec.Status = status

	s.record(app.JournalEvent{
		Phase:      p,
		Event:      app.EventStatusChanged,
		FromStatus: from.String(),
		ToStatus:   status.String(),
		RetryCount: rec.RetryCount,
	})
	return nil
}

// AddOutput appends path to the outputs of p; already recorded paths are ignored
func (s *Store) AddOutput(p int, path string) error {
	rec, err := s.state.Phase(p)
	if err != nil {
		return err
	}
	if path == "" || rec.HasOutput(path) {
		return nil
	}
	rec.Outputs = append(rec.Outputs, path)
	return nil
}

// Outputs returns a copy of the recorded outputs of p, in recording order
func (s *Store) Outputs(p int) ([]string, error) {
	rec, err := s.state.Phase(p)
	if err != nil {
		return nil, err
	}
	return append([]string{}, rec.Outputs...), nil
}

// AddError appends a timestamped error message to p
func (s *Store) AddError(p int, msg string) error {
	return s.addError(p, msg, "")
}

// AddClassifiedError records an executor failure as "[kind] message"
func (s *Store) AddClassifiedError(p int, kind execution.ErrorKind, cause error) error {
	return s.addError(p, fmt.Sprintf("[%s] %v", kind, cause), kind.String())
}

func (s *Store) addError(p int, msg, kind string) error {
	rec, err := s.state.Phase(p)
	if err != nil {
		return err
	}
	rec.Errors = append(rec.Errors, execution.ErrorEntry{Message: msg, Timestamp: s.now().UTC()})
	s.record(app.JournalEvent{
		Phase:      p,
		Event:      app.EventErrorRecorded,
		RetryCount: rec.RetryCount,
		ErrorKind:  kind,
		Message:    msg,
	})
	return nil
}

// Errors returns a copy of the error history of p
func (s *Store) Errors(p int) ([]execution.ErrorEntry, error) {
	rec, err := s.state.Phase(p)
	if err != nil {
		return nil, err
	}
	return append([]execution.ErrorEntry{}, rec.Errors...), nil
}

// ClearErrors empties the error list of p
func (s *Store) ClearErrors(p int) error {
	rec, err := s.state.Phase(p)
	if err != nil {
		return err
	}
	rec.Errors = []execution.ErrorEntry{}
	return nil
}

// SetApproved records the approval verdict. approved=true requires the phase
// to be completed (or already approved).
func (s *Store) SetApproved(p int, approved, criteriaMet bool) error {
	rec, err := s.state.Phase(p)
	if err != nil {
		return err
	}
	if approved && !rec.Status.IsDone() {
		return execution.ErrApprovalRequiresCompletion.WithDetails(map[string]interface{}{
			"phase":  p,
			"status": rec.Status.String(),
		})
	}
	rec.Approved = approved
	rec.ApprovalCriteriaMet = criteriaMet
	s.record(app.JournalEvent{
		Phase:      p,
		Event:      app.EventApprovalRecorded,
		RetryCount: rec.RetryCount,
		Message:    fmt.Sprintf("approved=%t criteria_met=%t", approved, criteriaMet),
		Outputs:    append([]string{}, rec.Outputs...),
	})
	return nil
}

// IsApproved returns the approval flag of p
func (s *Store) IsApproved(p int) (bool, error) {
	rec, err := s.state.Phase(p)
	if err != nil {
		return false, err
	}
	return rec.Approved, nil
}

// IncrementRetry bumps the retry counter of p and returns the new value
func (s *Store) IncrementRetry(p int) (int, error) {
	rec, err := s.state.Phase(p)
	if err != nil {
		return 0, err
	}
	rec.RetryCount++
	s.record(app.JournalEvent{
		Phase:      p,
		Event:      app.EventRetryIncremented,
		RetryCount: rec.RetryCount,
	})
	return rec.RetryCount, nil
}

// RetryCount returns the retry counter of p
func (s *Store) RetryCount(p int) (int, error) {
	rec, err := s.state.Phase(p)
	if err != nil {
		return 0, err
	}
	return rec.RetryCount, nil
}

// SetMetadata stores a key/value pair in the metadata bag of p
func (s *Store) SetMetadata(p int, key string, value interface{}) error {
	rec, err := s.state.Phase(p)
	if err != nil {
		return err
	}
	rec.Metadata[key] = value
	return nil
}

// Metadata returns a copy of the metadata bag of p
func (s *Store) Metadata(p int) (map[string]interface{}, error) {
	rec, err := s.state.Phase(p)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(rec.Metadata))
	for k, v := range rec.Metadata {
		out[k] = v
	}
	return out, nil
}

// CompletedPhases returns the sorted phases whose status is completed or approved
func (s *Store) CompletedPhases() []int {
	return s.state.CompletedPhases()
}

// ProgressPercentage returns completed/16*100
func (s *Store) ProgressPercentage() float64 {
	return s.state.ProgressPercentage()
}

// CanResume reports whether a persisted, unfinished execution was loaded
func (s *Store) CanResume() bool {
	return s.fromDisk && s.state.OverallStatus != execution.OverallCompleted
}

// ResetPhase puts p back to pending: errors, retry count, outputs, timestamps
// and the approval verdict are cleared. If the execution is already past p,
// current_phase moves back to p. This is the only backwards move.
func (s *Store) ResetPhase(p int) error {
	rec, err := s.state.Phase(p)
	if err != nil {
		return err
	}
	from := rec.Status

	rec.Status = execution.PhaseStatusPending
	rec.StartedAt = nil
	rec.CompletedAt = nil
	rec.Approved = false
	rec.ApprovalCriteriaMet = false
	rec.Outputs = []string{}
	rec.Errors = []execution.ErrorEntry{}
	rec.RetryCount = 0
	rec.Metadata["last_reset_at"] = s.now().UTC().Format(time.RFC3339Nano)

	if p < s.state.CurrentPhase {
		s.state.CurrentPhase = p
	}
	if s.state.OverallStatus == execution.OverallCompleted {
		s.state.OverallStatus = execution.OverallInProgress
	}

	s.record(app.JournalEvent{
		Phase:      p,
		Event:      app.EventPhaseReset,
		FromStatus: from.String(),
		ToStatus:   execution.PhaseStatusPending.String(),
	})
	return nil
}

// Record forwards a run-level event to the recorder
func (s *Store) Record(event app.JournalEvent) {
	s.record(event)
}

func (s *Store) record(event app.JournalEvent) {
	if s.recorder == nil {
		return
	}
	event.ExecutionID = s.state.ExecutionID
	if err := s.recorder.Record(event); err != nil {
		s.logger.Warn("failed to append journal event", zap.String("event", event.Event), zap.Error(err))
	}
}
