package execution

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/text/unicode/norm"
)

const (
	// FirstPhase is the lowest phase number
	FirstPhase = 0
	// LastPhase is the highest phase number
	LastPhase = 15
	// PhaseCount is the fixed number of phase slots in every execution
	PhaseCount = LastPhase - FirstPhase + 1
)

// ErrorEntry is one recorded executor failure
type ErrorEntry struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// PhaseRecord is the persisted record of one phase
type PhaseRecord struct {
	Status              PhaseStatus            `json:"status"`
	StartedAt           *time.Time             `json:"started_at"`
	CompletedAt         *time.Time             `json:"completed_at"`
	Approved            bool                   `json:"approved"`
	ApprovalCriteriaMet bool                   `json:"approval_criteria_met"`
	Outputs             []string               `json:"outputs"`
	Errors              []ErrorEntry           `json:"errors"`
	RetryCount          int                    `json:"retry_count"`
	Metadata            map[string]interface{} `json:"metadata"`
}

// NewPhaseRecord returns a pending record with empty collections
func NewPhaseRecord() *PhaseRecord {
	return &PhaseRecord{
		Status:   PhaseStatusPending,
		Outputs:  []string{},
		Errors:   []ErrorEntry{},
		Metadata: map[string]interface{}{},
	}
}

// HasOutput reports whether path (after normalization) is already recorded
func (r *PhaseRecord) HasOutput(path string) bool {
	want := NormalizeOutputPath(path)
	for _, o := range r.Outputs {
		if NormalizeOutputPath(o) == want {
			return true
		}
	}
	return false
}

// ExecutionState is the complete persisted state of one pipeline execution.
// Phase keys are encoded as JSON object keys "0".."15".
type ExecutionState struct {
	ExecutionID   string               `json:"execution_id"`
	StartedAt     time.Time            `json:"started_at"`
	CurrentPhase  int                  `json:"current_phase"`
	OverallStatus OverallStatus        `json:"overall_status"`
	Phases        map[int]*PhaseRecord `json:"phases"`
	LastUpdated   *time.Time           `json:"last_updated,omitempty"`
}

// NewExecutionState creates a fresh state with all 16 phase slots pending
func NewExecutionState(id string, startedAt time.Time) *ExecutionState {
	phases := make(map[int]*PhaseRecord, PhaseCount)
	for p := FirstPhase; p <= LastPhase; p++ {
		phases[p] = NewPhaseRecord()
	}
	return &ExecutionState{
		ExecutionID:   id,
		StartedAt:     startedAt,
		CurrentPhase:  FirstPhase,
		OverallStatus: OverallPending,
		Phases:        phases,
	}
}

// CheckPhase returns ErrPhaseOutOfRange when p is not a valid phase number
func CheckPhase(p int) error {
	if p < FirstPhase || p > LastPhase {
		return ErrPhaseOutOfRange.WithDetails(map[string]interface{}{"phase": p})
	}
	return nil
}

// Phase returns the record for p
func (s *ExecutionState) Phase(p int) (*PhaseRecord, error) {
	if err := CheckPhase(p); err != nil {
		return nil, err
	}
	rec, ok := s.Phases[p]
	if !ok {
		return nil, ErrInvalidState.WithDetails(map[string]interface{}{"missing_phase": p})
	}
	return rec, nil
}

// CompletedPhases returns the sorted phase numbers whose status is completed or approved
func (s *ExecutionState) CompletedPhases() []int {
	done := []int{}
	for p, rec := range s.Phases {
		if rec.Status.IsDone() {
			done = append(done, p)
		}
	}
	sort.Ints(done)
	return done
}

// ProgressPercentage returns completed/16*100
func (s *ExecutionState) ProgressPercentage() float64 {
	return float64(len(s.CompletedPhases())) / float64(PhaseCount) * 100
}

// Validate checks the structural invariants of the state
func (s *ExecutionState) Validate() error {
	var errs []error
	if s.ExecutionID == "" {
		errs = append(errs, errors.New("execution_id is required"))
	}
	if !s.OverallStatus.IsValid() {
		errs = append(errs, fmt.Errorf("invalid overall_status %q", s.OverallStatus))
	}
	if s.CurrentPhase < FirstPhase || s.CurrentPhase > LastPhase+1 {
		errs = append(errs, fmt.Errorf("current_phase %d out of range", s.CurrentPhase))
	}
	if len(s.Phases) != PhaseCount {
		errs = append(errs, fmt.Errorf("expected %d phase slots, found %d", PhaseCount, len(s.Phases)))
	}
	for p := FirstPhase; p <= LastPhase; p++ {
		rec, ok := s.Phases[p]
		if !ok || rec == nil {
			errs = append(errs, fmt.Errorf("phase %d: slot missing", p))
			continue
		}
		if !rec.Status.IsValid() {
			errs = append(errs, fmt.Errorf("phase %d: invalid status %q", p, rec.Status))
		}
		if rec.Approved && !rec.Status.IsDone() {
			errs = append(errs, fmt.Errorf("phase %d: approved while status is %s", p, rec.Status))
		}
		if rec.RetryCount < 0 {
			errs = append(errs, fmt.Errorf("phase %d: negative retry_count", p))
		}
		seen := make(map[string]struct{}, len(rec.Outputs))
		for _, o := range rec.Outputs {
			key := NormalizeOutputPath(o)
			if _, dup := seen[key]; dup {
				errs = append(errs, fmt.Errorf("phase %d: duplicate output %q", p, o))
			}
			seen[key] = struct{}{}
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidState, errors.Join(errs...))
}

// Clone returns a deep copy so pure readers cannot mutate the store's state
func (s *ExecutionState) Clone() *ExecutionState {
	out := *s
	if s.LastUpdated != nil {
		t := *s.LastUpdated
		out.LastUpdated = &t
	}
	out.Phases = make(map[int]*PhaseRecord, len(s.Phases))
	for p, rec := range s.Phases {
		out.Phases[p] = rec.clone()
	}
	return &out
}

func (r *PhaseRecord) clone() *PhaseRecord {
	c := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		c.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	c.Outputs = append([]string{}, r.Outputs...)
	c.Errors = append([]ErrorEntry{}, r.Errors...)
	c.Metadata = make(map[string]interface{}, len(r.Metadata))
	for k, v := range r.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// NormalizeOutputPath canonicalizes an artifact path for duplicate detection
func NormalizeOutputPath(path string) string {
	if path == "" {
		return ""
	}
	return filepath.ToSlash(filepath.Clean(norm.NFC.String(path)))
}
