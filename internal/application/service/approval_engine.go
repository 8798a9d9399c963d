package service

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/YoshitsuguKoike/deepipe/internal/app"
	"github.com/YoshitsuguKoike/deepipe/internal/app/state"
	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
	"github.com/YoshitsuguKoike/deepipe/internal/validator/artifact"
	"github.com/YoshitsuguKoike/deepipe/internal/workflow"
)

// ApprovalReport is the verdict of one approval pass
type ApprovalReport struct {
	Phase        int       `json:"phase"`
	Approved     bool      `json:"approved"`
	CriteriaMet  bool      `json:"criteria_met"`
	PassedChecks []string  `json:"passed_checks"`
	FailedChecks []string  `json:"failed_checks"`
	Timestamp    time.Time `json:"timestamp"`
}

// ApprovalEngine evaluates success criteria against recorded outputs and
// writes the verdict back to the store. Approval failures never touch
// retry_count.
type ApprovalEngine struct {
	store     *state.Store
	registry  *workflow.CriteriaRegistry
	validator *artifact.Validator
	logger    *zap.Logger
	now       func() time.Time
}

// NewApprovalEngine creates a new ApprovalEngine instance
func NewApprovalEngine(store *state.Store, registry *workflow.CriteriaRegistry, validator *artifact.Validator, logger *zap.Logger) *ApprovalEngine {
	if registry == nil {
		registry = workflow.EmptyRegistry()
	}
	return &ApprovalEngine{
		store:     store,
		registry:  registry,
		validator: validator,
		logger:    app.OrNop(logger),
		now:       time.Now,
	}
}

// ValidatePhase checks required outputs against outputs, then runs every
// validation check. Nothing short-circuits; allMet is true iff failed is empty.
func (e *ApprovalEngine) ValidatePhase(p int, outputs []string) (allMet bool, passed, failed []string, err error) {
	criteria, ok, err := e.registry.Criteria(p)
	if err != nil {
		return false, nil, nil, err
	}
	passed, failed = []string{}, []string{}
	if !ok {
		return true, passed, failed, nil
	}

	recorded := make(map[string]struct{}, len(outputs))
	for _, o := range outputs {
		recorded[execution.NormalizeOutputPath(o)] = struct{}{}
	}
	for _, req := range criteria.RequiredOutputs {
		if _, found := recorded[execution.NormalizeOutputPath(req)]; found {
			passed = append(passed, fmt.Sprintf("required output present: %s", req))
		} else {
			failed = append(failed, fmt.Sprintf("required output missing: %s", req))
		}
	}

	for _, res := range e.validator.RunAll(criteria.ValidationChecks) {
		if res.Passed {
			passed = append(passed, res.Message)
		} else {
			failed = append(failed, res.Message)
		}
	}
	return len(failed) == 0, passed, failed, nil
}

// AutoApprove validates the recorded outputs of p and persists the verdict.
// A completed phase that passes moves to approved; an approved phase that no
// longer passes falls back to completed. Calling it twice with unchanged
// outputs yields the same report apart from the timestamp.
func (e *ApprovalEngine) AutoApprove(p int) (*ApprovalReport, error) {
	outputs, err := e.store.Outputs(p)
	if err != nil {
		return nil, err
	}
	status, err := e.store.PhaseStatus(p)
	if err != nil {
		return nil, err
	}

	allMet, passed, failed, err := e.ValidatePhase(p, outputs)
	if err != nil {
		return nil, err
	}
	approved := allMet && status.IsDone()

	if err := e.store.SetApproved(p, approved, allMet); err != nil {
		return nil, err
	}
	switch {
	case approved && status == execution.PhaseStatusCompleted:
		err = e.store.SetPhaseStatus(p, execution.PhaseStatusApproved)
	case !approved && status == execution.PhaseStatusApproved:
		err = e.store.SetPhaseStatus(p, execution.PhaseStatusCompleted)
	}
	if err != nil {
		return nil, err
	}
	if err := e.store.Save(); err != nil {
		return nil, err
	}

	report := &ApprovalReport{
		Phase:        p,
		Approved:     approved,
		CriteriaMet:  allMet,
		PassedChecks: passed,
		FailedChecks: failed,
		Timestamp:    e.now().UTC(),
	}
	if approved {
		e.logger.Info("phase approved", zap.Int("phase", p), zap.Int("passed", len(passed)))
	} else {
		e.logger.Warn("phase not approved", zap.Int("phase", p), zap.Strings("failed_checks", failed))
	}
	return report, nil
}

// CanAutoApprove reports whether p is completed and currently meets its
// criteria, without persisting anything. reasons lists what blocks approval.
func (e *ApprovalEngine) CanAutoApprove(p int) (bool, []string, error) {
	status, err := e.store.PhaseStatus(p)
	if err != nil {
		return false, nil, err
	}
	if status != execution.PhaseStatusCompleted {
		return false, []string{fmt.Sprintf("phase %d is %s, not completed", p, status)}, nil
	}
	outputs, err := e.store.Outputs(p)
	if err != nil {
		return false, nil, err
	}
	allMet, _, failed, err := e.ValidatePhase(p, outputs)
	if err != nil {
		return false, nil, err
	}
	return allMet, failed, nil
}
