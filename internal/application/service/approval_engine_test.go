package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
)

func TestValidatePhaseMissingRequiredOutput(t *testing.T) {
	r := newRig(t, withCriteria(`{"1": {"required_outputs": ["a.json"]}}`))

	allMet, passed, failed, err := r.approval.ValidatePhase(1, []string{})
	require.NoError(t, err)
	assert.False(t, allMet)
	assert.Empty(t, passed)
	assert.Equal(t, []string{"required output missing: a.json"}, failed)
}

func TestValidatePhaseRunsEveryCheck(t *testing.T) {
	r := newRig(t, withCriteria(`
"2":
  required_outputs: [out/report.json, out/missing.md]
  validation_checks:
    - {type: json_valid, path: out/report.json}
    - {type: metric_threshold, path: out/report.json, metric: score, min: 10}
    - {type: file_exists, path: out/other.txt}
`))
	r.writeFile(t, "out/report.json", `{"score": 5}`)

	allMet, passed, failed, err := r.approval.ValidatePhase(2, []string{"out/report.json"})
	require.NoError(t, err)
	assert.False(t, allMet)
	assert.Equal(t, []string{
		"required output present: out/report.json",
		"json_valid: out/report.json",
	}, passed)
	assert.Equal(t, []string{
		"required output missing: out/missing.md",
		"metric_threshold: score = 5 in out/report.json, below minimum 10",
		"file_exists: out/other.txt not found",
	}, failed)
}

func TestAutoApproveVacuousWithoutCriteria(t *testing.T) {
	r := newRig(t)
	r.complete(t, 0)

	report, err := r.approval.AutoApprove(0)
	require.NoError(t, err)
	assert.True(t, report.Approved)
	assert.True(t, report.CriteriaMet)

	status, _ := r.store.PhaseStatus(0)
	assert.Equal(t, execution.PhaseStatusApproved, status)
}

func TestAutoApproveIsIdempotent(t *testing.T) {
	r := newRig(t, withCriteria(`{"1": {"required_outputs": ["a.json", "b.json"], "validation_checks": [{"type": "json_valid", "path": "a.json"}]}}`))
	r.writeFile(t, "a.json", `{}`)
	r.complete(t, 1, "a.json")

	first, err := r.approval.AutoApprove(1)
	require.NoError(t, err)
	second, err := r.approval.AutoApprove(1)
	require.NoError(t, err)

	assert.False(t, first.Approved)
	assert.Equal(t, first.Phase, second.Phase)
	assert.Equal(t, first.Approved, second.Approved)
	assert.Equal(t, first.PassedChecks, second.PassedChecks)
	assert.Equal(t, first.FailedChecks, second.FailedChecks)

	count, _ := r.store.RetryCount(1)
	assert.Zero(t, count, "approval failures never consume retries")
	status, _ := r.store.PhaseStatus(1)
	assert.Equal(t, execution.PhaseStatusCompleted, status)
}

func TestAutoApproveRequiresCompletion(t *testing.T) {
	r := newRig(t)

	report, err := r.approval.AutoApprove(5)
	require.NoError(t, err)
	assert.False(t, report.Approved)
	assert.True(t, report.CriteriaMet)

	approved, _ := r.store.IsApproved(5)
	assert.False(t, approved)
}

func TestAutoApproveRevokesWhenCriteriaRegress(t *testing.T) {
	r := newRig(t, withCriteria(`{"0": {"validation_checks": [{"type": "file_not_empty", "path": "plan.md"}]}}`))
	r.writeFile(t, "plan.md", "plan")
	r.complete(t, 0, "plan.md")

	report, err := r.approval.AutoApprove(0)
	require.NoError(t, err)
	require.True(t, report.Approved)

	r.writeFile(t, "plan.md", "")
	report, err = r.approval.AutoApprove(0)
	require.NoError(t, err)
	assert.False(t, report.Approved)

	status, _ := r.store.PhaseStatus(0)
	assert.Equal(t, execution.PhaseStatusCompleted, status)
	require.NoError(t, r.store.Snapshot().Validate())
}

func TestCanAutoApprove(t *testing.T) {
	r := newRig(t, withCriteria(`{"3": {"required_outputs": ["x.md"]}}`))

	ok, reasons, err := r.approval.CanAutoApprove(3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"phase 3 is pending, not completed"}, reasons)

	r.complete(t, 3)
	ok, reasons, err = r.approval.CanAutoApprove(3)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"required output missing: x.md"}, reasons)

	require.NoError(t, r.store.AddOutput(3, "x.md"))
	ok, _, err = r.approval.CanAutoApprove(3)
	require.NoError(t, err)
	assert.True(t, ok)

	approved, _ := r.store.IsApproved(3)
	assert.False(t, approved, "CanAutoApprove persists nothing")
}
