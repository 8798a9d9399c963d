package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
)

func TestRunCompletesAllPhases(t *testing.T) {
	r := newRig(t)
	o := r.orchestrator()

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)

	snap := r.store.Snapshot()
	assert.Equal(t, execution.OverallCompleted, snap.OverallStatus)
	assert.Equal(t, execution.LastPhase+1, snap.CurrentPhase)
	for p := execution.FirstPhase; p <= execution.LastPhase; p++ {
		assert.Equal(t, execution.PhaseStatusApproved, snap.Phases[p].Status, "phase %d", p)
		assert.True(t, snap.Phases[p].Approved)
	}
	assert.InDelta(t, 100.0, r.store.ProgressPercentage(), 1e-9)

	for to := 1; to <= execution.LastPhase; to++ {
		ok, err := afero.Exists(r.fs, r.handoff.Path(to))
		require.NoError(t, err)
		assert.True(t, ok, "handoff for phase %d", to)
	}
	ok, _ := afero.Exists(r.fs, "/work/.deepipe/var/handoffs/handoff_phase_16.json")
	assert.False(t, ok)
}

func TestRunRecordsOutputs(t *testing.T) {
	r := newRig(t, withCriteria(`{"0": {"required_outputs": ["docs/plan.md"], "validation_checks": [{"type": "file_not_empty", "path": "docs/plan.md"}]}}`))
	r.executors[0] = execFunc(func(context.Context) ([]string, error) {
		if err := afero.WriteFile(r.fs, "/work/docs/plan.md", []byte("plan"), 0o644); err != nil {
			return nil, err
		}
		return []string{"docs/plan.md", "docs/plan.md"}, nil
	})

	res, err := r.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)

	outputs, _ := r.store.Outputs(0)
	assert.Equal(t, []string{"docs/plan.md"}, outputs)
}

func TestTransientFailureRetriesWithBackoffThenFails(t *testing.T) {
	r := newRig(t)
	flaky := &countingExecutor{fn: func(context.Context, int) ([]string, error) {
		return nil, errors.New("dial tcp 10.0.0.7:443: connection timeout")
	}}
	r.executors[3] = flaky
	o := r.orchestrator()

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeHalted, res.Outcome)
	assert.Equal(t, 3, res.Phase)
	assert.Equal(t, execution.ErrorKindTransient, res.ErrorKind)

	assert.Equal(t, []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second}, r.sleeps)
	assert.Equal(t, 4, flaky.Calls())

	snap := r.store.Snapshot()
	rec := snap.Phases[3]
	assert.Equal(t, execution.PhaseStatusFailed, rec.Status)
	assert.Equal(t, 3, rec.RetryCount)
	require.Len(t, rec.Errors, 1)
	assert.Contains(t, rec.Errors[0].Message, "[transient]")
	assert.Equal(t, 3, snap.CurrentPhase)
	assert.Equal(t, execution.OverallInProgress, snap.OverallStatus)

	// a terminal failure halts again without running the executor
	res, err = o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeHalted, res.Outcome)
	assert.Equal(t, 4, flaky.Calls())

	// reset-phase is the explicit way back
	require.NoError(t, r.store.ResetPhase(3))
	flaky.fn = func(context.Context, int) ([]string, error) { return nil, nil }
	res, err = o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 5, flaky.Calls())
}

func TestPermanentFailureHaltsWithoutRetry(t *testing.T) {
	r := newRig(t)
	r.executors[1] = execFunc(func(context.Context) ([]string, error) {
		return nil, fmt.Errorf("read input: %w", afero.ErrFileNotFound)
	})

	res, err := r.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeHalted, res.Outcome)
	assert.Equal(t, execution.ErrorKindPermanent, res.ErrorKind)
	assert.Empty(t, r.sleeps)

	count, _ := r.store.RetryCount(1)
	assert.Zero(t, count)
}

func TestStructuredKindWinsOverMessage(t *testing.T) {
	r := newRig(t)
	r.executors[0] = execFunc(func(context.Context) ([]string, error) {
		return nil, execution.WithKind(execution.ErrorKindConfiguration, errors.New("upstream timeout while reading settings"))
	})

	res, err := r.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, execution.ErrorKindConfiguration, res.ErrorKind)
	assert.Empty(t, r.sleeps)
}

func TestApprovalFailureHaltsWithoutConsumingRetry(t *testing.T) {
	r := newRig(t, withCriteria(`{"0": {"required_outputs": ["a.json"]}}`))

	res, err := r.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeHalted, res.Outcome)
	assert.Equal(t, 0, res.Phase)
	assert.Equal(t, []string{"required output missing: a.json"}, res.FailedChecks)

	snap := r.store.Snapshot()
	assert.Equal(t, execution.PhaseStatusCompleted, snap.Phases[0].Status)
	assert.False(t, snap.Phases[0].Approved)
	assert.Zero(t, snap.Phases[0].RetryCount)
	assert.Empty(t, snap.Phases[0].Errors)
	assert.Equal(t, 0, snap.CurrentPhase)
}

func TestResumeReRunsApprovalOnly(t *testing.T) {
	r := newRig(t, withCriteria(`{"0": {"validation_checks": [{"type": "file_exists", "path": "report.md"}]}}`))
	exec := &countingExecutor{fn: func(context.Context, int) ([]string, error) {
		return []string{"report.md"}, nil
	}}
	r.executors[0] = exec
	o := r.orchestrator()

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeHalted, res.Outcome)
	assert.Equal(t, []string{"file_exists: report.md not found"}, res.FailedChecks)

	r.writeFile(t, "report.md", "done")
	res, err = o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 1, exec.Calls(), "completed phases are not executed again")
}

func TestMissingDependencyHalts(t *testing.T) {
	r := newRig(t, withDependencies(`{"2": {"dependencies": [0, 9]}, "3": {"dependencies": [0]}}`))

	res, err := r.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeHalted, res.Outcome)
	assert.Equal(t, 2, res.Phase)
	assert.Equal(t, []int{9}, res.MissingDependencies)
	assert.Equal(t, execution.ErrorKindDependency, res.ErrorKind)

	status, _ := r.store.PhaseStatus(2)
	assert.Equal(t, execution.PhaseStatusPending, status)
}

func TestExecutorDependencyErrorIsNotTerminal(t *testing.T) {
	r := newRig(t)
	exec := &countingExecutor{fn: func(_ context.Context, call int) ([]string, error) {
		if call == 1 {
			return nil, errors.New("prerequisite artifact from upstream not ready")
		}
		return nil, nil
	}}
	r.executors[3] = exec
	o := r.orchestrator()

	res, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeHalted, res.Outcome)
	assert.Equal(t, 3, res.Phase)
	assert.Equal(t, execution.ErrorKindDependency, res.ErrorKind)
	assert.Empty(t, r.sleeps, "dependency errors are not retried")

	status, _ := r.store.PhaseStatus(3)
	assert.Equal(t, execution.PhaseStatusPending, status)
	count, _ := r.store.RetryCount(3)
	assert.Zero(t, count)
	errs, _ := r.store.Errors(3)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, "[dependency]")

	res, err = o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 2, exec.Calls(), "the phase runs again without reset-phase")
}

func TestInterruptDuringExecution(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.executors[2] = execFunc(func(execCtx context.Context) ([]string, error) {
		cancel()
		<-execCtx.Done()
		return nil, execCtx.Err()
	})

	res, err := r.orchestrator().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInterrupted, res.Outcome)
	assert.Equal(t, 2, res.Phase)

	snap := r.store.Snapshot()
	assert.Equal(t, execution.OverallInterrupted, snap.OverallStatus)
	assert.Equal(t, execution.PhaseStatusPending, snap.Phases[2].Status)
	assert.Zero(t, snap.Phases[2].RetryCount)
	assert.Empty(t, snap.Phases[2].Errors)
	assert.Equal(t, 2, snap.CurrentPhase)

	// the flushed snapshot resumes at the interrupted phase
	delete(r.executors, 2)
	res, err = r.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
}

func TestInterruptDuringBackoff(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.executors[0] = execFunc(func(context.Context) ([]string, error) {
		return nil, errors.New("429 too many requests")
	})

	o := r.orchestrator(WithSleep(func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}))
	res, err := o.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInterrupted, res.Outcome)

	snap := r.store.Snapshot()
	assert.Equal(t, execution.PhaseStatusPending, snap.Phases[0].Status)
	assert.Equal(t, 1, snap.Phases[0].RetryCount)
}

func TestExecutorTimeoutIsTransient(t *testing.T) {
	r := newRig(t, withRetry(RetryConfig{MaxRetries: 0, InitialDelay: time.Second, BackoffMultiplier: 2}))
	r.executors[0] = execFunc(func(ctx context.Context) ([]string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	res, err := r.orchestrator(WithPhaseTimeout(20 * time.Millisecond)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeHalted, res.Outcome)
	assert.Equal(t, execution.ErrorKindTransient, res.ErrorKind)

	status, _ := r.store.PhaseStatus(0)
	assert.Equal(t, execution.PhaseStatusFailed, status)
}

func TestExecutorPanicIsPermanent(t *testing.T) {
	r := newRig(t)
	r.executors[0] = execFunc(func(context.Context) ([]string, error) {
		panic("nil map write")
	})

	res, err := r.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeHalted, res.Outcome)
	assert.Equal(t, execution.ErrorKindPermanent, res.ErrorKind)
}

func TestCrashedPhaseIsReRun(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.store.SetPhaseStatus(0, execution.PhaseStatusInProgress))
	exec := &countingExecutor{}
	r.executors[0] = exec

	res, err := r.orchestrator().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 1, exec.Calls())
}

func TestTriggerNextPhaseBoundary(t *testing.T) {
	r := newRig(t)
	o := r.orchestrator()
	for p := execution.FirstPhase; p <= execution.LastPhase; p++ {
		r.complete(t, p)
		require.NoError(t, r.store.SetPhaseStatus(p, execution.PhaseStatusApproved))
	}

	next, ok, err := o.TriggerNextPhase(14)
	require.NoError(t, err)
	assert.False(t, ok, "phase 15 is approved, nothing remains")
	assert.Zero(t, next)

	_, ok, err = o.TriggerNextPhase(execution.LastPhase)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, execution.LastPhase+1, r.store.CurrentPhase())

	_, _, err = o.TriggerNextPhase(16)
	assert.True(t, execution.IsPhaseOutOfRange(err))
}

func TestTriggerNextPhaseSkipsApproved(t *testing.T) {
	r := newRig(t)
	o := r.orchestrator()
	r.complete(t, 1)
	require.NoError(t, r.store.SetPhaseStatus(1, execution.PhaseStatusApproved))

	next, ok, err := o.TriggerNextPhase(0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, next)
	assert.Equal(t, 2, r.store.CurrentPhase())
}
