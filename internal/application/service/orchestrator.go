package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/YoshitsuguKoike/deepipe/internal/app"
	"github.com/YoshitsuguKoike/deepipe/internal/app/state"
	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
	"github.com/YoshitsuguKoike/deepipe/internal/workflow"
)

// PhaseExecutor runs the payload of one phase and returns the artifact paths
// it produced, in order. The runner never looks inside it.
type PhaseExecutor interface {
	Execute(ctx context.Context) ([]string, error)
}

// ExecutorProvider returns the executor for a phase
type ExecutorProvider interface {
	Executor(phase int) PhaseExecutor
}

// ExecutorProviderFunc adapts a function to ExecutorProvider
type ExecutorProviderFunc func(phase int) PhaseExecutor

// Executor implements ExecutorProvider
func (f ExecutorProviderFunc) Executor(phase int) PhaseExecutor {
	return f(phase)
}

// timeoutExecutor is implemented by executors carrying their own time limit
type timeoutExecutor interface {
	Timeout() time.Duration
}

// Metrics receives run telemetry
type Metrics interface {
	PhaseStarted(phase int)
	PhaseFinished(phase int, status execution.PhaseStatus, elapsed time.Duration)
	RetryScheduled(phase int, kind execution.ErrorKind, delay time.Duration)
	ApprovalEvaluated(phase int, approved bool)
	RunFinished(outcome string, progress float64)
}

type nopMetrics struct{}

func (nopMetrics) PhaseStarted(int) {}
func (nopMetrics) PhaseFinished(int, execution.PhaseStatus, time.Duration) {}
func (nopMetrics) RetryScheduled(int, execution.ErrorKind, time.Duration) {}
func (nopMetrics) ApprovalEvaluated(int, bool) {}
func (nopMetrics) RunFinished(string, float64) {}

// Outcome is how a run ended
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"   // All phases approved
	OutcomeHalted      Outcome = "halted"      // Manual fix required
	OutcomeInterrupted Outcome = "interrupted" // Cancelled, state flushed for resume
)

// RunResult describes the end of a run
type RunResult struct {
	Outcome             Outcome
	Phase               int
	Reason              string
	MissingDependencies []int
	FailedChecks        []string
	ErrorKind           execution.ErrorKind
	Err                 error
}

// Orchestrator drives the phase loop over a single store
type Orchestrator struct {
	store     *state.Store
	resolver  *workflow.Resolver
	approval  *ApprovalEngine
	retry     *RetryPolicy
	executors ExecutorProvider
	handoff   *HandoffService
	metrics   Metrics
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	timeout   time.Duration
	global    map[string]interface{}
}

// OrchestratorOption customizes the orchestrator
type OrchestratorOption func(*Orchestrator)

// WithHandoffs writes a handoff package for the next phase after each approval
func WithHandoffs(h *HandoffService, global map[string]interface{}) OrchestratorOption {
	return func(o *Orchestrator) {
		o.handoff = h
		o.global = global
	}
}

// WithMetrics sets the telemetry sink
func WithMetrics(m Metrics) OrchestratorOption {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithOrchestratorLogger sets the logger
func WithOrchestratorLogger(l *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = app.OrNop(l) }
}

// WithSleep replaces the backoff sleep (primarily for tests)
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) OrchestratorOption {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithPhaseTimeout bounds every executor call unless the executor sets its own
func WithPhaseTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.timeout = d }
}

// NewOrchestrator creates a new Orchestrator instance
func NewOrchestrator(store *state.Store, resolver *workflow.Resolver, approval *ApprovalEngine, retry *RetryPolicy, executors ExecutorProvider, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		resolver:  resolver,
		approval:  approval,
		retry:     retry,
		executors: executors,
		metrics:   nopMetrics{},
		logger:    zap.NewNop(),
		sleep:     sleepContext,
		timeout:   15 * time.Minute,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes phases from current_phase until every phase is approved, a
// phase needs manual intervention, or ctx is cancelled. The returned error is
// reserved for internal failures such as an unwritable snapshot; executor
// failures are reported through RunResult.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	if o.store.OverallStatus() != execution.OverallInProgress {
		if err := o.store.SetOverallStatus(execution.OverallInProgress); err != nil {
			return nil, err
		}
	}
	if err := o.store.Save(); err != nil {
		return nil, err
	}
	o.logger.Info("run started",
		zap.String("execution_id", o.store.ExecutionID()),
		zap.Int("current_phase", o.store.CurrentPhase()))

	for o.store.CurrentPhase() <= execution.LastPhase {
		p := o.store.CurrentPhase()
		if ctx.Err() != nil {
			return o.interrupt(p, false)
		}

		status, err := o.store.PhaseStatus(p)
		if err != nil {
			return nil, err
		}

		var res *RunResult
		switch status {
		case execution.PhaseStatusApproved:
			res, err = o.advance(p)
		case execution.PhaseStatusCompleted:
			res, err = o.approve(p)
		case execution.PhaseStatusFailed:
			count, _ := o.store.RetryCount(p)
			res, err = o.halt(&RunResult{
				Phase:  p,
				Reason: fmt.Sprintf("phase %d failed after %d retries, run reset-phase %d to try again", p, count, p),
			})
		default:
			res, err = o.ExecutePhase(ctx, p)
		}
		if err != nil || res != nil {
			return res, err
		}
	}

	if err := o.store.SetOverallStatus(execution.OverallCompleted); err != nil {
		return nil, err
	}
	if err := o.store.Save(); err != nil {
		return nil, err
	}
	res := &RunResult{Outcome: OutcomeCompleted, Phase: execution.LastPhase, Reason: "all phases approved"}
	o.finish(res)
	return res, nil
}

// ExecutePhase runs p until it is approved (nil result), or returns the
// result that ends the run.
func (o *Orchestrator) ExecutePhase(ctx context.Context, p int) (*RunResult, error) {
	for {
		met, missing, err := o.resolver.CheckDependencies(o.store.Snapshot(), p)
		if err != nil {
			return nil, err
		}
		if !met {
			return o.halt(&RunResult{
				Phase:               p,
				Reason:              fmt.Sprintf("phase %d is missing dependencies %v", p, missing),
				MissingDependencies: missing,
				ErrorKind:           execution.ErrorKindDependency,
			})
		}

		if err := o.store.SetPhaseStatus(p, execution.PhaseStatusInProgress); err != nil {
			return nil, err
		}
		if err := o.store.Save(); err != nil {
			return nil, err
		}
		o.metrics.PhaseStarted(p)
		o.logger.Info("phase started", zap.Int("phase", p))
		started := time.Now()

		outputs, execErr := o.invoke(ctx, p)
		elapsed := time.Since(started)

		if execErr != nil && ctx.Err() != nil {
			return o.interrupt(p, true)
		}

		if execErr != nil {
			kind := o.retry.Classify(execErr)
			if err := o.store.AddClassifiedError(p, kind, execErr); err != nil {
				return nil, err
			}
			if kind == execution.ErrorKindDependency {
				return o.waitForUpstream(p, execErr, elapsed)
			}
			if err := o.store.SetPhaseStatus(p, execution.PhaseStatusFailed); err != nil {
				return nil, err
			}
			o.metrics.PhaseFinished(p, execution.PhaseStatusFailed, elapsed)

			retry, err := o.retry.ShouldRetry(p, execErr)
			if err != nil {
				return nil, err
			}
			if !retry {
				if err := o.store.Save(); err != nil {
					return nil, err
				}
				o.logger.Warn("phase failed", zap.Int("phase", p), zap.String("kind", kind.String()), zap.Error(execErr))
				return o.halt(&RunResult{
					Phase:     p,
					Reason:    fmt.Sprintf("phase %d failed (%s): %v", p, kind, execErr),
					ErrorKind: kind,
					Err:       execErr,
				})
			}

			delay, err := o.retry.RetryDelay(p)
			if err != nil {
				return nil, err
			}
			count, err := o.retry.PrepareForRetry(p)
			if err != nil {
				return nil, err
			}
			if err := o.store.Save(); err != nil {
				return nil, err
			}
			o.metrics.RetryScheduled(p, kind, delay)
			o.logger.Warn("phase failed, retrying",
				zap.Int("phase", p),
				zap.String("kind", kind.String()),
				zap.Int("retry", count),
				zap.Duration("delay", delay),
				zap.Error(execErr))

			if err := o.sleep(ctx, delay); err != nil {
				return o.interrupt(p, false)
			}
			continue
		}

		for _, out := range outputs {
			if err := o.store.AddOutput(p, out); err != nil {
				return nil, err
			}
		}
		if err := o.store.SetPhaseStatus(p, execution.PhaseStatusCompleted); err != nil {
			return nil, err
		}
		if err := o.store.Save(); err != nil {
			return nil, err
		}
		o.metrics.PhaseFinished(p, execution.PhaseStatusCompleted, elapsed)
		o.logger.Info("phase completed", zap.Int("phase", p), zap.Strings("outputs", outputs), zap.Duration("elapsed", elapsed))

		return o.approve(p)
	}
}

// waitForUpstream ends the run after an executor reported an unmet upstream
// prerequisite. The phase goes back to pending with its retry count untouched,
// so the next run or resume executes it again once its dependencies hold.
func (o *Orchestrator) waitForUpstream(p int, execErr error, elapsed time.Duration) (*RunResult, error) {
	if err := o.store.SetPhaseStatus(p, execution.PhaseStatusPending); err != nil {
		return nil, err
	}
	if err := o.store.Save(); err != nil {
		return nil, err
	}
	o.metrics.PhaseFinished(p, execution.PhaseStatusFailed, elapsed)
	o.logger.Warn("phase waiting on upstream", zap.Int("phase", p), zap.Error(execErr))

	_, missing, err := o.resolver.CheckDependencies(o.store.Snapshot(), p)
	if err != nil {
		return nil, err
	}
	return o.halt(&RunResult{
		Phase:               p,
		Reason:              fmt.Sprintf("phase %d is waiting on upstream work: %v", p, execErr),
		MissingDependencies: missing,
		ErrorKind:           execution.ErrorKindDependency,
		Err:                 execErr,
	})
}

// invoke runs the executor in a helper goroutine so the wall-clock limit holds
// even when the executor ignores its context.
func (o *Orchestrator) invoke(ctx context.Context, p int) (outputs []string, err error) {
	exec := o.executors.Executor(p)
	if exec == nil {
		return nil, execution.Configurationf("no executor configured for phase %d", p)
	}

	timeout := o.timeout
	if t, ok := exec.(timeoutExecutor); ok && t.Timeout() > 0 {
		timeout = t.Timeout()
	}
	var runCtx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type result struct {
		outputs []string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: execution.Permanentf("phase %d executor panicked: %v", p, r)}
			}
		}()
		out, err := exec.Execute(runCtx)
		done <- result{outputs: out, err: err}
	}()

	select {
	case r := <-done:
		return r.outputs, r.err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, execution.WithKind(execution.ErrorKindTransient,
			fmt.Errorf("phase %d exceeded timeout %s: %w", p, timeout, context.DeadlineExceeded))
	}
}

// approve runs the approval pass for a completed phase
func (o *Orchestrator) approve(p int) (*RunResult, error) {
	report, err := o.approval.AutoApprove(p)
	if err != nil {
		return nil, err
	}
	o.metrics.ApprovalEvaluated(p, report.Approved)
	if !report.Approved {
		return o.halt(&RunResult{
			Phase:        p,
			Reason:       fmt.Sprintf("phase %d completed but failed %d approval checks", p, len(report.FailedChecks)),
			FailedChecks: report.FailedChecks,
		})
	}
	return o.advance(p)
}

// advance writes the handoff for the next phase and moves current_phase
func (o *Orchestrator) advance(p int) (*RunResult, error) {
	next, ok := o.nextPhase(p)
	if ok && o.handoff != nil {
		pkg, err := o.handoff.Build(p, next, o.global)
		if err != nil {
			return nil, err
		}
		path, err := o.handoff.Write(pkg)
		if err != nil {
			return nil, err
		}
		o.logger.Debug("handoff written", zap.Int("to_phase", next), zap.String("path", path))
	}
	if _, _, err := o.TriggerNextPhase(p); err != nil {
		return nil, err
	}
	return nil, nil
}

// nextPhase returns the lowest phase after p that is not approved. Completed
// but unapproved phases are not skipped: they still owe an approval pass.
func (o *Orchestrator) nextPhase(p int) (int, bool) {
	snap := o.store.Snapshot()
	for q := p + 1; q <= execution.LastPhase; q++ {
		if snap.Phases[q].Status != execution.PhaseStatusApproved {
			return q, true
		}
	}
	return 0, false
}

// TriggerNextPhase advances current_phase past the approved phase p and
// returns the phase that runs next. ok is false after the last phase.
func (o *Orchestrator) TriggerNextPhase(p int) (next int, ok bool, err error) {
	if err := execution.CheckPhase(p); err != nil {
		return 0, false, err
	}
	next, ok = o.nextPhase(p)
	target := next
	if !ok {
		target = execution.LastPhase + 1
	}
	if target > o.store.CurrentPhase() {
		if err := o.store.AdvanceTo(target); err != nil {
			return 0, false, err
		}
	}
	if err := o.store.Save(); err != nil {
		return 0, false, err
	}
	return next, ok, nil
}

// halt ends the run leaving overall in_progress and current_phase pinned
func (o *Orchestrator) halt(res *RunResult) (*RunResult, error) {
	res.Outcome = OutcomeHalted
	if err := o.store.Save(); err != nil {
		return nil, err
	}
	o.logger.Warn("run halted", zap.Int("phase", res.Phase), zap.String("reason", res.Reason))
	o.finish(res)
	return res, nil
}

// interrupt flushes state after cancellation. A phase that was running goes
// back to pending without consuming a retry.
func (o *Orchestrator) interrupt(p int, running bool) (*RunResult, error) {
	if running {
		if err := o.store.SetPhaseStatus(p, execution.PhaseStatusPending); err != nil {
			return nil, err
		}
	}
	if err := o.store.SetOverallStatus(execution.OverallInterrupted); err != nil {
		return nil, err
	}
	if err := o.store.Save(); err != nil {
		return nil, err
	}
	res := &RunResult{Outcome: OutcomeInterrupted, Phase: p, Reason: "run interrupted, state saved for resume"}
	o.logger.Warn("run interrupted", zap.Int("phase", p))
	o.finish(res)
	return res, nil
}

func (o *Orchestrator) finish(res *RunResult) {
	o.metrics.RunFinished(string(res.Outcome), o.store.ProgressPercentage())
	o.store.Record(app.JournalEvent{
		Phase:   res.Phase,
		Event:   app.EventRunOutcome,
		Message: fmt.Sprintf("%s: %s", res.Outcome, res.Reason),
	})
}

// IsHalted reports whether res requires manual intervention
func (r *RunResult) IsHalted() bool {
	return r != nil && r.Outcome == OutcomeHalted
}

// ErrHalted is returned by callers that turn a halted run into an error
var ErrHalted = errors.New("run halted")
