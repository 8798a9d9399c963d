// Package run implements "deepipe run" and "deepipe resume".
package run

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/YoshitsuguKoike/deepipe/internal/app"
	"github.com/YoshitsuguKoike/deepipe/internal/application/service"
	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
	infrafs "github.com/YoshitsuguKoike/deepipe/internal/infra/fs"
	"github.com/YoshitsuguKoike/deepipe/internal/interface/cli/common"
)

// ErrNothingToResume is returned by resume without an unfinished execution
var ErrNothingToResume = errors.New("nothing to resume: no unfinished execution on disk (use 'deepipe run')")

type options struct {
	fresh bool
	set   []string
}

// NewCommand creates the run command
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline from the current phase",
		Long: `Run phases 0..15 in order, continuing a persisted execution if one exists.
Each phase runs its configured command, is validated against its success
criteria and, once approved, hands off to the next phase.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd, opts, false)
		},
	}
	cmd.Flags().BoolVar(&opts.fresh, "fresh", false, "Archive the current state and start a new execution")
	cmd.Flags().StringArrayVar(&opts.set, "set", nil, "Global handoff context entry key=value (repeatable)")
	return cmd
}

// NewResumeCommand creates the resume command
func NewResumeCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume an interrupted or halted execution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd, opts, true)
		},
	}
	cmd.Flags().StringArrayVar(&opts.set, "set", nil, "Global handoff context entry key=value (repeatable)")
	return cmd
}

func execute(cmd *cobra.Command, opts options, resume bool) error {
	global, err := common.ParseKeyValues(opts.set)
	if err != nil {
		return err
	}

	rt, err := common.NewRuntime(common.Fs(), common.GetGlobalConfig(), common.Logger())
	if err != nil {
		return err
	}

	release, err := infrafs.AcquireRunLock(rt.Paths.RunLock)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			rt.Logger.Warn("failed to release run lock", zap.Error(err))
		}
	}()

	if opts.fresh {
		if err := archiveState(rt); err != nil {
			return err
		}
	}

	if _, err := rt.LoadState(); err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if resume && !rt.Store.CanResume() {
		return ErrNothingToResume
	}
	if !resume && rt.Store.CanResume() {
		fmt.Fprintf(out, "Continuing execution %s at phase %d\n", rt.Store.ExecutionID(), rt.Store.CurrentPhase())
	}
	if rt.Store.OverallStatus() == execution.OverallCompleted {
		fmt.Fprintf(out, "Execution %s is already complete (use --fresh to start over)\n", rt.Store.ExecutionID())
		return nil
	}

	ctx, stop := SetupSignalHandler(cmd.Context(), rt.Logger)
	defer stop()

	res, runErr := rt.Orchestrator(global).Run(ctx)
	if err := rt.ExportMetrics(); err != nil {
		rt.Logger.Warn("metrics export failed", zap.Error(err))
	}
	writeHealth(rt, res, runErr)
	if runErr != nil {
		return runErr
	}
	return report(out, rt.Store.ExecutionID(), rt.Store.ProgressPercentage(), res)
}

// report prints the outcome and maps it to the exit status: only a halt is an error
func report(out io.Writer, executionID string, progress float64, res *service.RunResult) error {
	switch res.Outcome {
	case service.OutcomeCompleted:
		fmt.Fprintf(out, "Execution %s completed: all %d phases approved\n", executionID, execution.PhaseCount)
		return nil
	case service.OutcomeInterrupted:
		fmt.Fprintf(out, "Interrupted at phase %d (%.2f%% done); state saved, continue with 'deepipe resume'\n",
			res.Phase, progress)
		return nil
	}

	fmt.Fprintf(out, "Halted at phase %d: %s\n", res.Phase, res.Reason)
	if len(res.MissingDependencies) > 0 {
		fmt.Fprintf(out, "  missing dependencies: %s\n", joinInts(res.MissingDependencies))
	}
	for _, check := range res.FailedChecks {
		fmt.Fprintf(out, "  failed: %s\n", check)
	}
	if res.ErrorKind != "" {
		fmt.Fprintf(out, "  error kind: %s\n", res.ErrorKind)
	}
	return fmt.Errorf("%w at phase %d", service.ErrHalted, res.Phase)
}

// writeHealth records the outcome in var/health.json; failures are only logged
func writeHealth(rt *common.Runtime, res *service.RunResult, runErr error) {
	h := app.Health{
		ExecutionID: rt.Store.ExecutionID(),
		Phase:       rt.Store.CurrentPhase(),
	}
	switch {
	case runErr != nil:
		h.Outcome = "error"
		h.Error = runErr.Error()
	case res != nil:
		h.Outcome = string(res.Outcome)
		h.Phase = res.Phase
		h.OK = res.Outcome != service.OutcomeHalted
		h.Error = res.Reason
	}
	if err := app.WriteHealth(rt.Fs, rt.Paths.Health, h); err != nil {
		rt.Logger.Warn("failed to write health", zap.Error(err))
	}
}

// archiveState moves the snapshot aside so the next load starts a new execution
func archiveState(rt *common.Runtime) error {
	exists, err := afero.Exists(rt.Fs, rt.Paths.State)
	if err != nil || !exists {
		return err
	}
	archived := fmt.Sprintf("%s.%s.bak", rt.Paths.State, time.Now().UTC().Format("20060102T150405Z"))
	if err := rt.Fs.Rename(rt.Paths.State, archived); err != nil {
		return fmt.Errorf("archive state: %w", err)
	}
	rt.Logger.Info("archived previous state", zap.String("path", archived))
	return nil
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}
