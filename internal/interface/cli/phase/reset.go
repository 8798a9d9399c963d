// Package phase implements the single-phase commands: reset-phase, validate and handoff.
package phase

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	infrafs "github.com/YoshitsuguKoike/deepipe/internal/infra/fs"
	"github.com/YoshitsuguKoike/deepipe/internal/interface/cli/common"
)

// NewResetCommand creates the reset-phase command
func NewResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-phase N",
		Short: "Put a phase back to pending so the next run executes it again",
		Long: `Clear the status, outputs, errors, retry count and approval of phase N.
If the execution is already past N, the current phase moves back to N.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := common.ParsePhaseArg(args[0])
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

			fresh, err := rt.LoadState()
			if err != nil {
				return err
			}
			if fresh {
				return fmt.Errorf("no execution on disk at %s", rt.Paths.State)
			}

			before, _ := rt.Store.PhaseStatus(p)
			if err := rt.Store.ResetPhase(p); err != nil {
				return err
			}
			if err := rt.Store.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Phase %d reset (%s -> pending); current phase is %d\n",
				p, before, rt.Store.CurrentPhase())
			return nil
		},
	}
}
