// Package cli assembles the deepipe command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deepipe/internal/app"
	infraconfig "github.com/YoshitsuguKoike/deepipe/internal/infra/config"
	"github.com/YoshitsuguKoike/deepipe/internal/interface/cli/common"
	"github.com/YoshitsuguKoike/deepipe/internal/interface/cli/doctor"
	"github.com/YoshitsuguKoike/deepipe/internal/interface/cli/history"
	"github.com/YoshitsuguKoike/deepipe/internal/interface/cli/initcmd"
	"github.com/YoshitsuguKoike/deepipe/internal/interface/cli/phase"
	"github.com/YoshitsuguKoike/deepipe/internal/interface/cli/run"
	"github.com/YoshitsuguKoike/deepipe/internal/interface/cli/status"
	"github.com/YoshitsuguKoike/deepipe/internal/interface/cli/version"
)

func NewRoot() *cobra.Command {
	var (
		home     string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "deepipe",
		Short: "Run a 16-phase development pipeline with gated approvals",
		Long: `deepipe drives a fixed pipeline of 16 phases (0..15). Each phase runs once
its prerequisites are approved, is validated against its success criteria,
and hands its outputs to the next phase. Progress is persisted under the
deepipe home (.deepipe or $DEEPIPE_HOME) so an interrupted run can resume.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Priority: DEEPIPE_* environment > setting.yaml > defaults
			cfg, err := infraconfig.LoadSettings(common.Fs(), home)
			if err != nil {
				if cmd.Annotations[common.AnnotationSkipConfig] == "" {
					return err
				}
				common.SetGlobalConfig(nil)
				common.SetLogger(app.NewLogger(logLevel, "console", cmd.ErrOrStderr()))
				return nil
			}
			common.SetGlobalConfig(cfg)

			level := cfg.StderrLevel()
			if logLevel != "" {
				level = logLevel
			}
			common.SetLogger(app.NewLogger(level, cfg.LogFormat(), cmd.ErrOrStderr()))
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = common.Logger().Sync()
		},
		RunE: func(c *cobra.Command, _ []string) error { return c.Help() },
	}
	cmd.PersistentFlags().StringVar(&home, "home", "", "deepipe home directory (default $DEEPIPE_HOME or .deepipe)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override stderr_level (debug|info|warn|error)")

	homeFn := func() string { return home }

	cmd.AddCommand(initcmd.NewCommand(homeFn))
	cmd.AddCommand(run.NewCommand())
	cmd.AddCommand(run.NewResumeCommand())
	cmd.AddCommand(status.NewCommand())
	cmd.AddCommand(history.NewCommand())
	cmd.AddCommand(phase.NewResetCommand())
	cmd.AddCommand(phase.NewValidateCommand())
	cmd.AddCommand(phase.NewHandoffCommand())
	cmd.AddCommand(doctor.NewCommand(homeFn))
	cmd.AddCommand(version.NewCommand())
	return cmd
}
