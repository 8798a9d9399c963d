package phase

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
	"github.com/YoshitsuguKoike/deepipe/internal/interface/cli/common"
)

// NewHandoffCommand creates the handoff command
func NewHandoffCommand() *cobra.Command {
	var (
		from     int
		set      []string
		printPkg bool
	)

	cmd := &cobra.Command{
		Use:   "handoff N",
		Short: "Write the handoff package that lets another process start phase N",
		Long: `Build the handoff package for target phase N from the current state and
write it to handoff_phase_N.json. --from defaults to N-1 (none for phase 0).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := common.ParsePhaseArg(args[0])
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("from") {
				from = to - 1
			} else if err := execution.CheckPhase(from); err != nil {
				return err
			}
			global, err := common.ParseKeyValues(set)
			if err != nil {
				return err
			}

			rt, err := common.NewRuntime(common.Fs(), common.GetGlobalConfig(), common.Logger())
			if err != nil {
				return err
			}
			if _, err := rt.LoadState(); err != nil {
				return err
			}

			pkg, err := rt.Handoffs.Build(from, to, global)
			if err != nil {
				return err
			}
			path, err := rt.Handoffs.Write(pkg)
			if err != nil {
				return err
			}

			if printPkg {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(pkg)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Handoff for phase %d written to %s (%d dependency contexts, %d shared artifacts)\n",
				to, path, len(pkg.DependencyContexts), len(pkg.SharedArtifacts))
			return nil
		},
	}
	cmd.Flags().IntVar(&from, "from", -1, "Previous phase whose context is included")
	cmd.Flags().StringArrayVar(&set, "set", nil, "Global context entry key=value (repeatable)")
	cmd.Flags().BoolVar(&printPkg, "print", false, "Print the written package as JSON")
	return cmd
}
