package phase

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deepipe/internal/application/service"
	"github.com/YoshitsuguKoike/deepipe/internal/interface/cli/common"
)

// ErrCriteriaNotMet makes a failed dry approval exit non-zero
var ErrCriteriaNotMet = errors.New("success criteria not met")

// NewValidateCommand creates the validate command
func NewValidateCommand() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "validate N",
		Short: "Check phase N against its success criteria without recording anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := common.ParsePhaseArg(args[0])
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

			outputs, err := rt.Store.Outputs(p)
			if err != nil {
				return err
			}
			allMet, passed, failed, err := rt.Approval.ValidatePhase(p, outputs)
			if err != nil {
				return err
			}
			can, reasons, err := rt.Approval.CanAutoApprove(p)
			if err != nil {
				return err
			}
			report := service.ApprovalReport{
				Phase:        p,
				Approved:     can,
				CriteriaMet:  allMet,
				PassedChecks: passed,
				FailedChecks: failed,
				Timestamp:    time.Now().UTC(),
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				for _, c := range passed {
					fmt.Fprintf(out, "PASS %s\n", c)
				}
				for _, c := range failed {
					fmt.Fprintf(out, "FAIL %s\n", c)
				}
				switch {
				case can:
					fmt.Fprintf(out, "Phase %d would be approved\n", p)
				case allMet:
					fmt.Fprintf(out, "Phase %d meets its criteria but would not be approved: %v\n", p, reasons)
				default:
					fmt.Fprintf(out, "Phase %d does not meet its criteria (%d failed)\n", p, len(failed))
				}
			}

			if !allMet {
				return fmt.Errorf("phase %d: %w", p, ErrCriteriaNotMet)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output the approval report as JSON")
	return cmd
}
