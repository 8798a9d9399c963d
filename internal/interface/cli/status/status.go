// Package status implements "deepipe status".
package status

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
	"github.com/YoshitsuguKoike/deepipe/internal/interface/cli/common"
)

// StatusOutput is the --json document
type StatusOutput struct {
	ExecutionID        string        `json:"execution_id"`
	StartedAt          time.Time     `json:"started_at"`
	OverallStatus      string        `json:"overall_status"`
	CurrentPhase       int           `json:"current_phase"`
	ProgressPercentage float64       `json:"progress_percentage"`
	CompletedPhases    []int         `json:"completed_phases"`
	CanResume          bool          `json:"can_resume"`
	NextPhase          *int          `json:"next_phase"`
	Persisted          bool          `json:"persisted"`
	Phases             []PhaseOutput `json:"phases"`
}

// PhaseOutput is one row of the status table
type PhaseOutput struct {
	Phase      int    `json:"phase"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Approved   bool   `json:"approved"`
	RetryCount int    `json:"retry_count"`
	Outputs    int    `json:"outputs"`
	LastError  string `json:"last_error,omitempty"`
	BlockedBy  []int  `json:"blocked_by,omitempty"`
}

// NewCommand creates the status command
func NewCommand() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show execution progress per phase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := common.NewRuntime(common.Fs(), common.GetGlobalConfig(), common.Logger())
			if err != nil {
				return err
			}
			fresh, err := rt.LoadState()
			if err != nil {
				return err
			}

			out := build(rt, !fresh)
			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			printText(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output status as JSON")
	return cmd
}

func build(rt *common.Runtime, persisted bool) StatusOutput {
	snap := rt.Store.Snapshot()
	blocked := rt.Resolver.BlockedPhases(snap)

	out := StatusOutput{
		ExecutionID:        snap.ExecutionID,
		StartedAt:          snap.StartedAt,
		OverallStatus:      snap.OverallStatus.String(),
		CurrentPhase:       snap.CurrentPhase,
		ProgressPercentage: snap.ProgressPercentage(),
		CompletedPhases:    snap.CompletedPhases(),
		CanResume:          rt.Store.CanResume(),
		Persisted:          persisted,
		Phases:             make([]PhaseOutput, 0, execution.PhaseCount),
	}
	if next, ok := rt.Resolver.NextPhase(snap, snap.CurrentPhase-1); ok {
		out.NextPhase = &next
	}

	for p := execution.FirstPhase; p <= execution.LastPhase; p++ {
		rec := snap.Phases[p]
		row := PhaseOutput{
			Phase:      p,
			Name:       rt.PhaseName(p),
			Status:     rec.Status.String(),
			Approved:   rec.Approved,
			RetryCount: rec.RetryCount,
			Outputs:    len(rec.Outputs),
			BlockedBy:  blocked[p],
		}
		if n := len(rec.Errors); n > 0 {
			row.LastError = rec.Errors[n-1].Message
		}
		out.Phases = append(out.Phases, row)
	}
	return out
}

func printText(w io.Writer, out StatusOutput) {
	if !out.Persisted {
		fmt.Fprintln(w, "No execution on disk yet; 'deepipe run' starts one.")
	}
	fmt.Fprintf(w, "Execution: %s\n", out.ExecutionID)
	fmt.Fprintf(w, "Overall:   %s (phase %d, %.2f%% done)\n", out.OverallStatus, out.CurrentPhase, out.ProgressPercentage)
	if out.NextPhase != nil {
		fmt.Fprintf(w, "Next:      phase %d\n", *out.NextPhase)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tNAME\tSTATUS\tAPPROVED\tRETRIES\tOUTPUTS\tNOTE")
	for _, row := range out.Phases {
		marker := " "
		if row.Phase == out.CurrentPhase {
			marker = ">"
		}
		note := row.LastError
		if len(row.BlockedBy) > 0 {
			note = fmt.Sprintf("waiting on %v", row.BlockedBy)
		}
		fmt.Fprintf(tw, "%s%d\t%s\t%s\t%t\t%d\t%d\t%s\n",
			marker, row.Phase, row.Name, row.Status, row.Approved, row.RetryCount, row.Outputs, truncate(note, 60))
	}
	tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
