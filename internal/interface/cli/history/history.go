// Package history implements "deepipe history", a reader over journal.ndjson.
package history

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/YoshitsuguKoike/deepipe/internal/app"
	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
	"github.com/YoshitsuguKoike/deepipe/internal/interface/cli/common"
)

// NewCommand creates the history command
func NewCommand() *cobra.Command {
	var (
		phase   int
		limit   int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded phase transitions, errors and approvals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := common.GetGlobalConfig()
			if cfg == nil {
				return fmt.Errorf("configuration not loaded")
			}
			paths := app.ResolvePaths(cfg.Home())

			events, skipped, err := app.ReadJournal(common.Fs(), paths.Journal)
			if err != nil {
				return err
			}
			if skipped > 0 {
				common.Logger().Warn("skipped unreadable journal lines", zap.Int("count", skipped), zap.String("path", paths.Journal))
			}
			if cmd.Flags().Changed("phase") {
				if err := execution.CheckPhase(phase); err != nil {
					return err
				}
				events = app.FilterByPhase(events, phase)
			}
			if limit > 0 && len(events) > limit {
				events = events[len(events)-limit:]
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				for _, ev := range events {
					if err := enc.Encode(ev); err != nil {
						return err
					}
				}
				return nil
			}
			if len(events) == 0 {
				fmt.Fprintln(out, "No journal entries.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tPHASE\tEVENT\tDETAIL")
			for _, ev := range events {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", ev.Ts, ev.Phase, ev.Event, detail(ev))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&phase, "phase", 0, "Only show events of this phase")
	cmd.Flags().IntVar(&limit, "limit", 0, "Only show the last N events")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print raw NDJSON events")
	return cmd
}

func detail(ev app.JournalEvent) string {
	var parts []string
	if ev.FromStatus != "" || ev.ToStatus != "" {
		parts = append(parts, fmt.Sprintf("%s -> %s", ev.FromStatus, ev.ToStatus))
	}
	if ev.ErrorKind != "" {
		parts = append(parts, "kind="+ev.ErrorKind)
	}
	if ev.Event == app.EventRetryIncremented || ev.RetryCount > 0 {
		parts = append(parts, fmt.Sprintf("retry=%d", ev.RetryCount))
	}
	if len(ev.Outputs) > 0 {
		parts = append(parts, "outputs="+strings.Join(ev.Outputs, ","))
	}
	if ev.Message != "" {
		parts = append(parts, ev.Message)
	}
	return strings.Join(parts, " ")
}
