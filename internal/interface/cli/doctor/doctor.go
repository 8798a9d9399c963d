// Package doctor implements "deepipe doctor".
package doctor

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deepipe/internal/interface/cli/common"
	"github.com/YoshitsuguKoike/deepipe/internal/validator/integrated"
)

// ErrUnhealthy makes doctor exit non-zero when any component has errors
var ErrUnhealthy = errors.New("doctor found errors")

// NewCommand creates the doctor command. It reads setting.yaml itself, so a
// broken configuration is reported instead of aborting the command.
func NewCommand(home func() string) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:         "doctor",
		Short:       "Check settings, config files, state and journal",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{common.AnnotationSkipConfig: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := integrated.RunIntegratedValidation(integrated.DoctorConfig{
				Fs:   common.Fs(),
				Home: home(),
			})
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			out := cmd.OutOrStdout()
			if format == "json" {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return fmt.Errorf("failed to encode JSON: %w", err)
				}
			} else {
				outputTextReport(out, report)
			}

			if report.Summary.Error > 0 {
				return ErrUnhealthy
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Output format (json for CI integration)")
	return cmd
}

func outputTextReport(w io.Writer, report *integrated.IntegratedReport) {
	status := integrated.GetComponentStatus(report)
	for _, name := range integrated.ComponentNames(report) {
		fmt.Fprintf(w, "\n=== %s ===\n", name)
		for _, file := range report.Components[name].Files {
			for _, issue := range file.Issues {
				label := "OK"
				switch issue.Type {
				case "error":
					label = "ERROR"
				case "warn":
					label = "WARN"
				}
				if issue.Field != "" {
					fmt.Fprintf(w, "%s: %s [%s] %s\n", label, file.File, issue.Field, issue.Message)
				} else {
					fmt.Fprintf(w, "%s: %s %s\n", label, file.File, issue.Message)
				}
			}
		}
	}

	fmt.Fprintf(w, "\n=== SUMMARY ===\n")
	for _, name := range integrated.ComponentNames(report) {
		fmt.Fprintf(w, "%s=%s ", name, status[name])
	}
	fmt.Fprintf(w, "\ncomponents=%d ok=%d warn=%d error=%d\n",
		report.Summary.Components, report.Summary.OK, report.Summary.Warn, report.Summary.Error)
}
