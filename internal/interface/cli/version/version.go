// Package version implements "deepipe version".
package version

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deepipe/internal/buildinfo"
	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
	"github.com/YoshitsuguKoike/deepipe/internal/interface/cli/common"
)

// NewCommand creates the version command
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Show version information",
		Long:        "Display version, build information, and runtime details",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{common.AnnotationSkipConfig: "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "deepipe version %s\n", buildinfo.GetVersion())
			fmt.Fprintf(out, "  Commit:        %s\n", buildinfo.GetCommit())
			fmt.Fprintf(out, "  Go version:    %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(out, "  Phases:        %d\n", execution.PhaseCount)
		},
	}
}
