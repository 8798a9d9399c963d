// Package initcmd implements "deepipe init".
package initcmd

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/YoshitsuguKoike/deepipe/internal/app"
	"github.com/YoshitsuguKoike/deepipe/internal/embed"
	infraconfig "github.com/YoshitsuguKoike/deepipe/internal/infra/config"
	"github.com/YoshitsuguKoike/deepipe/internal/interface/cli/common"
)

const (
	gitignoreBegin = "# >>> deepipe"
	gitignoreEnd   = "# <<< deepipe"
)

// NewCommand creates the init command
func NewCommand(home func() string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create setting.yaml and the etc/ configuration skeleton",
		Long: `Initialize the deepipe home directory (.deepipe by default).
Existing files are preserved unless --force is given.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{common.AnnotationSkipConfig: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			fs := common.Fs()
			paths := app.ResolvePaths(home())
			out := cmd.OutOrStdout()

			for _, d := range []string{paths.Etc, paths.Var, paths.Handoffs} {
				if err := fs.MkdirAll(d, 0o755); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", d, err)
				}
			}

			templates, err := embed.GetTemplates()
			if err != nil {
				return fmt.Errorf("failed to load templates: %w", err)
			}
			templates = append(templates, embed.Template{
				Path:    filepath.Base(paths.Settings),
				Content: infraconfig.DefaultSettings(),
				Mode:    0o644,
			})

			for _, tmpl := range templates {
				res, err := embed.WriteTemplate(fs, paths.Home, tmpl, force)
				if err != nil {
					return fmt.Errorf("failed to write %s: %w", tmpl.Path, err)
				}
				if res.Action == "SKIP" {
					fmt.Fprintf(out, "SKIP: %s (exists; use --force to overwrite)\n", res.Path)
				} else {
					fmt.Fprintf(out, "%s: %s\n", res.Action, res.Path)
				}
			}

			if err := updateGitignore(fs, out, paths.Home); err != nil {
				fmt.Fprintf(out, "Warning: Could not update .gitignore: %v\n", err)
			}

			fmt.Fprintf(out, "Initialized %s\n", paths.Home)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing files")
	return cmd
}

// updateGitignore excludes <home>/var from the project's .gitignore, once
func updateGitignore(fs afero.Fs, out io.Writer, home string) error {
	root := filepath.Dir(home)
	gitignorePath := filepath.Join(root, ".gitignore")

	existing, err := afero.ReadFile(fs, gitignorePath)
	if err != nil {
		if ok, _ := afero.Exists(fs, gitignorePath); ok {
			return fmt.Errorf("failed to read .gitignore: %w", err)
		}
		existing = nil
	}
	content := string(existing)
	if strings.Contains(content, gitignoreBegin) {
		fmt.Fprintln(out, "SKIP: .gitignore deepipe block already present")
		return nil
	}

	varDir := "/" + filepath.ToSlash(filepath.Join(filepath.Base(home), "var")) + "/"
	var b strings.Builder
	b.WriteString(content)
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
	if len(content) > 0 {
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "%s\n%s\n%s\n", gitignoreBegin, varDir, gitignoreEnd)

	if err := afero.WriteFile(fs, gitignorePath, []byte(b.String()), 0o644); err != nil {
		return err
	}
	fmt.Fprintln(out, "APPENDED: .gitignore deepipe block")
	return nil
}
