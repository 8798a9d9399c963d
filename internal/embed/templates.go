// Package embed ships the configuration skeleton written by "deepipe init".
package embed

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/deepipe/internal/infra/persistence/file"
)

const templateExt = ".tmpl"

//go:embed templates/etc/*
var templatesFS embed.FS

// Template is one file to be written under the deepipe home
type Template struct {
	Path    string // relative to home
	Content []byte
	Mode    os.FileMode
}

// GetTemplates returns the embedded skeleton in lexical path order
func GetTemplates() ([]Template, error) {
	root, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		return nil, err
	}

	var templates []Template
	err = fs.WalkDir(root, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, templateExt) {
			return err
		}
		content, err := fs.ReadFile(root, path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		templates = append(templates, Template{
			Path:    filepath.FromSlash(strings.TrimSuffix(path, templateExt)),
			Content: content,
			Mode:    0o644,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return templates, nil
}

// WriteTemplateResult reports what WriteTemplate did
type WriteTemplateResult struct {
	Path   string
	Action string // "WROTE", "SKIP", "WROTE (force)"
}

// WriteTemplate writes tmpl under baseDir. An existing file is kept unless force is set.
func WriteTemplate(afs afero.Fs, baseDir string, tmpl Template, force bool) (*WriteTemplateResult, error) {
	fullPath := filepath.Join(baseDir, tmpl.Path)
	result := &WriteTemplateResult{Path: fullPath, Action: "WROTE"}

	exists, err := afero.Exists(afs, fullPath)
	if err != nil {
		return nil, err
	}
	switch {
	case exists && !force:
		result.Action = "SKIP"
		return result, nil
	case exists:
		result.Action = "WROTE (force)"
	}

	if err := file.WriteFileAtomicMode(afs, fullPath, tmpl.Content, tmpl.Mode); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", fullPath, err)
	}
	return result, nil
}
