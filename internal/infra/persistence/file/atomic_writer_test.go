package file_test

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deepipe/internal/infra/persistence/file"
)

func TestWriteFileAtomic(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		data    []byte
		setupFS func(fs afero.Fs) error
		want    string
	}{
		{
			name:    "Write new file and create parent directories",
			path:    "var/handoffs/handoff_phase_3.json",
			data:    []byte(`{"to_phase":3}`),
			setupFS: func(fs afero.Fs) error { return nil },
			want:    `{"to_phase":3}`,
		},
		{
			name: "Overwrite existing file wholesale",
			path: "var/state.json",
			data: []byte("new"),
			setupFS: func(fs afero.Fs) error {
				return afero.WriteFile(fs, "var/state.json", []byte("old content that is longer"), 0o644)
			},
			want: "new",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, tt.setupFS(fs))

			require.NoError(t, file.WriteFileAtomic(fs, tt.path, tt.data))

			content, err := afero.ReadFile(fs, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(content))

			// No temp files left behind
			entries, err := afero.ReadDir(fs, "var")
			require.NoError(t, err)
			for _, e := range entries {
				assert.NotContains(t, e.Name(), ".tmp-", "leftover temp file %s", e.Name())
			}
		})
	}
}

func TestWriteFileAtomicReadOnlyFs(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	err := file.WriteFileAtomic(fs, "var/state.json", []byte("x"))
	assert.Error(t, err)
}

func TestWriteFileAtomicModeSetsPermission(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, file.WriteFileAtomicMode(fs, "bin/hook.sh", []byte("#!/bin/sh\n"), 0o755))

	info, err := fs.Stat("bin/hook.sh")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}

func TestWriteJSONAtomic(t *testing.T) {
	fs := afero.NewMemMapFs()
	payload := map[string]interface{}{"phase": 2, "approved": true}

	require.NoError(t, file.WriteJSONAtomic(fs, "out/report.json", payload))

	data, err := afero.ReadFile(fs, "out/report.json")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "\n"), "expected trailing newline")
	assert.Contains(t, string(data), "\n  \"approved\": true")

	var back map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, float64(2), back["phase"])
}
