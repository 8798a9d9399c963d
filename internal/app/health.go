package app

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/deepipe/internal/infra/persistence/file"
)

// Health is the last run outcome, kept in var/health.json for external probes
type Health struct {
	Ts          string `json:"ts"`
	ExecutionID string `json:"execution_id"`
	Phase       int    `json:"phase"`
	Outcome     string `json:"outcome"`
	OK          bool   `json:"ok"`
	Error       string `json:"error"`
}

// WriteHealth atomically replaces path with h
func WriteHealth(fs afero.Fs, path string, h Health) error {
	if h.Ts == "" {
		h.Ts = time.Now().UTC().Format(time.RFC3339Nano)
	}
	b, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("failed to marshal health: %w", err)
	}
	if err := file.WriteFileAtomic(fs, path, b); err != nil {
		return fmt.Errorf("failed to write health: %w", err)
	}
	return nil
}

// ReadHealth loads path; ok is false when the file does not exist yet
func ReadHealth(fs afero.Fs, path string) (Health, bool, error) {
	var h Health
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		if exists, _ := afero.Exists(fs, path); !exists {
			return h, false, nil
		}
		return h, false, err
	}
	if err := json.Unmarshal(b, &h); err != nil {
		return h, false, fmt.Errorf("failed to parse health: %w", err)
	}
	return h, true, nil
}
