// Package config loads setting.yaml and DEEPIPE_* overrides into an AppConfig.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/deepipe/internal/app"
	"github.com/YoshitsuguKoike/deepipe/internal/app/config"
	"github.com/YoshitsuguKoike/deepipe/internal/domain/execution"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "DEEPIPE_"

// maxSettingsSize bounds setting.yaml
const maxSettingsSize = 1024 * 1024

// RawSettings mirrors setting.yaml
type RawSettings struct {
	Home              string  `koanf:"home"`
	TimeoutSec        int     `koanf:"timeout_sec"`
	MaxRetries        int     `koanf:"max_retries"`
	InitialDelaySec   int     `koanf:"initial_delay_sec"`
	BackoffMultiplier float64 `koanf:"backoff_multiplier"`
	StderrLevel       string  `koanf:"stderr_level"`
	LogFormat         string  `koanf:"log_format"`
	CriteriaPath      string  `koanf:"criteria_path"`
	DependenciesPath  string  `koanf:"dependencies_path"`
	PhasesPath        string  `koanf:"phases_path"`
	HandoffDir        string  `koanf:"handoff_dir"`
	WriteHandoffs     bool    `koanf:"write_handoffs"`
	MetricsFile       string  `koanf:"metrics_file"`
}

// defaults holds the value of every key when neither file nor environment sets it.
// Paths are relative to home.
var defaults = map[string]interface{}{
	"timeout_sec":        900,
	"max_retries":        3,
	"initial_delay_sec":  60,
	"backoff_multiplier": 2.0,
	"stderr_level":       "warn",
	"log_format":         "console",
	"criteria_path":      "etc/success_criteria.yaml",
	"dependencies_path":  "etc/dependencies.yaml",
	"phases_path":        "etc/phases.yaml",
	"handoff_dir":        "var/handoffs",
	"write_handoffs":     true,
	"metrics_file":       "",
}

// LoadSettings loads configuration for the given home directory.
// An empty home falls back to DEEPIPE_HOME, then ".deepipe".
// Precedence: DEEPIPE_* environment > setting.yaml > defaults.
func LoadSettings(fs afero.Fs, home string) (*config.AppConfig, error) {
	paths := app.ResolvePaths(home)
	k := koanf.New(".")
	var sources []string

	settingPath := ""
	content, err := afero.ReadFile(fs, paths.Settings)
	switch {
	case err == nil:
		if len(content) > maxSettingsSize {
			return nil, execution.Configurationf("%s exceeds %d bytes", paths.Settings, maxSettingsSize)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, execution.WithKind(execution.ErrorKindConfiguration,
				fmt.Errorf("failed to load config file %s: %w", paths.Settings, err))
		}
		settingPath = paths.Settings
		sources = append(sources, "yaml")
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", paths.Settings, err)
	}

	fromEnv := false
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		if _, known := defaults[key]; !known {
			return ""
		}
		fromEnv = true
		return key
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if fromEnv {
		sources = append(sources, "env")
	}

	applyDefaults(k)

	var raw RawSettings
	if err := k.Unmarshal("", &raw); err != nil {
		return nil, execution.WithKind(execution.ErrorKindConfiguration,
			fmt.Errorf("failed to unmarshal config: %w", err))
	}
	raw.Home = paths.Home

	if err := raw.Validate(); err != nil {
		return nil, err
	}

	source := "default"
	if len(sources) > 0 {
		source = strings.Join(sources, "+")
	}
	return buildAppConfig(&raw, source, settingPath), nil
}

// applyDefaults fills every key that is still unset
func applyDefaults(k *koanf.Koanf) {
	for key, v := range defaults {
		if !k.Exists(key) {
			_ = k.Set(key, v)
		}
	}
}

// Validate rejects values the runner cannot work with
func (r *RawSettings) Validate() error {
	if r.TimeoutSec <= 0 {
		return execution.Configurationf("timeout_sec must be positive, got %d", r.TimeoutSec)
	}
	if r.MaxRetries < 0 {
		return execution.Configurationf("max_retries must not be negative, got %d", r.MaxRetries)
	}
	if r.InitialDelaySec < 0 {
		return execution.Configurationf("initial_delay_sec must not be negative, got %d", r.InitialDelaySec)
	}
	if r.BackoffMultiplier < 1 {
		return execution.Configurationf("backoff_multiplier must be at least 1, got %g", r.BackoffMultiplier)
	}
	switch strings.ToLower(r.LogFormat) {
	case "console", "json":
	default:
		return execution.Configurationf("log_format must be console or json, got %q", r.LogFormat)
	}
	switch strings.ToLower(r.StderrLevel) {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return execution.Configurationf("unknown stderr_level %q", r.StderrLevel)
	}
	return nil
}

// buildAppConfig converts RawSettings to AppConfig
func buildAppConfig(r *RawSettings, configSource, settingPath string) *config.AppConfig {
	return config.NewAppConfig(config.Values{
		Home:              r.Home,
		TimeoutSec:        r.TimeoutSec,
		MaxRetries:        r.MaxRetries,
		InitialDelaySec:   r.InitialDelaySec,
		BackoffMultiplier: r.BackoffMultiplier,
		StderrLevel:       r.StderrLevel,
		LogFormat:         r.LogFormat,
		CriteriaPath:      r.CriteriaPath,
		DependenciesPath:  r.DependenciesPath,
		PhasesPath:        r.PhasesPath,
		HandoffDir:        r.HandoffDir,
		WriteHandoffs:     r.WriteHandoffs,
		MetricsFile:       r.MetricsFile,
	}, configSource, settingPath)
}

// DefaultSettings returns the content written by "deepipe init"-style bootstrapping
// and shown by "deepipe doctor" when no setting.yaml exists.
func DefaultSettings() []byte {
	var b strings.Builder
	for _, key := range []string{
		"timeout_sec", "max_retries", "initial_delay_sec", "backoff_multiplier",
		"stderr_level", "log_format",
		"criteria_path", "dependencies_path", "phases_path",
		"handoff_dir", "write_handoffs", "metrics_file",
	} {
		v := defaults[key]
		if s, ok := v.(string); ok {
			fmt.Fprintf(&b, "%s: %q\n", key, s)
			continue
		}
		fmt.Fprintf(&b, "%s: %v\n", key, v)
	}
	return []byte(b.String())
}
