package config

import (
	"path/filepath"
	"time"
)

// Config provides read-only access to the runner configuration.
// The source (setting.yaml, DEEPIPE_* environment, defaults) is hidden from the app layer.
type Config interface {
	// Core settings
	Home() string           // Base directory (DEEPIPE_HOME)
	TimeoutSec() int        // Default per-phase timeout in seconds (DEEPIPE_TIMEOUT_SEC)
	Timeout() time.Duration // Default per-phase timeout as Duration

	// Retry policy
	MaxRetries() int             // Retries per phase (DEEPIPE_MAX_RETRIES)
	InitialDelay() time.Duration // First backoff delay (DEEPIPE_INITIAL_DELAY_SEC)
	BackoffMultiplier() float64  // Delay growth factor (DEEPIPE_BACKOFF_MULTIPLIER)

	// Logging
	StderrLevel() string // Stderr log level (DEEPIPE_STDERR_LEVEL)
	LogFormat() string   // "console" or "json" (DEEPIPE_LOG_FORMAT)

	// Paths, absolute or relative to the working directory
	CriteriaPath() string
	DependenciesPath() string
	PhasesPath() string
	HandoffDir() string
	MetricsFile() string // empty disables the textfile export

	WriteHandoffs() bool

	// Metadata
	ConfigSource() string // "yaml", "env", "yaml+env" or "default"
	SettingPath() string  // Path to setting.yaml if it was read
}

// Values carries the merged settings handed to NewAppConfig
type Values struct {
	Home              string
	TimeoutSec        int
	MaxRetries        int
	InitialDelaySec   int
	BackoffMultiplier float64
	StderrLevel       string
	LogFormat         string
	CriteriaPath      string
	DependenciesPath  string
	PhasesPath        string
	HandoffDir        string
	WriteHandoffs     bool
	MetricsFile       string
}

// AppConfig is the concrete implementation of Config
type AppConfig struct {
	v            Values
	configSource string
	settingPath  string
}

// NewAppConfig creates a new AppConfig. Relative file settings are resolved
// against home.
func NewAppConfig(v Values, configSource, settingPath string) *AppConfig {
	v.CriteriaPath = underHome(v.Home, v.CriteriaPath)
	v.DependenciesPath = underHome(v.Home, v.DependenciesPath)
	v.PhasesPath = underHome(v.Home, v.PhasesPath)
	v.HandoffDir = underHome(v.Home, v.HandoffDir)
	v.MetricsFile = underHome(v.Home, v.MetricsFile)
	return &AppConfig{v: v, configSource: configSource, settingPath: settingPath}
}

func underHome(home, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(home, p)
}

// Home returns the base directory
func (c *AppConfig) Home() string {
	return c.v.Home
}

// TimeoutSec returns the timeout in seconds
func (c *AppConfig) TimeoutSec() int {
	return c.v.TimeoutSec
}

// Timeout returns the timeout as a Duration
func (c *AppConfig) Timeout() time.Duration {
	return time.Duration(c.v.TimeoutSec) * time.Second
}

func (c *AppConfig) MaxRetries() int {
	return c.v.MaxRetries
}

func (c *AppConfig) InitialDelay() time.Duration {
	return time.Duration(c.v.InitialDelaySec) * time.Second
}

func (c *AppConfig) BackoffMultiplier() float64 {
	return c.v.BackoffMultiplier
}

// StderrLevel returns the stderr log level
func (c *AppConfig) StderrLevel() string {
	return c.v.StderrLevel
}

func (c *AppConfig) LogFormat() string {
	return c.v.LogFormat
}

func (c *AppConfig) CriteriaPath() string {
	return c.v.CriteriaPath
}

func (c *AppConfig) DependenciesPath() string {
	return c.v.DependenciesPath
}

func (c *AppConfig) PhasesPath() string {
	return c.v.PhasesPath
}

func (c *AppConfig) HandoffDir() string {
	return c.v.HandoffDir
}

func (c *AppConfig) WriteHandoffs() bool {
	return c.v.WriteHandoffs
}

func (c *AppConfig) MetricsFile() string {
	return c.v.MetricsFile
}

// ConfigSource returns the source of configuration
func (c *AppConfig) ConfigSource() string {
	return c.configSource
}

// SettingPath returns the path to setting.yaml if loaded from file
func (c *AppConfig) SettingPath() string {
	return c.settingPath
}
