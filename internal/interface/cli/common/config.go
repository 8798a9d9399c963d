// Package common holds what every deepipe command shares: the loaded
// configuration, the logger, the filesystem and the wired runtime.
package common

import (
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/YoshitsuguKoike/deepipe/internal/app/config"
)

var (
	// globalConfig holds the loaded configuration for all commands
	globalConfig config.Config
	globalLogger = zap.NewNop()
	globalFs     = afero.NewOsFs()
)

// SetGlobalConfig sets the global configuration
func SetGlobalConfig(cfg config.Config) {
	globalConfig = cfg
}

// GetGlobalConfig returns the global configuration
func GetGlobalConfig() config.Config {
	return globalConfig
}

// SetLogger replaces the shared logger; nil installs a no-op logger
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	globalLogger = l
}

// Logger returns the shared logger
func Logger() *zap.Logger {
	return globalLogger
}

// SetFs replaces the filesystem used for state, config and artifacts
func SetFs(fs afero.Fs) {
	globalFs = fs
}

// Fs returns the shared filesystem
func Fs() afero.Fs {
	return globalFs
}

// AnnotationSkipConfig marks commands that run without a valid setting.yaml
const AnnotationSkipConfig = "deepipe/skip-config"
