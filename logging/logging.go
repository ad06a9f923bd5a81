// Package logging builds the zap loggers used by the binaries.
package logging

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// New returns a logger writing to stderr at level ("debug", "info", ...).
// Development loggers are human-readable with stack traces on warnings;
// production loggers emit JSON.
func New(level string, development bool) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = lvl
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
