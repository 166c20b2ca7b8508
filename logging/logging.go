// Package logging builds the go-kit loggers used across the module.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"opti-lambda-go/config"
)

// New returns a leveled logger writing to stderr in the configured format.
func New(cfg config.LogConfig) log.Logger {
	return NewWithWriter(os.Stderr, cfg)
}

func NewWithWriter(w io.Writer, cfg config.LogConfig) log.Logger {
	var logger log.Logger
	if strings.EqualFold(cfg.Format, "json") {
		logger = log.NewJSONLogger(log.NewSyncWriter(w))
	} else {
		logger = log.NewLogfmtLogger(log.NewSyncWriter(w))
	}
	logger = level.NewFilter(logger, levelOption(cfg.Level))
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}

// Nop discards everything.
func Nop() log.Logger {
	return log.NewNopLogger()
}

func levelOption(lvl string) level.Option {
	switch strings.ToLower(lvl) {
	case "debug":
		return level.AllowDebug()
	case "warn", "warning":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	case "none":
		return level.AllowNone()
	}
	return level.AllowInfo()
}
