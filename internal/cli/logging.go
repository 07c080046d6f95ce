package cli

import (
	"io"
	"strings"

	"github.com/GabrielNunesIT/go-libs/logger"
)

// SetupLogging creates a console logger on w at the given level and installs
// it as the default logger.
func SetupLogging(w io.Writer, level string) logger.ILogger {
	log := logger.NewConsoleLogger(w)

	switch strings.ToLower(level) {
	case "trace":
		log.SetLevel(logger.LevelTrace)
	case "debug":
		log.SetLevel(logger.LevelDebug)
	case "warn", "warning":
		log.SetLevel(logger.LevelWarning)
	case "error":
		log.SetLevel(logger.LevelError)
	default:
		log.SetLevel(logger.LevelInfo)
	}

	logger.SetDefaultLogger(log)
	logger.SetCtxFallbackLogger(log)

	return log
}

// effectiveLevel prefers the --log-level flag over the config file.
func effectiveLevel(flagLevel, cfgLevel string) string {
	if flagLevel != "" {
		return flagLevel
	}
	return cfgLevel
}
