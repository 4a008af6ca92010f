// Package logging sets up the process-wide zerolog logger, a direct port of
// the teacher's cmd/api/main.go setupLogger: pretty console output with
// caller info in development, structured JSON with service/environment
// fields otherwise.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a base logger for component, tagged with service/environment
// fields so multiple processes can be told apart in aggregated logs.
func New(component, levelStr, environment string) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(levelStr))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if strings.EqualFold(environment, "development") {
		writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		logger = zerolog.New(writer).With().Timestamp().Caller().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	return logger.With().
		Str("service", "rabbitreels").
		Str("component", component).
		Str("environment", environment).
		Logger()
}
