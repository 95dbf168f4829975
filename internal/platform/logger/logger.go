package logger

import (
	"log/slog"
	"os"
)

// New returns the process logger. Production emits JSON for the log
// pipeline; anything else gets human-readable text.
func New(environment string) *slog.Logger {
	var handler slog.Handler
	if environment == "production" {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	} else {
		handler = slog.NewTextHandler(os.Stdout, nil)
	}
	return slog.New(handler)
}
