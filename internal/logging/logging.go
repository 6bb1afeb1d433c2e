package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns the JSON logger a binary passes down to its components.
func New(service, env string) *slog.Logger {
	return NewWithWriter(os.Stdout, service, env)
}

func NewWithWriter(w io.Writer, service, env string) *slog.Logger {
	level := slog.LevelInfo
	if strings.EqualFold(env, "dev") {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", service)
}
