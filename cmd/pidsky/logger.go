package main

import (
	"log/slog"
	"os"

	"github.com/kstaniek/go-pidsky/internal/logging"
)

func setupLogger(format, level string, quiet bool) *slog.Logger {
	l := logging.New(format, logging.ParseLevel(level, quiet), os.Stderr).With("app", "pidsky")
	logging.Set(l)
	return l
}
