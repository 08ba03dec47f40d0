// Package testlog provides the shared test logger without depending on any
// other internal packages, so it can be imported from in-package tests of
// low-level packages (e.g. internal/memory) without import cycles.
package testlog

import (
	"log/slog"
	"os"
)

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
