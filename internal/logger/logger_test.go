package logger

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	out := filepath.Join(t.TempDir(), "log")

	info, err := New(Options{Output: out})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if info.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug to be disabled by default")
	}

	debug, err := New(Options{JSON: true, Debug: true, Output: out})
	if err != nil {
		t.Fatalf("new debug logger: %v", err)
	}
	if !debug.Core().Enabled(zapcore.DebugLevel) {
		t.Fatalf("expected debug to be enabled")
	}
}
