package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/knesgoda/outpaged-opql/internal/config"
)

func TestNew(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "warn"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn")
	}
	if !logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Error("error should be enabled at warn")
	}

	dev, err := New(config.LoggingConfig{Level: "debug", Development: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !dev.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug should be enabled")
	}

	def, err := New(config.LoggingConfig{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !def.Core().Enabled(zapcore.InfoLevel) || def.Core().Enabled(zapcore.DebugLevel) {
		t.Error("empty level should default to info")
	}
}

func TestNew_BadLevel(t *testing.T) {
	if _, err := New(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}
