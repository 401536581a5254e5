package log

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrapCapturesFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := Wrap(zap.New(core))

	logger.Info("started", zap.Int("id", 3))
	logger.With(zap.String("component", "group")).Error("failed", zap.String("reason", "boom"))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log entries, got %d", len(entries))
	}
	if entries[0].Message != "started" {
		t.Errorf("unexpected first message: %q", entries[0].Message)
	}
	if entries[1].ContextMap()["component"] != "group" {
		t.Errorf("expected With() field to be attached, got %v", entries[1].ContextMap())
	}
}

func TestNop(t *testing.T) {
	logger := Nop()
	logger.Info("noop")
	logger.With(zap.String("k", "v")).Warn("still noop")
}
