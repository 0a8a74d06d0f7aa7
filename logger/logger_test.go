package logger

import (
	"io"
	"sync/atomic"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestWarnCounterByComponent(t *testing.T) {
	log := Logger()
	log.Logger.SetOutput(io.Discard)

	before := atomic.LoadInt64(&warnsPoll)
	log.WithComponent("poll_channel").Warn("simulated failure")
	if got := atomic.LoadInt64(&warnsPoll); got != before+1 {
		t.Fatalf("poll warn counter not incremented: before=%d after=%d", before, got)
	}
}

func TestErrorCounterByComponent(t *testing.T) {
	log := Logger()
	log.Logger.SetOutput(io.Discard)

	before := atomic.LoadInt64(&errorsSocket)
	log.WithComponent("socket_channel").Error("simulated failure")
	if got := atomic.LoadInt64(&errorsSocket); got != before+1 {
		t.Fatalf("socket error counter not incremented: before=%d after=%d", before, got)
	}
}
