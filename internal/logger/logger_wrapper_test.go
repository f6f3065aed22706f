package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/leandrodaf/midibridge/sdk/contracts"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObserved() (*ZapLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewZapLoggerFromCore(core), logs
}

func TestLevelFiltering(t *testing.T) {
	l, logs := newObserved()

	l.Debug("hidden")
	l.Info("shown")
	if logs.Len() != 1 {
		t.Fatalf("got %d entries, want 1", logs.Len())
	}

	l.SetLevel(contracts.DebugLevel)
	l.Debug("now shown")
	if logs.Len() != 2 {
		t.Fatalf("got %d entries after SetLevel(debug), want 2", logs.Len())
	}

	l.SetLevel(contracts.ErrorLevel)
	l.Warn("hidden")
	l.Error("shown")
	if got := logs.FilterMessage("shown").Len(); got != 2 {
		t.Errorf("got %d 'shown' entries, want 2", got)
	}
}

func TestFields(t *testing.T) {
	l, logs := newObserved()

	l.Info("relayed",
		l.Field().String("direction", "network->virtual"),
		l.Field().Duration("delta", 120*time.Millisecond),
		l.Field().Hex("data", []byte{0x90, 0x40, 0x7F}),
		l.Field().Error("error", errors.New("boom")),
		l.Field().Uint32("ssrc", 7),
	)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["direction"] != "network->virtual" {
		t.Errorf("direction = %v", ctx["direction"])
	}
	if ctx["delta"] != 120*time.Millisecond {
		t.Errorf("delta = %v", ctx["delta"])
	}
	if ctx["data"] != "90 40 7F" {
		t.Errorf("data = %v", ctx["data"])
	}
	if ctx["error"] != "boom" {
		t.Errorf("error = %v", ctx["error"])
	}
	if ctx["ssrc"] != uint32(7) {
		t.Errorf("ssrc = %v (%T)", ctx["ssrc"], ctx["ssrc"])
	}
}

func TestSetDestinationFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.log")
	l := NewZapLogger().(*ZapLogger)

	if err := l.SetDestination(contracts.FileLog, path); err != nil {
		t.Fatalf("SetDestination: %v", err)
	}
	l.Info("written to file", l.Field().Int("port", 5004))
	if err := l.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") || !strings.Contains(string(data), `"port":5004`) {
		t.Errorf("log file content = %q", data)
	}
}

func TestSetDestinationErrors(t *testing.T) {
	l := NewZapLogger()
	if err := l.SetDestination(contracts.FileLog); err == nil {
		t.Error("expected error for file destination without a path")
	}
	if err := l.SetDestination("syslog"); err == nil {
		t.Error("expected error for unknown destination")
	}
}

func TestEnabled(t *testing.T) {
	core, _ := observer.New(zapcore.DebugLevel)
	l := NewZapLoggerFromCore(core)

	if l.Enabled(contracts.DebugLevel) {
		t.Error("debug enabled at the default info level")
	}
	if !l.Enabled(contracts.WarnLevel) {
		t.Error("warn disabled at info level")
	}
	l.SetLevel(contracts.DebugLevel)
	if !l.Enabled(contracts.DebugLevel) {
		t.Error("debug disabled after SetLevel(debug)")
	}
}
