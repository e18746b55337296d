package utilities

import (
	"path/filepath"
	"testing"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap/zapcore"
)

func TestNewKSUID_Parses(t *testing.T) {
	id := NewKSUID()
	if _, err := ksuid.Parse(id); err != nil {
		t.Fatalf("ksuid.Parse(%q): %v", id, err)
	}
	if NewKSUID() == id {
		t.Fatal("two KSUIDs should differ")
	}
}

func TestNewSnowflakeIDWithNode(t *testing.T) {
	a := NewSnowflakeIDWithNode(3)
	b := NewSnowflakeIDWithNode(3)
	if a == "" || a == b {
		t.Fatalf("expected distinct ids, got %q and %q", a, b)
	}
}

func TestNewSnowflakeIDWithNode_InvalidNodeFallsBack(t *testing.T) {
	id := NewSnowflakeIDWithNode(-1)
	if _, err := ksuid.Parse(id); err != nil {
		t.Fatalf("invalid node should fall back to KSUID, got %q", id)
	}
}

func TestLevelFromString(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := levelFromString(in); got != want {
			t.Errorf("levelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInit_WithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.log")
	lg, err := Init(LogConfig{Level: "debug", File: path})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	lg.Info("hello")
	_ = lg.Sync()
}
