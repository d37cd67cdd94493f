package common

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/lni/dragonboat/v4/logger"
)

func newBufferLogger(name string, level logger.LogLevel) (*dLockLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	return &dLockLogger{name: name, level: level, logger: log.New(&buf, "", 0)}, &buf
}

func TestLoggerLevels(t *testing.T) {
	l, buf := newBufferLogger("lockmgr", logger.WARNING)

	l.Debugf("hidden %d", 1)
	l.Infof("hidden %d", 2)
	l.Warningf("conflict on %s", "jobs")
	l.Errorf("store failed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if want := "WARN  | lockmgr         | conflict on jobs"; lines[0] != want {
		t.Errorf("line = %q, want %q", lines[0], want)
	}
	if !strings.HasPrefix(lines[1], "ERROR | lockmgr") {
		t.Errorf("unexpected line %q", lines[1])
	}

	buf.Reset()
	l.SetLevel(logger.DEBUG)
	l.Debugf("visible")
	if !strings.Contains(buf.String(), "DEBUG | lockmgr") {
		t.Errorf("debug line missing after SetLevel: %q", buf.String())
	}
}

func TestLoggerPanicf(t *testing.T) {
	l, buf := newBufferLogger("rpc", logger.ERROR)
	defer func() {
		if r := recover(); r != "broken 7" {
			t.Errorf("recovered %v, want broken 7", r)
		}
		if !strings.Contains(buf.String(), "CRIT") {
			t.Errorf("panic was not logged: %q", buf.String())
		}
	}()
	l.Panicf("broken %d", 7)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    logger.LogLevel
		wantErr bool
	}{
		{"debug", logger.DEBUG, false},
		{"INFO", logger.INFO, false},
		{"", logger.INFO, false},
		{"warn", logger.WARNING, false},
		{" warning ", logger.WARNING, false},
		{"error", logger.ERROR, false},
		{"trace", 0, true},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestInitLoggers(t *testing.T) {
	if err := InitLoggers("verbose"); err == nil {
		t.Errorf("expected error for unknown level")
	}
	if err := InitLoggers("error"); err != nil {
		t.Fatalf("InitLoggers failed: %v", err)
	}
	if err := InitLoggers("info"); err != nil {
		t.Fatalf("second InitLoggers failed: %v", err)
	}
}
