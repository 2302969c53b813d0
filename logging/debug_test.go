package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDebugLogger_FilterRestrictsComponents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	logger, err := NewDebugLogger(path)
	if err != nil {
		t.Fatalf("NewDebugLogger: %v", err)
	}
	defer logger.Close()

	logger.SetFilter("sd")
	logger.Log(Info, "sd", "offer sent")
	logger.Log(Info, "tp", "segment dropped")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	s := string(content)
	if !strings.Contains(s, "offer sent") {
		t.Error("expected sd message to be logged")
	}
	if strings.Contains(s, "segment dropped") {
		t.Error("expected tp message to be filtered out")
	}
}

func TestDebugLogger_HexDumpRoundsTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	logger, err := NewDebugLogger(path)
	if err != nil {
		t.Fatalf("NewDebugLogger: %v", err)
	}
	defer logger.Close()

	logger.LogTX("codec", []byte{0x10, 0x01, 0x00, 0x01})

	content, _ := os.ReadFile(path)
	if !strings.Contains(string(content), "10 01 00 01") {
		t.Errorf("expected hex dump of TX bytes, got: %s", content)
	}
}

func TestDebugLogger_ClosedLoggerDiscardsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	logger, err := NewDebugLogger(path)
	if err != nil {
		t.Fatalf("NewDebugLogger: %v", err)
	}
	logger.Close()
	logger.Log(Info, "sd", "should not appear")

	content, _ := os.ReadFile(path)
	if strings.Contains(string(content), "should not appear") {
		t.Error("logged after close")
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *DebugLogger
	l.Log(Info, "sd", "noop")
	l.LogTX("sd", []byte{1})
	if err := l.Close(); err != nil {
		t.Errorf("nil Close returned error: %v", err)
	}
}
