package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// DebugLogger provides verbose debug logging with hex dump capability.
// It writes to a dedicated debug.log file and is intended for troubleshooting
// protocol-level issues: malformed frames, dropped sockets, SD state machine
// transitions, TP reassembly violations. It implements the Logger interface
// so it can be plugged into a Runtime directly.
type DebugLogger struct {
	file    *os.File
	mu      sync.Mutex
	closed  bool
	filters map[string]bool // component filters (empty = log all)
}

var globalDebugLogger *DebugLogger
var globalDebugMu sync.RWMutex

// knownComponents lists the component names the runtime logs under.
var knownComponents = []string{
	"codec", "session", "sd", "reactor", "tp", "config", "debug",
}

// NewDebugLogger creates a debug logger writing to path, truncating any
// existing file.
func NewDebugLogger(path string) (*DebugLogger, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open debug log file: %w", err)
	}

	logger := &DebugLogger{
		file:    file,
		filters: make(map[string]bool),
	}

	logger.Log(Debug, "debug", fmt.Sprintf("debug logging started - %s", time.Now().Format(time.RFC3339)))
	return logger, nil
}

// SetFilter restricts logging to a comma-separated list of components.
// Empty string logs everything. Unknown component names are accepted but
// will simply never match a real log call.
func (l *DebugLogger) SetFilter(filter string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.filters = make(map[string]bool)
	if filter == "" {
		return
	}
	for _, p := range strings.Split(filter, ",") {
		p = strings.TrimSpace(strings.ToLower(p))
		if p != "" {
			l.filters[p] = true
		}
	}
}

func (l *DebugLogger) shouldLog(component string) bool {
	if len(l.filters) == 0 {
		return true
	}
	c := strings.ToLower(component)
	if l.filters[c] {
		return true
	}
	return c == "debug"
}

// Log implements logging.Logger.
func (l *DebugLogger) Log(level Level, component, message string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || !l.shouldLog(component) {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(l.file, "%s [%s] %s: %s\n", timestamp, level, component, message)
}

// LogTX logs a transmitted wire frame with a hex dump.
func (l *DebugLogger) LogTX(component string, data []byte) { l.logPacket(component, "TX", data) }

// LogRX logs a received wire frame with a hex dump.
func (l *DebugLogger) LogRX(component string, data []byte) { l.logPacket(component, "RX", data) }

func (l *DebugLogger) logPacket(component, direction string, data []byte) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || !l.shouldLog(component) {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(l.file, "%s [%s] %s (%d bytes):\n", timestamp, component, direction, len(data))
	fmt.Fprintf(l.file, "%s\n", hexDump(data))
}

// Close closes the debug log file.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(l.file, "%s [DEBUG] debug logging ended\n", timestamp)
	return l.file.Close()
}

// SetGlobalDebugLogger installs the process-wide debug logger used by the
// package-level DebugLog/DebugTX/DebugRX helpers.
func SetGlobalDebugLogger(logger *DebugLogger) {
	globalDebugMu.Lock()
	defer globalDebugMu.Unlock()
	globalDebugLogger = logger
}

// GetGlobalDebugLogger returns the process-wide debug logger, or nil.
func GetGlobalDebugLogger() *DebugLogger {
	globalDebugMu.RLock()
	defer globalDebugMu.RUnlock()
	return globalDebugLogger
}

func hexDump(data []byte) string {
	if len(data) == 0 {
		return "    (empty)"
	}

	var sb strings.Builder
	for offset := 0; offset < len(data); offset += 16 {
		sb.WriteString(fmt.Sprintf("    %04X: ", offset))
		for i := 0; i < 8; i++ {
			if offset+i < len(data) {
				sb.WriteString(fmt.Sprintf("%02X ", data[offset+i]))
			} else {
				sb.WriteString("   ")
			}
		}
		sb.WriteString(" ")
		for i := 8; i < 16; i++ {
			if offset+i < len(data) {
				sb.WriteString(fmt.Sprintf("%02X ", data[offset+i]))
			} else {
				sb.WriteString("   ")
			}
		}
		sb.WriteString(" ")
		for i := 0; i < 16; i++ {
			if offset+i < len(data) {
				b := data[offset+i]
				if b >= 32 && b < 127 {
					sb.WriteByte(b)
				} else {
					sb.WriteByte('.')
				}
			}
		}
		sb.WriteString("\n")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// DebugLog logs through the global debug logger, if one is installed.
func DebugLog(component, format string, args ...interface{}) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.Log(Debug, component, fmt.Sprintf(format, args...))
	}
}

// DebugTX logs transmitted bytes through the global debug logger, if installed.
func DebugTX(component string, data []byte) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.LogTX(component, data)
	}
}

// DebugRX logs received bytes through the global debug logger, if installed.
func DebugRX(component string, data []byte) {
	if logger := GetGlobalDebugLogger(); logger != nil {
		logger.LogRX(component, data)
	}
}
