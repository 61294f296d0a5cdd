package app

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Logger struct {
	out io.Writer
}

type LogEvent struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func NewLogger(out io.Writer) *Logger {
	return &Logger{out: out}
}

func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.write("info", message, fields)
}

func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.write("error", message, fields)
}

func (l *Logger) write(level, message string, fields map[string]interface{}) {
	evt := LogEvent{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Message:   message,
		Fields:    fields,
	}
	payload, _ := json.Marshal(evt)
	// Session transcripts and remote output can carry key material into
	// field values; scrub before anything hits the log.
	payload = []byte(RedactSecrets(string(payload)))
	payload = append(payload, '\n')
	_, _ = l.out.Write(payload)
}

// DefaultLogPath resolves where the log file lives when the config names
// none.
func DefaultLogPath() string {
	cfgPath := DefaultConfigPath()
	if strings.TrimSpace(cfgPath) == "" {
		return filepath.Join(os.TempDir(), "adesk", "adesk.log")
	}
	return filepath.Join(filepath.Dir(cfgPath), "adesk.log")
}

// OpenLogWriter opens path for appending, creating parent directories as
// needed. An empty path or an unopenable file falls back to stderr so
// logging never takes the process down.
func OpenLogWriter(path string) io.Writer {
	if strings.TrimSpace(path) == "" {
		return os.Stderr
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return os.Stderr
	}
	return f
}
