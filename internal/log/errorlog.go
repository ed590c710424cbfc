package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrorLog is the append-only file operators watch for conditions that need
// a human: zombie workers and skipped cycles. A nil *ErrorLog discards.
type ErrorLog struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewErrorLog returns an ErrorLog appending to path. An empty path yields nil.
func NewErrorLog(path string) *ErrorLog {
	if path == "" {
		return nil
	}
	return &ErrorLog{path: path, now: time.Now}
}

// Path returns the file being appended to.
func (l *ErrorLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes one timestamped line.
func (l *ErrorLog) Append(msg string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create error log directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open error log: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%s: %s\n", l.now().Format(time.RFC3339), msg); err != nil {
		_ = f.Close()
		return fmt.Errorf("write error log: %w", err)
	}
	return f.Close()
}
