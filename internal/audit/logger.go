package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// Logger appends JSON events to a file. A nil Logger or an empty path
// discards events.
type Logger struct {
	path string

	mu   sync.Mutex
	file *os.File
	out  *logrus.Logger
}

func NewLogger(path string) *Logger {
	return &Logger{path: path}
}

func (l *Logger) Log(actor, action, target, outcome, detail string) error {
	if l == nil || l.path == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.openLocked(); err != nil {
		return err
	}

	fields := logrus.Fields{"actor": actor, "outcome": outcome}
	if target != "" {
		fields["target"] = target
	}
	if detail != "" {
		fields["detail"] = detail
	}
	l.out.WithFields(fields).Info(action)
	return nil
}

func (l *Logger) openLocked() error {
	if l.out != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("mkdir audit log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log file: %w", err)
	}

	out := logrus.New()
	out.SetOutput(f)
	out.SetLevel(logrus.InfoLevel)
	out.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "at",
			logrus.FieldKeyMsg:  "action",
		},
	})
	l.file = f
	l.out = out
	return nil
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.out = nil
	return err
}
