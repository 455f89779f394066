// Package logging writes per-component debug logs to a session-scoped file
// under ~/.mend/logs/. Every component created during one process run shares
// the same file, keyed by a generated session id.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// session holds process-wide logging state: one id and one directory,
// initialized lazily on first use.
var session struct {
	idOnce  sync.Once
	id      string
	dirOnce sync.Once
	dir     string
	dirErr  error
}

func currentSessionID() string {
	session.idOnce.Do(func() {
		session.id = uuid.New().String()
	})
	return session.id
}

func ensureLogDir() (string, error) {
	session.dirOnce.Do(func() {
		home, err := os.UserHomeDir()
		if err != nil {
			session.dirErr = fmt.Errorf("failed to get home directory: %w", err)
			return
		}
		dir := filepath.Join(home, ".mend", "logs")
		if err := os.MkdirAll(dir, 0750); err != nil {
			session.dirErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}
		session.dir = dir
	})
	return session.dir, session.dirErr
}

// Logger writes timestamped, leveled entries for one engine component.
// There is no level filtering; every call is written.
type Logger struct {
	sessionID string
	component string

	mu        sync.Mutex
	file      *os.File
	out       *log.Logger
	logPath   string
	closeOnce sync.Once
}

// NewLogger creates a logger for the named component, appending to
// ~/.mend/logs/<session-id>-mend.log.
//
// When the log directory or file cannot be created it returns a usable
// logger writing to stderr together with the error, so callers always get
// a non-nil logger.
func NewLogger(component string) (*Logger, error) {
	dir, err := ensureLogDir()
	if err != nil {
		return stderrLogger(component, err), err
	}

	logPath := filepath.Join(dir, currentSessionID()+"-mend.log")

	// Append mode: every component in the process shares this file
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		err = fmt.Errorf("failed to open log file: %w", err)
		return stderrLogger(component, err), err
	}

	return &Logger{
		sessionID: currentSessionID(),
		component: component,
		file:      file,
		out:       log.New(file, "", 0),
		logPath:   logPath,
	}, nil
}

func stderrLogger(component string, cause error) *Logger {
	out := log.New(os.Stderr, fmt.Sprintf("[%s] ", component), log.LstdFlags)
	out.Printf("file logging unavailable (%v), writing to stderr", cause)
	return &Logger{
		sessionID: currentSessionID(),
		component: component,
		out:       out,
	}
}

func (l *Logger) write(level, format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stamp := time.Now().Format("2006-01-02 15:04:05.000")
	l.out.Println(fmt.Sprintf("[%s] [%s] [%s] %s", stamp, l.component, level, fmt.Sprintf(format, v...)))
}

// Printf logs at info level.
func (l *Logger) Printf(format string, v ...interface{}) { l.write("INFO", format, v...) }

// Debugf logs at debug level.
func (l *Logger) Debugf(format string, v ...interface{}) { l.write("DEBUG", format, v...) }

// Infof logs at info level.
func (l *Logger) Infof(format string, v ...interface{}) { l.write("INFO", format, v...) }

// Warnf logs at warning level.
func (l *Logger) Warnf(format string, v ...interface{}) { l.write("WARN", format, v...) }

// Errorf logs at error level.
func (l *Logger) Errorf(format string, v ...interface{}) { l.write("ERROR", format, v...) }

// Writer returns the underlying destination, for components that need a raw
// io.Writer.
func (l *Logger) Writer() io.Writer {
	if l.file != nil {
		return l.file
	}
	return os.Stderr
}

// SessionID returns the session id this logger writes under.
func (l *Logger) SessionID() string { return l.sessionID }

// LogPath returns the log file path, or "" when writing to stderr.
func (l *Logger) LogPath() string { return l.logPath }

// Close closes the log file. Safe to call more than once.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

// GetSessionID returns the process-wide logging session id.
func GetSessionID() string {
	return currentSessionID()
}

// GetLogDirectory returns the directory log files are written to.
func GetLogDirectory() (string, error) {
	return ensureLogDir()
}
