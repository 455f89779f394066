package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// resetSession points the package at a temp log directory and clears the
// session id, restoring both when the test finishes.
func resetSession(t *testing.T) {
	t.Helper()

	savedID := session.id
	savedDir := session.dir
	savedDirErr := session.dirErr
	session.idOnce = sync.Once{}
	session.id = ""
	session.dirOnce = sync.Once{}
	session.dir = t.TempDir()
	session.dirErr = nil
	// dir is pre-set, so mark the once as done
	session.dirOnce.Do(func() {})

	t.Cleanup(func() {
		session.idOnce = sync.Once{}
		session.id = savedID
		if savedID != "" {
			session.idOnce.Do(func() {})
		}
		session.dirOnce = sync.Once{}
		session.dir = savedDir
		session.dirErr = savedDirErr
		if savedDir != "" || savedDirErr != nil {
			session.dirOnce.Do(func() {})
		}
	})
}

func TestNewLogger_WritesToSessionFile(t *testing.T) {
	resetSession(t)

	logger, err := NewLogger("scorer")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	if logger.SessionID() == "" {
		t.Error("Expected a session id")
	}
	if logger.LogPath() == "" {
		t.Fatal("Expected a log path")
	}
	if _, err := os.Stat(logger.LogPath()); err != nil {
		t.Errorf("Log file missing: %v", err)
	}
}

func TestLogger_LevelFormatting(t *testing.T) {
	resetSession(t)

	logger, err := NewLogger("healing")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.Printf("attempt %d", 3)
	logger.Debugf("snapshot refreshed")
	logger.Infof("tier succeeded")
	logger.Warnf("tier skipped")
	logger.Errorf("tier failed")
	logger.Close()

	content, err := os.ReadFile(logger.LogPath())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	for _, want := range []string{
		"[healing] [INFO] attempt 3",
		"[healing] [DEBUG] snapshot refreshed",
		"[healing] [INFO] tier succeeded",
		"[healing] [WARN] tier skipped",
		"[healing] [ERROR] tier failed",
	} {
		if !strings.Contains(string(content), want) {
			t.Errorf("Log missing %q\ngot:\n%s", want, content)
		}
	}
}

func TestLoggers_ShareSessionFile(t *testing.T) {
	resetSession(t)

	first, err := NewLogger("engine")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer first.Close()
	second, err := NewLogger("driver")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer second.Close()

	if first.SessionID() != second.SessionID() {
		t.Errorf("Session ids differ: %q vs %q", first.SessionID(), second.SessionID())
	}
	if first.LogPath() != second.LogPath() {
		t.Errorf("Log paths differ: %q vs %q", first.LogPath(), second.LogPath())
	}

	first.Printf("from engine")
	second.Printf("from driver")

	content, err := os.ReadFile(first.LogPath())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "[engine]") || !strings.Contains(string(content), "[driver]") {
		t.Errorf("Expected entries from both components, got:\n%s", content)
	}
}

func TestGetSessionID_Stable(t *testing.T) {
	resetSession(t)

	if a, b := GetSessionID(), GetSessionID(); a == "" || a != b {
		t.Errorf("Expected one stable session id, got %q and %q", a, b)
	}
}

func TestGetLogDirectory(t *testing.T) {
	resetSession(t)

	dir, err := GetLogDirectory()
	if err != nil {
		t.Fatalf("GetLogDirectory failed: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("Expected an existing directory at %q", dir)
	}
}

func TestLogger_CloseIsIdempotent(t *testing.T) {
	resetSession(t)

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestLogPath_NamedAfterSession(t *testing.T) {
	resetSession(t)

	logger, err := NewLogger("test")
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	defer logger.Close()

	name := filepath.Base(logger.LogPath())
	if !strings.HasSuffix(name, "-mend.log") {
		t.Errorf("Expected file name ending in -mend.log, got %q", name)
	}
	if strings.TrimSuffix(name, "-mend.log") != logger.SessionID() {
		t.Errorf("Expected file named after session id %q, got %q", logger.SessionID(), name)
	}
}
