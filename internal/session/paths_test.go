package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDir(t *testing.T) {
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".wadash", "sessions", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestCredentialDBPath(t *testing.T) {
	got := CredentialDBPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "session.db")) {
		t.Errorf("CredentialDBPath(test) = %q, want suffix sessions/test/session.db", got)
	}
}

func TestAppDBPath(t *testing.T) {
	got := AppDBPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "wadash.db")) {
		t.Errorf("AppDBPath(test) = %q, want suffix sessions/test/wadash.db", got)
	}
}

func TestLockPath(t *testing.T) {
	got := LockPath("test")
	if !strings.HasSuffix(got, filepath.Join("sessions", "test", "LOCK")) {
		t.Errorf("LockPath(test) = %q, want suffix sessions/test/LOCK", got)
	}
}

func TestLogPath(t *testing.T) {
	got := LogPath("test")
	if !strings.HasSuffix(got, filepath.Join("logs", "wadashd.log")) {
		t.Errorf("LogPath(test) = %q, want suffix logs/wadashd.log", got)
	}
}
