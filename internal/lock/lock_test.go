package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// sessionDir mimics ~/.feira/sessions/<name> so the tests exercise the
// same layout feirad locks.
func sessionDir(t *testing.T, name string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "sessions", name)
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestAcquireWritesOwnerPID(t *testing.T) {
	dir := sessionDir(t, "main")

	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer func() { _ = l.Release() }()

	data, err := os.ReadFile(filepath.Join(dir, "LOCK"))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	want := fmt.Sprintf("pid=%d", os.Getpid())
	if !strings.Contains(string(data), want) {
		t.Errorf("lock file %q does not record %q", data, want)
	}
}

func TestSecondDaemonRefused(t *testing.T) {
	dir := sessionDir(t, "main")

	l1, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	// A second feirad for the same session must be turned away and told
	// who holds the lock.
	_, err = Acquire(dir)
	var held *LockHeldError
	if !errors.As(err, &held) {
		t.Fatalf("second Acquire() error = %v, want LockHeldError", err)
	}
	if held.PID != os.Getpid() {
		t.Errorf("reported holder PID = %d, want %d", held.PID, os.Getpid())
	}
	if !strings.Contains(held.Error(), "session lock held") {
		t.Errorf("error message %q should name the session lock", held.Error())
	}
}

func TestSessionsLockIndependently(t *testing.T) {
	main := sessionDir(t, "main")
	work := sessionDir(t, "work")

	l1, err := Acquire(main)
	if err != nil {
		t.Fatalf("Acquire(main) error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	// A different session is a different daemon; it must not contend.
	l2, err := Acquire(work)
	if err != nil {
		t.Fatalf("Acquire(work) error = %v", err)
	}
	defer func() { _ = l2.Release() }()
}

func TestReleaseFreesSession(t *testing.T) {
	dir := sessionDir(t, "main")

	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	// Release removes the lock file so a restart never sees a stale one.
	if _, err := os.Stat(filepath.Join(dir, "LOCK")); !os.IsNotExist(err) {
		t.Errorf("lock file still present after release: %v", err)
	}

	// The session is immediately acquirable again.
	l2, err := Acquire(dir)
	if err != nil {
		t.Fatalf("re-Acquire() error = %v", err)
	}
	defer func() { _ = l2.Release() }()
}

func TestReleaseNilAndIdempotent(t *testing.T) {
	var nilLock *Lock
	if err := nilLock.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}

	dir := sessionDir(t, "main")
	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}
