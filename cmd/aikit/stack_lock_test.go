package main

import (
	"errors"
	"os"
	"testing"
)

func TestStackLockAcquireRelease(t *testing.T) {
	dir := t.TempDir()
	lock := NewStackLock(dir, "ai-stack")

	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !lock.IsHeld() {
		t.Error("IsHeld = false after acquire")
	}
	if pid := lock.HolderPID(); pid != os.Getpid() {
		t.Errorf("HolderPID = %d, want %d", pid, os.Getpid())
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if lock.IsHeld() {
		t.Error("IsHeld = true after release")
	}

	// Reacquire after release.
	if err := lock.Acquire(); err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	lock.Release()
}

func TestStackLockContention(t *testing.T) {
	dir := t.TempDir()
	first := NewStackLock(dir, "ai-stack")
	if err := first.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer first.Release()

	second := NewStackLock(dir, "ai-stack")
	err := second.Acquire()

	var locked *StackLockedError
	if !errors.As(err, &locked) {
		t.Fatalf("err = %v, want StackLockedError", err)
	}
	if locked.StackName != "ai-stack" {
		t.Errorf("stack = %q", locked.StackName)
	}
	if locked.HolderPID != os.Getpid() {
		t.Errorf("holder pid = %d, want %d", locked.HolderPID, os.Getpid())
	}
}

func TestStackLockDifferentStacksDoNotContend(t *testing.T) {
	dir := t.TempDir()
	a := NewStackLock(dir, "stack-a")
	b := NewStackLock(dir, "stack-b")

	if err := a.Acquire(); err != nil {
		t.Fatalf("Acquire a: %v", err)
	}
	defer a.Release()
	if err := b.Acquire(); err != nil {
		t.Fatalf("Acquire b: %v", err)
	}
	defer b.Release()
}

func TestStackLockReleaseIsIdempotent(t *testing.T) {
	lock := NewStackLock(t.TempDir(), "ai-stack")
	if err := lock.Release(); err != nil {
		t.Errorf("Release without acquire: %v", err)
	}

	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestStackLockRequiresStackName(t *testing.T) {
	lock := NewStackLock(t.TempDir(), "")

	var missing *MissingParameterError
	if err := lock.Acquire(); !errors.As(err, &missing) {
		t.Fatalf("err = %v, want MissingParameterError", err)
	}
}

func TestStackLockCreatesLockDir(t *testing.T) {
	dir := t.TempDir() + "/nested/locks"
	lock := NewStackLock(dir, "ai-stack")

	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(lock.LockPath()); err != nil {
		t.Errorf("lock file missing: %v", err)
	}
}
