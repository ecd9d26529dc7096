// Copyright (C) 2025 AI Stack Ops (maintainers@aistackops.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// StackLock serializes mutating operations on one stack across
// processes. Without it, a deploy in one terminal and a cleanup of the
// same stack in another interleave: cleanup deletes the security group
// and IAM role the deploy is about to attach.
//
// The lock is advisory flock(2) on {LockDir}/{stack}.lock, with the
// holder's PID written alongside for diagnostics. The OS drops the
// flock if the holder crashes, so a stale lock never wedges the stack.
// Different stacks use different files and never contend.
//
// Not safe for concurrent use from multiple goroutines; acquire from
// the command entry point only.
type StackLock struct {
	stackName string
	lockPath  string
	pidPath   string
	lockFile  *os.File
	held      bool
}

// StackLockedError reports that another process holds the stack lock.
type StackLockedError struct {
	StackName string
	HolderPID int
	LockPath  string
}

func (e *StackLockedError) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("stack %q is locked by another process (PID %d)", e.StackName, e.HolderPID)
	}
	return fmt.Sprintf("stack %q is locked by another process (check: lsof %s)", e.StackName, e.LockPath)
}

// DefaultLockDir returns ~/.aikit/locks, falling back to the system
// temp directory when the home directory is unavailable.
func DefaultLockDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "aikit-locks")
	}
	return filepath.Join(home, ".aikit", "locks")
}

// NewStackLock creates an unacquired lock for stackName under lockDir.
func NewStackLock(lockDir, stackName string) *StackLock {
	if lockDir == "" {
		lockDir = DefaultLockDir()
	}
	return &StackLock{
		stackName: stackName,
		lockPath:  filepath.Join(lockDir, stackName+".lock"),
		pidPath:   filepath.Join(lockDir, stackName+".pid"),
	}
}

// Acquire takes the lock without blocking. A held lock surfaces as
// StackLockedError with the holder's PID when it can be read.
func (l *StackLock) Acquire() error {
	if l.held {
		return nil
	}
	if l.stackName == "" {
		return &MissingParameterError{Parameter: "stackName"}
	}

	if err := os.MkdirAll(filepath.Dir(l.lockPath), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("creating lock file %s: %w", l.lockPath, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return &StackLockedError{
				StackName: l.stackName,
				HolderPID: l.readHolderPID(),
				LockPath:  l.lockPath,
			}
		}
		return fmt.Errorf("acquiring lock: %w", err)
	}

	l.lockFile = f
	l.held = true

	// Best effort; the flock is the source of truth.
	_ = os.WriteFile(l.pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
	return nil
}

// Release drops the lock. Safe to call repeatedly or without a prior
// Acquire.
func (l *StackLock) Release() error {
	if !l.held || l.lockFile == nil {
		return nil
	}

	os.Remove(l.pidPath)
	err := syscall.Flock(int(l.lockFile.Fd()), syscall.LOCK_UN)
	l.lockFile.Close()
	l.lockFile = nil
	l.held = false

	if err != nil {
		return fmt.Errorf("releasing lock: %w", err)
	}
	return nil
}

// IsHeld reports whether this process holds the lock.
func (l *StackLock) IsHeld() bool {
	return l.held
}

// HolderPID returns the PID recorded by the current holder, or 0.
func (l *StackLock) HolderPID() int {
	return l.readHolderPID()
}

// LockPath returns the lock file path, for error messages.
func (l *StackLock) LockPath() string {
	return l.lockPath
}

func (l *StackLock) readHolderPID() int {
	data, err := os.ReadFile(l.pidPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}
