// Package lock provides the process-wide advisory lock that keeps two
// concurrent cycles from running against the same config. The lock is a
// PID-stamped file next to the config; a second invocation whose lock
// file names a still-alive process exits with already_running.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	apperrors "github.com/wellforge/fitcadence/internal/errors"
)

// Acquire takes the advisory lock keyed by configPath. It returns a
// release function on success. When another live process holds the lock,
// it fails with a transient error whose message names already_running.
func Acquire(configPath string) (func(), error) {
	path := lockPath(configPath)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, apperrors.NewInternal(fmt.Sprintf("cannot create lock file %s", path), err)
		}

		pid, readErr := readPID(path)
		if readErr == nil && processAlive(pid) {
			return nil, apperrors.NewTransientExternal(
				fmt.Sprintf("already_running: cycle held by pid %d (lock %s)", pid, path), nil)
		}

		// Stale lock from a dead process; remove and retry once.
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, apperrors.NewInternal(fmt.Sprintf("cannot remove stale lock %s", path), rmErr)
		}
	}

	return nil, apperrors.NewTransientExternal(
		fmt.Sprintf("already_running: lock %s contested", path), nil)
}

func lockPath(configPath string) string {
	dir := filepath.Dir(configPath)
	base := filepath.Base(configPath)
	return filepath.Join(dir, "."+base+".lock")
}

func readPID(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(raw)))
}

// processAlive reports whether pid names a running process. Signal 0
// performs the permission and existence checks without delivering
// anything.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
