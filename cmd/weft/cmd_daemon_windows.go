//go:build windows

package main

import "syscall"

// isDaemonAlive has no signal-0 probe on Windows; report not running
// and let the lock file be the source of truth.
func isDaemonAlive(_ int) bool {
	return false
}

// daemonSysProcAttr is a no-op on Windows, which has no process groups
// in the Unix sense.
func daemonSysProcAttr() *syscall.SysProcAttr {
	return nil
}
