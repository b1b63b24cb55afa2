//go:build !windows

package main

import (
	"os"
	"syscall"
)

// isDaemonAlive probes pid with signal 0. On Unix os.FindProcess always
// succeeds, so the signal result is the real liveness check.
func isDaemonAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// daemonSysProcAttr puts the forked controller in its own process group
// so it outlives the parent CLI invocation.
func daemonSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
