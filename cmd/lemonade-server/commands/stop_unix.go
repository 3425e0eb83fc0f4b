//go:build linux || darwin

package commands

import "syscall"

// signalGracefulStop sends SIGTERM, the same signal Lifecycle.Run listens
// for, so a "stop" invocation drives the identical shutdown() sequence a
// Ctrl+C would.
func signalGracefulStop(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}
