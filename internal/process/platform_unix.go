//go:build linux || darwin

package process

import (
	"os/exec"
	"syscall"
)

func terminateGracefully(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}

func killTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

func processAlive(cmd *exec.Cmd) bool {
	if cmd.Process == nil {
		return false
	}
	// Signal 0 probes for existence without actually sending anything. ESRCH
	// means gone; EPERM still means alive, just owned by someone else.
	err := cmd.Process.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
