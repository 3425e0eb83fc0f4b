//go:build linux

package process

import (
	"os/exec"
	"syscall"
)

// configurePlatform puts the child in its own process group so a graceful
// signal or a force-kill can reach any grandchildren it spawns, and sets
// Pdeathsig so the kernel SIGKILLs the child the instant this process's
// thread group leader exits, including on a hard crash of the parent.
func configurePlatform(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}

// attachDieWithParent is a no-op on Linux: die-with-parent is already wired
// through SysProcAttr.Pdeathsig in configurePlatform, set atomically by the
// kernel as part of fork/exec rather than racily after Start returns.
func attachDieWithParent(cmd *exec.Cmd) error {
	return nil
}
