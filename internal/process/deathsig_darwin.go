//go:build darwin

package process

import (
	"os/exec"
	"syscall"
)

// configurePlatform puts the child in its own process group so a graceful
// signal or a force-kill can reach any grandchildren it spawns.
//
// macOS has no PR_SET_PDEATHSIG equivalent, so there is no kernel-guaranteed
// die-with-parent here: a clean shutdown explicitly stops every tracked
// Handle (see KillAllTracked), but a parent that is SIGKILLed itself leaves
// the child running. This is an accepted degradation on macOS only; Windows
// and Linux both have OS-level primitives for it.
func configurePlatform(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func attachDieWithParent(cmd *exec.Cmd) error {
	return nil
}
