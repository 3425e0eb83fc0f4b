//go:build windows

package process

import (
	"os/exec"
	"syscall"

	"github.com/kolesnikovae/go-winjob"
	"github.com/kolesnikovae/go-winjob/jobapi"
)

// configurePlatform starts the child in its own process group (so a
// CTRL_BREAK_EVENT reaches it without also hitting this process) and defers
// job-object assignment to attachDieWithParent, which needs the live
// *os.Process handle Start() has just produced.
func configurePlatform(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// attachDieWithParent assigns the child to a job object configured to kill
// every member when the last handle to the job closes, which Go closes
// automatically when this process exits or crashes. This is the Windows
// equivalent of Linux's PR_SET_PDEATHSIG: it is enforced by the kernel, not
// by any handler running in this process.
func attachDieWithParent(cmd *exec.Cmd) error {
	job, err := winjob.Create("", jobapi.KillOnJobClose())
	if err != nil {
		return err
	}
	if err := job.Assign(cmd.Process); err != nil {
		job.Close()
		return err
	}
	// Intentionally leaked for the lifetime of the child: closing it here
	// would immediately kill the job's members.
	return nil
}

func terminateGracefully(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.GenerateConsoleCtrlEvent(syscall.CTRL_BREAK_EVENT, uint32(cmd.Process.Pid))
}

func killTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func processAlive(cmd *exec.Cmd) bool {
	if cmd.Process == nil {
		return false
	}
	return cmd.ProcessState == nil
}
