//go:build windows

package commands

import "golang.org/x/sys/windows"

// signalGracefulStop terminates pid. Windows has no equivalent of sending
// SIGTERM to an arbitrary, unrelated process's console group (unlike the
// child processes ProcessSupervisor spawns, whose own process group this
// binary controls), so "stop" falls back to TerminateProcess.
func signalGracefulStop(pid int) error {
	h, err := windows.OpenProcess(windows.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return err
	}
	defer windows.CloseHandle(h)
	return windows.TerminateProcess(h, 1)
}
