package vendornpu

import (
	procpkg "github.com/lemonade-sdk/lemonade-server/internal/process"
	"github.com/lemonade-sdk/lemonade-server/internal/logging"
)

// startProcess spawns the vendor runtime binary and returns a handle
// satisfying this package's narrow process interface, plus a channel closed
// on crash so Load's readiness wait can fail fast.
func startProcess(bin string, args []string, log logging.Logger) (*procpkg.Handle, <-chan struct{}, error) {
	exited := make(chan struct{})
	handle, err := procpkg.Start(procpkg.Options{
		Argv: append([]string{bin}, args...),
		Stdout: func(line string) {
			if log != nil {
				log.Debugf("vendor-runtime: %s", line)
			}
		},
		Stderr: func(line string) {
			if log != nil {
				log.Debugf("vendor-runtime: %s", line)
			}
		},
		OnCrash: func(err error) {
			close(exited)
			if log != nil {
				log.Warnf("vendor runtime crashed: %v", err)
			}
		},
	})
	if err != nil {
		return nil, nil, err
	}
	return handle, exited, nil
}
