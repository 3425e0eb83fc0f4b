//go:build linux || darwin

package lifecycle

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/pkg/errors"
)

// errLockHeld is returned by acquireLock when flock(LOCK_EX|LOCK_NB) fails
// because another process already holds the exclusive lock.
var errLockHeld = errors.New("lock is held by another process")

// fileLock is the POSIX lockHandle: an open *os.File holding an exclusive,
// non-blocking flock for the process's lifetime. The lock is automatically
// released by the kernel if the process dies without calling release, which
// is exactly the degradation §4.1/§4.7 accepts for a crashed parent.
type fileLock struct {
	f *os.File
}

func acquireLock(path string) (lockHandle, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, errLockHeld
		}
		return nil, err
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) writeContents(data []byte) error {
	if err := l.f.Truncate(0); err != nil {
		return err
	}
	if _, err := l.f.WriteAt(data, 0); err != nil {
		return err
	}
	return l.f.Sync()
}

func (l *fileLock) release() error {
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}

// processRunning reports whether pid names a live process, via the
// signal-0 probe also used by internal/process's liveness check.
func processRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil || errors.Is(err, syscall.EPERM) {
		return true
	}
	return false
}
