// Package lifecycle implements §4.7: SingleInstance (the named
// file lock that prevents two `serve` invocations from coexisting) and
// Lifecycle (the signal-driven shutdown sequence).
package lifecycle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// pidPortFileName is the documented filesystem-layout entry.
const pidPortFileName = "lemonade-router.pid"

// ErrAlreadyRunning is returned by Acquire when another serve process
// already holds the lock.
var ErrAlreadyRunning = errors.New("another lemonade-server instance is already running")

// lockHandle is the platform-specific held lock, implemented by
// lock_unix.go (flock) and lock_windows.go (LockFileEx).
type lockHandle interface {
	writeContents(data []byte) error
	release() error
}

// pidPortRecord is the JSON body of the PID-port file, read by status/stop
// to discover a running server.
type pidPortRecord struct {
	PID  int `json:"pid"`
	Port int `json:"port"`
}

// SingleInstance is §4.7's ProcessGuard: a named, user-scoped lock
// that at most one `serve` process can hold at a time. Acquire/Release
// bracket the server's lifetime; other CLI commands (status/list/pull/
// delete/stop) use Discover to find a running server's port without
// competing for the lock.
type SingleInstance struct {
	path string
	lock lockHandle
}

// NewSingleInstance constructs a SingleInstance scoped to cacheRoot. It does
// not acquire anything yet; call Acquire.
func NewSingleInstance(cacheRoot string) *SingleInstance {
	return &SingleInstance{path: filepath.Join(cacheRoot, pidPortFileName)}
}

// Acquire claims the lock and records this process's PID and the port it
// is about to listen on. Returns ErrAlreadyRunning if another process
// already holds it.
func (s *SingleInstance) Acquire(port int) error {
	lock, err := acquireLock(s.path)
	if err != nil {
		if errors.Is(err, errLockHeld) {
			return ErrAlreadyRunning
		}
		return errors.Wrap(err, "acquiring single-instance lock")
	}
	s.lock = lock

	record := pidPortRecord{PID: os.Getpid(), Port: port}
	data, err := json.Marshal(record)
	if err != nil {
		s.lock.release()
		return err
	}
	if err := s.lock.writeContents(data); err != nil {
		s.lock.release()
		return errors.Wrap(err, "writing pid-port file")
	}
	return nil
}

// Release is idempotent: releasing an already-released instance is a no-op.
func (s *SingleInstance) Release() error {
	if s.lock == nil {
		return nil
	}
	err := s.lock.release()
	s.lock = nil
	_ = os.Remove(s.path)
	return err
}

// Discover reads the PID-port file without taking the lock, for status/
// stop/list/pull/delete to find a running serve process. Returns an error
// if no server appears to be running or the record is stale.
func Discover(cacheRoot string) (pid, port int, err error) {
	data, err := os.ReadFile(filepath.Join(cacheRoot, pidPortFileName))
	if err != nil {
		return 0, 0, errors.Wrap(err, "no running server found")
	}
	var record pidPortRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return 0, 0, errors.Wrap(err, "parsing pid-port file")
	}
	if !processRunning(record.PID) {
		return 0, 0, fmt.Errorf("stale pid-port file: pid %d is not running", record.PID)
	}
	return record.PID, record.Port, nil
}
