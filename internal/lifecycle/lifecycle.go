package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/lemonade-sdk/lemonade-server/internal/logging"
	"github.com/lemonade-sdk/lemonade-server/internal/process"
)

// Shutter is the gateway surface Lifecycle stops on shutdown. Shutdown's
// order is: stop accepting connections, unload the active backend, stop any
// still-tracked child process, release the single-instance lock. Lifecycle
// does not cancel a backend load that is in progress.
type Shutter interface {
	Shutdown(ctx context.Context) error
}

// Unloader is the router's teardown step.
type Unloader interface {
	Unload() error
}

// Lifecycle registers POSIX signal handlers (SIGINT/SIGTERM; Windows
// console-control handling is delegated to Go's runtime, which already
// surfaces CTRL_C_EVENT/CTRL_CLOSE_EVENT through the same os/signal channel)
// and drives the single shutdown() sequence §4.7 and §9 describe: a
// dedicated goroutine reads the signal channel — itself fed by the Go
// runtime's own async-signal-safe machinery, so no allocation or locking
// happens inside actual signal-handler context — and performs the real
// teardown using normal primitives.
type Lifecycle struct {
	log      logging.Logger
	gateway  Shutter
	router   Unloader
	instance *SingleInstance

	once     sync.Once
	done     chan struct{}
	shutdown context.CancelFunc
}

// New constructs a Lifecycle wired to the components it must tear down.
func New(log logging.Logger, gateway Shutter, router Unloader, instance *SingleInstance) *Lifecycle {
	return &Lifecycle{
		log:      log,
		gateway:  gateway,
		router:   router,
		instance: instance,
		done:     make(chan struct{}),
	}
}

// Run installs the signal handler and blocks until a shutdown signal
// arrives or ctx is cancelled by the caller (e.g. a test), then runs
// Shutdown and returns. Run waits on a cancellable child of ctx that Shutdown
// cancels, so a direct Shutdown call also ends the wait; no backend load
// observes that context.
func (l *Lifecycle) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	l.shutdown = cancel

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		if l.log != nil {
			l.log.Info("received shutdown signal")
		}
	case <-runCtx.Done():
	}

	l.Shutdown(context.Background())
}

// Shutdown runs the teardown sequence exactly once; subsequent calls are a
// no-op (§8 invariant 5).
func (l *Lifecycle) Shutdown(ctx context.Context) {
	l.once.Do(func() {
		defer close(l.done)

		if l.shutdown != nil {
			l.shutdown()
		}
		if l.gateway != nil {
			if err := l.gateway.Shutdown(ctx); err != nil && l.log != nil {
				l.log.WithError(err).Warn("gateway shutdown")
			}
		}
		if l.router != nil {
			if err := l.router.Unload(); err != nil && l.log != nil {
				l.log.WithError(err).Warn("unloading active backend during shutdown")
			}
		}
		// Stops any child process that a skipped or failed Unload left running.
		process.KillAllTracked(0)
		if l.instance != nil {
			if err := l.instance.Release(); err != nil && l.log != nil {
				l.log.WithError(err).Warn("releasing single-instance lock")
			}
		}
	})
}

// Done returns a channel closed once Shutdown has completed.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}
