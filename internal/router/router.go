// Package router implements §4.5's Router: it holds at most one active
// backend, serializes load requests on a single condition variable, and
// dispatches inference to whichever backend is currently active.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lemonade-sdk/lemonade-server/internal/backend"
	"github.com/lemonade-sdk/lemonade-server/internal/catalog"
	"github.com/lemonade-sdk/lemonade-server/internal/logging"
	"github.com/lemonade-sdk/lemonade-server/internal/metrics"
)

// LoadedModel describes the currently active model,
// if any.
type LoadedModel struct {
	Name           string
	Checkpoint     string
	Recipe         catalog.Recipe
	Labels         []catalog.Label
	BackendAddress string
}

// Router is §4.5's Router.
type Router struct {
	log      logging.Logger
	tracker  *metrics.Tracker
	backends map[catalog.Recipe]backend.Backend

	mu      sync.Mutex
	cond    *sync.Cond
	loading bool

	active     backend.Backend
	activeName string
	activeCk   string
	activeRec  catalog.Recipe
	activeLbl  []catalog.Label
}

// New constructs a Router dispatching to the given recipe → Backend
// implementations.
func New(backends map[catalog.Recipe]backend.Backend, tracker *metrics.Tracker, log logging.Logger) *Router {
	r := &Router{backends: backends, tracker: tracker, log: log}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Load implements the load(name, checkpoint, mmproj, ctx_size, labels)
// operation and its concurrency contract: exactly one load in progress at a
// time, readers never block beyond the brief critical sections needed to
// publish/swap the active backend pointer, and a load for the identical
// (name, checkpoint, recipe) that is already active is a no-op.
func (r *Router) Load(ctx context.Context, entry catalog.ModelEntry, mmproj string, ctxSize int) error {
	r.mu.Lock()
	if r.active != nil && r.activeName == entry.Name && r.activeCk == entry.Checkpoint && r.activeRec == entry.Recipe {
		r.mu.Unlock()
		return nil
	}
	for r.loading {
		r.cond.Wait()
		if r.active != nil && r.activeName == entry.Name && r.activeCk == entry.Checkpoint && r.activeRec == entry.Recipe {
			r.mu.Unlock()
			return nil
		}
	}
	r.loading = true
	current := r.active
	r.mu.Unlock()

	impl, ok := r.backends[entry.Recipe]
	if !ok {
		r.clearLoading()
		return fmt.Errorf("no backend registered for recipe %q", entry.Recipe)
	}

	if current == impl {
		// One Backend holds one child process, so the model it is serving is
		// stopped before it starts the next one.
		r.mu.Lock()
		r.active = nil
		r.activeName, r.activeCk = "", ""
		r.mu.Unlock()
		if uerr := impl.Unload(); uerr != nil && r.log != nil {
			r.log.Warnf("unloading previous model before reload: %v", uerr)
		}
	}

	start := time.Now()
	err := impl.Load(ctx, backend.LoadRequest{
		Name:       entry.Name,
		Checkpoint: entry.Checkpoint,
		MMProj:     mmproj,
		CtxSize:    ctxSize,
		Labels:     entry.Labels,
	})
	loadDuration := time.Since(start)

	r.mu.Lock()
	r.loading = false
	if err != nil {
		r.cond.Broadcast()
		r.mu.Unlock()
		return err
	}

	prev := r.active
	r.active = impl
	r.activeName = entry.Name
	r.activeCk = entry.Checkpoint
	r.activeRec = entry.Recipe
	r.activeLbl = entry.Labels
	r.cond.Broadcast()
	r.mu.Unlock()

	if r.tracker != nil {
		r.tracker.ObserveLoad(string(entry.Recipe), loadDuration)
	}

	if prev != nil && prev != impl {
		if uerr := prev.Unload(); uerr != nil && r.log != nil {
			r.log.Warnf("unloading previous backend during swap: %v", uerr)
		}
	}

	return nil
}

func (r *Router) clearLoading() {
	r.mu.Lock()
	r.loading = false
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Unload tears down the active backend, if any. Idempotent.
func (r *Router) Unload() error {
	r.mu.Lock()
	active := r.active
	r.active = nil
	r.activeName, r.activeCk = "", ""
	r.mu.Unlock()

	if active == nil {
		return nil
	}
	return active.Unload()
}

// Active returns the currently loaded model, if any.
func (r *Router) Active() (LoadedModel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return LoadedModel{}, false
	}
	return LoadedModel{
		Name:           r.activeName,
		Checkpoint:     r.activeCk,
		Recipe:         r.activeRec,
		Labels:         r.activeLbl,
		BackendAddress: r.active.Address(),
	}, true
}

// currentBackend is a brief-critical-section read of the active backend
// pointer, used by every dispatch method below so inference never blocks on
// a concurrent load beyond this.
func (r *Router) currentBackend() (backend.Backend, catalog.Recipe) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active, r.activeRec
}

// Dispatch proxies a non-streaming inference request to the active backend.
func (r *Router) Dispatch(ctx context.Context, op backend.Operation, req backend.InferenceRequest) (backend.InferenceResult, error) {
	active, recipe := r.currentBackend()
	if active == nil {
		return backend.InferenceResult{}, backend.ErrModelNotLoadedSentinel
	}
	if !active.Supports(op) {
		return backend.InferenceResult{}, backend.NewUnsupportedOperation(op, recipe)
	}
	return active.InvokeOnce(ctx, op, req)
}

// DispatchStream proxies a streaming inference request to the active
// backend, chunk by chunk.
func (r *Router) DispatchStream(ctx context.Context, op backend.Operation, req backend.InferenceRequest) (<-chan backend.Chunk, error) {
	active, recipe := r.currentBackend()
	if active == nil {
		return nil, backend.ErrModelNotLoadedSentinel
	}
	if !active.Supports(op) {
		return nil, backend.NewUnsupportedOperation(op, recipe)
	}
	return active.InvokeStream(ctx, op, req)
}
