// Package backend defines §4.4's capability surface shared by every
// concrete backend (GGUF server, vendor NPU/hybrid, FastLM) and the stable
// error taxonomy the router and gateway dispatch on.
package backend

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/lemonade-sdk/lemonade-server/internal/catalog"
	"github.com/lemonade-sdk/lemonade-server/internal/metrics"
)

// Operation names one of the inference capabilities a Backend may support.
type Operation string

const (
	OpChatCompletion Operation = "chat_completion"
	OpCompletion     Operation = "completion"
	OpResponses      Operation = "responses"
	OpEmbeddings     Operation = "embeddings"
	OpReranking      Operation = "reranking"
)

// ErrType is a stable error "type" tag, surfaced verbatim in the
// gateway's {error:{message,type}} body and mapped to an HTTP status there.
type ErrType string

const (
	ErrParse               ErrType = "parse_error"
	ErrModelNotLoaded      ErrType = "model_not_loaded"
	ErrUnsupportedOp       ErrType = "unsupported_operation"
	ErrBackendFailed       ErrType = "backend_failed"
	ErrBackendCrashed      ErrType = "backend_crashed"
	ErrPortInUse           ErrType = "port_in_use"
	ErrDownload            ErrType = "download_error"
	ErrAlreadyRunning      ErrType = "already_running"
	ErrBackendStartTimeout ErrType = "backend_start_timeout"
)

// Error is the taxonomy's carrier type. errors.Is/As work against it via the
// sentinel values below, which Wrap doesn't obscure.
type Error struct {
	Type ErrType
	Op   Operation
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrModelNotLoaded-shaped sentinel) match by Type
// alone, since two *Error values are "the same" error for dispatch purposes
// when their Type matches, regardless of Msg/Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// Sentinel instances for errors.Is comparisons.
var (
	ErrModelNotLoadedSentinel = &Error{Type: ErrModelNotLoaded, Msg: "no model loaded"}
	ErrAlreadyRunningSentinel = &Error{Type: ErrAlreadyRunning, Msg: "server already running"}
)

// NewUnsupportedOperation builds the router's UnsupportedOperation(op, recipe)
// error.
func NewUnsupportedOperation(op Operation, recipe catalog.Recipe) error {
	return &Error{
		Type: ErrUnsupportedOp,
		Op:   op,
		Msg:  "operation " + string(op) + " not supported by recipe " + string(recipe),
	}
}

// NewBackendStartTimeout builds the load-path timeout error.
func NewBackendStartTimeout(name string, err error) error {
	return &Error{Type: ErrBackendStartTimeout, Msg: "backend for " + name + " did not become ready in time", Err: err}
}

// LoadRequest is the parameters a Backend.Load call needs.
type LoadRequest struct {
	Name       string
	Checkpoint string
	MMProj     string
	CtxSize    int
	Labels     []catalog.Label
	// ReadyTimeout overrides the default 120s readiness poll budget when > 0.
	ReadyTimeout int
}

// InferenceRequest carries a raw JSON body through to a backend, which
// proxies it mostly unmodified to the underlying server.
type InferenceRequest struct {
	Body   []byte
	Stream bool
}

// Chunk is one SSE data frame from a streaming backend response.
type Chunk struct {
	Data []byte
	// Done marks the terminal chunk; Data is empty when Done is true.
	Done bool
}

// InferenceResult is the non-streaming response shape.
type InferenceResult struct {
	Body []byte
}

// Backend is §4.4's capability surface. Every concrete implementation
// supports Load/Unload/Address/ParseTelemetry; the inference methods return
// ErrUnsupportedOp for operations the recipe doesn't implement.
type Backend interface {
	// Recipe identifies which catalog recipe this implementation serves.
	Recipe() catalog.Recipe

	// Load starts the child process and blocks until it is ready or the
	// readiness timeout elapses.
	Load(ctx context.Context, req LoadRequest) error

	// Unload is idempotent: tearing down an already-unloaded backend is a
	// no-op.
	Unload() error

	// Address returns http://127.0.0.1:<port>, stable for the load's
	// lifetime. Empty when nothing is loaded.
	Address() string

	// Active reports whether a model is currently loaded on this backend
	// instance, and if so, the (name, checkpoint) pair it was loaded with —
	// used by the router to decide whether a Load call is a no-op.
	Active() (name, checkpoint string, ok bool)

	// Supports reports whether op is in this backend's capability set.
	Supports(op Operation) bool

	// InvokeOnce awaits a non-streaming request and returns the full
	// response body. InvokeStream proxies a streaming request chunk by
	// chunk; callers pick one based on req.Stream.
	InvokeOnce(ctx context.Context, op Operation, req InferenceRequest) (InferenceResult, error)
	InvokeStream(ctx context.Context, op Operation, req InferenceRequest) (<-chan Chunk, error)

	// ParseTelemetryLine extracts token counts/timings from one line of
	// child stdout/stderr using a backend-specific pattern, folding the
	// result into tracker.
	ParseTelemetryLine(line string, tracker *metrics.Tracker)
}

// HealthCheck is a single readiness probe reporting whether a backend
// answered healthy. The concrete backends poll with WaitHealthy instead and
// do not use this type.
type HealthCheck func(ctx context.Context) (bool, error)

// ErrNoModel is a plain "no model loaded" error value. It is distinct from
// ErrModelNotLoadedSentinel, which router dispatch returns, and errors.Is
// does not match one against the other.
var ErrNoModel = errors.New("no model loaded")

// Writer lets a backend's child stdout/stderr feed directly into a sink
// that also happens to implement io.Writer (e.g. the structured logger's
// pipe writer), without the backend package needing to import logging.
type Writer = io.Writer
