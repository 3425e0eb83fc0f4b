// Package vendornpu implements the vendor NPU/hybrid Backend variant (spec
// §4.4): a server resolved from the hub cache's "models--org--repo/snapshots/
// <hash>" directory convention, launched with an explicit execution-mode
// flag, supporting chat/completion only.
package vendornpu

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/lemonade-sdk/lemonade-server/internal/backend"
	"github.com/lemonade-sdk/lemonade-server/internal/catalog"
	"github.com/lemonade-sdk/lemonade-server/internal/logging"
	"github.com/lemonade-sdk/lemonade-server/internal/metrics"
)

const defaultReadyTimeout = 120 * time.Second

// ExecutionMode is the closed set the vendor runtime accepts.
type ExecutionMode string

const (
	ModeNPU    ExecutionMode = "npu"
	ModeHybrid ExecutionMode = "hybrid"
	ModeCPU    ExecutionMode = "cpu"
)

// Config configures a Backend.
type Config struct {
	ServerBinary string
	// Mode is passed to the runtime as --execution-mode and decides which
	// recipe this Backend reports.
	Mode ExecutionMode
}

// Backend is the vendor NPU/hybrid Backend implementation.
type Backend struct {
	cfg Config
	log logging.Logger
	hub string

	mu         sync.Mutex
	handle     process
	port       int
	name       string
	checkpoint string
}

// process is a narrow seam over internal/process so tests can fake it
// without spawning a real child.
type process interface {
	Stop(grace time.Duration) error
}

// New constructs a vendor NPU/hybrid Backend.
func New(cfg Config, hubCacheRoot string, log logging.Logger) *Backend {
	return &Backend{cfg: cfg, hub: hubCacheRoot, log: log}
}

// Recipe implements backend.Backend. The router picks npu vs hybrid vs cpu
// at the catalog layer; this type handles whichever recipe it's configured
// for.
func (b *Backend) Recipe() catalog.Recipe {
	switch b.cfg.Mode {
	case ModeNPU:
		return catalog.RecipeOgaNPU
	case ModeCPU:
		return catalog.RecipeOgaCPU
	default:
		return catalog.RecipeOgaHybrid
	}
}

// Supports implements backend.Backend.
func (b *Backend) Supports(op backend.Operation) bool {
	return op == backend.OpChatCompletion || op == backend.OpCompletion
}

// Active implements backend.Backend.
func (b *Backend) Active() (string, string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handle == nil {
		return "", "", false
	}
	return b.name, b.checkpoint, true
}

// Address implements backend.Backend.
func (b *Backend) Address() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handle == nil {
		return ""
	}
	return fmt.Sprintf("http://127.0.0.1:%d", b.port)
}

// modelDirArg builds the resolved model directory argument per §4.4:
// slashes in org/repo replaced with "--", "models--" prefix, snapshot hash
// resolved.
func modelDirArg(hubRoot string, ck catalog.Checkpoint) string {
	return catalog.HubCacheDir(hubRoot, ck)
}

// Load implements backend.Backend.
func (b *Backend) Load(ctx context.Context, req backend.LoadRequest) error {
	ck, err := catalog.ParseCheckpoint(req.Checkpoint)
	if err != nil {
		return errors.Wrap(err, "parsing checkpoint")
	}

	modelDir := modelDirArg(b.hub, ck)

	port, err := backend.FreePort()
	if err != nil {
		return errors.Wrap(err, "allocating port")
	}

	args := []string{
		"--model-dir", modelDir,
		"--port", strconv.Itoa(port),
		"--execution-mode", string(b.cfg.Mode),
	}

	handle, exited, err := startProcess(b.cfg.ServerBinary, args, b.log)
	if err != nil {
		return errors.Wrap(err, "starting vendor runtime")
	}

	timeout := defaultReadyTimeout
	if req.ReadyTimeout > 0 {
		timeout = time.Duration(req.ReadyTimeout) * time.Second
	}
	healthURL := backend.ProxyURL(port, "/health")
	if err := backend.WaitHealthy(ctx, healthURL, timeout, exited); err != nil {
		_ = handle.Stop(2 * time.Second)
		return backend.NewBackendStartTimeout(req.Name, err)
	}

	b.mu.Lock()
	b.handle = handle
	b.port = port
	b.name = req.Name
	b.checkpoint = req.Checkpoint
	b.mu.Unlock()

	return nil
}

// Unload implements backend.Backend.
func (b *Backend) Unload() error {
	b.mu.Lock()
	handle := b.handle
	b.handle = nil
	b.port = 0
	b.name = ""
	b.checkpoint = ""
	b.mu.Unlock()

	if handle == nil {
		return nil
	}
	return handle.Stop(2 * time.Second)
}

// ParseTelemetryLine implements backend.Backend. The vendor runtime emits a
// simpler single-line summary than llama.cpp's two-phase timing log.
func (b *Backend) ParseTelemetryLine(line string, tracker *metrics.Tracker) {
	if tracker == nil {
		return
	}
	var tokens int
	var ms float64
	if _, err := fmt.Sscanf(line, "tokens=%d latency_ms=%f", &tokens, &ms); err != nil {
		return
	}
	tel := tracker.Snapshot()
	tel.OutputTokens = tokens
	if ms > 0 {
		tel.TokensPerSecond = float64(tokens) / (ms / 1000)
	}
	tracker.Update(tel)
}

// InvokeOnce implements backend.Backend.
func (b *Backend) InvokeOnce(ctx context.Context, op backend.Operation, req backend.InferenceRequest) (backend.InferenceResult, error) {
	addr := b.Address()
	if addr == "" {
		return backend.InferenceResult{}, backend.ErrModelNotLoadedSentinel
	}
	if !b.Supports(op) {
		return backend.InferenceResult{}, backend.NewUnsupportedOperation(op, b.Recipe())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+pathFor(op), bytes.NewReader(req.Body))
	if err != nil {
		return backend.InferenceResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return backend.InferenceResult{}, &backend.Error{Type: backend.ErrBackendFailed, Op: op, Msg: "backend request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return backend.InferenceResult{}, err
	}
	return backend.InferenceResult{Body: body}, nil
}

// InvokeStream implements backend.Backend.
func (b *Backend) InvokeStream(ctx context.Context, op backend.Operation, req backend.InferenceRequest) (<-chan backend.Chunk, error) {
	addr := b.Address()
	if addr == "" {
		return nil, backend.ErrModelNotLoadedSentinel
	}
	if !b.Supports(op) {
		return nil, backend.NewUnsupportedOperation(op, b.Recipe())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+pathFor(op), bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, &backend.Error{Type: backend.ErrBackendFailed, Op: op, Msg: "backend request failed", Err: err}
	}

	out := make(chan backend.Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if len(line) >= 6 && line[:6] == "data: " {
				payload := line[6:]
				if payload == "[DONE]" {
					out <- backend.Chunk{Done: true}
					return
				}
				select {
				case out <- backend.Chunk{Data: []byte(payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func pathFor(op backend.Operation) string {
	if op == backend.OpCompletion {
		return "/v1/completions"
	}
	return "/v1/chat/completions"
}
