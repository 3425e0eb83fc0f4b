// Package fastlm implements the FastLM Backend variant (§4.4): a
// separate-cache server supporting chat/completion only.
package fastlm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/lemonade-sdk/lemonade-server/internal/backend"
	"github.com/lemonade-sdk/lemonade-server/internal/catalog"
	"github.com/lemonade-sdk/lemonade-server/internal/logging"
	"github.com/lemonade-sdk/lemonade-server/internal/metrics"
	procpkg "github.com/lemonade-sdk/lemonade-server/internal/process"
)

const defaultReadyTimeout = 120 * time.Second

// Config configures a Backend.
type Config struct {
	ServerBinary string
	// CacheRoot is FastLM's own cache directory, separate from the GGUF hub
	// cache and the vendor recipe cache per §4.4.
	CacheRoot string
}

// Backend is the FastLM Backend implementation.
type Backend struct {
	cfg Config
	log logging.Logger

	mu         sync.Mutex
	handle     *procpkg.Handle
	port       int
	name       string
	checkpoint string
}

// New constructs a FastLM Backend.
func New(cfg Config, log logging.Logger) *Backend {
	return &Backend{cfg: cfg, log: log}
}

// Recipe implements backend.Backend.
func (b *Backend) Recipe() catalog.Recipe { return catalog.RecipeFastLM }

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

// cacheDir derives FastLM's own on-disk directory for a checkpoint, using
// its own flattened naming rather than the GGUF hub cache's snapshot-hash
// layout, since FastLM checkpoints have no git-style commit hash.
func cacheDir(root, checkpoint string) string {
	flat := strings.NewReplacer("/", "--", ":", "__").Replace(checkpoint)
	return filepath.Join(root, flat)
}

// Load implements backend.Backend.
func (b *Backend) Load(ctx context.Context, req backend.LoadRequest) error {
	dir := cacheDir(b.cfg.CacheRoot, req.Checkpoint)

	port, err := backend.FreePort()
	if err != nil {
		return errors.Wrap(err, "allocating port")
	}

	args := []string{
		"--model-dir", dir,
		"--port", strconv.Itoa(port),
	}

	exited := make(chan struct{})
	handle, err := procpkg.Start(procpkg.Options{
		Argv: append([]string{b.cfg.ServerBinary}, args...),
		Stdout: func(line string) {
			if b.log != nil {
				b.log.Debugf("fastlm: %s", line)
			}
		},
		Stderr: func(line string) {
			if b.log != nil {
				b.log.Debugf("fastlm: %s", line)
			}
		},
		OnCrash: func(err error) {
			close(exited)
			if b.log != nil {
				b.log.Warnf("fastlm server crashed: %v", err)
			}
		},
	})
	if err != nil {
		return errors.Wrap(err, "starting fastlm server")
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

// ParseTelemetryLine implements backend.Backend.
func (b *Backend) ParseTelemetryLine(line string, tracker *metrics.Tracker) {
	if tracker == nil {
		return
	}
	var tokens int
	var tokensPerSec float64
	if _, err := fmt.Sscanf(line, "tok=%d tps=%f", &tokens, &tokensPerSec); err != nil {
		return
	}
	tel := tracker.Snapshot()
	tel.OutputTokens = tokens
	tel.TokensPerSecond = tokensPerSec
	tracker.Update(tel)
}

// InvokeOnce implements backend.Backend.
func (b *Backend) InvokeOnce(ctx context.Context, op backend.Operation, req backend.InferenceRequest) (backend.InferenceResult, error) {
	addr := b.Address()
	if addr == "" {
		return backend.InferenceResult{}, backend.ErrModelNotLoadedSentinel
	}
	if !b.Supports(op) {
		return backend.InferenceResult{}, backend.NewUnsupportedOperation(op, catalog.RecipeFastLM)
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
		return nil, backend.NewUnsupportedOperation(op, catalog.RecipeFastLM)
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
