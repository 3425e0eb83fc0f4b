// Package llamacpp implements the GGUF-server Backend variant (§4.4):
// a llama.cpp-compatible server spawned over a loopback TCP port, polled for
// readiness at GET /health, supporting chat, completion, embeddings, and
// reranking.
package llamacpp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	gguf "github.com/gpustack/gguf-parser-go"
	"github.com/mattn/go-shellwords"
	"github.com/pkg/errors"

	"github.com/lemonade-sdk/lemonade-server/internal/backend"
	"github.com/lemonade-sdk/lemonade-server/internal/catalog"
	"github.com/lemonade-sdk/lemonade-server/internal/logging"
	"github.com/lemonade-sdk/lemonade-server/internal/metrics"
	"github.com/lemonade-sdk/lemonade-server/internal/platform"
	"github.com/lemonade-sdk/lemonade-server/internal/process"
)

const defaultReadyTimeout = 120 * time.Second

// Config configures a Backend: where the llama-server binary lives, the
// compute backend variant, any opaque extra args, and the host topology
// used to derive thread-affinity flags.
type Config struct {
	ServerBinary string
	Variant      string // vulkan|rocm|metal|cpu, informational: the binary is already built for it
	ExtraArgs    string
	Topology     platform.Topology
}

// Backend is the GGUF-server Backend implementation.
type Backend struct {
	cfg    Config
	log    logging.Logger
	hub    string // hub cache root, for resolving a checkpoint to a GGUF file

	mu         sync.Mutex
	handle     *process.Handle
	port       int
	name       string
	checkpoint string
}

// New constructs a GGUF-server Backend.
func New(cfg Config, hubCacheRoot string, log logging.Logger) *Backend {
	return &Backend{cfg: cfg, hub: hubCacheRoot, log: log}
}

// Recipe implements backend.Backend.
func (b *Backend) Recipe() catalog.Recipe { return catalog.RecipeLlamaCpp }

// Supports implements backend.Backend.
func (b *Backend) Supports(op backend.Operation) bool {
	switch op {
	case backend.OpChatCompletion, backend.OpCompletion, backend.OpEmbeddings, backend.OpReranking:
		return true
	default:
		return false
	}
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

// Load implements backend.Backend.
func (b *Backend) Load(ctx context.Context, req backend.LoadRequest) error {
	ck, err := catalog.ParseCheckpoint(req.Checkpoint)
	if err != nil {
		return errors.Wrap(err, "parsing checkpoint")
	}

	modelPath, err := resolveGGUFPath(catalog.HubCacheDir(b.hub, ck))
	if err != nil {
		return errors.Wrap(err, "resolving gguf file")
	}

	if _, err := gguf.ParseGGUFFile(modelPath); err != nil {
		return errors.Wrap(err, "validating gguf header")
	}

	port, err := backend.FreePort()
	if err != nil {
		return errors.Wrap(err, "allocating port")
	}

	args := b.buildArgs(modelPath, port, req)

	exited := make(chan struct{})
	handle, err := process.Start(process.Options{
		Argv: append([]string{b.cfg.ServerBinary}, args...),
		Stdout: func(line string) {
			if b.log != nil {
				b.log.Debugf("llama-server: %s", line)
			}
		},
		Stderr: func(line string) {
			if b.log != nil {
				b.log.Debugf("llama-server: %s", line)
			}
		},
		OnCrash: func(err error) {
			close(exited)
			if b.log != nil {
				b.log.Warnf("llama-server for %s crashed: %v", req.Name, err)
			}
		},
	})
	if err != nil {
		return errors.Wrap(err, "starting llama-server")
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

func (b *Backend) buildArgs(modelPath string, port int, req backend.LoadRequest) []string {
	args := []string{
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(port),
		"--model", modelPath,
		"--metrics",
	}

	ctxSize := req.CtxSize
	if ctxSize <= 0 {
		ctxSize = 4096
	}
	args = append(args, "--ctx-size", strconv.Itoa(ctxSize))

	if req.MMProj != "" {
		args = append(args, "--mmproj", req.MMProj)
	} else {
		args = append(args, "--jinja")
	}

	for _, l := range req.Labels {
		if l == catalog.LabelEmbeddings {
			args = append(args, "--embeddings")
		}
		if l == catalog.LabelReranking {
			args = append(args, "--embeddings", "--reranking")
		}
	}

	args = append(args, b.cfg.Topology.ThreadAffinityArgs()...)

	if b.cfg.ExtraArgs != "" {
		if extra, err := shellwords.Parse(b.cfg.ExtraArgs); err == nil {
			args = append(args, extra...)
		} else if b.log != nil {
			b.log.Warnf("ignoring unparsable llamacpp_extra_args: %v", err)
		}
	}

	return args
}

func resolveGGUFPath(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		name := entry.Name()
		if len(name) > 5 && name[len(name)-5:] == ".gguf" {
			return filepath.Join(dir, name), nil
		}
	}
	return "", fmt.Errorf("no .gguf file found under %s", dir)
}

func newReader(body []byte) io.Reader {
	return bytes.NewReader(body)
}

// telemetryPattern matches llama-server's periodic timing log line, e.g.
// "prompt eval time = 123.45 ms / 10 tokens ... eval time = 456.78 ms / 20
// tokens (... tokens per second = 43.8)".
var telemetryPattern = regexp.MustCompile(`prompt eval time\s*=\s*([\d.]+)\s*ms\s*/\s*(\d+)\s*tokens.*?eval time\s*=\s*([\d.]+)\s*ms\s*/\s*(\d+)\s*tokens`)

// ParseTelemetryLine implements backend.Backend.
func (b *Backend) ParseTelemetryLine(line string, tracker *metrics.Tracker) {
	if tracker == nil {
		return
	}
	m := telemetryPattern.FindStringSubmatch(line)
	if m == nil {
		return
	}
	promptMs, _ := strconv.ParseFloat(m[1], 64)
	promptTokens, _ := strconv.Atoi(m[2])
	evalMs, _ := strconv.ParseFloat(m[3], 64)
	evalTokens, _ := strconv.Atoi(m[4])

	tel := tracker.Snapshot()
	tel.InputTokens = promptTokens
	tel.OutputTokens = evalTokens
	if promptMs > 0 {
		tel.TimeToFirstToken = promptMs / 1000
	}
	if evalMs > 0 && evalTokens > 0 {
		tel.TokensPerSecond = float64(evalTokens) / (evalMs / 1000)
	}
	tracker.Update(tel)
}

// InvokeOnce implements backend.Backend by proxying to the loaded server's
// matching REST endpoint.
func (b *Backend) InvokeOnce(ctx context.Context, op backend.Operation, req backend.InferenceRequest) (backend.InferenceResult, error) {
	addr := b.Address()
	if addr == "" {
		return backend.InferenceResult{}, backend.ErrModelNotLoadedSentinel
	}
	if !b.Supports(op) {
		return backend.InferenceResult{}, backend.NewUnsupportedOperation(op, catalog.RecipeLlamaCpp)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+pathFor(op), newReader(req.Body))
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
	if resp.StatusCode >= 500 {
		return backend.InferenceResult{}, &backend.Error{Type: backend.ErrBackendFailed, Op: op, Msg: string(body)}
	}
	return backend.InferenceResult{Body: body}, nil
}

// InvokeStream implements backend.Backend by proxying an SSE stream from
// the loaded server's matching endpoint.
func (b *Backend) InvokeStream(ctx context.Context, op backend.Operation, req backend.InferenceRequest) (<-chan backend.Chunk, error) {
	addr := b.Address()
	if addr == "" {
		return nil, backend.ErrModelNotLoadedSentinel
	}
	if !b.Supports(op) {
		return nil, backend.NewUnsupportedOperation(op, catalog.RecipeLlamaCpp)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+pathFor(op), newReader(req.Body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
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
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
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
	switch op {
	case backend.OpChatCompletion:
		return "/v1/chat/completions"
	case backend.OpCompletion:
		return "/v1/completions"
	case backend.OpEmbeddings:
		return "/v1/embeddings"
	case backend.OpReranking:
		return "/v1/rerank"
	default:
		return "/v1/chat/completions"
	}
}
