// Package gateway implements §4.6's HttpGateway: the OpenAI-compatible
// HTTP + WebSocket surface that validates requests, dispatches inference to
// the Router, and proxies registry operations.
package gateway

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/lemonade-sdk/lemonade-server/internal/backend"
	"github.com/lemonade-sdk/lemonade-server/internal/catalog"
	"github.com/lemonade-sdk/lemonade-server/internal/logging"
	"github.com/lemonade-sdk/lemonade-server/internal/metrics"
	"github.com/lemonade-sdk/lemonade-server/internal/middleware"
	"github.com/lemonade-sdk/lemonade-server/internal/router"
)

// Version is the build-time server version string reported by GET /health.
var Version = "dev"

// maximumRequestBodyBytes caps inference/registry request bodies to avoid an
// unbounded read from an untrusted local client.
const maximumRequestBodyBytes = 64 << 20

// Registry is the subset of catalog.Registry the gateway depends on.
type Registry interface {
	ListSupported() map[string]catalog.ModelEntry
	ListDownloaded() map[string]catalog.ModelEntry
	Resolve(name string) (catalog.ModelEntry, error)
	RegisterUser(entry catalog.ModelEntry) error
	Delete(name string) error
	Download(ctx context.Context, name string, files []catalog.FileSpec, doNotUpgrade bool, onProgress func(catalog.ProgressEvent)) error
}

// Router is the subset of router.Router the gateway depends on.
type Router interface {
	Load(ctx context.Context, entry catalog.ModelEntry, mmproj string, ctxSize int) error
	Unload() error
	Active() (router.LoadedModel, bool)
	Dispatch(ctx context.Context, op backend.Operation, req backend.InferenceRequest) (backend.InferenceResult, error)
	DispatchStream(ctx context.Context, op backend.Operation, req backend.InferenceRequest) (<-chan backend.Chunk, error)
}

// FileResolver builds the list of files a catalog entry needs downloaded,
// e.g. resolving a Hugging Face checkpoint to its concrete file URLs. Kept
// injectable so the gateway package doesn't need to depend on the hub-cache
// layout directly.
type FileResolver func(entry catalog.ModelEntry) ([]catalog.FileSpec, error)

// Gateway is §4.6's HttpGateway.
type Gateway struct {
	log       logging.Logger
	tracker   *metrics.Tracker
	registry      Registry
	router        Router
	resolve       FileResolver
	audioSessions AudioSessionFactory
	validate      *validator.Validate
	startedAt     time.Time

	httpServer *http.Server
	wsServer   *http.Server
}

// Options configures a Gateway.
type Options struct {
	Logger         logging.Logger
	Tracker        *metrics.Tracker
	Registry       Registry
	Router         Router
	FileResolver   FileResolver
	AudioSessions  AudioSessionFactory
	AllowedOrigins []string
}

// New builds a Gateway. Call ListenAndServe to actually bind and accept
// connections on host:port (HTTP) and host:port+100 (WebSocket realtime).
func New(opts Options) *Gateway {
	g := &Gateway{
		log:           opts.Logger,
		tracker:       opts.Tracker,
		registry:      opts.Registry,
		router:        opts.Router,
		resolve:       opts.FileResolver,
		audioSessions: opts.AudioSessions,
		validate:      validator.New(),
		startedAt:     time.Now(),
	}

	httpRouter := mux.NewRouter()
	g.registerRoutes(httpRouter)
	traced := middleware.Traced("lemonade.gateway", httpRouter)
	g.httpServer = &http.Server{Handler: middleware.CorsMiddleware(opts.AllowedOrigins, traced)}

	wsRouter := mux.NewRouter()
	wsRouter.HandleFunc("/realtime", g.handleRealtime)
	g.wsServer = &http.Server{Handler: wsRouter}

	return g
}

// registerRoutes wires every API route under both the /api/v1 and /v1
// prefixes, per §4.6; /metrics is served once, at the root.
func (g *Gateway) registerRoutes(r *mux.Router) {
	for _, prefix := range []string{"/api/v1", "/v1"} {
		sub := r.PathPrefix(prefix).Subrouter()
		sub.HandleFunc("/health", g.handleHealth).Methods(http.MethodGet)
		sub.HandleFunc("/models", g.handleListModels).Methods(http.MethodGet)
		sub.HandleFunc("/chat/completions", g.handleInference(backend.OpChatCompletion)).Methods(http.MethodPost)
		sub.HandleFunc("/completions", g.handleInference(backend.OpCompletion)).Methods(http.MethodPost)
		sub.HandleFunc("/responses", g.handleInference(backend.OpResponses)).Methods(http.MethodPost)
		sub.HandleFunc("/embeddings", g.handleInference(backend.OpEmbeddings)).Methods(http.MethodPost)
		sub.HandleFunc("/reranking", g.handleInference(backend.OpReranking)).Methods(http.MethodPost)
		sub.HandleFunc("/pull", g.handlePull).Methods(http.MethodPost)
		sub.HandleFunc("/models/{name}", g.handleDeleteModel).Methods(http.MethodDelete)
		sub.HandleFunc("/register", g.handleRegister).Methods(http.MethodPost)
		sub.HandleFunc("/stats", g.handleStats).Methods(http.MethodGet)
	}
	if g.tracker != nil {
		r.Handle("/metrics", g.tracker.Handler())
	}
}

// ListenAndServe binds and serves both the HTTP API on addr and the
// WebSocket realtime endpoint on addr's port+100, blocking until either
// fails or ctx is cancelled.
func (g *Gateway) ListenAndServe(ctx context.Context, host string, port int) error {
	errCh := make(chan error, 2)

	g.httpServer.Addr = addrFor(host, port)
	go func() { errCh <- g.httpServer.ListenAndServe() }()

	g.wsServer.Addr = addrFor(host, port+100)
	go func() { errCh <- g.wsServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return g.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Shutdown gracefully stops accepting new connections on both listeners.
func (g *Gateway) Shutdown(ctx context.Context) error {
	err1 := g.httpServer.Shutdown(ctx)
	err2 := g.wsServer.Shutdown(ctx)
	if err1 != nil {
		return err1
	}
	return err2
}

func addrFor(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}
