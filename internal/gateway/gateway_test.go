package gateway

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lemonade-sdk/lemonade-server/internal/backend"
	"github.com/lemonade-sdk/lemonade-server/internal/catalog"
	"github.com/lemonade-sdk/lemonade-server/internal/metrics"
	"github.com/lemonade-sdk/lemonade-server/internal/router"
)

type fakeRegistry struct {
	supported  map[string]catalog.ModelEntry
	downloaded map[string]catalog.ModelEntry
	registered []catalog.ModelEntry
	deleted    []string
}

func (f *fakeRegistry) ListSupported() map[string]catalog.ModelEntry  { return f.supported }
func (f *fakeRegistry) ListDownloaded() map[string]catalog.ModelEntry { return f.downloaded }

func (f *fakeRegistry) Resolve(name string) (catalog.ModelEntry, error) {
	e, ok := f.supported[name]
	if !ok {
		return catalog.ModelEntry{}, catalog.ErrNotFound
	}
	return e, nil
}

func (f *fakeRegistry) RegisterUser(entry catalog.ModelEntry) error {
	f.registered = append(f.registered, entry)
	return nil
}

func (f *fakeRegistry) Delete(name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

func (f *fakeRegistry) Download(ctx context.Context, name string, files []catalog.FileSpec, doNotUpgrade bool, onProgress func(catalog.ProgressEvent)) error {
	if onProgress != nil {
		onProgress(catalog.ProgressEvent{Name: name, Done: true})
	}
	return nil
}

type fakeRouter struct {
	active    router.LoadedModel
	isLoaded  bool
	dispatch  func(op backend.Operation, req backend.InferenceRequest) (backend.InferenceResult, error)
	dispatchS func(op backend.Operation, req backend.InferenceRequest) (<-chan backend.Chunk, error)
}

func (f *fakeRouter) Load(ctx context.Context, entry catalog.ModelEntry, mmproj string, ctxSize int) error {
	return nil
}
func (f *fakeRouter) Unload() error { return nil }
func (f *fakeRouter) Active() (router.LoadedModel, bool) {
	return f.active, f.isLoaded
}
func (f *fakeRouter) Dispatch(ctx context.Context, op backend.Operation, req backend.InferenceRequest) (backend.InferenceResult, error) {
	if f.dispatch != nil {
		return f.dispatch(op, req)
	}
	return backend.InferenceResult{}, backend.ErrModelNotLoadedSentinel
}
func (f *fakeRouter) DispatchStream(ctx context.Context, op backend.Operation, req backend.InferenceRequest) (<-chan backend.Chunk, error) {
	if f.dispatchS != nil {
		return f.dispatchS(op, req)
	}
	return nil, backend.ErrModelNotLoadedSentinel
}

func newTestGateway(reg *fakeRegistry, rt *fakeRouter) *Gateway {
	return New(Options{
		Tracker:  metrics.NewTracker(nil),
		Registry: reg,
		Router:   rt,
	})
}

func (g *Gateway) testHandler() http.Handler {
	return g.httpServer.Handler
}

func TestHealthReturnsOK(t *testing.T) {
	g := newTestGateway(&fakeRegistry{}, &fakeRouter{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	g.testHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestListModelsMarksDownloadedEntries(t *testing.T) {
	entry := catalog.ModelEntry{Name: "m", Checkpoint: "org/repo:q4", Recipe: catalog.RecipeLlamaCpp}
	reg := &fakeRegistry{
		supported:  map[string]catalog.ModelEntry{"m": entry},
		downloaded: map[string]catalog.ModelEntry{"m": entry},
	}
	g := newTestGateway(reg, &fakeRouter{})
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	rec := httptest.NewRecorder()
	g.testHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"downloaded":true`)
}

func TestChatCompletionsFailsWithModelNotLoaded(t *testing.T) {
	g := newTestGateway(&fakeRegistry{}, &fakeRouter{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions", strings.NewReader(`{"model":"m"}`))
	rec := httptest.NewRecorder()
	g.testHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "model_not_loaded")
}

func TestChatCompletionsRejectsMissingModelField(t *testing.T) {
	g := newTestGateway(&fakeRegistry{}, &fakeRouter{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	g.testHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatCompletionsNonStreamingReturnsBackendBody(t *testing.T) {
	rt := &fakeRouter{
		dispatch: func(op backend.Operation, req backend.InferenceRequest) (backend.InferenceResult, error) {
			require.Equal(t, backend.OpChatCompletion, op)
			return backend.InferenceResult{Body: []byte(`{"id":"abc"}`)}, nil
		},
	}
	g := newTestGateway(&fakeRegistry{}, rt)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions", strings.NewReader(`{"model":"m"}`))
	rec := httptest.NewRecorder()
	g.testHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, `{"id":"abc"}`, rec.Body.String())
}

func TestChatCompletionsStreamingProxiesSSEFramesAndDone(t *testing.T) {
	ch := make(chan backend.Chunk, 2)
	ch <- backend.Chunk{Data: []byte(`{"delta":"hi"}`)}
	ch <- backend.Chunk{Done: true}
	close(ch)

	rt := &fakeRouter{
		dispatchS: func(op backend.Operation, req backend.InferenceRequest) (<-chan backend.Chunk, error) {
			return ch, nil
		},
	}
	g := newTestGateway(&fakeRegistry{}, rt)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions", strings.NewReader(`{"model":"m","stream":true}`))
	rec := httptest.NewRecorder()
	g.testHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, `data: {"delta":"hi"}`)
	require.Contains(t, body, "data: [DONE]")
}

func TestDeleteModelDelegatesToRegistry(t *testing.T) {
	reg := &fakeRegistry{}
	g := newTestGateway(reg, &fakeRouter{})
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/models/user.foo", nil)
	rec := httptest.NewRecorder()
	g.testHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, []string{"user.foo"}, reg.deleted)
}

func TestPullEmitsCompleteEvent(t *testing.T) {
	entry := catalog.ModelEntry{Name: "m", Checkpoint: "org/repo:q4", Recipe: catalog.RecipeLlamaCpp}
	reg := &fakeRegistry{supported: map[string]catalog.ModelEntry{"m": entry}}
	g := newTestGateway(reg, &fakeRouter{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pull", strings.NewReader(`{"name":"m"}`))
	rec := httptest.NewRecorder()
	g.testHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	var sawComplete bool
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "event: complete") {
			sawComplete = true
		}
	}
	require.True(t, sawComplete)
}

func TestStatsReportsLoadedModel(t *testing.T) {
	rt := &fakeRouter{active: router.LoadedModel{Name: "m"}, isLoaded: true}
	g := newTestGateway(&fakeRegistry{}, rt)
	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	rec := httptest.NewRecorder()
	g.testHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"loaded":true`)
}
