package router

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lemonade-sdk/lemonade-server/internal/backend"
	"github.com/lemonade-sdk/lemonade-server/internal/catalog"
	"github.com/lemonade-sdk/lemonade-server/internal/metrics"
)

type fakeBackend struct {
	recipe     catalog.Recipe
	loadDelay  time.Duration
	loadCalls  int32
	unloadCalls int32
	failLoad   bool
	supported  map[backend.Operation]bool

	mu         sync.Mutex
	name, ck   string
	loaded     bool
}

func newFakeBackend(recipe catalog.Recipe) *fakeBackend {
	return &fakeBackend{recipe: recipe, supported: map[backend.Operation]bool{backend.OpChatCompletion: true}}
}

func (f *fakeBackend) Recipe() catalog.Recipe { return f.recipe }

func (f *fakeBackend) Load(ctx context.Context, req backend.LoadRequest) error {
	atomic.AddInt32(&f.loadCalls, 1)
	if f.loadDelay > 0 {
		time.Sleep(f.loadDelay)
	}
	if f.failLoad {
		return &backend.Error{Type: backend.ErrBackendFailed, Msg: "forced failure"}
	}
	f.mu.Lock()
	f.name, f.ck, f.loaded = req.Name, req.Checkpoint, true
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Unload() error {
	atomic.AddInt32(&f.unloadCalls, 1)
	f.mu.Lock()
	f.loaded = false
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) Address() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.loaded {
		return ""
	}
	return "http://127.0.0.1:9"
}

func (f *fakeBackend) Active() (string, string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.name, f.ck, f.loaded
}

func (f *fakeBackend) Supports(op backend.Operation) bool { return f.supported[op] }

func (f *fakeBackend) InvokeOnce(ctx context.Context, op backend.Operation, req backend.InferenceRequest) (backend.InferenceResult, error) {
	return backend.InferenceResult{Body: []byte("ok")}, nil
}

func (f *fakeBackend) InvokeStream(ctx context.Context, op backend.Operation, req backend.InferenceRequest) (<-chan backend.Chunk, error) {
	ch := make(chan backend.Chunk, 1)
	ch <- backend.Chunk{Done: true}
	close(ch)
	return ch, nil
}

func (f *fakeBackend) ParseTelemetryLine(line string, tracker *metrics.Tracker) {}

func TestLoadPublishesActiveModel(t *testing.T) {
	fb := newFakeBackend(catalog.RecipeLlamaCpp)
	r := New(map[catalog.Recipe]backend.Backend{catalog.RecipeLlamaCpp: fb}, metrics.NewTracker(nil), nil)

	err := r.Load(context.Background(), catalog.ModelEntry{Name: "m", Checkpoint: "org/repo:q4", Recipe: catalog.RecipeLlamaCpp}, "", 4096)
	require.NoError(t, err)

	active, ok := r.Active()
	require.True(t, ok)
	require.Equal(t, "m", active.Name)
}

func TestLoadOfIdenticalIdentityIsNoop(t *testing.T) {
	fb := newFakeBackend(catalog.RecipeLlamaCpp)
	r := New(map[catalog.Recipe]backend.Backend{catalog.RecipeLlamaCpp: fb}, metrics.NewTracker(nil), nil)

	entry := catalog.ModelEntry{Name: "m", Checkpoint: "org/repo:q4", Recipe: catalog.RecipeLlamaCpp}
	require.NoError(t, r.Load(context.Background(), entry, "", 4096))
	require.NoError(t, r.Load(context.Background(), entry, "", 4096))

	require.Equal(t, int32(1), atomic.LoadInt32(&fb.loadCalls))
}

func TestDispatchFailsWithModelNotLoadedBeforeAnyLoad(t *testing.T) {
	fb := newFakeBackend(catalog.RecipeLlamaCpp)
	r := New(map[catalog.Recipe]backend.Backend{catalog.RecipeLlamaCpp: fb}, metrics.NewTracker(nil), nil)

	_, err := r.Dispatch(context.Background(), backend.OpChatCompletion, backend.InferenceRequest{})
	require.ErrorIs(t, err, backend.ErrModelNotLoadedSentinel)
}

func TestDispatchFailsWithUnsupportedOperation(t *testing.T) {
	fb := newFakeBackend(catalog.RecipeLlamaCpp)
	r := New(map[catalog.Recipe]backend.Backend{catalog.RecipeLlamaCpp: fb}, metrics.NewTracker(nil), nil)
	require.NoError(t, r.Load(context.Background(), catalog.ModelEntry{Name: "m", Checkpoint: "org/repo:q4", Recipe: catalog.RecipeLlamaCpp}, "", 4096))

	_, err := r.Dispatch(context.Background(), backend.OpEmbeddings, backend.InferenceRequest{})
	var berr *backend.Error
	require.ErrorAs(t, err, &berr)
	require.Equal(t, backend.ErrUnsupportedOp, berr.Type)
}

func TestSwappingToADifferentModelUnloadsThePrevious(t *testing.T) {
	fb := newFakeBackend(catalog.RecipeLlamaCpp)
	r := New(map[catalog.Recipe]backend.Backend{catalog.RecipeLlamaCpp: fb}, metrics.NewTracker(nil), nil)

	require.NoError(t, r.Load(context.Background(), catalog.ModelEntry{Name: "a", Checkpoint: "org/a:q4", Recipe: catalog.RecipeLlamaCpp}, "", 4096))
	require.NoError(t, r.Load(context.Background(), catalog.ModelEntry{Name: "b", Checkpoint: "org/b:q4", Recipe: catalog.RecipeLlamaCpp}, "", 4096))

	require.Equal(t, int32(1), atomic.LoadInt32(&fb.unloadCalls))
	active, _ := r.Active()
	require.Equal(t, "b", active.Name)
}

func TestConcurrentLoadsAreSerialized(t *testing.T) {
	fb := newFakeBackend(catalog.RecipeLlamaCpp)
	fb.loadDelay = 50 * time.Millisecond
	r := New(map[catalog.Recipe]backend.Backend{catalog.RecipeLlamaCpp: fb}, metrics.NewTracker(nil), nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		name := "m"
		go func() {
			defer wg.Done()
			_ = r.Load(context.Background(), catalog.ModelEntry{Name: name, Checkpoint: "org/repo:q4", Recipe: catalog.RecipeLlamaCpp}, "", 4096)
		}()
	}
	wg.Wait()

	// All five calls target the identical (name,checkpoint,recipe); only the
	// first should have actually invoked the backend's Load.
	require.Equal(t, int32(1), atomic.LoadInt32(&fb.loadCalls))
	active, ok := r.Active()
	require.True(t, ok)
	require.Equal(t, "m", active.Name)
}

func TestUnloadClearsActiveModel(t *testing.T) {
	fb := newFakeBackend(catalog.RecipeLlamaCpp)
	r := New(map[catalog.Recipe]backend.Backend{catalog.RecipeLlamaCpp: fb}, metrics.NewTracker(nil), nil)
	require.NoError(t, r.Load(context.Background(), catalog.ModelEntry{Name: "m", Checkpoint: "org/repo:q4", Recipe: catalog.RecipeLlamaCpp}, "", 4096))

	require.NoError(t, r.Unload())
	_, ok := r.Active()
	require.False(t, ok)
}
