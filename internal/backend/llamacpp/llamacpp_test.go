package llamacpp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lemonade-sdk/lemonade-server/internal/backend"
	"github.com/lemonade-sdk/lemonade-server/internal/catalog"
	"github.com/lemonade-sdk/lemonade-server/internal/metrics"
)

func TestBuildArgsIncludesCoreFlags(t *testing.T) {
	b := New(Config{ServerBinary: "llama-server"}, t.TempDir(), nil)
	args := b.buildArgs("/models/model.gguf", 8123, backend.LoadRequest{CtxSize: 2048})

	require.Contains(t, args, "--model")
	require.Contains(t, args, "/models/model.gguf")
	require.Contains(t, args, "--port")
	require.Contains(t, args, "8123")
	require.Contains(t, args, "--ctx-size")
	require.Contains(t, args, "2048")
	require.Contains(t, args, "--jinja")
}

func TestBuildArgsUsesMMProjInsteadOfJinjaWhenSet(t *testing.T) {
	b := New(Config{ServerBinary: "llama-server"}, t.TempDir(), nil)
	args := b.buildArgs("/models/model.gguf", 8123, backend.LoadRequest{MMProj: "/models/mmproj.gguf"})

	require.Contains(t, args, "--mmproj")
	require.NotContains(t, args, "--jinja")
}

func TestBuildArgsAddsEmbeddingsAndRerankingFlags(t *testing.T) {
	b := New(Config{ServerBinary: "llama-server"}, t.TempDir(), nil)
	args := b.buildArgs("/models/model.gguf", 8123, backend.LoadRequest{Labels: []catalog.Label{catalog.LabelReranking}})

	require.Contains(t, args, "--embeddings")
	require.Contains(t, args, "--reranking")
}

func TestResolveGGUFPathFindsGGUFFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.gguf"), []byte("x"), 0o644))

	path, err := resolveGGUFPath(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "model.gguf"), path)
}

func TestResolveGGUFPathErrorsWhenMissing(t *testing.T) {
	_, err := resolveGGUFPath(t.TempDir())
	require.Error(t, err)
}

func TestSupportsCoversAllFourOperations(t *testing.T) {
	b := &Backend{}
	for _, op := range []backend.Operation{backend.OpChatCompletion, backend.OpCompletion, backend.OpEmbeddings, backend.OpReranking} {
		require.True(t, b.Supports(op))
	}
	require.False(t, b.Supports(backend.OpResponses))
}

func TestParseTelemetryLineUpdatesTracker(t *testing.T) {
	b := &Backend{}
	tracker := metrics.NewTracker(nil)

	line := "prompt eval time = 120.0 ms / 10 tokens, eval time = 500.0 ms / 25 tokens"
	b.ParseTelemetryLine(line, tracker)

	snap := tracker.Snapshot()
	require.Equal(t, 10, snap.InputTokens)
	require.Equal(t, 25, snap.OutputTokens)
	require.Greater(t, snap.TokensPerSecond, 0.0)
}

func TestPathForMapsOperationsToRoutes(t *testing.T) {
	require.Equal(t, "/v1/chat/completions", pathFor(backend.OpChatCompletion))
	require.Equal(t, "/v1/embeddings", pathFor(backend.OpEmbeddings))
	require.Equal(t, "/v1/rerank", pathFor(backend.OpReranking))
}
