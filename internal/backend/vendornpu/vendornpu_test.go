package vendornpu

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lemonade-sdk/lemonade-server/internal/backend"
	"github.com/lemonade-sdk/lemonade-server/internal/catalog"
	"github.com/lemonade-sdk/lemonade-server/internal/metrics"
)

func TestRecipeReflectsConfiguredMode(t *testing.T) {
	require.Equal(t, catalog.RecipeOgaNPU, (&Backend{cfg: Config{Mode: ModeNPU}}).Recipe())
	require.Equal(t, catalog.RecipeOgaHybrid, (&Backend{cfg: Config{Mode: ModeHybrid}}).Recipe())
	require.Equal(t, catalog.RecipeOgaCPU, (&Backend{cfg: Config{Mode: ModeCPU}}).Recipe())
}

func TestSupportsOnlyChatAndCompletion(t *testing.T) {
	b := &Backend{}
	require.True(t, b.Supports(backend.OpChatCompletion))
	require.True(t, b.Supports(backend.OpCompletion))
	require.False(t, b.Supports(backend.OpEmbeddings))
	require.False(t, b.Supports(backend.OpReranking))
}

func TestModelDirArgFollowsHubCacheConvention(t *testing.T) {
	ck := catalog.Checkpoint{Org: "microsoft", Repo: "phi-4-mini-instruct-onnx-npu"}
	dir := modelDirArg("/cache/hub", ck)
	require.Contains(t, dir, "models--microsoft--phi-4-mini-instruct-onnx-npu")
	require.Contains(t, dir, "snapshots")
}

func TestParseTelemetryLineUpdatesTokensPerSecond(t *testing.T) {
	b := &Backend{}
	tracker := metrics.NewTracker(nil)
	b.ParseTelemetryLine("tokens=50 latency_ms=1000.0", tracker)

	snap := tracker.Snapshot()
	require.Equal(t, 50, snap.OutputTokens)
	require.InDelta(t, 50.0, snap.TokensPerSecond, 0.01)
}

func TestAddressEmptyWhenNotLoaded(t *testing.T) {
	b := &Backend{}
	require.Equal(t, "", b.Address())
	_, _, ok := b.Active()
	require.False(t, ok)
}
