package fastlm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lemonade-sdk/lemonade-server/internal/backend"
	"github.com/lemonade-sdk/lemonade-server/internal/catalog"
	"github.com/lemonade-sdk/lemonade-server/internal/metrics"
)

func TestCacheDirFlattensCheckpoint(t *testing.T) {
	dir := cacheDir("/cache/flm", "meta-llama/Llama-3.1-8B-Instruct-flm")
	require.Contains(t, dir, "meta-llama--Llama-3.1-8B-Instruct-flm")
}

func TestSupportsOnlyChatAndCompletion(t *testing.T) {
	b := &Backend{}
	require.True(t, b.Supports(backend.OpChatCompletion))
	require.True(t, b.Supports(backend.OpCompletion))
	require.False(t, b.Supports(backend.OpEmbeddings))
}

func TestRecipeIsFastLM(t *testing.T) {
	require.Equal(t, catalog.RecipeFastLM, (&Backend{}).Recipe())
}

func TestParseTelemetryLineParsesTokensPerSecond(t *testing.T) {
	b := &Backend{}
	tracker := metrics.NewTracker(nil)
	b.ParseTelemetryLine("tok=12 tps=33.5", tracker)

	snap := tracker.Snapshot()
	require.Equal(t, 12, snap.OutputTokens)
	require.InDelta(t, 33.5, snap.TokensPerSecond, 0.001)
}

func TestParseTelemetryLineIgnoresUnmatchedLines(t *testing.T) {
	b := &Backend{}
	tracker := metrics.NewTracker(nil)
	before := tracker.Snapshot()
	b.ParseTelemetryLine("not a telemetry line", tracker)
	require.Equal(t, before, tracker.Snapshot())
}
