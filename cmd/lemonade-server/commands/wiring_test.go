package commands

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lemonade-sdk/lemonade-server/internal/catalog"
	"github.com/lemonade-sdk/lemonade-server/internal/config"
	"github.com/lemonade-sdk/lemonade-server/internal/platform"
)

func TestEntryFromPullFlagsCollectsLabels(t *testing.T) {
	pullFlags.checkpoint = "org/repo:Q4_K_M"
	pullFlags.recipe = string(catalog.RecipeLlamaCpp)
	pullFlags.mmproj = "proj.gguf"
	pullFlags.reasoning = true
	pullFlags.vision = false
	pullFlags.embedding = true
	pullFlags.reranking = false
	defer func() { pullFlags = struct {
		checkpoint string
		recipe     string
		mmproj     string
		reasoning  bool
		vision     bool
		embedding  bool
		reranking  bool
	}{} }()

	got := entryFromPullFlags("my-model")
	want := catalog.ModelEntry{
		Name:       "my-model",
		Checkpoint: "org/repo:Q4_K_M",
		Recipe:     catalog.RecipeLlamaCpp,
		Labels:     []catalog.Label{catalog.LabelReasoning, catalog.LabelEmbeddings},
		MMProj:     "proj.gguf",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("entryFromPullFlags mismatch (-want +got):\n%s", diff)
	}
}

func TestMatchesGGUFVariant(t *testing.T) {
	cases := []struct {
		name, path, variant string
		want                 bool
	}{
		{"matches", "model-Q4_K_M.gguf", "Q4_K_M", true},
		{"case insensitive", "model-q4_k_m.gguf", "Q4_K_M", true},
		{"no match", "model-Q8_0.gguf", "Q4_K_M", false},
		{"empty variant never matches", "model-Q4_K_M.gguf", "", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := matchesGGUFVariant(c.path, c.variant); got != c.want {
				t.Fatalf("matchesGGUFVariant(%q, %q) = %v, want %v", c.path, c.variant, got, c.want)
			}
		})
	}
}

func TestBackendSupportedGatesNPURecipesOnTopology(t *testing.T) {
	supported := backendSupported(platform.Topology{NPUCapable: false, VulkanCapable: false})
	if supported(catalog.RecipeOgaNPU) {
		t.Fatal("expected oga-npu unsupported without an NPU")
	}
	if supported(catalog.RecipeOgaHybrid) {
		t.Fatal("expected oga-hybrid unsupported without NPU or Vulkan")
	}
	if !supported(catalog.RecipeLlamaCpp) {
		t.Fatal("expected llamacpp always supported")
	}
	if !supported(catalog.RecipeOgaCPU) {
		t.Fatal("expected oga-cpu always supported")
	}
	if !supported(catalog.RecipeFastLM) {
		t.Fatal("expected flm always supported")
	}
}

func TestBackendSupportedAllowsHybridViaVulkanAlone(t *testing.T) {
	supported := backendSupported(platform.Topology{NPUCapable: false, VulkanCapable: true})
	if !supported(catalog.RecipeOgaHybrid) {
		t.Fatal("expected oga-hybrid supported when Vulkan-capable even without an NPU")
	}
	if supported(catalog.RecipeOgaNPU) {
		t.Fatal("expected oga-npu still unsupported without an NPU")
	}
}

func TestBuildBackendsCoversEveryRecipe(t *testing.T) {
	backends := buildBackends(config.Default(), t.TempDir(), platform.Topology{}, nil)
	for _, r := range []catalog.Recipe{
		catalog.RecipeLlamaCpp,
		catalog.RecipeOgaNPU,
		catalog.RecipeOgaHybrid,
		catalog.RecipeOgaCPU,
		catalog.RecipeFastLM,
	} {
		if _, ok := backends[r]; !ok {
			t.Fatalf("expected a backend registered for recipe %q", r)
		}
	}
}

func TestHubCacheRootIsSubdirectoryOfCache(t *testing.T) {
	got := hubCacheRoot("/tmp/lemonade")
	if got != "/tmp/lemonade/hub" {
		t.Fatalf("expected /tmp/lemonade/hub, got %s", got)
	}
}
