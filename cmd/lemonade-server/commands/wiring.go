package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lemonade-sdk/lemonade-server/internal/backend"
	"github.com/lemonade-sdk/lemonade-server/internal/backend/fastlm"
	"github.com/lemonade-sdk/lemonade-server/internal/backend/llamacpp"
	"github.com/lemonade-sdk/lemonade-server/internal/backend/vendornpu"
	"github.com/lemonade-sdk/lemonade-server/internal/catalog"
	"github.com/lemonade-sdk/lemonade-server/internal/config"
	"github.com/lemonade-sdk/lemonade-server/internal/fetch"
	"github.com/lemonade-sdk/lemonade-server/internal/logging"
	"github.com/lemonade-sdk/lemonade-server/internal/metrics"
	"github.com/lemonade-sdk/lemonade-server/internal/platform"
)

// buildBackends builds the three concrete Backend implementations keyed by
// the catalog.Recipe values they serve, ready to hand to router.New.
func buildBackends(cfg config.ServerConfig, hub string, topology platform.Topology, log logging.Logger) map[catalog.Recipe]backend.Backend {
	gguf := llamacpp.New(llamacpp.Config{
		ServerBinary: "llama-server",
		Variant:      string(cfg.LlamaCppBackend),
		ExtraArgs:    cfg.LlamaCppExtraArgs,
		Topology:     topology,
	}, hub, log)

	npu := vendornpu.New(vendornpu.Config{ServerBinary: "vendor-npu-server", Mode: vendornpu.ModeNPU}, hub, log)
	hybrid := vendornpu.New(vendornpu.Config{ServerBinary: "vendor-npu-server", Mode: vendornpu.ModeHybrid}, hub, log)
	cpu := vendornpu.New(vendornpu.Config{ServerBinary: "vendor-npu-server", Mode: vendornpu.ModeCPU}, hub, log)

	flm := fastlm.New(fastlm.Config{
		ServerBinary: "flm-server",
		CacheRoot:    filepath.Join(hub, string(catalog.RecipeFastLM)),
	}, log)

	return map[catalog.Recipe]backend.Backend{
		catalog.RecipeLlamaCpp:  gguf,
		catalog.RecipeOgaNPU:    npu,
		catalog.RecipeOgaHybrid: hybrid,
		catalog.RecipeOgaCPU:    cpu,
		catalog.RecipeFastLM:    flm,
	}
}

// backendSupported reports whether topology can actually run recipe, so the
// registry's list_supported only advertises what this host can load.
func backendSupported(topology platform.Topology) catalog.BackendSupported {
	return func(r catalog.Recipe) bool {
		switch r {
		case catalog.RecipeLlamaCpp:
			return true
		case catalog.RecipeOgaNPU:
			return topology.NPUCapable
		case catalog.RecipeOgaHybrid:
			return topology.NPUCapable || topology.VulkanCapable
		case catalog.RecipeOgaCPU:
			return true
		case catalog.RecipeFastLM:
			return true
		default:
			return false
		}
	}
}

// buildRegistry wires a catalog.Registry scoped to the given cache root,
// deriving backend support and on-disk presence from the detected topology.
func buildRegistry(log logging.Logger, cacheRoot string, topology platform.Topology) (*catalog.Registry, error) {
	return catalog.New(catalog.Options{
		Logger:           log,
		CacheRoot:        cacheRoot,
		Fetcher:          fetch.New(nil),
		BackendSupported: backendSupported(topology),
		Present:          catalog.DefaultPresence(hubCacheRoot(cacheRoot)),
	})
}

// downloadByName resolves name in registry's merged catalog and downloads
// every file huggingFaceFileResolver says it needs, skipping entirely if
// already fully present (spec's "pull(name, do_not_upgrade=true) when fully
// present is a no-op" round-trip law).
func downloadByName(ctx context.Context, registry *catalog.Registry, hub string, name string, onProgress func(catalog.ProgressEvent)) error {
	entry, err := registry.Resolve(name)
	if err != nil {
		return err
	}
	files, err := huggingFaceFileResolver(fetch.New(nil), hub)(entry)
	if err != nil {
		return err
	}
	return registry.Download(ctx, name, files, true, onProgress)
}

// pullIfMissing is downloadByName without progress reporting, used to
// preload a model before a gateway starts serving (the "run" subcommand and
// "serve"'s own preload path).
func pullIfMissing(ctx context.Context, registry *catalog.Registry, hub string, name string) error {
	return downloadByName(ctx, registry, hub, name, nil)
}

// newTracker constructs a fresh, process-local Prometheus registry and
// Tracker — each serve invocation owns its own, since only one server binds
// /metrics at a time.
func newTracker() *metrics.Tracker {
	return metrics.NewTracker(prometheus.NewRegistry())
}

// hubCacheRoot is the hub-cache subtree shared by every recipe's
// models--org--repo/snapshots/<hash> layout.
func hubCacheRoot(cacheRoot string) string {
	return filepath.Join(cacheRoot, "hub")
}

// hfRepoEntry is the subset of the Hugging Face tree API response this
// resolver needs.
type hfRepoEntry struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// huggingFaceFileResolver implements gateway.FileResolver by listing a
// checkpoint's repository tree on huggingface.co and mapping every file
// (filtered to the matching GGUF quant for the llamacpp recipe) to a
// destination under the hub cache's snapshot directory.
func huggingFaceFileResolver(fetcher *fetch.Fetcher, hub string) func(entry catalog.ModelEntry) ([]catalog.FileSpec, error) {
	return func(entry catalog.ModelEntry) ([]catalog.FileSpec, error) {
		ck, err := catalog.ParseCheckpoint(entry.Checkpoint)
		if err != nil {
			return nil, err
		}

		repo := ck.Org + "/" + ck.Repo
		treeURL := fmt.Sprintf("https://huggingface.co/api/models/%s/tree/main", repo)
		body, err := fetcher.Get(context.Background(), treeURL)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", repo, err)
		}

		var tree []hfRepoEntry
		if err := json.Unmarshal(body, &tree); err != nil {
			return nil, fmt.Errorf("parsing repository listing for %s: %w", repo, err)
		}

		destDir := catalog.HubCacheDir(hub, ck)
		toSpec := func(e hfRepoEntry) catalog.FileSpec {
			return catalog.FileSpec{
				URL:      fmt.Sprintf("https://huggingface.co/%s/resolve/main/%s", repo, e.Path),
				DestPath: path.Join(destDir, path.Base(e.Path)),
			}
		}

		if entry.Recipe != catalog.RecipeLlamaCpp {
			var files []catalog.FileSpec
			for _, e := range tree {
				if e.Type == "file" {
					files = append(files, toSpec(e))
				}
			}
			if len(files) == 0 {
				return nil, fmt.Errorf("no downloadable files found for %s", entry.Name)
			}
			return files, nil
		}

		// For llamacpp, prefer the GGUF matching the checkpoint's variant;
		// fall back to any GGUF file for single-file repos.
		var matched, anyGGUF []catalog.FileSpec
		for _, e := range tree {
			if e.Type != "file" || path.Ext(e.Path) != ".gguf" {
				continue
			}
			anyGGUF = append(anyGGUF, toSpec(e))
			if matchesGGUFVariant(e.Path, ck.Variant) {
				matched = append(matched, toSpec(e))
			}
		}
		if ck.Variant != "" && len(matched) > 0 {
			return matched, nil
		}
		if len(anyGGUF) == 0 {
			return nil, fmt.Errorf("no GGUF files found for %s", entry.Name)
		}
		return anyGGUF, nil
	}
}

// matchesGGUFVariant reports whether filePath's name contains the
// checkpoint's variant, case-insensitively. Callers fall back to any .gguf
// file when nothing matches (single-file repos).
func matchesGGUFVariant(filePath, variant string) bool {
	if variant == "" {
		return false
	}
	return strings.Contains(strings.ToLower(filePath), strings.ToLower(variant))
}
