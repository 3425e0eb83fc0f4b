package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/distribution/reference"
	digest "github.com/opencontainers/go-digest"
)

// Checkpoint is a parsed "org/repo[:variant]" string.
type Checkpoint struct {
	Org     string
	Repo    string
	Variant string
}

// ParseCheckpoint parses the ModelEntry.checkpoint syntax. It reuses
// distribution/reference's name grammar (org/repo is a valid reference
// "path", and ":variant" is a valid reference "tag") since Hugging Face
// checkpoint identifiers follow the same org/repo:ref shape a container
// image reference does.
func ParseCheckpoint(s string) (Checkpoint, error) {
	named, err := reference.ParseNormalizedNamed(strings.ToLower(s))
	if err != nil {
		return Checkpoint{}, fmt.Errorf("invalid checkpoint %q: %w", s, err)
	}

	path := reference.Path(named)
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 {
		return Checkpoint{}, fmt.Errorf("checkpoint %q must be org/repo[:variant]", s)
	}

	variant := ""
	if tagged, ok := named.(reference.Tagged); ok {
		variant = tagged.Tag()
	}

	return Checkpoint{Org: parts[0], Repo: parts[1], Variant: variant}, nil
}

// HubCacheDir returns the snapshot directory a checkpoint's files are
// expected to live under, mirroring the
// "models--org--repo/snapshots/<hash>" layout Hugging Face's own hub cache
// uses, keyed here by a content digest of the checkpoint string rather than
// a git commit hash since recipes other than GGUF have no such hash.
func HubCacheDir(root string, ck Checkpoint) string {
	repoDir := fmt.Sprintf("models--%s--%s", ck.Org, ck.Repo)
	snapshot := digest.FromString(ck.Org + "/" + ck.Repo + ":" + ck.Variant).Encoded()[:12]
	return filepath.Join(root, repoDir, "snapshots", snapshot)
}

// GGUFPresent reports whether the (single, for now) GGUF file implied by a
// checkpoint's variant is present under root's hub cache layout.
func GGUFPresent(root string, e ModelEntry) bool {
	ck, err := ParseCheckpoint(e.Checkpoint)
	if err != nil {
		return false
	}
	dir := HubCacheDir(root, ck)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if strings.HasSuffix(strings.ToLower(entry.Name()), ".gguf") {
			return true
		}
	}
	return false
}

// RecipeCachePresent reports whether a non-GGUF recipe's cache directory
// exists and is non-empty, the presence test used for
// vendor/FastLM recipes.
func RecipeCachePresent(root string, recipe Recipe, e ModelEntry) bool {
	dir := filepath.Join(root, string(recipe), sanitizeDirName(e.Checkpoint))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	return len(entries) > 0
}

func sanitizeDirName(s string) string {
	return strings.NewReplacer("/", "--", ":", "__").Replace(s)
}

// DefaultPresence builds a DownloadPresence that dispatches on recipe using
// the hub-cache/recipe-cache rules above.
func DefaultPresence(root string) DownloadPresence {
	return func(e ModelEntry) bool {
		if e.Recipe == RecipeLlamaCpp {
			return GGUFPresent(root, e)
		}
		return RecipeCachePresent(root, e.Recipe, e)
	}
}
