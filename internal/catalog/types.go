// Package catalog implements §4.3's ModelRegistry: a merged view of a
// built-in catalog and a user-editable one, plus the on-disk download
// lifecycle backing that view.
package catalog

import (
	"fmt"
	"strings"
)

// Recipe is the closed set of backend recipes a ModelEntry can name.
type Recipe string

const (
	RecipeLlamaCpp Recipe = "llamacpp"
	RecipeFastLM   Recipe = "flm"
	RecipeOgaCPU   Recipe = "oga-cpu"
	RecipeOgaHybrid Recipe = "oga-hybrid"
	RecipeOgaNPU   Recipe = "oga-npu"
)

func (r Recipe) valid() bool {
	switch r {
	case RecipeLlamaCpp, RecipeFastLM, RecipeOgaCPU, RecipeOgaHybrid, RecipeOgaNPU:
		return true
	}
	return false
}

// Label is a tag on a ModelEntry describing a capability or characteristic.
type Label string

const (
	LabelReasoning  Label = "reasoning"
	LabelVision     Label = "vision"
	LabelEmbeddings Label = "embeddings"
	LabelReranking  Label = "reranking"
	LabelCustom     Label = "custom"
)

// UserPrefix marks an entry as originating from the user catalog. Entries
// are stored without it and the prefix is applied only at merge time.
const UserPrefix = "user."

// ModelEntry is the catalog's unit record (§3).
type ModelEntry struct {
	Name       string   `json:"name"`
	Checkpoint string   `json:"checkpoint"`
	Recipe     Recipe   `json:"recipe"`
	Labels     []Label  `json:"labels,omitempty"`
	MMProj     string   `json:"mmproj,omitempty"`
	Suggested  bool     `json:"suggested,omitempty"`
}

// HasLabel reports whether e carries label l.
func (e ModelEntry) HasLabel(l Label) bool {
	for _, have := range e.Labels {
		if have == l {
			return true
		}
	}
	return false
}

// isGGUFCheckpoint reports whether a checkpoint string names a GGUF model:
// true when it contains "gguf", compared case-insensitively.
func isGGUFCheckpoint(checkpoint string) bool {
	return strings.Contains(strings.ToLower(checkpoint), "gguf")
}

// Validate enforces the structural invariants on a single entry,
// independent of where it sits in a catalog (built-in vs user, merged vs
// unmerged name).
func (e ModelEntry) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if e.Checkpoint == "" {
		return fmt.Errorf("checkpoint must not be empty")
	}
	if !e.Recipe.valid() {
		return fmt.Errorf("unsupported recipe %q", e.Recipe)
	}
	if isGGUFCheckpoint(e.Checkpoint) && !strings.Contains(e.Checkpoint, ":") {
		return fmt.Errorf("gguf checkpoint %q must carry a :variant", e.Checkpoint)
	}
	return nil
}

// ValidateUserInput additionally rejects the reserved prefix, which is only
// ever applied by the registry at merge time, never supplied by the caller.
func (e ModelEntry) ValidateUserInput() error {
	if strings.HasPrefix(e.Name, UserPrefix) {
		return fmt.Errorf("entry name must not carry the reserved %q prefix", UserPrefix)
	}
	return e.Validate()
}
