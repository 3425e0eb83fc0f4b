package catalog

// builtin is the read-only catalog shipped with the binary. It is
// deliberately small and illustrative; a real distribution would embed a
// generated table, but the registry's merge/filter/download logic is
// identical either way.
var builtin = []ModelEntry{
	{
		Name:       "qwen2.5-7b-instruct",
		Checkpoint: "Qwen/Qwen2.5-7B-Instruct-GGUF:Q4_K_M",
		Recipe:     RecipeLlamaCpp,
		Labels:     []Label{LabelReasoning},
		Suggested:  true,
	},
	{
		Name:       "llama-3.2-3b-instruct",
		Checkpoint: "meta-llama/Llama-3.2-3B-Instruct-GGUF:Q4_K_M",
		Recipe:     RecipeLlamaCpp,
		Suggested:  true,
	},
	{
		Name:       "qwen2-vl-7b-instruct",
		Checkpoint: "Qwen/Qwen2-VL-7B-Instruct-GGUF:Q4_K_M",
		Recipe:     RecipeLlamaCpp,
		Labels:     []Label{LabelVision},
		MMProj:     "mmproj-Qwen2-VL-7B-Instruct-f16.gguf",
	},
	{
		Name:       "bge-large-en-v1.5",
		Checkpoint: "BAAI/bge-large-en-v1.5-GGUF:f16",
		Recipe:     RecipeLlamaCpp,
		Labels:     []Label{LabelEmbeddings},
	},
	{
		Name:       "bge-reranker-v2-m3",
		Checkpoint: "BAAI/bge-reranker-v2-m3-GGUF:f16",
		Recipe:     RecipeLlamaCpp,
		Labels:     []Label{LabelReranking},
	},
	{
		Name:       "phi-4-mini-instruct-npu",
		Checkpoint: "microsoft/Phi-4-mini-instruct-onnx-npu",
		Recipe:     RecipeOgaNPU,
		Labels:     []Label{LabelReasoning},
	},
	{
		Name:       "phi-4-mini-instruct-hybrid",
		Checkpoint: "microsoft/Phi-4-mini-instruct-onnx-hybrid",
		Recipe:     RecipeOgaHybrid,
	},
	{
		Name:       "fastlm-llama-3.1-8b",
		Checkpoint: "meta-llama/Llama-3.1-8B-Instruct-flm",
		Recipe:     RecipeFastLM,
	},
}

// Builtin returns a defensive copy of the built-in catalog.
func Builtin() []ModelEntry {
	out := make([]ModelEntry, len(builtin))
	copy(out, builtin)
	return out
}
