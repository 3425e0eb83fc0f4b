// Package config resolves ServerConfig from CLI flags, environment
// variables, and defaults, in that precedence order (§6: "CLI flags
// override env; env overrides defaults").
package config

import (
	"fmt"
	"os"
	"strconv"
)

// LlamaCppBackend is the closed set of llama.cpp compute backends.
type LlamaCppBackend string

const (
	BackendVulkan LlamaCppBackend = "vulkan"
	BackendROCm   LlamaCppBackend = "rocm"
	BackendMetal  LlamaCppBackend = "metal"
	BackendCPU    LlamaCppBackend = "cpu"
)

// MaxLoaded is the "max_loaded" vector: one slot count per capability
// class. The counts are accepted and validated; the router holds at most one
// active backend overall whatever they say, and /stats does not report them.
type MaxLoaded struct {
	LLM        int
	Embeddings int
	Reranking  int
	Audio      int
}

// DefaultMaxLoaded returns the documented default: one of each.
func DefaultMaxLoaded() MaxLoaded {
	return MaxLoaded{LLM: 1, Embeddings: 1, Reranking: 1, Audio: 1}
}

// ParseMaxLoaded implements the CLI's --max-loaded-models validation: it
// accepts exactly 1, 3, or 4 positive integers; any other count is rejected.
func ParseMaxLoaded(values []int) (MaxLoaded, error) {
	for _, v := range values {
		if v <= 0 {
			return MaxLoaded{}, fmt.Errorf("--max-loaded-models values must be positive, got %d", v)
		}
	}
	switch len(values) {
	case 1:
		return MaxLoaded{LLM: values[0], Embeddings: values[0], Reranking: values[0], Audio: values[0]}, nil
	case 3:
		return MaxLoaded{LLM: values[0], Embeddings: values[1], Reranking: values[2], Audio: 1}, nil
	case 4:
		return MaxLoaded{LLM: values[0], Embeddings: values[1], Reranking: values[2], Audio: values[3]}, nil
	default:
		return MaxLoaded{}, fmt.Errorf("--max-loaded-models accepts 1, 3, or 4 positive integers, got %d", len(values))
	}
}

// ServerConfig is the gateway's configuration record, populated by layering CLI
// flags over environment variables over defaults.
type ServerConfig struct {
	Port              int
	Host              string
	CtxSize           int
	LogLevel          string
	LlamaCppBackend   LlamaCppBackend
	LlamaCppExtraArgs string
	MaxLoaded         MaxLoaded
	LogFile           string
	NoTray            bool
}

// Default returns the documented defaults.
func Default() ServerConfig {
	return ServerConfig{
		Port:            8000,
		Host:            "127.0.0.1",
		CtxSize:         4096,
		LogLevel:        "info",
		LlamaCppBackend: BackendCPU,
		MaxLoaded:       DefaultMaxLoaded(),
	}
}

// applyEnv overlays recognized LEMONADE_* environment variables onto cfg.
// CLI flags are applied afterward by the caller (cmd/lemonade-server) so
// that flags win, matching the documented precedence.
func applyEnv(cfg ServerConfig) ServerConfig {
	if v := os.Getenv("LEMONADE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("LEMONADE_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("LEMONADE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LEMONADE_CTX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CtxSize = n
		}
	}
	if v := os.Getenv("LEMONADE_LLAMACPP"); v != "" {
		cfg.LlamaCppBackend = LlamaCppBackend(v)
	}
	if v := os.Getenv("LEMONADE_LLAMACPP_ARGS"); v != "" {
		cfg.LlamaCppExtraArgs = v
	}
	return cfg
}

// FromEnv returns Default() overlaid with any recognized environment
// variables.
func FromEnv() ServerConfig {
	return applyEnv(Default())
}

// Validate enforces the invariants on the assembled configuration that
// aren't already structural: the closed LlamaCppBackend set, the closed
// log-level set, a port in 0..65535, and a positive ctx-size.
func (c ServerConfig) Validate() error {
	switch c.LlamaCppBackend {
	case BackendVulkan, BackendROCm, BackendMetal, BackendCPU:
	default:
		return fmt.Errorf("invalid llamacpp backend %q", c.LlamaCppBackend)
	}
	switch c.LogLevel {
	case "error", "warning", "info", "debug", "trace":
	default:
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.CtxSize <= 0 {
		return fmt.Errorf("invalid ctx-size %d", c.CtxSize)
	}
	return nil
}
