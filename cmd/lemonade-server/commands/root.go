// Package commands implements the lemonade-server CLI (§6): serve, run,
// list, pull, delete, status, stop, wired over the config/logging/metrics/
// catalog/backend/router/gateway/lifecycle packages.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/lemonade-sdk/lemonade-server/internal/config"
	"github.com/lemonade-sdk/lemonade-server/internal/logging"
)

// backendFlag is a pflag.Value restricting --llamacpp to the documented
// closed set, rejecting anything else at parse time rather than deferring
// to config.Validate.
type backendFlag struct{ value *string }

var _ pflag.Value = backendFlag{}

func (b backendFlag) String() string { return *b.value }
func (b backendFlag) Type() string   { return "backend" }
func (b backendFlag) Set(s string) error {
	switch config.LlamaCppBackend(s) {
	case config.BackendVulkan, config.BackendROCm, config.BackendMetal, config.BackendCPU:
		*b.value = s
		return nil
	default:
		return fmt.Errorf("must be one of vulkan, rocm, metal, cpu")
	}
}

// exitCode distinguishes a usage error (2) from a generic runtime error (1),
// per §6.
type exitCode struct {
	code int
	err  error
}

func (e *exitCode) Error() string { return e.err.Error() }

func usageErrorf(format string, args ...interface{}) error {
	return &exitCode{code: 2, err: fmt.Errorf(format, args...)}
}

func runtimeError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*exitCode); ok {
		return err
	}
	return &exitCode{code: 1, err: err}
}

// globalFlags mirrors §6's documented flag set. Populated by cobra,
// layered over environment and defaults in resolveConfig.
var globalFlags struct {
	port            int
	host            string
	ctxSize         int
	llamacpp        string
	llamacppArgs    string
	logFile         string
	logLevel        string
	maxLoadedModels []int
	noTray          bool
}

// version is overridden at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "lemonade-server",
	Short:   "A local LLM serving gateway with OpenAI-compatible chat, completion, embeddings, and reranking endpoints",
	Version: version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command, installing a signal-aware context so every
// subcommand's RunE can observe SIGINT/SIGTERM via cmd.Context().
func Execute() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var ec *exitCode
		if asExitCode(err, &ec) {
			fmt.Fprintln(os.Stderr, "Error:", ec.err)
			return ec.code
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func asExitCode(err error, target **exitCode) bool {
	if e, ok := err.(*exitCode); ok {
		*target = e
		return true
	}
	return false
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.IntVar(&globalFlags.port, "port", 0, "Port to listen on (default 8000)")
	pf.StringVar(&globalFlags.host, "host", "", "Host to bind (default 127.0.0.1)")
	pf.IntVar(&globalFlags.ctxSize, "ctx-size", 0, "Context window size (default 4096)")
	pf.Var(backendFlag{&globalFlags.llamacpp}, "llamacpp", "llama.cpp compute backend: vulkan|rocm|metal|cpu (default cpu)")
	pf.StringVar(&globalFlags.llamacppArgs, "llamacpp-args", "", "Extra arguments appended to the llama.cpp server argv")
	pf.StringVar(&globalFlags.logFile, "log-file", "", "Redirect logs to this file instead of stderr")
	pf.StringVar(&globalFlags.logLevel, "log-level", "", "error|warning|info|debug|trace (default info)")
	pf.IntSliceVar(&globalFlags.maxLoadedModels, "max-loaded-models", nil, "1, 3, or 4 positive integers: N [E R A]")
	pf.BoolVar(&globalFlags.noTray, "no-tray", false, "Run headless, without the tray front-end")
	// Registered under cobra's own "version" flag name so its built-in
	// print-and-exit handling (triggered by rootCmd.Version) applies, with
	// the documented -v shorthand attached.
	pf.BoolP("version", "v", false, "Print version and exit")

	rootCmd.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newListCmd(),
		newPullCmd(),
		newDeleteCmd(),
		newStatusCmd(),
		newStopCmd(),
	)
}

// resolveConfig layers CLI flags over environment over defaults (§6),
// validating the result. Only flags the user actually set override env/
// defaults — an unset IntVar default of 0 must not stomp config.Default().
func resolveConfig(cmd *cobra.Command) (config.ServerConfig, error) {
	cfg := config.FromEnv()

	if cmd.Flags().Changed("port") {
		cfg.Port = globalFlags.port
	}
	if cmd.Flags().Changed("host") {
		cfg.Host = globalFlags.host
	}
	if cmd.Flags().Changed("ctx-size") {
		cfg.CtxSize = globalFlags.ctxSize
	}
	if cmd.Flags().Changed("llamacpp") {
		cfg.LlamaCppBackend = config.LlamaCppBackend(globalFlags.llamacpp)
	}
	if cmd.Flags().Changed("llamacpp-args") {
		cfg.LlamaCppExtraArgs = globalFlags.llamacppArgs
	}
	if cmd.Flags().Changed("log-file") {
		cfg.LogFile = globalFlags.logFile
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = globalFlags.logLevel
	}
	cfg.NoTray = globalFlags.noTray

	if cmd.Flags().Changed("max-loaded-models") {
		maxLoaded, err := config.ParseMaxLoaded(globalFlags.maxLoadedModels)
		if err != nil {
			return config.ServerConfig{}, usageErrorf("%v", err)
		}
		cfg.MaxLoaded = maxLoaded
	}

	if err := cfg.Validate(); err != nil {
		return config.ServerConfig{}, usageErrorf("%v", err)
	}
	return cfg, nil
}

// cacheRoot is the filesystem layout root: the user cache directory
// plus a "lemonade" subdirectory, e.g. ~/.cache/lemonade or
// %LOCALAPPDATA%\lemonade.
func cacheRoot() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("resolving user cache directory: %w", err)
	}
	dir := filepath.Join(base, "lemonade")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating cache root %s: %w", dir, err)
	}
	return dir, nil
}

// newLogger builds the process-wide Logger, redirecting to --log-file when
// set (closing it is the caller's responsibility via the returned closer).
func newLogger(cfg config.ServerConfig) (logging.Logger, func(), error) {
	level := logging.ParseLevel(cfg.LogLevel)
	if cfg.LogFile == "" {
		return logging.New(level), func() {}, nil
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file %s: %w", cfg.LogFile, err)
	}
	return logging.NewWithOutput(level, f), func() { f.Close() }, nil
}

// isTTY reports whether stdout is an interactive terminal, gating colored
// status output: piped/redirected output stays plain.
func isTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// bold renders s in bold when stdout is a TTY, plain otherwise.
func bold(s string) string {
	if !isTTY() {
		return s
	}
	return color.New(color.Bold).Sprint(s)
}

// green/yellow/red mirror bold, used for status indicators (running/
// downloaded vs not).
func green(s string) string {
	if !isTTY() {
		return s
	}
	return color.GreenString(s)
}

func yellow(s string) string {
	if !isTTY() {
		return s
	}
	return color.YellowString(s)
}

func red(s string) string {
	if !isTTY() {
		return s
	}
	return color.RedString(s)
}
