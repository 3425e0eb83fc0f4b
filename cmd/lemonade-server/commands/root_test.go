package commands

import (
	"errors"
	"testing"

	"github.com/spf13/cobra"

	"github.com/lemonade-sdk/lemonade-server/internal/config"
)

func TestUsageErrorfProducesExitCodeTwo(t *testing.T) {
	err := usageErrorf("bad flag %s", "--port")
	var ec *exitCode
	if !errors.As(err, &ec) {
		t.Fatalf("expected *exitCode, got %T", err)
	}
	if ec.code != 2 {
		t.Fatalf("expected code 2, got %d", ec.code)
	}
	if ec.Error() != "bad flag --port" {
		t.Fatalf("unexpected message: %s", ec.Error())
	}
}

func TestRuntimeErrorWrapsPlainErrorAsCodeOne(t *testing.T) {
	err := runtimeError(errors.New("boom"))
	var ec *exitCode
	if !errors.As(err, &ec) {
		t.Fatalf("expected *exitCode, got %T", err)
	}
	if ec.code != 1 {
		t.Fatalf("expected code 1, got %d", ec.code)
	}
}

func TestRuntimeErrorPassesThroughExistingExitCode(t *testing.T) {
	original := usageErrorf("bad config")
	wrapped := runtimeError(original)
	if wrapped != original {
		t.Fatalf("expected runtimeError to pass through an existing *exitCode unchanged")
	}
}

func TestRuntimeErrorNilIsNil(t *testing.T) {
	if runtimeError(nil) != nil {
		t.Fatal("expected nil in, nil out")
	}
}

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "test"}
	pf := cmd.Flags()
	pf.IntVar(&globalFlags.port, "port", 0, "")
	pf.StringVar(&globalFlags.host, "host", "", "")
	pf.IntVar(&globalFlags.ctxSize, "ctx-size", 0, "")
	pf.StringVar(&globalFlags.llamacpp, "llamacpp", "", "")
	pf.StringVar(&globalFlags.llamacppArgs, "llamacpp-args", "", "")
	pf.StringVar(&globalFlags.logFile, "log-file", "", "")
	pf.StringVar(&globalFlags.logLevel, "log-level", "", "")
	pf.IntSliceVar(&globalFlags.maxLoadedModels, "max-loaded-models", nil, "")
	pf.BoolVar(&globalFlags.noTray, "no-tray", false, "")
	return cmd
}

func TestResolveConfigUnsetFlagsDoNotOverrideDefaults(t *testing.T) {
	cmd := newTestCmd()
	cfg, err := resolveConfig(cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != config.Default().Port {
		t.Fatalf("expected default port %d, got %d (an unset --port default of 0 must not stomp config.Default())", config.Default().Port, cfg.Port)
	}
}

func TestResolveConfigExplicitFlagOverridesDefault(t *testing.T) {
	cmd := newTestCmd()
	if err := cmd.Flags().Set("port", "9009"); err != nil {
		t.Fatal(err)
	}
	cfg, err := resolveConfig(cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 9009 {
		t.Fatalf("expected explicit --port to win, got %d", cfg.Port)
	}
}

func TestResolveConfigRejectsBadMaxLoadedModels(t *testing.T) {
	cmd := newTestCmd()
	if err := cmd.Flags().Set("max-loaded-models", "1,1"); err != nil {
		t.Fatal(err)
	}
	_, err := resolveConfig(cmd)
	if err == nil {
		t.Fatal("expected error for a 2-value --max-loaded-models")
	}
	var ec *exitCode
	if !errors.As(err, &ec) || ec.code != 2 {
		t.Fatalf("expected a code-2 usage error, got %v", err)
	}
}

func TestResolveConfigRejectsInvalidBackend(t *testing.T) {
	cmd := newTestCmd()
	if err := cmd.Flags().Set("llamacpp", "tpu"); err != nil {
		t.Fatal(err)
	}
	if _, err := resolveConfig(cmd); err == nil {
		t.Fatal("expected validation error for an unknown llamacpp backend")
	}
}

func TestCacheRootCreatesLemonadeSubdirectory(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CACHE_HOME", dir)
	root, err := cacheRoot()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if root == "" {
		t.Fatal("expected a non-empty cache root")
	}
}
