package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lemonade-sdk/lemonade-server/internal/fetch"
	"github.com/lemonade-sdk/lemonade-server/internal/gateway"
	"github.com/lemonade-sdk/lemonade-server/internal/lifecycle"
	"github.com/lemonade-sdk/lemonade-server/internal/platform"
	"github.com/lemonade-sdk/lemonade-server/internal/router"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the lemonade-server gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runtimeError(runServe(cmd, ""))
		},
	}
}

// runServe builds every component §2's system diagram names, binds the
// single-instance lock, and blocks until Lifecycle.Run returns (signal or
// ctx cancellation). If preload is non-empty (the "run" subcommand's path),
// it is pulled if necessary and loaded before the gateway starts accepting
// inference traffic.
func runServe(cmd *cobra.Command, preload string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	cache, err := cacheRoot()
	if err != nil {
		return err
	}

	instance := lifecycle.NewSingleInstance(cache)
	if err := instance.Acquire(cfg.Port); err != nil {
		if err == lifecycle.ErrAlreadyRunning {
			return fmt.Errorf("lemonade-server is already running (%w)", err)
		}
		return err
	}

	topology := platform.Detect()
	hub := hubCacheRoot(cache)

	registry, err := buildRegistry(log, cache, topology)
	if err != nil {
		_ = instance.Release()
		return err
	}
	defer registry.Close()

	tracker := newTracker()
	backends := buildBackends(cfg, hub, topology, log)
	rt := router.New(backends, tracker, log)

	gw := gateway.New(gateway.Options{
		Logger:       log,
		Tracker:      tracker,
		Registry:     registry,
		Router:       rt,
		FileResolver: huggingFaceFileResolver(fetch.New(nil), hub),
	})

	lc := lifecycle.New(log, gw, rt, instance)

	if preload != "" {
		if err := pullIfMissing(cmd.Context(), registry, hub, preload); err != nil {
			_ = instance.Release()
			return err
		}
		entry, err := registry.Resolve(preload)
		if err != nil {
			_ = instance.Release()
			return err
		}
		if err := rt.Load(cmd.Context(), entry, entry.MMProj, cfg.CtxSize); err != nil {
			_ = instance.Release()
			return err
		}
	}

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- gw.ListenAndServe(cmd.Context(), cfg.Host, cfg.Port) }()

	log.Infof("lemonade-server listening on %s:%d (realtime on port %d)", cfg.Host, cfg.Port, cfg.Port+100)
	cmd.Printf("lemonade-server listening on %s:%d\n", cfg.Host, cfg.Port)

	lc.Run(cmd.Context())

	return <-serveErrCh
}
