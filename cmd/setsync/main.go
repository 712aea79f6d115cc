package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/setsync/setsync/internal/config"
	"github.com/setsync/setsync/internal/core/backend"
	"github.com/setsync/setsync/internal/core/localstate"
	"github.com/setsync/setsync/internal/core/nowplaying"
	"github.com/setsync/setsync/internal/core/observability/log"
	"github.com/setsync/setsync/internal/core/reconcile"
	"github.com/setsync/setsync/internal/core/state"
)

func main() {
	configPath := flag.String("config", "setsync.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}

	logger := log.New(log.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Local state is a best-effort cache; keep going without it.
	local, err := localstate.Open(cfg.LocalStatePath, logger)
	if err != nil {
		logger.Warn("Continuing without local state", log.Error(err))
	}
	defer func() { _ = local.Close() }()

	tenant := cfg.TenantID
	if tenant == "" {
		tenant = local.LastTenant()
	}
	local.SetLastTenant(tenant)
	local.TouchSession(time.Now())

	remote, err := backend.Dial(ctx, cfg.BackendAddr, logger)
	if err != nil {
		logger.Fatal("Backend unreachable", log.Error(err))
	}
	defer func() { _ = remote.Close() }()

	store := state.NewStore(state.RoleAdmin, logger)

	reconciler := reconcile.New(store, remote, tenant, logger)
	if err := reconciler.Reload(ctx); err != nil {
		logger.Error("Initial reload failed", log.Error(err))
	}

	poller := nowplaying.NewPoller(store, remote, cfg.PollInterval, logger)

	go func() {
		if err := reconciler.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Reconciler stopped", log.Error(err))
		}
	}()
	go func() {
		if err := poller.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Poller stopped", log.Error(err))
		}
	}()

	logger.Info("setsync running",
		log.String("tenant", tenant),
		log.String("backend", cfg.BackendAddr))

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-stopCh

	local.TouchSession(time.Now())
	cancel()
}
