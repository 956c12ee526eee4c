package main

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"anchorebridge/config"
	"anchorebridge/metrics"
	"anchorebridge/workers"
	"anchorebridge/workers/handlers"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Watch the vault and release deposits on Casper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, config.Config)
		},
	}
}

func serve(ctx context.Context, cfg config.Configuration) error {
	log.Info().Uint64("chain", cfg.EVM.ChainID).Str("casper", cfg.Casper.ChainName).Msg("Starting bridge relay")

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	metrics.Init(cfg.Server.MetricsPort)

	watcher, err := a.newWatcher()
	if err != nil {
		return err
	}
	vault, _ := cfg.Vault()
	confirmer := workers.NewConfirmer(a.store, a.casper, a.dispatcher, cfg.Release.ConfirmInterval, cfg.Release.ExpireAfter)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// there are 3 worker threads:
	// * listen to vault deposits
	// * track dispatched deploys and resume abandoned releases
	// * API serving HTTP server (serves as main worker thread)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		watcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		confirmer.Run(ctx)
	}()

	api := &handlers.API{
		Releases: a.store,
		Operator: a.dispatcher,
		Deposits: workers.ReceiptDeposits{
			RPCList:          cfg.EVM.RPCList,
			ChainID:          cfg.EVM.ChainID,
			Vault:            vault,
			MinConfirmations: cfg.EVM.MinConfirmations,
		},
		WatcherState: func() string { return string(watcher.State()) },
		Ping:         a.store.Ping,
	}
	err = workers.Worker_HTTP(ctx, workers.HTTPConfig{
		Addr:           cfg.Server.Addr,
		UseSSL:         cfg.Server.UseSSL,
		CertFile:       cfg.Server.CertFile,
		KeyFile:        cfg.Server.KeyFile,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, api)

	cancel()
	wg.Wait()
	log.Info().Msg("bridge relay stopped")
	return err
}
