package main

import (
	"context"
	"fmt"
	"time"

	"anchorebridge/CasperRPC"
	"anchorebridge/EVMRPC"
	"anchorebridge/config"
	"anchorebridge/notify"
	"anchorebridge/pipeline"
	"anchorebridge/redis"
	"anchorebridge/signer"
	"anchorebridge/tokenmap"
	"anchorebridge/workers"

	redigo "github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog/log"
)

// app is everything the commands share, built from config.Config
type app struct {
	cfg        config.Configuration
	pool       *redigo.Pool
	store      *redis.Store
	casper     *CasperRPC.RPCClient
	key        *signer.KeySigner
	executor   *pipeline.Executor
	dispatcher *workers.Dispatcher
	notifier   notify.Notifier
}

func loadKey(cfg config.Configuration) (*signer.KeySigner, error) {
	if cfg.Casper.PrivateKey != "" {
		return signer.ParseKey(cfg.Casper.PrivateKey)
	}
	return signer.LoadKeyFile(cfg.Casper.KeyFile)
}

func newApp(ctx context.Context, cfg config.Configuration) (*app, error) {
	a := &app{cfg: cfg}

	// without persistence do not continue
	a.pool = redis.NewPool(cfg.RedisAddr())
	a.store = redis.NewStore(a.pool)
	if err := a.store.Ping(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr(), err)
	}

	key, err := loadKey(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.key = key
	log.Info().Str("account", key.PublicKey().TagHex()).Msg("signing key loaded")

	a.casper = CasperRPC.NewClient(cfg.Casper.NodeURL, CasperRPC.Options{
		Timeout:           cfg.Casper.Timeout,
		RequestsPerSecond: cfg.Casper.RequestsPerSecond,
	})
	a.executor, err = pipeline.NewExecutor(pipeline.Config{
		ChainName:       cfg.Casper.ChainName,
		TTL:             cfg.Casper.TTL,
		GasPrice:        cfg.Casper.GasPrice,
		ResolvePackages: cfg.Casper.ResolvePackages,
	}, a.casper, pipeline.PollWaiter{Source: a.casper, Interval: 5 * time.Second, Timeout: 10 * time.Minute}, a.casper)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Notify.Driver != "" || len(cfg.Notify.Brokers) > 0 {
		a.notifier, err = notify.New(notify.Config{
			Driver:  cfg.Notify.Driver,
			Brokers: cfg.Notify.Brokers,
			Topic:   cfg.Notify.Topic,
			TLS:     cfg.Notify.TLS,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	table, err := tokenmap.NewTable(cfg.TokenMap)
	if err != nil {
		a.Close()
		return nil, err
	}
	bridge, err := cfg.BridgeRef()
	if err != nil {
		a.Close()
		return nil, err
	}

	var notifier workers.Notifier
	if a.notifier != nil {
		notifier = a.notifier
	}
	a.dispatcher, err = workers.NewDispatcher(workers.DispatcherConfig{
		Bridge:        bridge,
		ShouldSwap:    cfg.Release.ShouldSwap,
		Payment:       cfg.Payment(),
		MaxAttempts:   cfg.Release.MaxAttempts,
		RetryBackoff:  cfg.Release.RetryBackoff,
		MaxBackoff:    cfg.Release.MaxBackoff,
		StaleAfter:    cfg.Release.StaleAfter,
		NotifyTimeout: cfg.Notify.Timeout,
	}, a.store, tokenmap.New(table), a.executor, a.key, notifier)
	if err != nil {
		a.Close()
		return nil, err
	}
	log.Info().Int("tokens", table.Len()).Str("bridge", bridge.String()).Msg("dispatcher ready")
	return a, nil
}

func (a *app) newWatcher() (*workers.Watcher, error) {
	vault, err := a.cfg.Vault()
	if err != nil {
		return nil, err
	}
	return workers.NewWatcher(workers.WatcherConfig{
		ChainID:          a.cfg.EVM.ChainID,
		Vault:            vault,
		BlockBatch:       a.cfg.EVM.BlockBatch,
		SafetyWindow:     a.cfg.EVM.SafetyWindow,
		MinConfirmations: a.cfg.EVM.MinConfirmations,
		MaxInFlight:      a.cfg.EVM.MaxInFlight,
		PollInterval:     a.cfg.EVM.PollInterval,
	}, a.dialEVM, a.store, a.dispatcher)
}

func (a *app) dialEVM(ctx context.Context) (workers.LogSource, error) {
	client, err := EVMRPC.Dial(ctx, a.cfg.EVM.RPCList)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (a *app) Close() {
	if a.dispatcher != nil {
		a.dispatcher.Close()
	}
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			log.Error().Err(err).Msg("error closing notifier")
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
