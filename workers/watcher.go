package workers

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"anchorebridge/EVMRPC"
	"anchorebridge/ledger"
	"anchorebridge/metrics"
	"anchorebridge/types"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var errSubscriptionClosed = errors.New("log subscription closed")

// LogSource is the part of ethclient.Client the watcher needs
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]ethtypes.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- ethtypes.Log) (ethereum.Subscription, error)
	Close()
}

type RequestHandler interface {
	Handle(ctx context.Context, req types.BridgeRequest) (types.ReleaseRecord, error)
}

type WatcherState string

const (
	WatcherStopped   WatcherState = "stopped"
	WatcherListening WatcherState = "listening"
	WatcherDegraded  WatcherState = "degraded"
)

type WatcherConfig struct {
	ChainID          uint64
	Vault            common.Address
	BlockBatch       uint64
	SafetyWindow     uint64 // blocks rescanned behind the cursor
	MinConfirmations uint64 // 0 treats every delivered log as final
	MaxInFlight      int
	PollInterval     time.Duration
	MaxBackoff       time.Duration
}

// Watcher feeds BridgeRequested logs of the vault to the handler. Live logs
// come from a subscription, a periodic backfill from the scanned cursor
// picks up whatever was missed while degraded.
type Watcher struct {
	cfg     WatcherConfig
	dial    func(ctx context.Context) (LogSource, error)
	cursor  ledger.Cursor
	handler RequestHandler
	logger  zerolog.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	mu    sync.RWMutex
	state WatcherState
}

func NewWatcher(cfg WatcherConfig, dial func(ctx context.Context) (LogSource, error), cursor ledger.Cursor, handler RequestHandler) (*Watcher, error) {
	if dial == nil || cursor == nil || handler == nil {
		return nil, fmt.Errorf("%w: dial, cursor and handler are required", ErrInvalidConfig)
	}
	if cfg.Vault == (common.Address{}) {
		return nil, fmt.Errorf("%w: vault address is not set", ErrInvalidConfig)
	}
	if cfg.BlockBatch == 0 {
		cfg.BlockBatch = 512
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 8
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	return &Watcher{
		cfg:     cfg,
		dial:    dial,
		cursor:  cursor,
		handler: handler,
		logger:  log.With().Str("component", "watcher").Uint64("chain", cfg.ChainID).Logger(),
		sem:     make(chan struct{}, cfg.MaxInFlight),
		state:   WatcherStopped,
	}, nil
}

func (w *Watcher) State() WatcherState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Watcher) setState(s WatcherState) {
	w.mu.Lock()
	prev := w.state
	w.state = s
	w.mu.Unlock()
	if prev != s {
		metrics.SetWatcherDegraded(s == WatcherDegraded)
	}
}

// Run watches until ctx is done. Provider errors degrade the watcher and
// it reconnects with exponential backoff, they never stop it.
func (w *Watcher) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = w.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	if bo.InitialInterval > bo.MaxInterval {
		bo.InitialInterval = bo.MaxInterval
	}
	bo.Reset()

	w.logger.Info().Str("vault", w.cfg.Vault.Hex()).Msg("watcher started")
	for ctx.Err() == nil {
		err := w.session(ctx, bo.Reset)
		if ctx.Err() != nil {
			break
		}
		w.setState(WatcherDegraded)
		wait := bo.NextBackOff()
		w.logger.Error().Err(err).Dur("reconnect_in", wait).Msg("source chain connection lost")
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}

	w.wg.Wait()
	w.setState(WatcherStopped)
	w.logger.Info().Msg("watcher stopped")
}

// session lasts as long as one connection does
func (w *Watcher) session(ctx context.Context, connected func()) error {
	src, err := w.dial(ctx)
	if err != nil {
		return err
	}
	defer src.Close()

	logs := make(chan ethtypes.Log, 64)
	var subErr <-chan error
	sub, err := src.SubscribeFilterLogs(ctx, EVMRPC.BridgeRequestedQuery(w.cfg.Vault, nil, nil), logs)
	switch {
	case errors.Is(err, rpc.ErrNotificationsUnsupported):
		w.logger.Info().Msg("endpoint has no subscriptions, polling only")
	case err != nil:
		return err
	default:
		defer sub.Unsubscribe()
		subErr = sub.Err()
	}

	w.setState(WatcherListening)
	connected()

	if err := w.catchUp(ctx, src); err != nil {
		return err
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	live := &batch{}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-subErr:
			if err == nil {
				err = errSubscriptionClosed
			}
			return err
		case l := <-logs:
			if w.cfg.MinConfirmations > 0 {
				// not final yet, the backfill takes it once deep enough
				continue
			}
			w.dispatch(ctx, l, live)
		case <-ticker.C:
			if err := w.catchUp(ctx, src); err != nil {
				return err
			}
		}
	}
}

// catchUp scans from the cursor, minus the safety window, up to the last
// final block
func (w *Watcher) catchUp(ctx context.Context, src LogSource) error {
	head, err := src.BlockNumber(ctx)
	if err != nil {
		return err
	}
	if head < w.cfg.MinConfirmations {
		return nil
	}
	final := head - w.cfg.MinConfirmations

	from := subFloor(final, w.cfg.SafetyWindow)
	scanned, ok, err := w.cursor.ScannedBlock(ctx, w.cfg.ChainID)
	if err != nil {
		return err
	}
	if ok {
		from = subFloor(scanned+1, w.cfg.SafetyWindow)
	}
	if from > final {
		return nil
	}
	return w.Backfill(ctx, src, from, final)
}

func subFloor(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}

// Backfill handles every deposit log between from and to inclusive, batch
// by batch. The cursor only moves past a batch whose requests were all
// recorded, and never backwards.
func (w *Watcher) Backfill(ctx context.Context, src LogSource, from, to uint64) error {
	scanned, hasCursor, err := w.cursor.ScannedBlock(ctx, w.cfg.ChainID)
	if err != nil {
		return err
	}
	for start := from; start <= to; start += w.cfg.BlockBatch {
		end := start + w.cfg.BlockBatch - 1
		if end > to {
			end = to
		}
		w.logger.Debug().Uint64("from", start).Uint64("to", end).Msg("scanning blocks")

		q := EVMRPC.BridgeRequestedQuery(w.cfg.Vault, new(big.Int).SetUint64(start), new(big.Int).SetUint64(end))
		logs, err := src.FilterLogs(ctx, q)
		if err != nil {
			return err
		}

		b := &batch{}
		for _, l := range logs {
			w.dispatch(ctx, l, b)
		}
		b.wg.Wait()
		if err := b.firstErr(); err != nil {
			// don't consider this block range as processed
			return fmt.Errorf("blocks %d-%d: %w", start, end, err)
		}

		if !hasCursor || end > scanned {
			if err := w.cursor.SetScannedBlock(ctx, w.cfg.ChainID, end); err != nil {
				return err
			}
			scanned, hasCursor = end, true
			metrics.SetScannedBlock(end)
		}

		if end == to {
			break
		}
	}
	return nil
}

type batch struct {
	wg  sync.WaitGroup
	mu  sync.Mutex
	err error
}

func (b *batch) fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = err
	}
}

func (b *batch) firstErr() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// dispatch hands one log to the handler on its own goroutine, at most
// MaxInFlight at a time
func (w *Watcher) dispatch(ctx context.Context, l ethtypes.Log, b *batch) {
	logger := w.logger.With().Str("tx", l.TxHash.Hex()).Uint64("block", l.BlockNumber).Logger()
	if l.Removed {
		logger.Warn().Msg("deposit log removed by reorg, skipping")
		return
	}
	req, err := EVMRPC.DecodeBridgeRequested(l, w.cfg.ChainID)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		logger.Error().Err(err).Msg("undecodable deposit log, manual intervention required")
		return
	}

	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		b.fail(ctx.Err())
		return
	}
	b.wg.Add(1)
	w.wg.Add(1)
	go func() {
		defer func() {
			<-w.sem
			b.wg.Done()
			w.wg.Done()
		}()
		rec, err := w.handler.Handle(ctx, req)
		if errors.Is(err, types.ErrNonceReplay) {
			logger.Debug().Str("nonce", rec.Nonce).Str("status", string(rec.Status)).Msg("bridge request already handled")
			return
		}
		if err != nil {
			logger.Error().Err(err).Str("nonce", req.NonceKey()).Msg("cannot record bridge request")
			b.fail(err)
			return
		}
		logger.Debug().Str("nonce", rec.Nonce).Str("status", string(rec.Status)).Msg("bridge request handled")
	}()
}
