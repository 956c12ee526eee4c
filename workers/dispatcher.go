package workers

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"anchorebridge/deploy"
	"anchorebridge/ledger"
	"anchorebridge/metrics"
	"anchorebridge/pipeline"
	"anchorebridge/signer"
	"anchorebridge/types"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrInvalidConfig = errors.New("workers: invalid config")

type TokenResolver interface {
	Resolve(sourceTokenRef string, sourceChainID uint64) (types.TokenDescriptor, error)
}

// Notifier is told about every status change of a release
type Notifier interface {
	Notify(ctx context.Context, rec types.ReleaseRecord) error
}

type DispatcherConfig struct {
	Bridge       deploy.ContractRef
	ShouldSwap   bool
	Payment      *big.Int // motes, release default when nil
	MaxAttempts  int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	// a pending record untouched for this long is treated as abandoned by a
	// crashed relay and resumed
	StaleAfter    time.Duration
	NotifyTimeout time.Duration // per notification
}

const (
	defaultMaxAttempts  = 3
	defaultRetryBackoff = time.Second
	defaultMaxBackoff   = 30 * time.Second
	defaultStaleAfter   = 5 * time.Minute
)

// Dispatcher turns bridge requests into at most one release deploy per nonce
type Dispatcher struct {
	cfg      DispatcherConfig
	store    ledger.Store
	tokens   TokenResolver
	executor *pipeline.Executor
	signer   signer.Signer
	notifier *publisher
	locks    *keyedMutex
	logger   zerolog.Logger
	now      func() time.Time
}

func NewDispatcher(cfg DispatcherConfig, store ledger.Store, tokens TokenResolver, executor *pipeline.Executor, s signer.Signer, notifier Notifier) (*Dispatcher, error) {
	if store == nil || tokens == nil || executor == nil || s == nil {
		return nil, fmt.Errorf("%w: store, token resolver, executor and signer are required", ErrInvalidConfig)
	}
	if cfg.Bridge.Hash == ([32]byte{}) {
		return nil, fmt.Errorf("%w: bridge contract is not set", ErrInvalidConfig)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	if cfg.MaxBackoff < cfg.RetryBackoff {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	d := &Dispatcher{
		cfg:      cfg,
		store:    store,
		tokens:   tokens,
		executor: executor.WithNoWait(),
		signer:   signer.Exclusive(s),
		locks:    newKeyedMutex(),
		logger:   log.With().Str("component", "dispatcher").Logger(),
		now:      time.Now,
	}
	if notifier != nil {
		d.notifier = newPublisher(notifier, cfg.NotifyTimeout)
	}
	return d, nil
}

// Close flushes queued notifications
func (d *Dispatcher) Close() {
	if d.notifier != nil {
		d.notifier.close()
	}
}

func recordFromRequest(req types.BridgeRequest) types.ReleaseRecord {
	return types.ReleaseRecord{
		Nonce:             req.NonceKey(),
		SourceSender:      req.SourceSender,
		SourceChainID:     req.SourceChainID,
		SourceTokenRef:    req.SourceTokenRef,
		SourceBlockHeight: req.SourceBlockHeight,
		SourceTxHash:      req.SourceTxHash,
		Recipient:         req.DestinationRecipient,
		Amount:            req.Amount.String(),
	}
}

// Handle processes one delivery of a bridge request. Redelivery of a nonce
// already handled returns the stored record untouched along with an error
// wrapping types.ErrNonceReplay. Any other error means the ledger could not
// be read or written, release failures end up in the record.
func (d *Dispatcher) Handle(ctx context.Context, req types.BridgeRequest) (types.ReleaseRecord, error) {
	if err := req.Validate(); err != nil {
		return types.ReleaseRecord{}, err
	}
	nonce := req.NonceKey()
	unlock := d.locks.Lock(nonce)
	defer unlock()

	logger := d.logger.With().Str("nonce", nonce).Str("source_tx", req.SourceTxHash).Logger()

	rec, err := d.store.Get(ctx, nonce)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		var created bool
		rec, created, err = d.store.CreatePending(ctx, recordFromRequest(req))
		if err != nil {
			return types.ReleaseRecord{}, err
		}
		if !created {
			logger.Info().Str("status", string(rec.Status)).Msg("nonce taken by another relay")
			metrics.RecordNonceReplay()
			return rec, replayError(rec)
		}
		metrics.RecordRelease(string(types.StatusPending))
		d.notify(rec)
		logger.Info().Str("amount", rec.Amount).Str("recipient", rec.Recipient).Msg("new bridge request, release pending")
	case err != nil:
		return types.ReleaseRecord{}, err
	case rec.Status == types.StatusPending && d.stale(rec):
		logger.Warn().Int("attempts", rec.AttemptCount).Msg("resuming abandoned pending release")
	default:
		logger.Info().Str("status", string(rec.Status)).Msg("nonce already handled, skipping")
		metrics.RecordNonceReplay()
		return rec, replayError(rec)
	}

	return d.release(ctx, rec, logger)
}

func replayError(rec types.ReleaseRecord) error {
	return fmt.Errorf("%w: nonce %s is %s", types.ErrNonceReplay, rec.Nonce, rec.Status)
}

// Confirm records the outcome of a dispatched release deploy
func (d *Dispatcher) Confirm(ctx context.Context, nonce string, ok bool, reason string) (types.ReleaseRecord, error) {
	unlock := d.locks.Lock(nonce)
	defer unlock()

	rec, err := d.store.Get(ctx, nonce)
	if err != nil {
		return types.ReleaseRecord{}, err
	}
	if rec.Status == types.StatusConfirmed && ok {
		return rec, nil
	}
	if rec.Status != types.StatusDispatched {
		return rec, fmt.Errorf("%w: nonce %s is %s", ledger.ErrInvalidTransition, nonce, rec.Status)
	}

	rec.Status = types.StatusConfirmed
	if !ok {
		rec.Status = types.StatusFailed
		rec.Reason = reason
	}
	if err := d.save(ctx, &rec, types.StatusDispatched); err != nil {
		return rec, err
	}

	logger := d.logger.With().Str("nonce", nonce).Str("deploy", rec.DestinationTxID).Logger()
	if ok {
		logger.Info().Msg("release confirmed")
	} else {
		logger.Error().Str("reason", reason).Msg("release deploy failed on chain, manual intervention required")
	}
	return rec, nil
}

// Retry re-runs a failed release. The bridge contract rejects a nonce it
// has already released, so a retry cannot pay out twice.
func (d *Dispatcher) Retry(ctx context.Context, nonce string) (types.ReleaseRecord, error) {
	unlock := d.locks.Lock(nonce)
	defer unlock()

	rec, err := d.store.Get(ctx, nonce)
	if err != nil {
		return types.ReleaseRecord{}, err
	}
	if rec.Status != types.StatusFailed {
		return rec, fmt.Errorf("%w: nonce %s is %s, only failed releases are retried", ledger.ErrInvalidTransition, nonce, rec.Status)
	}

	rec.Status = types.StatusPending
	rec.Reason = ""
	rec.AttemptCount = 0
	rec.DestinationTxID = ""
	if err := d.save(ctx, &rec, types.StatusFailed); err != nil {
		return rec, err
	}

	logger := d.logger.With().Str("nonce", nonce).Logger()
	logger.Info().Msg("operator retry of failed release")
	return d.release(ctx, rec, logger)
}

// ResumePending re-runs pending releases abandoned by a crashed relay and
// returns how many were resumed
func (d *Dispatcher) ResumePending(ctx context.Context) (int, error) {
	pending, err := d.store.ListByStatus(ctx, types.StatusPending)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, candidate := range pending {
		if ctx.Err() != nil {
			return resumed, ctx.Err()
		}
		if !d.stale(candidate) {
			continue
		}
		ok, err := d.resume(ctx, candidate.Nonce)
		if err != nil {
			return resumed, err
		}
		if ok {
			resumed++
		}
	}
	return resumed, nil
}

func (d *Dispatcher) resume(ctx context.Context, nonce string) (bool, error) {
	unlock := d.locks.Lock(nonce)
	defer unlock()

	rec, err := d.store.Get(ctx, nonce)
	if err != nil {
		return false, err
	}
	// handled while waiting for the lock
	if rec.Status != types.StatusPending || !d.stale(rec) {
		return false, nil
	}
	logger := d.logger.With().Str("nonce", nonce).Logger()
	logger.Warn().Int("attempts", rec.AttemptCount).Msg("resuming abandoned pending release")
	_, err = d.release(ctx, rec, logger)
	return err == nil, err
}

func (d *Dispatcher) stale(rec types.ReleaseRecord) bool {
	return d.now().Sub(time.Unix(rec.TsUpdated, 0)) >= d.cfg.StaleAfter
}

// release runs the receive_from_bridge plan for a pending record. Must be
// called with the nonce lock held.
func (d *Dispatcher) release(ctx context.Context, rec types.ReleaseRecord, logger zerolog.Logger) (types.ReleaseRecord, error) {
	token, err := d.tokens.Resolve(rec.SourceTokenRef, rec.SourceChainID)
	if err != nil {
		return d.fail(ctx, rec, err, logger)
	}
	rec.TokenRef = token.TokenRef

	req, err := rec.Request()
	if err != nil {
		return d.fail(ctx, rec, err, logger)
	}
	plan, err := pipeline.ReleasePlan(d.cfg.Bridge, req, token, d.cfg.ShouldSwap, d.cfg.Payment)
	if err != nil {
		return d.fail(ctx, rec, err, logger)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.RetryBackoff
	bo.MaxInterval = d.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	// one timestamp for all attempts, a resubmission is then the same deploy
	executor := d.executor.At(d.now())
	for {
		rec.AttemptCount++
		if err := d.save(ctx, &rec, types.StatusPending); err != nil {
			return rec, err
		}

		state := executor.Run(ctx, plan, d.signer)
		if state.Status == pipeline.StatusComplete {
			rec.Status = types.StatusDispatched
			rec.DestinationTxID = state.LastTxID
			rec.Reason = ""
			if err := d.save(ctx, &rec, types.StatusPending); err != nil {
				logger.Error().Err(err).Str("deploy", state.LastTxID).Msg("release submitted but not recorded, manual intervention required")
				return rec, err
			}
			logger.Info().Str("deploy", rec.DestinationTxID).Int("attempts", rec.AttemptCount).Msg("release dispatched")
			return rec, nil
		}

		err := state.LastError
		if ctx.Err() != nil {
			logger.Warn().Err(err).Msg("release interrupted, left pending")
			return rec, ctx.Err()
		}
		if !errors.Is(err, types.ErrNetwork) || rec.AttemptCount >= d.cfg.MaxAttempts {
			return d.fail(ctx, rec, err, logger)
		}

		wait := bo.NextBackOff()
		logger.Warn().Err(err).Int("attempt", rec.AttemptCount).Dur("backoff", wait).Msg("release submission failed, retrying")
		select {
		case <-ctx.Done():
			// stays pending, resumed once stale
			return rec, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (d *Dispatcher) fail(ctx context.Context, rec types.ReleaseRecord, cause error, logger zerolog.Logger) (types.ReleaseRecord, error) {
	rec.Status = types.StatusFailed
	rec.Reason = cause.Error()
	if err := d.save(ctx, &rec, types.StatusPending); err != nil {
		return rec, err
	}
	logger.Error().Err(cause).Int("attempts", rec.AttemptCount).Msg("release failed, manual intervention required")
	return rec, nil
}

// save persists rec if its stored status is still prev
func (d *Dispatcher) save(ctx context.Context, rec *types.ReleaseRecord, prev types.ReleaseStatus) error {
	rec.TsUpdated = d.now().Unix()
	if err := d.store.Update(ctx, *rec, prev); err != nil {
		return err
	}
	if rec.Status != prev {
		metrics.RecordRelease(string(rec.Status))
		d.notify(*rec)
	}
	return nil
}

func (d *Dispatcher) notify(rec types.ReleaseRecord) {
	if d.notifier != nil {
		d.notifier.enqueue(rec)
	}
}
