package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"anchorebridge/CasperRPC"
	"anchorebridge/ledger"
	"anchorebridge/pipeline"
	"anchorebridge/types"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Confirmer follows dispatched releases until their deploy executed, and
// sweeps pending releases left behind by a crashed relay
type Confirmer struct {
	store      ledger.Store
	source     pipeline.StatusSource
	dispatcher *Dispatcher
	interval   time.Duration
	// a deploy not executed this long after dispatch has outlived its TTL
	expireAfter time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

func NewConfirmer(store ledger.Store, source pipeline.StatusSource, dispatcher *Dispatcher, interval, expireAfter time.Duration) *Confirmer {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if expireAfter <= 0 {
		expireAfter = time.Hour
	}
	return &Confirmer{
		store:       store,
		source:      source,
		dispatcher:  dispatcher,
		interval:    interval,
		expireAfter: expireAfter,
		logger:      log.With().Str("component", "confirmer").Logger(),
		now:         time.Now,
	}
}

func (c *Confirmer) Run(ctx context.Context) {
	c.logger.Info().Dur("interval", c.interval).Msg("confirmer started")
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		if err := c.Tick(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error().Err(err).Msg("confirmation pass failed")
		}
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("confirmer stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one pass over dispatched and abandoned pending releases
func (c *Confirmer) Tick(ctx context.Context) error {
	dispatched, err := c.store.ListByStatus(ctx, types.StatusDispatched)
	if err != nil {
		return err
	}
	for _, rec := range dispatched {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.check(ctx, rec)
	}

	resumed, err := c.dispatcher.ResumePending(ctx)
	if resumed > 0 {
		c.logger.Info().Int("count", resumed).Msg("resumed abandoned releases")
	}
	return err
}

func (c *Confirmer) check(ctx context.Context, rec types.ReleaseRecord) {
	logger := c.logger.With().Str("nonce", rec.Nonce).Str("deploy", rec.DestinationTxID).Logger()

	st, err := c.source.GetDeploy(ctx, rec.DestinationTxID)
	if err != nil {
		logger.Warn().Err(err).Msg("cannot get deploy status")
		return
	}

	switch st.State {
	case CasperRPC.ExecutionSuccess:
		_, err = c.dispatcher.Confirm(ctx, rec.Nonce, true, "")
	case CasperRPC.ExecutionFailure:
		_, err = c.dispatcher.Confirm(ctx, rec.Nonce, false, fmt.Sprintf("deploy %s failed: %s", rec.DestinationTxID, st.ErrorMessage))
	default:
		if c.now().Sub(time.Unix(rec.TsUpdated, 0)) < c.expireAfter {
			return
		}
		_, err = c.dispatcher.Confirm(ctx, rec.Nonce, false, fmt.Sprintf("deploy %s not executed within %s", rec.DestinationTxID, c.expireAfter))
	}
	if errors.Is(err, ledger.ErrInvalidTransition) {
		logger.Debug().Err(err).Msg("release moved on concurrently")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("cannot record deploy outcome")
	}
}
