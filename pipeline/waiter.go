package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"anchorebridge/CasperRPC"
	"anchorebridge/types"

	"github.com/rs/zerolog/log"
)

var (
	ErrExecutionFailed = errors.New("deploy execution failed")
	ErrWaitTimeout     = errors.New("timed out waiting for deploy execution")
)

type StatusSource interface {
	GetDeploy(ctx context.Context, deployHash string) (CasperRPC.ExecutionStatus, error)
}

// PollWaiter polls info_get_deploy until the deploy executed or Timeout passed.
// Network errors while polling are tolerated until then.
type PollWaiter struct {
	Source   StatusSource
	Interval time.Duration
	Timeout  time.Duration
}

func (w PollWaiter) Wait(ctx context.Context, deployHash string) error {
	interval := w.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := w.Source.GetDeploy(ctx, deployHash)
		switch {
		case err != nil && !errors.Is(err, types.ErrNetwork):
			return err
		case err != nil:
			log.Debug().Err(err).Str("deploy", deployHash).Msg("status poll failed")
		case st.State == CasperRPC.ExecutionSuccess:
			return nil
		case st.State == CasperRPC.ExecutionFailure:
			return fmt.Errorf("%w: %s: %s", ErrExecutionFailed, deployHash, st.ErrorMessage)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s after %s", ErrWaitTimeout, deployHash, timeout)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
