package workers

import (
	"context"
	"sync"
	"time"

	"anchorebridge/types"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultNotifyTimeout = 5 * time.Second
	notifyQueueSize      = 1024
)

// publisher hands status changes to the notifier on its own goroutine, in
// the order they happened. A slow or unreachable notifier drops messages
// instead of holding up releases.
type publisher struct {
	notifier Notifier
	timeout  time.Duration
	queue    chan types.ReleaseRecord
	done     chan struct{}
	logger   zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

func newPublisher(n Notifier, timeout time.Duration) *publisher {
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	p := &publisher{
		notifier: n,
		timeout:  timeout,
		queue:    make(chan types.ReleaseRecord, notifyQueueSize),
		done:     make(chan struct{}),
		logger:   log.With().Str("component", "publisher").Logger(),
	}
	go p.run()
	return p
}

func (p *publisher) run() {
	defer close(p.done)
	for rec := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err := p.notifier.Notify(ctx, rec)
		cancel()
		if err != nil {
			p.logger.Warn().Err(err).Str("nonce", rec.Nonce).Str("status", string(rec.Status)).Msg("cannot publish release notification")
		}
	}
}

// enqueue never blocks
func (p *publisher) enqueue(rec types.ReleaseRecord) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- rec:
	default:
		p.logger.Warn().Str("nonce", rec.Nonce).Str("status", string(rec.Status)).Msg("notification queue full, dropping")
	}
}

// close publishes what is queued and stops
func (p *publisher) close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	<-p.done
}
