package sheets

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sescanella/spoolflow/observability"
)

// HealthPoller periodically pings the backing store in the background
// and caches the last result so request handlers never block on a
// live check.
type HealthPoller struct {
	gw       *Gateway
	logger   zerolog.Logger
	interval time.Duration

	mu        sync.RWMutex
	healthy   bool
	lastErr   error
	lastCheck time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthPoller creates a poller for gw at the given interval
// (minimum 5s).
func NewHealthPoller(gw *Gateway, logger zerolog.Logger, interval time.Duration) *HealthPoller {
	if interval < 5*time.Second {
		interval = 5 * time.Second
	}
	return &HealthPoller{
		gw:       gw,
		logger:   logger.With().Str("component", "sheets_health_poller").Logger(),
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins background polling. Call Stop to shut it down.
func (p *HealthPoller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.loop(ctx)
}

// Stop cancels the polling loop and waits for it to exit.
func (p *HealthPoller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *HealthPoller) loop(ctx context.Context) {
	defer close(p.done)
	p.check(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.check(ctx)
		}
	}
}

func (p *HealthPoller) check(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, p.interval/2)
	defer cancel()

	err := p.gw.Ping(checkCtx)

	p.mu.Lock()
	wasHealthy := p.healthy
	p.healthy = err == nil
	p.lastErr = err
	p.lastCheck = time.Now()
	p.mu.Unlock()

	if wasHealthy && err != nil {
		p.logger.Warn().Err(err).Msg("tabular store degraded")
	} else if !wasHealthy && err == nil {
		p.logger.Info().Msg("tabular store recovered")
	}
}

// Status returns the last known health state.
func (p *HealthPoller) Status() (healthy bool, lastCheck time.Time, err error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.healthy, p.lastCheck, p.lastErr
}
