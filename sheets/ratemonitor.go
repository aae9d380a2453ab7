package sheets

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sescanella/spoolflow/config"
	"github.com/sescanella/spoolflow/redisclient"
)

// RateMonitor tracks write volume against the store's target and
// quota RPM and flags bursts. Unlike a rate limiter it never rejects
// a request — the tabular store has no admission control of its own,
// so this only classifies load for observability (spec §5: "observes
// but does not throttle").
type RateMonitor struct {
	logger zerolog.Logger
	redis  *redisclient.Client

	targetRPM   int
	quotaRPM    int
	burstWindow time.Duration
	burstThresh int

	mu      sync.Mutex
	window  []time.Time // trailing 60s of write timestamps
	burstTS []time.Time // trailing burstWindow of write timestamps
}

// NewRateMonitor creates a monitor from config. redis may be nil, in
// which case counts are tracked in-process only (single-instance
// deployments).
func NewRateMonitor(cfg *config.Config, logger zerolog.Logger, redis *redisclient.Client) *RateMonitor {
	return &RateMonitor{
		logger:      logger.With().Str("component", "rate_monitor").Logger(),
		redis:       redis,
		targetRPM:   cfg.RateMonitorTargetRPM,
		quotaRPM:    cfg.RateMonitorQuotaRPM,
		burstWindow: cfg.RateMonitorBurstWindow,
		burstThresh: cfg.RateMonitorBurstThresh,
	}
}

// Stats is a snapshot of write volume classification.
type Stats struct {
	LastMinute int
	LastBurst  int
	OverTarget bool
	OverQuota  bool
	BurstAlert bool
}

// RecordWrite registers one write against the monitor and returns the
// current classification. It never blocks or rejects the caller.
func (m *RateMonitor) RecordWrite(ctx context.Context) Stats {
	now := time.Now()

	m.mu.Lock()
	m.window = appendTrim(m.window, now, time.Minute)
	m.burstTS = appendTrim(m.burstTS, now, m.burstWindow)
	lastMinute := len(m.window)
	lastBurst := len(m.burstTS)
	m.mu.Unlock()

	if m.redis != nil {
		if n, err := m.redis.IncrWindow(ctx, "spoolflow:writes:60s", time.Minute); err == nil {
			lastMinute = int(n)
		}
	}

	stats := Stats{
		LastMinute: lastMinute,
		LastBurst:  lastBurst,
		OverTarget: lastMinute > m.targetRPM,
		OverQuota:  lastMinute > m.quotaRPM,
		BurstAlert: lastBurst > m.burstThresh,
	}

	if stats.BurstAlert {
		m.logger.Warn().
			Int("writes_in_window", lastBurst).
			Dur("window", m.burstWindow).
			Msg("write burst detected")
	}
	return stats
}

func appendTrim(ts []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	ts = append(ts, now)
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}
