package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sescanella/spoolflow/observability"
)

// Sink is the destination for audit events — the Metadata worksheet
// of the tabular store (C1). A real sink's AppendEvents call is the
// single batched `append_rows` call the spec requires per chunk.
type Sink interface {
	AppendEvents(ctx context.Context, events []Event) error
}

// Config controls chunking for the audit log.
type Config struct {
	// MaxRowsPerChunk caps rows per append_rows call (spec: ≤900).
	MaxRowsPerChunk int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{MaxRowsPerChunk: 900}
}

// Log is the append-only audit log (C4). BatchLog is synchronous: the
// Occupation Workflow calls it inline as step 7 of FINALIZAR and must
// observe whether the write succeeded to decide between a clean 200
// and an `audit_degraded: true` response — see spec §4.4/§4.7.
type Log struct {
	logger zerolog.Logger
	sink   Sink
	cfg    Config

	mu       sync.Mutex
	degraded bool
	lastErr  error

	eventsWritten int64
	eventsFailed  int64

	metrics *observability.Metrics
}

// SetMetrics attaches the metrics registry so the degraded gauge
// tracks every markDegraded/clearDegraded transition. Optional.
func (l *Log) SetMetrics(m *observability.Metrics) { l.metrics = m }

// New creates an audit log writing through sink.
func New(logger zerolog.Logger, sink Sink, cfg ...Config) *Log {
	c := DefaultConfig()
	if len(cfg) > 0 {
		c = cfg[0]
	}
	if c.MaxRowsPerChunk <= 0 {
		c.MaxRowsPerChunk = 900
	}
	return &Log{
		logger: logger.With().Str("component", "audit_log").Logger(),
		sink:   sink,
		cfg:    c,
	}
}

// LogEvent appends a single event. Convenience wrapper over BatchLog.
func (l *Log) LogEvent(ctx context.Context, evt Event) error {
	return l.BatchLog(ctx, []Event{evt})
}

// BatchLog appends events in submission order. Events are chunked at
// MaxRowsPerChunk rows per append_rows call; a chunk boundary never
// reorders events within it — the full slice is split into
// contiguous, order-preserving runs, each written with a single
// gateway call. If any chunk fails, the log is marked degraded and
// the error is returned; the caller must NOT roll back prior row
// writes (spec §4.4: availability of the user-visible operation over
// strict audit atomicity).
func (l *Log) BatchLog(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		if events[i].EventID == "" {
			events[i].EventID = uuid.New().String()
		}
		if events[i].Timestamp.IsZero() {
			events[i].Timestamp = time.Now().UTC()
		}
	}

	for start := 0; start < len(events); start += l.cfg.MaxRowsPerChunk {
		end := start + l.cfg.MaxRowsPerChunk
		if end > len(events) {
			end = len(events)
		}
		chunk := events[start:end]
		if err := l.sink.AppendEvents(ctx, chunk); err != nil {
			l.markDegraded(err)
			atomic.AddInt64(&l.eventsFailed, int64(len(chunk)))
			return fmt.Errorf("audit: append chunk [%d:%d) of %d: %w", start, end, len(events), err)
		}
		atomic.AddInt64(&l.eventsWritten, int64(len(chunk)))
	}
	l.clearDegraded()
	return nil
}

func (l *Log) markDegraded(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.degraded = true
	l.lastErr = err
	l.logger.Error().Err(err).Msg("audit write failed — marking audit_degraded")
	if l.metrics != nil {
		l.metrics.TrackAuditDegraded(true)
	}
}

func (l *Log) clearDegraded() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.degraded = false
	l.lastErr = nil
	if l.metrics != nil {
		l.metrics.TrackAuditDegraded(false)
	}
}

// Degraded reports whether the most recent write failed. Consumed by
// the /healthz handler and surfaced to clients as audit_degraded.
func (l *Log) Degraded() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded, l.lastErr
}

// Stats returns running counters for observability.
func (l *Log) Stats() (written, failed int64) {
	return atomic.LoadInt64(&l.eventsWritten), atomic.LoadInt64(&l.eventsFailed)
}
