// Package lockservice implements the Lock Service (C2): process-wide
// keyed occupation locks with an owner token, used to serialize
// writes to a single spool across concurrent request handlers.
package lockservice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sescanella/spoolflow/errs"
	"github.com/sescanella/spoolflow/observability"
	"github.com/sescanella/spoolflow/redisclient"
)

// entry is the in-process record for one held lock.
type entry struct {
	workerID   string
	token      string
	acquiredAt time.Time
}

// tagLock is one tag's slot in the registry: its own mutex, so a slow
// Redis round-trip or a long hold on one spool's lock never blocks
// acquisition, release, or reconciliation for any other spool.
type tagLock struct {
	mu    sync.Mutex
	entry *entry
}

// reconcileGrace is the window after which an abandoned lock (spool
// row shows no occupant, but a lock entry is still held) is force
// released on the next reconciliation pass.
const reconcileGrace = 24 * time.Hour

// Service is the keyed lock registry. A nil redis client degrades to
// in-process-only locking (single-instance deployments); a non-nil
// client mirrors acquire/release so locks survive this process
// restarting, matching the teacher's optional-Redis-backing pattern.
type Service struct {
	tags    sync.Map // tag string -> *tagLock
	redis   *redisclient.Client
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// New creates a lock service. redis may be nil.
func New(logger zerolog.Logger, redis *redisclient.Client) *Service {
	return &Service{
		redis:  redis,
		logger: logger.With().Str("component", "lock_service").Logger(),
	}
}

// SetMetrics attaches the metrics registry so forced reconciliation
// releases are counted under spoolflow_lock_reconciliations_total.
// Optional.
func (s *Service) SetMetrics(m *observability.Metrics) { s.metrics = m }

func lockKey(tag string) string { return "spoolflow:lock:" + tag }

// lockFor returns tag's slot in the registry, creating it on first
// use. The sync.Map handles concurrent first-touch for distinct tags
// without any shared lock; the per-tag mutex inside the returned slot
// is what callers actually contend on.
func (s *Service) lockFor(tag string) *tagLock {
	v, _ := s.tags.LoadOrStore(tag, &tagLock{})
	return v.(*tagLock)
}

// TryAcquire atomically acquires the lock for tag on behalf of
// workerID. Returns a fresh lock token on success, or a SpoolOccupied
// error naming the current owner.
func (s *Service) TryAcquire(ctx context.Context, tag, workerID string) (string, error) {
	tl := s.lockFor(tag)
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if tl.entry != nil {
		return "", errs.WithDetails(errs.SpoolOccupied, fmt.Sprintf("spool %s already occupied", tag),
			map[string]interface{}{"owner": tl.entry.workerID})
	}

	token := uuid.New().String()

	if s.redis != nil {
		ok, err := s.redis.SetNX(ctx, lockKey(tag), workerID+":"+token, 0)
		if err != nil {
			return "", errs.New(errs.StoreUnavailable, "lock backend unavailable: "+err.Error())
		}
		if !ok {
			return "", errs.WithDetails(errs.SpoolOccupied, fmt.Sprintf("spool %s already occupied", tag), nil)
		}
	}

	tl.entry = &entry{workerID: workerID, token: token, acquiredAt: time.Now()}
	return token, nil
}

// Release releases tag's lock iff workerID/token match the current
// holder. Returns NotAuthorized if a mismatched worker or stale token
// attempts release, and InvalidState if the lock is not held.
func (s *Service) Release(ctx context.Context, tag, workerID, token string) error {
	tl := s.lockFor(tag)
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if tl.entry == nil {
		return errs.New(errs.InvalidState, fmt.Sprintf("spool %s has no active lock", tag))
	}
	if tl.entry.workerID != workerID || tl.entry.token != token {
		return errs.New(errs.NotAuthorized, fmt.Sprintf("worker %s does not hold the lock on %s", workerID, tag))
	}

	if s.redis != nil {
		if _, err := s.redis.ReleaseIfMatch(ctx, lockKey(tag), workerID+":"+token); err != nil {
			s.logger.Warn().Err(err).Str("tag", tag).Msg("redis lock release failed, releasing in-process only")
		}
	}

	tl.entry = nil
	return nil
}

// ReleaseByWorker releases tag's lock iff workerID matches the current
// holder, without requiring the acquire-time token. The workflow layer
// never retains tokens past the request that minted them (INICIAR and
// the release happen in different handler calls), so this is the path
// every caller outside the lock service itself uses.
func (s *Service) ReleaseByWorker(ctx context.Context, tag, workerID string) error {
	tl := s.lockFor(tag)
	tl.mu.Lock()
	if tl.entry == nil {
		tl.mu.Unlock()
		return errs.New(errs.InvalidState, fmt.Sprintf("spool %s has no active lock", tag))
	}
	if tl.entry.workerID != workerID {
		tl.mu.Unlock()
		return errs.New(errs.NotAuthorized, fmt.Sprintf("worker %s does not hold the lock on %s", workerID, tag))
	}
	token := tl.entry.token
	tl.mu.Unlock()
	return s.Release(ctx, tag, workerID, token)
}

// Owner returns the worker ID currently holding tag's lock, or "" if
// unheld.
func (s *Service) Owner(tag string) string {
	tl := s.lockFor(tag)
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.entry != nil {
		return tl.entry.workerID
	}
	return ""
}

// Reconcile applies the 24-hour abandonment rule: if tag has a lock
// entry but the store reports no occupant on the spool row
// (rowOccupied=false) and the lock has been held longer than the
// grace period, it is force-released. Returns true if a release
// happened. Called opportunistically on INICIAR and eagerly at
// startup.
func (s *Service) Reconcile(tag string, rowOccupied bool) bool {
	tl := s.lockFor(tag)
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if tl.entry == nil || rowOccupied {
		return false
	}
	if time.Since(tl.entry.acquiredAt) <= reconcileGrace {
		return false
	}

	s.logger.Warn().
		Str("tag", tag).
		Str("worker", tl.entry.workerID).
		Time("acquired_at", tl.entry.acquiredAt).
		Msg("force-releasing abandoned lock past grace period")
	tl.entry = nil
	if s.metrics != nil {
		s.metrics.TrackLockReconciliation(tag)
	}
	return true
}
