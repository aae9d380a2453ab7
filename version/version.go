// Package version implements the Version/Conflict Service (C3):
// optimistic compare-and-swap on a per-row UUID version token, with
// bounded retry and jittered backoff.
package version

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sescanella/spoolflow/errs"
)

const maxAttempts = 3

// backoff returns the delay before retry attempt n (1-indexed),
// following the pinned formula 100ms*2^(n-1) + uniform(0,50ms). This
// exact schedule is a spec invariant, not a tuning knob, so it is
// hand-rolled rather than pulled from a general-purpose backoff
// library.
func backoff(n int) time.Duration {
	base := 100 * time.Millisecond * time.Duration(1<<uint(n-1))
	jitter := time.Duration(rand.Int63n(int64(50 * time.Millisecond)))
	return base + jitter
}

// Write is the caller's attempt to persist an update for a row at
// expectedVersion. It must return the row's actual current version as
// observed during the attempt (so the service can tell a genuine
// mismatch from an unrelated failure) and the fresh version written
// on success.
type Write func(ctx context.Context, expectedVersion string) (actualVersion string, newVersion string, err error)

// Recompute rebuilds the caller's write intent from a fresh read,
// used to retry after a conflict without replaying stale data.
type Recompute func(ctx context.Context) error

// Service runs the compare-and-swap retry loop described in §4.3.
type Service struct {
	logger zerolog.Logger
}

// New creates a Version/Conflict Service.
func New(logger zerolog.Logger) *Service {
	return &Service{logger: logger.With().Str("component", "version_service").Logger()}
}

// NewVersion returns a fresh version token for a row about to be
// written.
func NewVersion() string { return uuid.New().String() }

// CompareAndSwap attempts write against expectedVersion, making up to
// three attempts in total with jittered backoff between them while the
// row's actual version no longer matches — recompute is invoked between
// attempts to rebuild the write from the caller's higher-level intent
// against a fresh read, and the next attempt expects the actual version
// the failed one observed. Returns VersionConflict if all attempts are
// exhausted.
func (s *Service) CompareAndSwap(ctx context.Context, expectedVersion string, write Write, recompute Recompute) (newVersion string, err error) {
	expected := expectedVersion

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		actual, fresh, werr := write(ctx, expected)
		if werr == nil {
			return fresh, nil
		}

		if !isConflict(werr) {
			return "", werr
		}

		s.logger.Warn().
			Int("attempt", attempt).
			Str("expected_version", expected).
			Str("actual_version", actual).
			Msg("version conflict, retrying")

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff(attempt)):
		}

		if recompute != nil {
			if rerr := recompute(ctx); rerr != nil {
				return "", rerr
			}
		}
		expected = actual
	}

	return "", errs.New(errs.VersionConflict, "row version conflict exhausted retry budget")
}

func isConflict(err error) bool {
	e, ok := errs.As(err)
	return ok && e.Kind == errs.VersionConflict
}
