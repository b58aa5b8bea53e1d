package allocation

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"hostel-allocation-backend/internal/store"
)

// RetryPolicy bounds how often a transaction is re-run after losing a race
// inside the database.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy is three attempts starting at 20ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

// postgres SQLSTATEs that abort a transaction which would succeed if re-run.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// IsRetryable reports whether err is a transient concurrency failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// backoff returns the wait before the given retry (1-based) with up to 50%
// jitter, capped at MaxBackoff.
func (p RetryPolicy) backoff(retry int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= p.MaxBackoff {
			d = p.MaxBackoff
			break
		}
	}
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int63n(int64(d/2+1)))
}

// transact runs fn in a transaction, re-running it while the failure is
// retryable. A conflict that outlives every attempt is reported as exhausted.
func (e *Engine) transact(ctx context.Context, op string, exhausted error, fn func(tx store.Store) error) error {
	attempts := e.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = e.store.Transaction(ctx, fn)
		if !IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		wait := e.retry.backoff(attempt)
		e.recorder.ObserveRetry(op)
		e.log.Debug("retrying transaction",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	e.log.Warn("transaction retries exhausted", zap.String("operation", op), zap.Error(err))
	return errors.Join(exhausted, err)
}
