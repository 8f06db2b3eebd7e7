package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/carstyle/backend/internal/db"
	"github.com/carstyle/backend/internal/metrics"
)

const (
	defaultMaxAttempts = 3
	defaultBaseBackoff = 100 * time.Millisecond
	defaultMaxBackoff  = 1 * time.Second
)

type txOptions struct {
	operation   string
	maxAttempts int
	lockTimeout time.Duration
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// runInTx executes fn inside a single transaction with a session-level
// lock-wait bound, so contention fails fast instead of pinning a pooled
// connection. Rollback after commit is a no-op.
func runInTx(ctx context.Context, database db.DB, lockTimeout time.Duration, fn func(ctx context.Context, tx db.Tx) error) error {
	tx, err := database.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	if lockTimeout > 0 {
		// SET LOCAL scopes the timeout to this transaction only.
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// withRetry reruns fn in a fresh transaction while it fails on lock
// contention. Lock-wait timeouts and skipped-locked rows are the only
// retried error class; everything else is surfaced on the first attempt.
// Exhausted retries are reported with the attempt count attached.
func withRetry(ctx context.Context, database db.DB, opts txOptions, fn func(ctx context.Context, tx db.Tx) error) error {
	if opts.maxAttempts <= 0 {
		opts.maxAttempts = defaultMaxAttempts
	}
	if opts.baseBackoff <= 0 {
		opts.baseBackoff = defaultBaseBackoff
	}
	if opts.maxBackoff <= 0 {
		opts.maxBackoff = defaultMaxBackoff
	}

	backoff := opts.baseBackoff
	for attempt := 1; ; attempt++ {
		err := runInTx(ctx, database, opts.lockTimeout, fn)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		if attempt >= opts.maxAttempts {
			return &RetryExhaustedError{Attempts: attempt, Last: err}
		}

		metrics.TxRetriesTotal.WithLabelValues(opts.operation).Inc()
		zap.L().Warn("Retrying transaction after lock contention",
			zap.String("operation", opts.operation),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
		if backoff > opts.maxBackoff {
			backoff = opts.maxBackoff
		}
	}
}
