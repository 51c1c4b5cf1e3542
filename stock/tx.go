package stock

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// TRANSACTION RUNNER
// =============================================================================

// Observer receives workflow outcomes. observability.Metrics implements it.
type Observer interface {
	ObserveOperation(operation, outcome string, took time.Duration)
	ObserveRetry(operation string)
}

// Runner executes one logical operation as a retried transaction and
// flushes the notifications of the attempt that committed.
type Runner struct {
	Store    TxStore
	Retry    RetryPolicy
	Notifier Notifier
	Logger   *zap.Logger
	Observer Observer
}

// Run calls fn inside store.WithTx. A fresh Outbox is handed to every
// attempt so that events of rolled-back attempts are never delivered.
func (r *Runner) Run(ctx context.Context, operation string, fn func(tx Store, out *Outbox) error) error {
	start := time.Now()
	policy := r.Retry
	if r.Observer != nil {
		prev := policy.OnRetry
		policy.OnRetry = func(op string, attempt int, err error) {
			r.Observer.ObserveRetry(op)
			if prev != nil {
				prev(op, attempt, err)
			}
		}
	}
	log := r.logger()

	var committed *Outbox
	err := policy.Do(ctx, operation, func() error {
		out := &Outbox{}
		if err := r.Store.WithTx(ctx, func(tx Store) error {
			return fn(tx, out)
		}); err != nil {
			return err
		}
		committed = out
		return nil
	})

	if r.Observer != nil {
		r.Observer.ObserveOperation(operation, outcomeOf(err), time.Since(start))
	}
	if err != nil {
		log.Debug("operation failed", zap.String("operation", operation), zap.Error(err))
		return err
	}
	committed.Flush(ctx, r.Notifier, log)
	return nil
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsRetryable(err):
		return "conflict"
	case IsClientError(err), IsConflict(err), IsNotFound(err):
		return "rejected"
	default:
		return "error"
	}
}
