package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryPolicy bounds how long an append keeps competing for the tail.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns 5 attempts with exponential backoff from 5ms,
// capped at 200ms between attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
}

// Sequencer hands out gapless sequence numbers by compare-and-swap on the
// store's tail. It holds no lock of its own; contention is resolved entirely
// by Store.Commit.
type Sequencer struct {
	store  Store
	policy RetryPolicy
	logger *zap.Logger
}

// NewSequencer creates a Sequencer. Zero fields in policy take their
// DefaultRetryPolicy values.
func NewSequencer(store Store, policy RetryPolicy, logger *zap.Logger) *Sequencer {
	return &Sequencer{store: store, policy: policy.withDefaults(), logger: logger}
}

// Next reads the tail. The next entry's sequence number is t.Next() and its
// previous hash is t.Hash. The reservation only holds if the subsequent
// Commit against t succeeds.
func (s *Sequencer) Next(ctx context.Context) (Tail, error) {
	t, err := s.store.Tail(ctx)
	if err != nil {
		return Tail{}, &StorageError{Op: "read tail", Err: err}
	}
	return t, nil
}

// Run reads the tail, asks build for the candidate entry chained to it and
// commits it. When another writer wins the race the candidate is discarded
// and Run starts over from a fresh tail, up to policy.MaxAttempts times.
func (s *Sequencer) Run(ctx context.Context, build func(Tail) (*Entry, error)) (*Entry, error) {
	var (
		attempts  int
		committed *Entry
	)

	op := func() error {
		attempts++
		tail, err := s.Next(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}
		entry, err := build(tail)
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := s.store.Commit(ctx, tail, entry); err != nil {
			if errors.Is(err, ErrTailMoved) {
				return err
			}
			return backoff.Permanent(&StorageError{Op: "commit entry", Err: err})
		}
		committed = entry
		return nil
	}

	notify := func(err error, wait time.Duration) {
		tailConflictsTotal.Inc()
		s.logger.Debug("ledger tail moved, retrying append",
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
		)
	}

	if err := backoff.RetryNotify(op, s.policy.backOff(ctx), notify); err != nil {
		if errors.Is(err, ErrTailMoved) {
			return nil, &ConcurrencyError{Attempts: attempts, Err: err}
		}
		return nil, err
	}
	return committed, nil
}
