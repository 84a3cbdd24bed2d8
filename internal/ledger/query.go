package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 1000
)

// Filter narrows ByActor and ByTarget lookups. Zero values mean "no filter".
type Filter struct {
	Limit    int
	Skip     int
	Action   Action
	Severity Severity
	From     time.Time // inclusive
	To       time.Time // inclusive
}

func (f Filter) normalize() (Filter, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	if f.Skip < 0 {
		return f, &ValidationError{Field: "skip", Reason: "must not be negative"}
	}
	if f.Action != "" && !f.Action.Valid() {
		return f, &ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", f.Action)}
	}
	if f.Severity != "" && !f.Severity.Valid() {
		return f, &ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", f.Severity)}
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return f, &ValidationError{Field: "from", Reason: "must not be after to"}
	}
	return f, nil
}

func (f Filter) matches(e *Entry) bool {
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	return true
}

// Query serves read-only lookups. It plays no part in integrity checking;
// use Verifier for that.
type Query struct {
	store  Store
	cache  *lru.Cache[int64, *Entry] // nil = no caching
	logger *zap.Logger
}

// NewQuery creates a Query. cacheSize bounds the number of entries kept by
// Get; zero or negative disables the cache. Entries never change once
// written, so cached copies never go stale.
func NewQuery(store Store, cacheSize int, logger *zap.Logger) (*Query, error) {
	q := &Query{store: store, logger: logger}
	if cacheSize > 0 {
		c, err := lru.New[int64, *Entry](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create entry cache: %w", err)
		}
		q.cache = c
	}
	return q, nil
}

// ByActor returns entries recorded for actorID, newest first.
func (q *Query) ByActor(ctx context.Context, actorID string, f Filter) ([]*Entry, error) {
	return q.find(ctx, "ByActor", "actor_id", actorID, f, q.store.FindByActor)
}

// ByTarget returns entries recorded against targetID, newest first.
func (q *Query) ByTarget(ctx context.Context, targetID string, f Filter) ([]*Entry, error) {
	return q.find(ctx, "ByTarget", "target_id", targetID, f, q.store.FindByTarget)
}

func (q *Query) find(
	ctx context.Context,
	op, field, id string,
	f Filter,
	lookup func(context.Context, string, Filter) ([]*Entry, error),
) ([]*Entry, error) {
	ctx, span := tracer.Start(ctx, "ledger."+op, trace.WithAttributes(
		attribute.String(field, id),
		attribute.Int("limit", f.Limit),
		attribute.Int("skip", f.Skip),
	))
	defer span.End()

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &ValidationError{Field: field, Reason: "required"}
	}
	f, err := f.normalize()
	if err != nil {
		return nil, err
	}

	entries, err := lookup(ctx, id, f)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		q.logger.Warn("ledger lookup failed", zap.String(field, id), zap.Error(err))
		return nil, &StorageError{Op: "find by " + strings.TrimSuffix(field, "_id"), Err: err}
	}
	return entries, nil
}

// Get returns the entry with the given sequence number.
func (q *Query) Get(ctx context.Context, seq int64) (*Entry, error) {
	if seq < 1 {
		return nil, &ValidationError{Field: "sequence_number", Reason: "must be positive"}
	}
	if q.cache != nil {
		if e, ok := q.cache.Get(seq); ok {
			return e.clone(), nil
		}
	}

	e, err := q.store.Get(ctx, seq)
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, &StorageError{Op: "get entry", Err: err}
	}
	if q.cache != nil {
		q.cache.Add(seq, e.clone())
	}
	return e, nil
}

// Head returns the current tail: the newest sequence number and its hash.
func (q *Query) Head(ctx context.Context) (Tail, error) {
	t, err := q.store.Tail(ctx)
	if err != nil {
		return Tail{}, &StorageError{Op: "read tail", Err: err}
	}
	return t, nil
}
