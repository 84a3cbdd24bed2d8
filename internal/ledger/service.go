package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// AppendRequest carries everything a producer asserts about an action. The
// sequence number, hashes and timestamp are assigned by the ledger.
type AppendRequest struct {
	Action    Action         `json:"action"`
	Severity  Severity       `json:"severity,omitempty"` // empty = Action.DefaultSeverity()
	Actor     Actor          `json:"actor"`
	Target    *Target        `json:"target,omitempty"`
	Changes   *Changes       `json:"changes,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	RequestID string         `json:"request_id"`
}

// Service is the only way new entries enter the ledger.
type Service struct {
	seq    *Sequencer
	policy RetryPolicy
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithClock replaces time.Now as the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an append Service over store.
func NewService(store Store, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		policy: DefaultRetryPolicy(),
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.seq = NewSequencer(store, s.policy, logger)
	return s
}

// Append validates req, assigns the next sequence number and timestamp,
// chains the entry to the tail and commits it.
//
// It returns *ValidationError without touching storage, *ConcurrencyError
// when the tail kept moving, and *StorageError when the store failed; in the
// last two cases nothing was written.
func (s *Service) Append(ctx context.Context, req AppendRequest) (*Entry, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "ledger.Append", trace.WithAttributes(
		attribute.String("action", string(req.Action)),
		attribute.String("request_id", req.RequestID),
	))
	defer span.End()

	draft, err := prepare(req)
	if err != nil {
		appendsTotal.WithLabelValues(string(req.Action), "invalid").Inc()
		span.SetStatus(codes.Error, "validation failed")
		return nil, err
	}

	entry, err := s.seq.Run(ctx, func(tail Tail) (*Entry, error) {
		e := *draft
		e.SequenceNumber = tail.Next()
		e.PreviousHash = tail.Hash
		e.Timestamp = s.now().UTC().Truncate(time.Microsecond)
		hash, err := HashChain(e.PreviousHash, e.SequenceNumber, e.CoreFields())
		if err != nil {
			return nil, &ValidationError{Field: "changes", Reason: err.Error()}
		}
		e.CurrentHash = hash
		return &e, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		s.recordFailure(req, err)
		return nil, err
	}

	appendsTotal.WithLabelValues(string(entry.Action), "ok").Inc()
	appendDuration.Observe(time.Since(start).Seconds())
	chainHead.Set(float64(entry.SequenceNumber))
	span.SetAttributes(attribute.Int64("sequence_number", entry.SequenceNumber))

	s.logger.Debug("ledger entry appended",
		zap.Int64("seq", entry.SequenceNumber),
		zap.String("action", string(entry.Action)),
		zap.String("actor_id", entry.Actor.ID),
		zap.String("request_id", entry.RequestID),
	)
	return entry, nil
}

func (s *Service) recordFailure(req AppendRequest, err error) {
	result := "storage"
	switch {
	case errors.Is(err, ErrValidation):
		result = "invalid"
	case errors.Is(err, ErrConcurrency):
		result = "contention"
	}
	appendsTotal.WithLabelValues(string(req.Action), result).Inc()
	s.logger.Warn("ledger append failed",
		zap.String("action", string(req.Action)),
		zap.String("actor_id", req.Actor.ID),
		zap.String("request_id", req.RequestID),
		zap.String("result", result),
		zap.Error(err),
	)
}

// prepare validates req and returns a detached draft entry. The draft shares
// no maps with req, so the producer keeps no handle on what gets stored.
func prepare(req AppendRequest) (*Entry, error) {
	if !req.Action.Valid() {
		return nil, &ValidationError{Field: "action", Reason: fmt.Sprintf("unknown action %q", req.Action)}
	}
	severity := req.Severity
	if severity == "" {
		severity = req.Action.DefaultSeverity()
	}
	if !severity.Valid() {
		return nil, &ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", req.Severity)}
	}

	actor := Actor{
		ID:    strings.TrimSpace(req.Actor.ID),
		Email: strings.TrimSpace(req.Actor.Email),
		Role:  strings.TrimSpace(req.Actor.Role),
		IP:    strings.TrimSpace(req.Actor.IP),
	}
	required := []struct{ field, value string }{
		{"actor.id", actor.ID},
		{"actor.email", actor.Email},
		{"actor.role", actor.Role},
		{"actor.ip", actor.IP},
		{"request_id", strings.TrimSpace(req.RequestID)},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, &ValidationError{Field: r.field, Reason: "required"}
		}
	}

	draft := &Entry{
		Action:      req.Action,
		Severity:    severity,
		Actor:       actor,
		RequestID:   strings.TrimSpace(req.RequestID),
		IsImmutable: true,
	}

	if req.Target != nil {
		t := Target{
			Type:  strings.TrimSpace(req.Target.Type),
			ID:    strings.TrimSpace(req.Target.ID),
			Email: strings.TrimSpace(req.Target.Email),
		}
		if t.ID == "" {
			return nil, &ValidationError{Field: "target.id", Reason: "required when a target is given"}
		}
		draft.Target = &t
	}

	if req.Changes != nil {
		var c Changes
		if err := detachJSON(req.Changes, &c); err != nil {
			return nil, &ValidationError{Field: "changes", Reason: "must be JSON-encodable: " + err.Error()}
		}
		draft.Changes = &c
	}
	if req.Metadata != nil {
		var m map[string]any
		if err := detachJSON(req.Metadata, &m); err != nil {
			return nil, &ValidationError{Field: "metadata", Reason: "must be JSON-encodable: " + err.Error()}
		}
		draft.Metadata = m
	}
	return draft, nil
}
