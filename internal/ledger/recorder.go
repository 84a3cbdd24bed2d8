package ledger

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Policy decides what a producer does when its audit record cannot be written.
type Policy int

const (
	// FailClosed surfaces the append error so the business operation can abort.
	// Use it for actions that must not happen unrecorded.
	FailClosed Policy = iota
	// FailOpen logs and counts the failure and lets the operation proceed.
	FailOpen
)

func (p Policy) String() string {
	if p == FailOpen {
		return "fail_open"
	}
	return "fail_closed"
}

// Appender is the write side of the ledger as seen by producers.
type Appender interface {
	Append(ctx context.Context, req AppendRequest) (*Entry, error)
}

// Recorder is what a producer holds to emit audit records. It applies the
// producer's failure policy; the ledger itself never drops anything.
type Recorder struct {
	appender Appender
	producer string
	policy   Policy
	logger   *zap.Logger
}

// NewRecorder creates a Recorder for the named producer.
func NewRecorder(appender Appender, producer string, policy Policy, logger *zap.Logger) *Recorder {
	return &Recorder{
		appender: appender,
		producer: producer,
		policy:   policy,
		logger:   logger.With(zap.String("producer", producer), zap.Stringer("policy", policy)),
	}
}

// Record appends req. Under FailClosed any append error is returned. Under
// FailOpen only validation errors are returned, since those are producer bugs
// that retrying would not fix; everything else is logged and swallowed.
func (r *Recorder) Record(ctx context.Context, req AppendRequest) error {
	_, err := r.appender.Append(ctx, req)
	if err == nil {
		return nil
	}
	if r.policy == FailClosed {
		r.logger.Error("audit record rejected, failing closed",
			zap.String("action", string(req.Action)),
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		return err
	}
	if errors.Is(err, ErrValidation) {
		return err
	}
	recordDroppedTotal.WithLabelValues(r.producer).Inc()
	r.logger.Error("audit record dropped",
		zap.String("action", string(req.Action)),
		zap.String("actor_id", req.Actor.ID),
		zap.String("request_id", req.RequestID),
		zap.Error(err),
	)
	return nil
}
