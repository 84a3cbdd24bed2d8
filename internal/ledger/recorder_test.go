package ledger_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmerrifield20/auditledger/internal/ledger"
)

type stubAppender struct {
	err   error
	calls int
}

func (s *stubAppender) Append(_ context.Context, req ledger.AppendRequest) (*ledger.Entry, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &ledger.Entry{SequenceNumber: int64(s.calls), Action: req.Action}, nil
}

func TestRecorder(t *testing.T) {
	outage := &ledger.StorageError{Op: "commit entry", Err: errors.New("connection refused")}
	invalid := &ledger.ValidationError{Field: "action", Reason: "unknown"}
	busy := &ledger.ConcurrencyError{Attempts: 5, Err: ledger.ErrTailMoved}

	cases := []struct {
		name    string
		policy  ledger.Policy
		err     error
		wantErr error
	}{
		{"closed ok", ledger.FailClosed, nil, nil},
		{"closed storage", ledger.FailClosed, outage, ledger.ErrStorage},
		{"closed contention", ledger.FailClosed, busy, ledger.ErrConcurrency},
		{"open ok", ledger.FailOpen, nil, nil},
		{"open storage swallowed", ledger.FailOpen, outage, nil},
		{"open contention swallowed", ledger.FailOpen, busy, nil},
		{"open validation surfaced", ledger.FailOpen, invalid, ledger.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := &stubAppender{err: tc.err}
			r := ledger.NewRecorder(app, "billing", tc.policy, zap.NewNop())

			err := r.Record(ctx, roleChange("req-1"))
			assert.Equal(t, 1, app.calls)
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
		})
	}
}

func TestRecorder_writesThroughService(t *testing.T) {
	store := ledger.NewMemoryStore()
	r := ledger.NewRecorder(newService(store), "identity", ledger.FailClosed, zap.NewNop())

	require.NoError(t, r.Record(ctx, roleChange("req-1")))

	tail, err := store.Tail(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tail.Sequence)
}

func TestPolicy_String(t *testing.T) {
	assert.Equal(t, "fail_closed", ledger.FailClosed.String())
	assert.Equal(t, "fail_open", ledger.FailOpen.String())
}
