package ledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmerrifield20/auditledger/internal/ledger"
)

// tickingClock returns a clock that advances one second per call.
func tickingClock(start time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Second)
	}
}

var epoch = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func seedQueryLedger(t *testing.T) (*ledger.MemoryStore, *ledger.Query) {
	t.Helper()
	store := ledger.NewMemoryStore()
	svc := newService(store, ledger.WithClock(tickingClock(epoch)))

	actor := func(id string) ledger.Actor {
		return ledger.Actor{ID: id, Email: id + "@example.com", Role: "admin", IP: "10.0.0.1"}
	}
	reqs := []ledger.AppendRequest{
		{Action: ledger.ActionUserCreate, Actor: actor("alice"), Target: &ledger.Target{ID: "u7"}, RequestID: "r1"},
		{Action: ledger.ActionUserRoleChange, Actor: actor("alice"), Target: &ledger.Target{ID: "u7"}, RequestID: "r2"},
		{Action: ledger.ActionPaymentRefund, Actor: actor("bob"), Target: &ledger.Target{ID: "order-1"}, RequestID: "r3"},
		{Action: ledger.ActionUserSuspend, Actor: actor("alice"), Target: &ledger.Target{ID: "u8"}, RequestID: "r4"},
		{Action: ledger.ActionAuthLogin, Actor: actor("u7"), RequestID: "r5"},
		{Action: ledger.ActionUserRoleChange, Actor: actor("bob"), Target: &ledger.Target{ID: "u7"}, RequestID: "r6"},
	}
	for _, r := range reqs {
		_, err := svc.Append(ctx, r)
		require.NoError(t, err)
	}

	q, err := ledger.NewQuery(store, 16, zap.NewNop())
	require.NoError(t, err)
	return store, q
}

func seqs(entries []*ledger.Entry) []int64 {
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.SequenceNumber)
	}
	return out
}

func TestQuery_byActorNewestFirst(t *testing.T) {
	_, q := seedQueryLedger(t)

	got, err := q.ByActor(ctx, "alice", ledger.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 2, 1}, seqs(got))
}

func TestQuery_byTarget(t *testing.T) {
	_, q := seedQueryLedger(t)

	got, err := q.ByTarget(ctx, "u7", ledger.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []int64{6, 2, 1}, seqs(got), "entries without a target never match")
}

func TestQuery_filters(t *testing.T) {
	_, q := seedQueryLedger(t)

	cases := map[string]struct {
		filter ledger.Filter
		want   []int64
	}{
		"action":     {ledger.Filter{Action: ledger.ActionUserRoleChange}, []int64{2}},
		"severity":   {ledger.Filter{Severity: ledger.SeverityWarning}, []int64{4, 2}},
		"from":       {ledger.Filter{From: epoch.Add(2 * time.Second)}, []int64{4, 2}},
		"to":         {ledger.Filter{To: epoch.Add(2 * time.Second)}, []int64{2, 1}},
		"limit":      {ledger.Filter{Limit: 1}, []int64{4}},
		"skip":       {ledger.Filter{Skip: 1}, []int64{2, 1}},
		"skip + lim": {ledger.Filter{Skip: 1, Limit: 1}, []int64{2}},
		"past end":   {ledger.Filter{Skip: 10}, []int64{}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := q.ByActor(ctx, "alice", tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.want, seqs(got))
		})
	}
}

func TestQuery_invalidInput(t *testing.T) {
	_, q := seedQueryLedger(t)

	cases := map[string]ledger.Filter{
		"unknown action":   {Action: "nope"},
		"unknown severity": {Severity: "loud"},
		"negative skip":    {Skip: -1},
		"inverted window":  {From: epoch.Add(time.Hour), To: epoch},
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := q.ByActor(ctx, "alice", f)
			assert.True(t, errors.Is(err, ledger.ErrValidation), "got %v", err)
		})
	}

	_, err := q.ByTarget(ctx, "  ", ledger.Filter{})
	assert.True(t, errors.Is(err, ledger.ErrValidation))
}

func TestQuery_getAndHead(t *testing.T) {
	store, q := seedQueryLedger(t)

	e, err := q.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, ledger.ActionPaymentRefund, e.Action)

	// Cached copies are not shared with callers.
	e.Actor.ID = "eve"
	again, err := q.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "bob", again.Actor.ID)

	_, err = q.Get(ctx, 99)
	assert.True(t, errors.Is(err, ledger.ErrNotFound))
	_, err = q.Get(ctx, 0)
	assert.True(t, errors.Is(err, ledger.ErrValidation))

	head, err := q.Head(ctx)
	require.NoError(t, err)
	last, err := store.Get(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, ledger.Tail{Sequence: 6, Hash: last.CurrentHash}, head)
}

func TestQuery_withoutCache(t *testing.T) {
	store, _ := seedQueryLedger(t)
	q, err := ledger.NewQuery(store, 0, zap.NewNop())
	require.NoError(t, err)

	e, err := q.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.SequenceNumber)
}
