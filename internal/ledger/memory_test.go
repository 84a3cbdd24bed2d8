package ledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/auditledger/internal/ledger"
)

func chained(t *testing.T, tail ledger.Tail, actorID string) *ledger.Entry {
	t.Helper()
	e := &ledger.Entry{
		SequenceNumber: tail.Next(),
		Timestamp:      time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Action:         ledger.ActionAuthLogin,
		Severity:       ledger.SeverityInfo,
		Actor:          ledger.Actor{ID: actorID, Email: "x@example.com", Role: "user", IP: "::1"},
		RequestID:      "req",
		Metadata:       map[string]any{"k": "v"},
		PreviousHash:   tail.Hash,
		IsImmutable:    true,
	}
	hash, err := ledger.HashChain(e.PreviousHash, e.SequenceNumber, e.CoreFields())
	require.NoError(t, err)
	e.CurrentHash = hash
	return e
}

func TestMemoryStore_commitCompareAndSwap(t *testing.T) {
	store := ledger.NewMemoryStore()
	genesis, err := store.Tail(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.Tail{Sequence: 0, Hash: ledger.GenesisHash}, genesis)

	first := chained(t, genesis, "a")
	require.NoError(t, store.Commit(ctx, genesis, first))

	// A second writer that read the same genesis tail loses.
	rival := chained(t, genesis, "b")
	err = store.Commit(ctx, genesis, rival)
	assert.True(t, errors.Is(err, ledger.ErrTailMoved))

	tail, err := store.Tail(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.Tail{Sequence: 1, Hash: first.CurrentHash}, tail)

	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Actor.ID)
}

func TestMemoryStore_rejectsUnchainedEntry(t *testing.T) {
	store := ledger.NewMemoryStore()
	genesis, _ := store.Tail(ctx)

	e := chained(t, genesis, "a")
	e.SequenceNumber = 5
	err := store.Commit(ctx, genesis, e)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ledger.ErrTailMoved))
}

func TestMemoryStore_copiesInAndOut(t *testing.T) {
	store := ledger.NewMemoryStore()
	genesis, _ := store.Tail(ctx)
	e := chained(t, genesis, "a")
	require.NoError(t, store.Commit(ctx, genesis, e))

	e.Metadata["k"] = "changed"
	got, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "v", got.Metadata["k"])

	got.Metadata["k"] = "changed again"
	page, err := store.Range(ctx, 0, 1, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "v", page[0].Metadata["k"])
}

func TestMemoryStore_rangeBounds(t *testing.T) {
	store := ledger.NewMemoryStore()
	for i := 0; i < 5; i++ {
		tail, _ := store.Tail(ctx)
		require.NoError(t, store.Commit(ctx, tail, chained(t, tail, "a")))
	}

	page, err := store.Range(ctx, 1, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, seqs(page))

	page, err = store.Range(ctx, 3, 4, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, seqs(page))

	page, err = store.Range(ctx, 5, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, page)

	_, err = store.Get(ctx, 6)
	assert.True(t, errors.Is(err, ledger.ErrNotFound))
}
