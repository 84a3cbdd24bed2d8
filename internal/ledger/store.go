package ledger

import "context"

// Tail is the durable record of the newest entry: its sequence number and
// CurrentHash. An empty ledger has Tail{Sequence: 0, Hash: GenesisHash}.
type Tail struct {
	Sequence int64  `json:"sequence"`
	Hash     string `json:"hash"`
}

// Next returns the sequence number the next entry must carry.
func (t Tail) Next() int64 { return t.Sequence + 1 }

// Store is the storage contract of the ledger. It offers a single
// conditional write and read operations. There is no way to
// update or delete an entry.
type Store interface {
	// Tail returns the current tail.
	Tail(ctx context.Context) (Tail, error)

	// Commit persists entry and advances the tail to
	// (entry.SequenceNumber, entry.CurrentHash) as one atomic operation,
	// provided the tail still equals expected. Otherwise it returns
	// ErrTailMoved and changes nothing.
	Commit(ctx context.Context, expected Tail, entry *Entry) error

	// Get returns the entry with the given sequence number or ErrNotFound.
	Get(ctx context.Context, seq int64) (*Entry, error)

	// Range returns up to limit entries with after < seq <= upTo, ascending.
	Range(ctx context.Context, after, upTo int64, limit int) ([]*Entry, error)

	// FindByActor returns entries whose actor ID matches, newest first.
	FindByActor(ctx context.Context, actorID string, f Filter) ([]*Entry, error)

	// FindByTarget returns entries whose target ID matches, newest first.
	FindByTarget(ctx context.Context, targetID string, f Filter) ([]*Entry, error)
}
