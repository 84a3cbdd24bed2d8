package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory, thread-safe Store. It is useful for tests and
// single-process tooling that do not need durability across restarts.
//
// Entries are copied on the way in and on the way out, so nothing outside
// the store can reach a stored entry.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry // ascending by SequenceNumber
	tail    Tail
}

// NewMemoryStore creates an empty MemoryStore whose tail is the genesis hash.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tail: Tail{Hash: GenesisHash}}
}

// Tail implements Store.
func (s *MemoryStore) Tail(_ context.Context) (Tail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tail, nil
}

// Commit implements Store. The write lock is held only for the comparison
// and the append.
func (s *MemoryStore) Commit(_ context.Context, expected Tail, entry *Entry) error {
	if entry.SequenceNumber != expected.Next() || entry.PreviousHash != expected.Hash {
		return fmt.Errorf("entry %d is not chained to tail %d", entry.SequenceNumber, expected.Sequence)
	}
	stored := entry.clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tail != expected {
		return ErrTailMoved
	}
	s.entries = append(s.entries, stored)
	s.tail = Tail{Sequence: stored.SequenceNumber, Hash: stored.CurrentHash}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, seq int64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.search(seq)
	if i == len(s.entries) || s.entries[i].SequenceNumber != seq {
		return nil, ErrNotFound
	}
	return s.entries[i].clone(), nil
}

// Range implements Store.
func (s *MemoryStore) Range(_ context.Context, after, upTo int64, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Entry
	for i := s.search(after + 1); i < len(s.entries) && len(out) < limit; i++ {
		if s.entries[i].SequenceNumber > upTo {
			break
		}
		out = append(out, s.entries[i].clone())
	}
	return out, nil
}

// search returns the index of the first entry with SequenceNumber >= seq.
func (s *MemoryStore) search(seq int64) int {
	return sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].SequenceNumber >= seq
	})
}

// FindByActor implements Store.
func (s *MemoryStore) FindByActor(_ context.Context, actorID string, f Filter) ([]*Entry, error) {
	return s.find(f, func(e *Entry) bool { return e.Actor.ID == actorID }), nil
}

// FindByTarget implements Store.
func (s *MemoryStore) FindByTarget(_ context.Context, targetID string, f Filter) ([]*Entry, error) {
	return s.find(f, func(e *Entry) bool { return e.Target != nil && e.Target.ID == targetID }), nil
}

func (s *MemoryStore) find(f Filter, match func(*Entry) bool) []*Entry {
	s.mu.RLock()
	var hits []*Entry
	for _, e := range s.entries {
		if match(e) && f.matches(e) {
			hits = append(hits, e.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if !hits[i].Timestamp.Equal(hits[j].Timestamp) {
			return hits[i].Timestamp.After(hits[j].Timestamp)
		}
		return hits[i].SequenceNumber > hits[j].SequenceNumber
	})

	if f.Skip >= len(hits) {
		return []*Entry{}
	}
	hits = hits[f.Skip:]
	if f.Limit > 0 && len(hits) > f.Limit {
		hits = hits[:f.Limit]
	}
	return hits
}
