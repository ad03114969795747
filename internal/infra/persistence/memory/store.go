// Package memory provides the in-memory ledger store. The sqlite and
// postgres stores embed it and snapshot its state after each commit.
package memory

import (
	"context"
	"sync"
	"time"

	"imagingqc/internal/ledger"
)

var _ ledger.Store = (*Store)(nil)

type state struct {
	entries map[string]ledger.Entry
	batches map[string]ledger.Batch
}

func newState() state {
	return state{entries: make(map[string]ledger.Entry), batches: make(map[string]ledger.Batch)}
}

func (s state) clone() state {
	out := state{
		entries: make(map[string]ledger.Entry, len(s.entries)),
		batches: make(map[string]ledger.Batch, len(s.batches)),
	}
	for k, v := range s.entries {
		out.entries[k] = cloneEntry(v)
	}
	for k, v := range s.batches {
		out.batches[k] = v
	}
	return out
}

func cloneEntry(e ledger.Entry) ledger.Entry {
	if e.DecidedAt != nil {
		t := *e.DecidedAt
		e.DecidedAt = &t
	}
	return e
}

// Store is a copy-on-write ledger: each transaction works on a clone that
// replaces the live state only when the callback succeeds.
type Store struct {
	mu    sync.RWMutex
	state state
	nowFn func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the transaction clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewStore constructs an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{state: newState(), nowFn: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExportState clones the current state for external persistence.
func (s *Store) ExportState() ledger.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := s.state.clone()
	return ledger.Snapshot{Entries: c.entries, Batches: c.batches}
}

// ImportState replaces the store state with snapshot.
func (s *Store) ImportState(snapshot ledger.Snapshot) {
	next := newState()
	for k, v := range snapshot.Entries {
		next.entries[k] = cloneEntry(v)
	}
	for k, v := range snapshot.Batches {
		next.batches[k] = v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = next
}

// RunInTransaction applies fn to a private copy of the state and commits it
// when fn returns nil.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &transaction{view: view{state: s.state.clone()}, now: s.nowFn()}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// View runs fn against a consistent snapshot.
func (s *Store) View(ctx context.Context, fn func(ledger.View) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(view{state: snapshot})
}

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

type view struct {
	state
}

func (v view) Entry(key string) (ledger.Entry, bool) {
	e, ok := v.entries[key]
	if !ok {
		return ledger.Entry{}, false
	}
	return cloneEntry(e), true
}

func (v view) Entries() []ledger.Entry {
	out := make([]ledger.Entry, 0, len(v.entries))
	for _, e := range v.entries {
		out = append(out, cloneEntry(e))
	}
	ledger.SortEntries(out)
	return out
}

func (v view) Batches() []ledger.Batch {
	out := make([]ledger.Batch, 0, len(v.batches))
	for _, b := range v.batches {
		out = append(out, b)
	}
	ledger.SortBatches(out)
	return out
}

type transaction struct {
	view
	now time.Time
}

func (tx *transaction) Now() time.Time { return tx.now }

func (tx *transaction) PutEntry(e ledger.Entry) error {
	if err := ledger.ValidateEntry(e); err != nil {
		return err
	}
	tx.entries[e.Key()] = cloneEntry(e)
	return nil
}

func (tx *transaction) PutBatch(b ledger.Batch) error {
	if err := ledger.ValidateBatch(b); err != nil {
		return err
	}
	tx.batches[b.ID] = b
	return nil
}
