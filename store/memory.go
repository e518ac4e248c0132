package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/cloudx-io/openbidding/core"
)

var errClosed = errors.New("store is closed")

type memoryState struct {
	config  *core.Config
	status  *core.Status
	entries map[core.Identity]core.LedgerEntry
}

func (s memoryState) clone() memoryState {
	next := memoryState{entries: make(map[core.Identity]core.LedgerEntry, len(s.entries))}
	if s.config != nil {
		c := *s.config
		next.config = &c
	}
	if s.status != nil {
		st := *s.status
		next.status = &st
	}
	for k, v := range s.entries {
		next.entries[k] = v
	}
	return next
}

// MemoryStore keeps the record in process memory. Updates work on a copy
// that replaces the live state only when the function succeeds.
type MemoryStore struct {
	mu     sync.RWMutex
	state  memoryState
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memoryState{entries: map[core.Identity]core.LedgerEntry{}}}
}

func (m *MemoryStore) View(ctx context.Context, fn func(Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errClosed
	}
	return fn(&memoryTx{state: m.state})
}

func (m *MemoryStore) Update(ctx context.Context, fn func(Writer) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}

	tx := &memoryTx{state: m.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type memoryTx struct {
	state memoryState
}

func (tx *memoryTx) LoadConfig() (core.Config, error) {
	if tx.state.config == nil {
		return core.Config{}, ErrNotFound
	}
	return *tx.state.config, nil
}

func (tx *memoryTx) LoadStatus() (core.Status, error) {
	if tx.state.status == nil {
		return core.Status{}, ErrNotFound
	}
	return *tx.state.status, nil
}

func (tx *memoryTx) GetEntry(id core.Identity) (core.LedgerEntry, error) {
	e, ok := tx.state.entries[id]
	if !ok {
		return core.LedgerEntry{}, ErrNotFound
	}
	return e, nil
}

func (tx *memoryTx) Entries() ([]core.LedgerEntry, error) {
	out := make([]core.LedgerEntry, 0, len(tx.state.entries))
	for _, e := range tx.state.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (tx *memoryTx) SaveConfig(c core.Config) error {
	tx.state.config = &c
	return nil
}

func (tx *memoryTx) SaveStatus(s core.Status) error {
	tx.state.status = &s
	return nil
}

func (tx *memoryTx) SetEntry(e core.LedgerEntry) error {
	tx.state.entries[e.Bidder] = e
	return nil
}
