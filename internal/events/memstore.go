package events

import (
	"fmt"
	"sync"
	"time"
)

// MemStore is an in-memory Store backed by a slice. It is exported for
// use as a test double in cross-package tests. Safe for concurrent use.
type MemStore struct {
	mu      sync.Mutex
	records []Record
	seq     uint64
}

// NewMemStore returns a new empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Append stores an event in memory with the next sequence number.
func (m *MemStore) Append(e Event) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	rec := Record{
		ID:        fmt.Sprintf("evt-%d", m.seq),
		Sequence:  m.seq,
		Timestamp: time.Now().UTC(),
		Event:     e,
	}
	m.records = append(m.records, rec)
	return rec, nil
}

// QuerySince returns records with Sequence > seq in ascending order.
func (m *MemStore) QuerySince(seq uint64) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for _, r := range m.records {
		if r.Sequence > seq {
			out = append(out, r)
		}
	}
	return out, nil
}

// LatestSeq returns the highest assigned sequence number.
func (m *MemStore) LatestSeq() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq, nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error { return nil }
