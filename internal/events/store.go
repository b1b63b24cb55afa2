package events

import "errors"

// ErrNotFound is returned when a queried record does not exist.
var ErrNotFound = errors.New("event record not found")

// Store is the interface for durable event persistence. Implementations
// must assign strictly increasing, gap-free sequence numbers starting at
// 1, fill in Record.ID and Record.Timestamp, and return from Append only
// after the write is durably committed.
type Store interface {
	// Append persists an event and returns the stored record. A failure
	// to persist is returned, never swallowed.
	Append(e Event) (Record, error)

	// QuerySince returns all records with Sequence > seq, ordered by
	// ascending sequence. This ordering is the correctness basis for
	// replay.
	QuerySince(seq uint64) ([]Record, error)

	// LatestSeq returns the highest sequence number in the log, or 0
	// for an empty log.
	LatestSeq() (uint64, error)

	// Close releases any resources held by the store.
	Close() error
}
