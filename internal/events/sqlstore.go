package events

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	// MySQL driver, registered for database/sql. Also speaks to
	// MySQL-compatible servers such as Dolt.
	_ "github.com/go-sql-driver/mysql"
)

// SQLStore persists event records in a MySQL-compatible database. It is
// the provider for deployments that want the event log queryable outside
// the process (the file store stays the default).
type SQLStore struct {
	mu  sync.Mutex
	db  *sql.DB
	seq uint64
}

const sqlSchema = `CREATE TABLE IF NOT EXISTS weft_events (
	seq BIGINT UNSIGNED NOT NULL PRIMARY KEY,
	id VARCHAR(64) NOT NULL,
	kind VARCHAR(64) NOT NULL,
	ts DATETIME(6) NOT NULL,
	payload JSON NOT NULL
)`

// NewSQLStore connects with the given DSN, creates the events table if
// needed, and resumes the sequence counter from the existing rows.
func NewSQLStore(dsn string) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening event database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck // closing after ping failure
		return nil, fmt.Errorf("connecting to event database: %w", err)
	}
	if _, err := db.Exec(sqlSchema); err != nil {
		db.Close() //nolint:errcheck // closing after schema failure
		return nil, fmt.Errorf("creating events table: %w", err)
	}

	var seq sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(seq) FROM weft_events`).Scan(&seq); err != nil {
		db.Close() //nolint:errcheck // closing after query failure
		return nil, fmt.Errorf("reading max sequence: %w", err)
	}

	s := &SQLStore{db: db}
	if seq.Valid {
		s.seq = uint64(seq.Int64)
	}
	return s, nil
}

// Append inserts the event as a new row. The INSERT is committed before
// Append returns, satisfying the durability contract.
func (s *SQLStore) Append(e Event) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(e)
	if err != nil {
		return Record{}, fmt.Errorf("marshaling event payload: %w", err)
	}

	next := s.seq + 1
	rec := Record{
		ID:        fmt.Sprintf("evt-%d", next),
		Sequence:  next,
		Timestamp: time.Now().UTC(),
		Event:     e,
	}
	_, err = s.db.Exec(
		`INSERT INTO weft_events (seq, id, kind, ts, payload) VALUES (?, ?, ?, ?, ?)`,
		rec.Sequence, rec.ID, e.Kind(), rec.Timestamp, payload,
	)
	if err != nil {
		return Record{}, fmt.Errorf("inserting event record: %w", err)
	}
	s.seq = next
	return rec, nil
}

// QuerySince returns records with seq > the given sequence, ascending.
func (s *SQLStore) QuerySince(seq uint64) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT seq, id, kind, ts, payload FROM weft_events WHERE seq > ? ORDER BY seq ASC`,
		seq,
	)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only rows

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			kind    string
			payload []byte
		)
		if err := rows.Scan(&rec.Sequence, &rec.ID, &kind, &rec.Timestamp, &payload); err != nil {
			return out, fmt.Errorf("scanning event row: %w", err)
		}
		mk, ok := registry[kind]
		if !ok {
			return out, fmt.Errorf("unknown event kind %q at seq %d", kind, rec.Sequence)
		}
		ev := mk()
		if err := json.Unmarshal(payload, ev); err != nil {
			return out, fmt.Errorf("unmarshaling %s payload at seq %d: %w", kind, rec.Sequence, err)
		}
		rec.Event = ev
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("iterating event rows: %w", err)
	}
	return out, nil
}

// LatestSeq returns the highest sequence number assigned so far.
func (s *SQLStore) LatestSeq() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq, nil
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
