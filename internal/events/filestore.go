package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore appends event records to a JSONL file. It uses O_APPEND for
// cross-process safety and a mutex for in-process serialization; each
// append is fsynced before returning so the durability contract holds.
// Malformed lines (partial writes from a crash) are skipped on read.
type FileStore struct {
	mu   sync.Mutex
	path string
	file *os.File
	seq  uint64
}

// NewFileStore opens (or creates) the event log at path. It scans any
// existing file to find the maximum sequence number so new records
// continue monotonically. Parent directories are created as needed.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating event log directory: %w", err)
	}

	maxSeq, err := scanMaxSeq(path)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}

	return &FileStore{path: path, file: file, seq: maxSeq}, nil
}

// scanMaxSeq reads the JSONL file at path and returns the highest
// sequence number found, or 0 if the file is missing or empty.
func scanMaxSeq(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("opening event log for scan: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only scan

	var maxSeq uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r Record
		if json.Unmarshal(scanner.Bytes(), &r) == nil && r.Sequence > maxSeq {
			maxSeq = r.Sequence
		}
	}
	if err := scanner.Err(); err != nil {
		return maxSeq, fmt.Errorf("scanning event log: %w", err)
	}
	return maxSeq, nil
}

// Append persists the event as one JSON line and fsyncs before returning.
func (s *FileStore) Append(e Event) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The sequence is committed only once the record is durable, so a
	// failed append leaves no gap for the next one.
	next := s.seq + 1
	rec := Record{
		ID:        fmt.Sprintf("evt-%d", next),
		Sequence:  next,
		Timestamp: time.Now().UTC(),
		Event:     e,
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("marshaling event record: %w", err)
	}
	data = append(data, '\n')
	if _, err := s.file.Write(data); err != nil {
		return Record{}, fmt.Errorf("writing event record: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return Record{}, fmt.Errorf("syncing event log: %w", err)
	}
	s.seq = next
	return rec, nil
}

// QuerySince returns records with Sequence > seq in ascending order.
// Malformed lines are skipped.
func (s *FileStore) QuerySince(seq uint64) ([]Record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading event log: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	var out []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue // skip malformed lines (partial writes)
		}
		if r.Sequence > seq {
			out = append(out, r)
		}
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("scanning event log: %w", err)
	}
	return out, nil
}

// LatestSeq returns the highest sequence number assigned so far.
func (s *FileStore) LatestSeq() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq, nil
}

// Close closes the underlying file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
