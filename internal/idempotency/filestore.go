package idempotency

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// FileStore is a durable Store persisted as a single CBOR file. The
// whole map is loaded at open and rewritten atomically on every Put,
// which is fine at the scale of one workspace.
type FileStore struct {
	mu   sync.Mutex
	path string
	m    map[uuid.UUID][]byte
}

// NewFileStore opens or creates the store at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, m: make(map[uuid.UUID][]byte)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading idempotency store: %w", err)
	}
	if len(data) > 0 {
		if err := cbor.Unmarshal(data, &s.m); err != nil {
			return nil, fmt.Errorf("decoding idempotency store %s: %w", path, err)
		}
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, key uuid.UUID) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.m[key]
	return res, ok, nil
}

func (s *FileStore) Put(_ context.Context, key uuid.UUID, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = result
	return s.flushLocked()
}

func (s *FileStore) flushLocked() error {
	data, err := keyEncMode.Marshal(s.m)
	if err != nil {
		return fmt.Errorf("encoding idempotency store: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".idem-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
