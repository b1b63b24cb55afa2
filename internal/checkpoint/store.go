package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrNoCheckpoint is returned by Latest when no checkpoint has been saved.
// Recovery treats it as "replay everything", not a failure.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// Store persists encoded checkpoints.
type Store interface {
	// Save writes a checkpoint. Save must be durable before it returns.
	Save(cp *Checkpoint) error
	// Latest returns the checkpoint with the highest event sequence,
	// or ErrNoCheckpoint.
	Latest() (*Checkpoint, error)
	// Prune removes all but the keep most recent checkpoints.
	Prune(keep int) error
}

// FileStore keeps one file per checkpoint under a directory. Files are
// named by event sequence so ordering falls out of a directory listing.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(cp *Checkpoint) string {
	return filepath.Join(s.dir, fmt.Sprintf("%020d-%s.ckpt", cp.EventSequence, cp.ID))
}

func (s *FileStore) Save(cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := Encode(cp)
	if err != nil {
		return err
	}

	// Write to a temp file then rename so a crash never leaves a
	// half-written checkpoint behind.
	tmp, err := os.CreateTemp(s.dir, ".ckpt-*")
	if err != nil {
		return fmt.Errorf("creating checkpoint temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("syncing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(cp)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("renaming checkpoint: %w", err)
	}
	return nil
}

func (s *FileStore) list() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".ckpt") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) Latest() (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.list()
	if err != nil {
		return nil, err
	}
	// Newest first. A corrupt latest file falls through to the one before
	// it rather than aborting recovery.
	var lastErr error
	for i := len(names) - 1; i >= 0; i-- {
		data, err := os.ReadFile(filepath.Join(s.dir, names[i]))
		if err != nil {
			lastErr = err
			continue
		}
		cp, err := Decode(data)
		if err != nil {
			lastErr = err
			continue
		}
		return cp, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("no readable checkpoint: %w", lastErr)
	}
	return nil, ErrNoCheckpoint
}

func (s *FileStore) Prune(keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep < 0 {
		keep = 0
	}
	names, err := s.list()
	if err != nil {
		return err
	}
	if len(names) <= keep {
		return nil
	}
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			return fmt.Errorf("pruning checkpoint %s: %w", name, err)
		}
	}
	return nil
}

// MemStore is an in-memory Store for tests.
type MemStore struct {
	mu  sync.Mutex
	cps []*Checkpoint
}

func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) Save(cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cps = append(s.cps, cp)
	sort.Slice(s.cps, func(i, j int) bool {
		return s.cps[i].EventSequence < s.cps[j].EventSequence
	})
	return nil
}

func (s *MemStore) Latest() (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cps) == 0 {
		return nil, ErrNoCheckpoint
	}
	return s.cps[len(s.cps)-1], nil
}

func (s *MemStore) Prune(keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if keep < 0 {
		keep = 0
	}
	if len(s.cps) > keep {
		s.cps = append([]*Checkpoint(nil), s.cps[len(s.cps)-keep:]...)
	}
	return nil
}
