package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Failure kinds. Lookup and store failures are infrastructure trouble
// and retryable; a failed or unserializable execution is not.
type Kind string

const (
	CacheLookupFailed Kind = "cache_lookup_failed"
	DbLookupFailed    Kind = "db_lookup_failed"
	CacheStoreFailed  Kind = "cache_store_failed"
	DbStoreFailed     Kind = "db_store_failed"
	ExecutionFailed   Kind = "execution_failed"
	Serialization     Kind = "serialization"
)

// Error wraps a failure during idempotent execution with its kind.
type Error struct {
	Kind Kind
	Key  uuid.UUID
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s for key %s: %v", e.Kind, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// DuplicateExecution signals that the key was executed before. It
// carries the recorded result; callers treat it as a cache hit, not a
// failure.
type DuplicateExecution struct {
	Key    uuid.UUID
	Result []byte
}

func (e *DuplicateExecution) Error() string {
	return fmt.Sprintf("key %s already executed", e.Key)
}

// IsRetryable reports whether err is worth retrying: infrastructure
// failures are, failed executions and duplicates are not.
func IsRetryable(err error) bool {
	var ie *Error
	if !errors.As(err, &ie) {
		return false
	}
	switch ie.Kind {
	case CacheLookupFailed, DbLookupFailed, CacheStoreFailed, DbStoreFailed:
		return true
	}
	return false
}

// Cache is the fast result lookup tier. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key uuid.UUID) ([]byte, bool, error)
	Set(ctx context.Context, key uuid.UUID, result []byte) error
}

// Store is the durable result tier.
type Store interface {
	Get(ctx context.Context, key uuid.UUID) ([]byte, bool, error)
	Put(ctx context.Context, key uuid.UUID, result []byte) error
}

// Executor runs operations at most once per key. Results are recorded
// in the durable store and mirrored into the cache; a repeated key
// returns DuplicateExecution with the recorded result.
type Executor struct {
	cache Cache
	store Store
}

func NewExecutor(cache Cache, store Store) *Executor {
	return &Executor{cache: cache, store: store}
}

// Execute runs fn under the key derived from scope and input. The
// serialized result is returned; when the key has run before, the
// recorded result is returned alongside a *DuplicateExecution.
func (x *Executor) Execute(ctx context.Context, scope string, input []byte, fn func(ctx context.Context) (any, error)) ([]byte, error) {
	return x.ExecuteKeyed(ctx, Key(scope, input), fn)
}

// ExecuteKeyed is Execute with a caller-derived key.
func (x *Executor) ExecuteKeyed(ctx context.Context, key uuid.UUID, fn func(ctx context.Context) (any, error)) ([]byte, error) {
	if res, ok, err := x.cache.Get(ctx, key); err != nil {
		return nil, &Error{Kind: CacheLookupFailed, Key: key, Err: err}
	} else if ok {
		return res, &DuplicateExecution{Key: key, Result: res}
	}

	res, ok, err := x.store.Get(ctx, key)
	if err != nil {
		return nil, &Error{Kind: DbLookupFailed, Key: key, Err: err}
	}
	if ok {
		// Backfill the cache so the next hit avoids the store.
		if err := x.cache.Set(ctx, key, res); err != nil {
			return nil, &Error{Kind: CacheStoreFailed, Key: key, Err: err}
		}
		return res, &DuplicateExecution{Key: key, Result: res}
	}

	out, err := fn(ctx)
	if err != nil {
		return nil, &Error{Kind: ExecutionFailed, Key: key, Err: err}
	}
	data, err := keyEncMode.Marshal(out)
	if err != nil {
		return nil, &Error{Kind: Serialization, Key: key, Err: err}
	}

	// Durable tier first: a result that only made it into the cache
	// could be lost and re-executed.
	if err := x.store.Put(ctx, key, data); err != nil {
		return nil, &Error{Kind: DbStoreFailed, Key: key, Err: err}
	}
	if err := x.cache.Set(ctx, key, data); err != nil {
		return nil, &Error{Kind: CacheStoreFailed, Key: key, Err: err}
	}
	return data, nil
}

// Decode deserializes a recorded result into v.
func Decode(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

// MemCache is an in-process Cache.
type MemCache struct {
	mu sync.RWMutex
	m  map[uuid.UUID][]byte
}

func NewMemCache() *MemCache { return &MemCache{m: make(map[uuid.UUID][]byte)} }

func (c *MemCache) Get(_ context.Context, key uuid.UUID) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.m[key]
	return res, ok, nil
}

func (c *MemCache) Set(_ context.Context, key uuid.UUID, result []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = result
	return nil
}

// MemStore is an in-process Store for tests and single-node use.
type MemStore struct {
	mu sync.RWMutex
	m  map[uuid.UUID][]byte
}

func NewMemStore() *MemStore { return &MemStore{m: make(map[uuid.UUID][]byte)} }

func (s *MemStore) Get(_ context.Context, key uuid.UUID) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, ok := s.m[key]
	return res, ok, nil
}

func (s *MemStore) Put(_ context.Context, key uuid.UUID, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = result
	return nil
}
