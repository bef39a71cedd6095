package testutil

import (
	"context"
	"sync"

	"github.com/roach88/stockscan/internal/kv"
	"github.com/roach88/stockscan/internal/kv/memory"
)

// FlakyStore wraps an in-memory kv.Store and fails selected operations on demand.
//
// Thread-safety: all methods are safe for concurrent use.
type FlakyStore struct {
	inner *memory.Store

	mu        sync.Mutex
	getErr    error
	setErr    error
	removeErr error
	sets      int
	removes   int
}

// NewFlakyStore creates a FlakyStore that initially never fails.
func NewFlakyStore() *FlakyStore {
	return &FlakyStore{inner: memory.New()}
}

// FailGet makes every Get return err. Pass nil to heal.
func (s *FlakyStore) FailGet(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getErr = err
}

// FailSet makes every Set return err. Pass nil to heal.
func (s *FlakyStore) FailSet(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setErr = err
}

// FailRemove makes every Remove return err. Pass nil to heal.
func (s *FlakyStore) FailRemove(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeErr = err
}

// Sets returns how many Set and Update calls succeeded.
func (s *FlakyStore) Sets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sets
}

// Removes returns how many Remove calls succeeded.
func (s *FlakyStore) Removes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removes
}

// Raw returns the stored value for key, bypassing failure injection.
func (s *FlakyStore) Raw(key string) (string, bool) {
	v, ok, _ := s.inner.Get(context.Background(), key)
	return v, ok
}

// Put stores value under key, bypassing failure injection and counters.
func (s *FlakyStore) Put(key, value string) {
	_ = s.inner.Set(context.Background(), key, value)
}

func (s *FlakyStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return "", false, err
	}
	return s.inner.Get(ctx, key)
}

func (s *FlakyStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	if err := s.inner.Set(ctx, key, value); err != nil {
		return err
	}
	s.sets++
	return nil
}

// Update fails with the Get error, then the Set error, if either is set.
func (s *FlakyStore) Update(ctx context.Context, key string, fn kv.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return s.getErr
	}
	if s.setErr != nil {
		return s.setErr
	}
	if err := s.inner.Update(ctx, key, fn); err != nil {
		return err
	}
	s.sets++
	return nil
}

func (s *FlakyStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeErr != nil {
		return s.removeErr
	}
	if err := s.inner.Remove(ctx, key); err != nil {
		return err
	}
	s.removes++
	return nil
}

func (s *FlakyStore) Close() error {
	return s.inner.Close()
}

var _ kv.Store = (*FlakyStore)(nil)
