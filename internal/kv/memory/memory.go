// Package memory provides an in-process kv.Store.
package memory

import (
	"context"
	"sync"

	"github.com/roach88/stockscan/internal/kv"
)

type Store struct {
	mu     sync.RWMutex
	data   map[string]string
	closed bool
}

func New() *Store {
	return &Store{
		data: make(map[string]string),
	}
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, kv.ErrClosed
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kv.ErrClosed
	}
	s.data[key] = value
	return nil
}

func (s *Store) Update(_ context.Context, key string, fn kv.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kv.ErrClosed
	}
	cur, ok := s.data[key]
	next, err := fn(cur, ok)
	if err != nil {
		return err
	}
	s.data[key] = next
	return nil
}

func (s *Store) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kv.ErrClosed
	}
	delete(s.data, key)
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

var _ kv.Store = (*Store)(nil)
