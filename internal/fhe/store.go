package fhe

import (
	"context"
	"sync"

	"github.com/CamberLoid/TrustlessSwap/internal/users"
)

// MemoryStore is a CiphertextStore kept in process memory.
type MemoryStore struct {
	mu  sync.RWMutex
	cts map[Handle][]byte
	acl map[Handle]map[users.Address]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cts: make(map[Handle][]byte),
		acl: make(map[Handle]map[users.Address]struct{}),
	}
}

func (s *MemoryStore) PutCiphertext(_ context.Context, h Handle, ct []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cts[h] = append([]byte(nil), ct...)
	return nil
}

func (s *MemoryStore) GetCiphertext(_ context.Context, h Handle) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ct, ok := s.cts[h]
	if !ok {
		return nil, ErrUnknownHandle
	}
	return ct, nil
}

func (s *MemoryStore) Grant(_ context.Context, h Handle, principal users.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cts[h]; !ok {
		return ErrUnknownHandle
	}
	if s.acl[h] == nil {
		s.acl[h] = make(map[users.Address]struct{})
	}
	s.acl[h][principal] = struct{}{}
	return nil
}

func (s *MemoryStore) Allowed(_ context.Context, h Handle, principal users.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.acl[h][principal]
	return ok, nil
}
