package keyvault

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryRepository builds an in-memory key store for tests and local development.
func NewMemoryRepository() Repository {
	return &memoryRepository{records: make(map[string]Record)}
}

func (r *memoryRepository) Insert(_ context.Context, record Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[record.Owner]; exists {
		return ErrOwnerExists
	}
	r.records[record.Owner] = record
	return nil
}

func (r *memoryRepository) FindByOwner(_ context.Context, owner string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[owner]
	if !ok {
		return Record{}, ErrNotFound
	}
	return record, nil
}

func (r *memoryRepository) CountByOwner(_ context.Context, owner string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.records[owner]; ok {
		return 1, nil
	}
	return 0, nil
}
