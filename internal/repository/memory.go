package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/veritel-ai/dialer-service/internal/domain"
)

// MemoryCallRecordRepository is a simple in-memory call record store for
// tests and early development.
type MemoryCallRecordRepository struct {
	mu      sync.Mutex
	records map[string]*domain.CallRecord
}

// NewMemoryCallRecordRepository creates an empty in-memory store
func NewMemoryCallRecordRepository() *MemoryCallRecordRepository {
	return &MemoryCallRecordRepository{records: make(map[string]*domain.CallRecord)}
}

func (r *MemoryCallRecordRepository) Create(ctx context.Context, rec *domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.CallID]; exists {
		return fmt.Errorf("call record %s already exists", rec.CallID)
	}
	// Stamp the stored copy, never the caller's record: the reconciler
	// actor owns that pointer.
	stored := rec.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.UpdatedAt = time.Now()
	r.records[stored.CallID] = stored
	return nil
}

func (r *MemoryCallRecordRepository) Update(ctx context.Context, rec *domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.CallID]; !exists {
		return fmt.Errorf("call record %s not found", rec.CallID)
	}
	stored := rec.Clone()
	stored.UpdatedAt = time.Now()
	r.records[stored.CallID] = stored
	return nil
}

func (r *MemoryCallRecordRepository) GetByCallID(ctx context.Context, callID string) (*domain.CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[callID]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

// Len returns the number of stored records.
func (r *MemoryCallRecordRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
