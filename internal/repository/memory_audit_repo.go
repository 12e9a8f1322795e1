package repository

import (
	"context"
	"sync"

	"go-photoshare/internal/model"
)

const defaultAuditCapacity = 10000

// MemoryAuditRepository keeps the most recent audit entries in memory. Oldest entries are
// discarded once capacity is reached.
type MemoryAuditRepository struct {
	mu       sync.RWMutex
	entries  []model.AuditEntry
	capacity int
}

func NewMemoryAuditRepository(capacity int) *MemoryAuditRepository {
	if capacity <= 0 {
		capacity = defaultAuditCapacity
	}
	return &MemoryAuditRepository{capacity: capacity}
}

func (r *MemoryAuditRepository) Log(_ context.Context, entry model.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) >= r.capacity {
		r.entries = append(r.entries[:0], r.entries[len(r.entries)-r.capacity+1:]...)
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *MemoryAuditRepository) ListForSubject(_ context.Context, subjectID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.AuditEntry, 0)
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if r.entries[i].SubjectID == subjectID {
			out = append(out, r.entries[i])
		}
	}
	return out, nil
}
