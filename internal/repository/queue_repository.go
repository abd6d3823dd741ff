package repository

import (
	"context"
	"errors"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// QueueRepository persists the offline submission queue as a single JSON list.
// Callers serialise access; the repository does no locking of its own.
type QueueRepository struct {
	kv KV
}

// NewQueueRepository creates a new QueueRepository.
func NewQueueRepository(kv KV) *QueueRepository {
	return &QueueRepository{kv: kv}
}

// Load reads all queue entries in insertion order.
func (r *QueueRepository) Load(ctx context.Context) ([]model.SubmissionQueueEntry, error) {
	var entries []model.SubmissionQueueEntry
	err := getJSON(ctx, r.kv, config.StorageKey.SubmissionQueueKey(), &entries)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return entries, err
}

// Save replaces the stored queue with entries.
func (r *QueueRepository) Save(ctx context.Context, entries []model.SubmissionQueueEntry) error {
	if len(entries) == 0 {
		return r.kv.Remove(ctx, config.StorageKey.SubmissionQueueKey())
	}
	return setJSON(ctx, r.kv, config.StorageKey.SubmissionQueueKey(), entries)
}
