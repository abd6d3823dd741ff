package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// SubmitSummary reports the outcome of a queue pass.
type SubmitSummary struct {
	Submitted int `json:"submitted"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// OfflineQueue is the durable store of attempts the grading API has not
// accepted yet. Entries move pending -> submitting -> removed on success, or
// -> failed -> pending with retries incremented on failure.
type OfflineQueue struct {
	repo    *repository.QueueRepository
	api     GradingAPI
	clock   clock.Clock
	limiter *rate.Limiter
	log     zerolog.Logger

	// mu serialises every read-modify-write of the stored list.
	mu sync.Mutex
	// batchMu keeps SubmitAll passes from overlapping.
	batchMu sync.Mutex
}

// NewOfflineQueue creates a new OfflineQueue. Batch submissions are paced to
// one entry per interval.
func NewOfflineQueue(repo *repository.QueueRepository, api GradingAPI, c clock.Clock, interval time.Duration, log zerolog.Logger) *OfflineQueue {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &OfflineQueue{
		repo:    repo,
		api:     api,
		clock:   c,
		limiter: rate.NewLimiter(limit, 1),
		log:     log.With().Str("component", "offline_queue").Logger(),
	}
}

// Enqueue stores a new pending entry and returns it.
func (q *OfflineQueue) Enqueue(ctx context.Context, payload model.SubmissionPayload, meta model.QueueMeta) (*model.SubmissionQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	entry := model.SubmissionQueueEntry{
		AttemptID:   uuid.NewString(),
		Payload:     payload,
		Meta:        meta,
		Status:      model.QueueStatusPending,
		SubmittedAt: q.clock.Now(),
	}
	entries = append(entries, entry)
	if err := q.repo.Save(ctx, entries); err != nil {
		return nil, fmt.Errorf("save queue: %w", err)
	}
	metrics.QueueDepth.Set(float64(len(entries)))

	q.log.Info().
		Str("attempt_id", entry.AttemptID).
		Str("exam_ref_no", meta.ExamRefNo).
		Int("queue_depth", len(entries)).
		Msg("Submission queued for later delivery")
	return &entry, nil
}

// List returns all entries in insertion order.
func (q *OfflineQueue) List(ctx context.Context) ([]model.SubmissionQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries, err := q.repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	if entries == nil {
		entries = []model.SubmissionQueueEntry{}
	}
	return entries, nil
}

// SubmitOne retries a single entry.
func (q *OfflineQueue) SubmitOne(ctx context.Context, attemptID string) error {
	err := q.attempt(ctx, attemptID, "manual")
	if rqErr := q.requeueFailed(ctx); rqErr != nil {
		q.log.Error().Err(rqErr).Msg("Failed to return failed entries to pending")
	}
	return err
}

// SubmitAll retries every pending entry once, paced by the limiter.
func (q *OfflineQueue) SubmitAll(ctx context.Context) (SubmitSummary, error) {
	q.batchMu.Lock()
	defer q.batchMu.Unlock()

	var summary SubmitSummary
	entries, err := q.List(ctx)
	if err != nil {
		return summary, err
	}

	for _, e := range entries {
		if e.Status != model.QueueStatusPending {
			continue
		}
		if err := q.limiter.Wait(ctx); err != nil {
			break
		}
		err := q.attempt(ctx, e.AttemptID, "batch")
		switch {
		case err == nil:
			summary.Submitted++
		case errors.Is(err, ErrEntryNotFound), errors.Is(err, ErrEntryBusy):
			// Deleted or picked up elsewhere since the list was read.
		default:
			summary.Failed++
		}
	}

	if err := q.requeueFailed(ctx); err != nil {
		return summary, err
	}
	remaining, err := q.List(ctx)
	if err != nil {
		return summary, err
	}
	summary.Remaining = len(remaining)

	if summary.Submitted > 0 || summary.Failed > 0 {
		q.log.Info().
			Int("submitted", summary.Submitted).
			Int("failed", summary.Failed).
			Int("remaining", summary.Remaining).
			Msg("Submission queue processed")
	}
	return summary, nil
}

// Delete removes an entry permanently.
func (q *OfflineQueue) Delete(ctx context.Context, attemptID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	idx := indexOf(entries, attemptID)
	if idx < 0 {
		return ErrEntryNotFound
	}
	if entries[idx].Status == model.QueueStatusSubmitting {
		return ErrEntryBusy
	}
	entries = append(entries[:idx], entries[idx+1:]...)
	if err := q.repo.Save(ctx, entries); err != nil {
		return fmt.Errorf("save queue: %w", err)
	}
	metrics.QueueDepth.Set(float64(len(entries)))

	q.log.Warn().Str("attempt_id", attemptID).Msg("Queued submission deleted")
	return nil
}

// Recover returns entries left in submitting by a crashed process to pending.
func (q *OfflineQueue) Recover(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.repo.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load queue: %w", err)
	}
	n := 0
	for i := range entries {
		if entries[i].Status != model.QueueStatusPending {
			entries[i].Status = model.QueueStatusPending
			n++
		}
	}
	if n > 0 {
		if err := q.repo.Save(ctx, entries); err != nil {
			return 0, fmt.Errorf("save queue: %w", err)
		}
		q.log.Warn().Int("entries", n).Msg("Recovered interrupted queue entries")
	}
	metrics.QueueDepth.Set(float64(len(entries)))
	return n, nil
}

// attempt sends one entry. On failure the entry is left in failed.
func (q *OfflineQueue) attempt(ctx context.Context, attemptID, source string) error {
	payload, err := q.markSubmitting(ctx, attemptID)
	if err != nil {
		return err
	}

	sendErr := q.api.Submit(ctx, payload)

	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	idx := indexOf(entries, attemptID)

	if sendErr == nil {
		metrics.Submissions.WithLabelValues("queue_"+source, "success").Inc()
		if idx >= 0 {
			entries = append(entries[:idx], entries[idx+1:]...)
			if err := q.repo.Save(ctx, entries); err != nil {
				return fmt.Errorf("save queue: %w", err)
			}
		}
		metrics.QueueDepth.Set(float64(len(entries)))
		q.log.Info().Str("attempt_id", attemptID).Msg("Queued submission delivered")
		return nil
	}

	metrics.Submissions.WithLabelValues("queue_"+source, "failure").Inc()
	if idx >= 0 {
		entries[idx].Status = model.QueueStatusFailed
		entries[idx].Retries++
		entries[idx].LastError = sendErr.Error()
		if err := q.repo.Save(ctx, entries); err != nil {
			return fmt.Errorf("save queue: %w", err)
		}
	}
	q.log.Warn().Err(sendErr).Str("attempt_id", attemptID).Msg("Queued submission failed")
	return sendErr
}

func (q *OfflineQueue) markSubmitting(ctx context.Context, attemptID string) (model.SubmissionPayload, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.repo.Load(ctx)
	if err != nil {
		return model.SubmissionPayload{}, fmt.Errorf("load queue: %w", err)
	}
	idx := indexOf(entries, attemptID)
	if idx < 0 {
		return model.SubmissionPayload{}, ErrEntryNotFound
	}
	if entries[idx].Status == model.QueueStatusSubmitting {
		return model.SubmissionPayload{}, ErrEntryBusy
	}
	now := q.clock.Now()
	entries[idx].Status = model.QueueStatusSubmitting
	entries[idx].LastAttemptAt = &now
	if err := q.repo.Save(ctx, entries); err != nil {
		return model.SubmissionPayload{}, fmt.Errorf("save queue: %w", err)
	}
	return entries[idx].Payload, nil
}

func (q *OfflineQueue) requeueFailed(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	changed := false
	for i := range entries {
		if entries[i].Status == model.QueueStatusFailed {
			entries[i].Status = model.QueueStatusPending
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return q.repo.Save(ctx, entries)
}

func indexOf(entries []model.SubmissionQueueEntry, attemptID string) int {
	for i := range entries {
		if entries[i].AttemptID == attemptID {
			return i
		}
	}
	return -1
}
