package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// AnswerStore holds the live answer map of the active attempt. Writes are
// persisted locally on a debounce and mirrored to the grading API as
// best-effort progress upserts, always after the local write.
type AnswerStore struct {
	repo     *repository.AttemptRepository
	api      GradingAPI
	tasks    *TaskRunner
	clock    clock.Clock
	sched    *Scheduler
	debounce time.Duration
	log      zerolog.Logger

	// flushMu keeps flushes in order so an older map never overwrites a newer one.
	flushMu sync.Mutex

	mu      sync.Mutex
	key     model.AttemptKey
	answers map[string]model.AnswerRecord
	// dirty maps question id to the remaining seconds at the time it was answered.
	dirty   map[string]int
	pending *Task
}

// NewAnswerStore creates a new AnswerStore.
func NewAnswerStore(repo *repository.AttemptRepository, api GradingAPI, tasks *TaskRunner, c clock.Clock, debounce time.Duration, log zerolog.Logger) *AnswerStore {
	return &AnswerStore{
		repo:     repo,
		api:      api,
		tasks:    tasks,
		clock:    c,
		sched:    NewScheduler(c),
		debounce: debounce,
		log:      log.With().Str("component", "answer_store").Logger(),
		answers:  make(map[string]model.AnswerRecord),
		dirty:    make(map[string]int),
	}
}

// Hydrate loads the attempt's answers: local persisted answers merged with the
// remote progress snapshot, remote winning on overlap. It returns the remote
// snapshot's remaining time, if any. A failed remote fetch falls back to local.
func (s *AnswerStore) Hydrate(ctx context.Context, key model.AttemptKey) (*int, error) {
	local, err := s.repo.GetAnswers(ctx, key)
	if err != nil {
		return nil, err
	}

	progress, err := s.api.FetchProgress(ctx, key.ExamRefNo)
	if err != nil {
		s.log.Warn().Err(err).Str("attempt", key.String()).Msg("Remote progress unavailable, using local answers")
		progress = nil
	}

	var remaining *int
	if progress != nil {
		now := s.clock.Now()
		for _, a := range progress.Answers {
			if a.Answer == nil {
				continue
			}
			rec := local[a.QuestionID]
			value := *a.Answer
			rec.SelectedAnswer = &value
			if rec.EndTime == nil {
				rec.EndTime = &now
			}
			local[a.QuestionID] = rec
		}
		remaining = progress.RemainingSeconds
	}

	s.mu.Lock()
	s.stopPendingLocked()
	s.key = key
	s.answers = local
	s.dirty = make(map[string]int)
	s.mu.Unlock()

	if err := s.repo.SaveAnswers(ctx, key, local); err != nil {
		s.log.Error().Err(err).Str("attempt", key.String()).Msg("Failed to persist hydrated answers")
	}
	return remaining, nil
}

// MarkViewed records the first time a question was shown.
func (s *AnswerStore) MarkViewed(questionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.answers[questionID]
	if rec.StartTime != nil {
		return
	}
	now := s.clock.Now()
	rec.StartTime = &now
	s.answers[questionID] = rec
}

// Set records a selection. It reports whether the selection changed; an
// unchanged selection only refreshes timestamps and is never re-sent.
func (s *AnswerStore) Set(questionID, value string, remainingSeconds int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	rec := s.answers[questionID]
	changed := rec.SelectedAnswer == nil || *rec.SelectedAnswer != value

	if rec.StartTime == nil {
		rec.StartTime = &now
	}
	rec.EndTime = &now
	rec.TimeSpentSeconds = int(now.Sub(*rec.StartTime) / time.Second)
	if changed {
		v := value
		rec.SelectedAnswer = &v
		s.dirty[questionID] = remainingSeconds
	}
	s.answers[questionID] = rec

	s.stopPendingLocked()
	s.pending = s.sched.After(s.debounce, func(uint64) {
		if err := s.Flush(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("Debounced answer flush failed")
		}
	})
	return changed
}

// Flush persists the answer map now and dispatches the queued progress upserts.
func (s *AnswerStore) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	s.stopPendingLocked()
	key := s.key
	if key.IsZero() {
		s.mu.Unlock()
		return nil
	}
	answers := copyAnswers(s.answers)
	dirty := s.dirty
	s.dirty = make(map[string]int)
	s.mu.Unlock()

	err := s.repo.SaveAnswers(ctx, key, answers)
	if err != nil {
		s.log.Error().Err(err).Str("attempt", key.String()).Msg("Failed to persist answers locally")
	}

	for qid, remaining := range dirty {
		update := model.ProgressUpdate{
			QuestionID:       qid,
			Answer:           answers[qid].SelectedAnswer,
			RemainingSeconds: remaining,
		}
		ref := key.ExamRefNo
		s.tasks.Go("upsert_progress", func(ctx context.Context) error {
			return s.api.UpsertProgress(ctx, ref, update)
		})
	}
	return err
}

// Discard cancels a pending debounced flush without writing.
func (s *AnswerStore) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopPendingLocked()
	s.dirty = make(map[string]int)
}

// Clear forgets the attempt entirely.
func (s *AnswerStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopPendingLocked()
	s.key = model.AttemptKey{}
	s.answers = make(map[string]model.AnswerRecord)
	s.dirty = make(map[string]int)
}

// Snapshot returns a copy of the answer map.
func (s *AnswerStore) Snapshot() map[string]model.AnswerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyAnswers(s.answers)
}

// IsAnswered reports whether a question holds a selection.
func (s *AnswerStore) IsAnswered(questionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answers[questionID].Answered()
}

// FirstUnanswered returns the index of the first question without a
// selection, or the last index when everything is answered.
func (s *AnswerStore) FirstUnanswered(questions []model.Question) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, q := range questions {
		if !s.answers[q.ID].Answered() {
			return i
		}
	}
	if len(questions) == 0 {
		return 0
	}
	return len(questions) - 1
}

// NextUnanswered returns the next index after from that lacks a selection,
// or from+1 when every later question is answered. ok is false on the last question.
func (s *AnswerStore) NextUnanswered(questions []model.Question, from int) (int, bool) {
	if from >= len(questions)-1 {
		return from, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := from + 1; i < len(questions); i++ {
		if !s.answers[questions[i].ID].Answered() {
			return i, true
		}
	}
	return from + 1, true
}

func (s *AnswerStore) stopPendingLocked() {
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
}

func copyAnswers(in map[string]model.AnswerRecord) map[string]model.AnswerRecord {
	out := make(map[string]model.AnswerRecord, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
