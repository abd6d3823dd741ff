package repository

import (
	"context"
	"errors"
	"time"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AttemptRepository handles the persisted state of attempts on this device.
type AttemptRepository struct {
	kv KV
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(kv KV) *AttemptRepository {
	return &AttemptRepository{kv: kv}
}

// SaveSession writes the session snapshot.
func (r *AttemptRepository) SaveSession(ctx context.Context, s *model.ExamSession) error {
	return setJSON(ctx, r.kv, config.StorageKey.SessionKey(s.ExamRefNo, s.ExamID), s)
}

// GetSession reads the session snapshot. Returns ErrNotFound if none exists.
func (r *AttemptRepository) GetSession(ctx context.Context, key model.AttemptKey) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	if err := getJSON(ctx, r.kv, config.StorageKey.SessionKey(key.ExamRefNo, key.ExamID), s); err != nil {
		return nil, err
	}
	return s, nil
}

// SaveAnswers writes the whole answer map.
func (r *AttemptRepository) SaveAnswers(ctx context.Context, key model.AttemptKey, answers map[string]model.AnswerRecord) error {
	return setJSON(ctx, r.kv, config.StorageKey.AnswersKey(key.ExamRefNo, key.ExamID), answers)
}

// GetAnswers reads the answer map. A missing map is returned empty.
func (r *AttemptRepository) GetAnswers(ctx context.Context, key model.AttemptKey) (map[string]model.AnswerRecord, error) {
	answers := make(map[string]model.AnswerRecord)
	err := getJSON(ctx, r.kv, config.StorageKey.AnswersKey(key.ExamRefNo, key.ExamID), &answers)
	if errors.Is(err, ErrNotFound) {
		return make(map[string]model.AnswerRecord), nil
	}
	if err != nil {
		return nil, err
	}
	return answers, nil
}

// SaveSeed persists the ordering seed of an attempt.
func (r *AttemptRepository) SaveSeed(ctx context.Context, key model.AttemptKey, seed string) error {
	return r.kv.Set(ctx, config.StorageKey.SeedKey(key.ExamRefNo, key.ExamID), []byte(seed))
}

// GetSeed reads the ordering seed. Returns ErrNotFound if none exists.
func (r *AttemptRepository) GetSeed(ctx context.Context, key model.AttemptKey) (string, error) {
	raw, err := r.kv.Get(ctx, config.StorageKey.SeedKey(key.ExamRefNo, key.ExamID))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// SaveQuestions caches the fetched question set so an offline resume can proceed.
func (r *AttemptRepository) SaveQuestions(ctx context.Context, key model.AttemptKey, questions []model.Question) error {
	return setJSON(ctx, r.kv, config.StorageKey.QuestionsKey(key.ExamRefNo, key.ExamID), questions)
}

// GetQuestions reads the cached question set. Returns ErrNotFound if none exists.
func (r *AttemptRepository) GetQuestions(ctx context.Context, key model.AttemptKey) ([]model.Question, error) {
	var questions []model.Question
	if err := getJSON(ctx, r.kv, config.StorageKey.QuestionsKey(key.ExamRefNo, key.ExamID), &questions); err != nil {
		return nil, err
	}
	return questions, nil
}

// SaveHeartbeat records the last moment the engine was observed alive.
func (r *AttemptRepository) SaveHeartbeat(ctx context.Context, key model.AttemptKey, at time.Time) error {
	return setJSON(ctx, r.kv, config.StorageKey.HeartbeatKey(key.ExamRefNo, key.ExamID), at.Unix())
}

// GetHeartbeat reads the last heartbeat. Returns ErrNotFound if none exists.
func (r *AttemptRepository) GetHeartbeat(ctx context.Context, key model.AttemptKey) (time.Time, error) {
	var unix int64
	if err := getJSON(ctx, r.kv, config.StorageKey.HeartbeatKey(key.ExamRefNo, key.ExamID), &unix); err != nil {
		return time.Time{}, err
	}
	return time.Unix(unix, 0), nil
}

// SavePhaseAnswers stashes the answer sheet of a completed personality phase.
func (r *AttemptRepository) SavePhaseAnswers(ctx context.Context, examRefNo string, answers []model.SubmittedAnswer) error {
	return setJSON(ctx, r.kv, config.StorageKey.PhaseAnswersKey(examRefNo), answers)
}

// GetPhaseAnswers reads stashed personality answers. A missing stash is returned empty.
func (r *AttemptRepository) GetPhaseAnswers(ctx context.Context, examRefNo string) ([]model.SubmittedAnswer, error) {
	var answers []model.SubmittedAnswer
	err := getJSON(ctx, r.kv, config.StorageKey.PhaseAnswersKey(examRefNo), &answers)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return answers, err
}

// ClearPhaseAnswers removes the personality stash.
func (r *AttemptRepository) ClearPhaseAnswers(ctx context.Context, examRefNo string) error {
	return r.kv.Remove(ctx, config.StorageKey.PhaseAnswersKey(examRefNo))
}

// SetActive marks the attempt as the device's active one.
func (r *AttemptRepository) SetActive(ctx context.Context, key model.AttemptKey) error {
	return setJSON(ctx, r.kv, config.StorageKey.ActiveAttemptKey(), key)
}

// GetActive reads the device's active attempt. Returns ErrNotFound if none exists.
func (r *AttemptRepository) GetActive(ctx context.Context) (model.AttemptKey, error) {
	var key model.AttemptKey
	if err := getJSON(ctx, r.kv, config.StorageKey.ActiveAttemptKey(), &key); err != nil {
		return model.AttemptKey{}, err
	}
	return key, nil
}

// ClearActive removes the active attempt pointer if it still points at key.
func (r *AttemptRepository) ClearActive(ctx context.Context, key model.AttemptKey) error {
	current, err := r.GetActive(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current != key {
		return nil
	}
	return r.kv.Remove(ctx, config.StorageKey.ActiveAttemptKey())
}

// Clear removes everything stored for an attempt: session, answers, seed,
// cached questions, heartbeat and the active pointer. The personality stash
// is left to its own lifecycle.
func (r *AttemptRepository) Clear(ctx context.Context, key model.AttemptKey) error {
	keys := []string{
		config.StorageKey.SessionKey(key.ExamRefNo, key.ExamID),
		config.StorageKey.AnswersKey(key.ExamRefNo, key.ExamID),
		config.StorageKey.SeedKey(key.ExamRefNo, key.ExamID),
		config.StorageKey.QuestionsKey(key.ExamRefNo, key.ExamID),
		config.StorageKey.HeartbeatKey(key.ExamRefNo, key.ExamID),
	}
	var errs []error
	for _, k := range keys {
		if err := r.kv.Remove(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}
	if err := r.ClearActive(ctx, key); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
