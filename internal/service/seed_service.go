package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/shuffle"
)

// SeedService owns the lifecycle of per-attempt ordering seeds.
type SeedService struct {
	repo   *repository.AttemptRepository
	clock  clock.Clock
	random func() string
	log    zerolog.Logger
}

// NewSeedService creates a new SeedService.
func NewSeedService(repo *repository.AttemptRepository, c clock.Clock, log zerolog.Logger) *SeedService {
	return &SeedService{
		repo:   repo,
		clock:  c,
		random: randomToken,
		log:    log.With().Str("component", "seed").Logger(),
	}
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Resolve returns the persisted seed of an attempt, creating and persisting a
// new one for a brand-new attempt. A resumed attempt always gets its original seed.
func (s *SeedService) Resolve(ctx context.Context, key model.AttemptKey) (string, error) {
	seed, err := s.repo.GetSeed(ctx, key)
	if err == nil && seed != "" {
		return seed, nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("read seed: %w", err)
	}

	seed = shuffle.NewSeed(key.ExamRefNo, key.ExamID, s.clock.Now(), s.random())
	if err := s.repo.SaveSeed(ctx, key, seed); err != nil {
		return "", fmt.Errorf("save seed: %w", err)
	}
	s.log.Info().Str("attempt", key.String()).Msg("Created question order seed")
	return seed, nil
}

// Order resolves the attempt's seed and orders questions with it.
func (s *SeedService) Order(ctx context.Context, key model.AttemptKey, questions []model.Question) ([]model.Question, error) {
	seed, err := s.Resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	return shuffle.Order(questions, seed), nil
}
