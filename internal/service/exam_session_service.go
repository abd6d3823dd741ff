package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// EngineOptions tunes the exam session state machine.
type EngineOptions struct {
	Timings         config.Timings
	RequireLockDown bool
	DeviceID        string
}

// ExamSessionService is the exam session state machine. It owns the single
// active ExamSession of the device, its countdown and its periodic work.
//
// All state lives behind mu. Lock-down device I/O and submission to the
// grading API always run with mu released.
type ExamSessionService struct {
	repo     *repository.AttemptRepository
	api      GradingAPI
	seeds    *SeedService
	answers  *AnswerStore
	monitor  *SecurityMonitor
	pipeline *SubmissionPipeline
	tasks    *TaskRunner
	clock    clock.Clock
	sched    *Scheduler
	opts     EngineOptions
	log      zerolog.Logger

	// startMu serialises StartExam calls end to end.
	startMu sync.Mutex

	mu        sync.Mutex
	session   *model.ExamSession
	questions []model.Question
	lastTick  time.Time
	lockToken uint64

	subMu   sync.Mutex
	nextSub int
	subs    map[int]chan model.SessionEvent
}

// NewExamSessionService creates a new ExamSessionService and registers it as
// the monitor's hook receiver.
func NewExamSessionService(
	repo *repository.AttemptRepository,
	api GradingAPI,
	seeds *SeedService,
	answers *AnswerStore,
	monitor *SecurityMonitor,
	pipeline *SubmissionPipeline,
	tasks *TaskRunner,
	c clock.Clock,
	opts EngineOptions,
	log zerolog.Logger,
) *ExamSessionService {
	s := &ExamSessionService{
		repo:     repo,
		api:      api,
		seeds:    seeds,
		answers:  answers,
		monitor:  monitor,
		pipeline: pipeline,
		tasks:    tasks,
		clock:    c,
		sched:    NewScheduler(c),
		opts:     opts,
		log:      log.With().Str("component", "exam_session").Logger(),
		subs:     make(map[int]chan model.SessionEvent),
	}
	monitor.SetHooks(s)
	return s
}

// StartExam starts a new attempt or re-enters a persisted one.
//
// A persisted session of the same attempt is restored from wall-clock time
// (or its stored remaining time when it was paused), remote progress is merged
// over local answers, and server-reported remaining time wins. Academic
// attempts on a lock-down device wait in PIN_REQUESTED until the monitor
// confirms.
func (s *ExamSessionService) StartExam(ctx context.Context, req model.StartExamRequest) (*model.ExamSession, error) {
	key := model.AttemptKey{ExamRefNo: req.ExamRefNo, ExamID: req.ExamID}
	if key.IsZero() || req.TimeLimitMinutes <= 0 || !req.ExamType.Valid() || !req.Phase.Valid() {
		return nil, ErrMissingParameters
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	if s.occupiedLocked() {
		cur := s.session
		if cur.Key() != key {
			s.mu.Unlock()
			return nil, ErrSessionActive
		}
		if cur.State == model.SessionStatePaused {
			s.mu.Unlock()
			return s.Resume(ctx)
		}
		clone := cur.Clone()
		s.mu.Unlock()
		return clone, nil
	}
	s.mu.Unlock()

	if err := s.checkDeviceFree(ctx, key); err != nil {
		return nil, err
	}

	questions, err := s.loadQuestions(ctx, key, req.ExamType)
	if err != nil {
		return nil, err
	}
	ordered, err := s.seeds.Order(ctx, key, questions)
	if err != nil {
		return nil, fmt.Errorf("order questions: %w", err)
	}

	serverRemaining, err := s.answers.Hydrate(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("hydrate answers: %w", err)
	}

	persisted, err := s.repo.GetSession(ctx, key)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("read session: %w", err)
	}
	var heartbeat time.Time
	if persisted != nil {
		if hb, err := s.repo.GetHeartbeat(ctx, key); err == nil {
			heartbeat = hb
		}
	}

	now := s.clock.Now()

	s.mu.Lock()
	if s.occupiedLocked() {
		s.mu.Unlock()
		return nil, ErrSessionActive
	}

	var session *model.ExamSession
	if persisted != nil && persisted.State != model.SessionStateSubmitted {
		session = persisted
		s.session = session
		s.restoreExamTimerLocked(now, heartbeat)
	} else {
		limit := req.TimeLimitMinutes * 60
		session = &model.ExamSession{
			ExamID:               key.ExamID,
			ExamRefNo:            key.ExamRefNo,
			State:                model.SessionStateNotStarted,
			TimeLimitSeconds:     limit,
			TimeRemainingSeconds: limit,
			StartedAt:            now,
			SecurityViolations:   []model.SecurityViolation{},
		}
		s.session = session
	}
	session.ExamType = req.ExamType
	session.Phase = req.Phase
	if req.Title != "" {
		session.Title = req.Title
	}
	session.IsStarted = true
	session.LastActiveAt = now
	session.QuestionCount = len(ordered)
	s.questions = ordered

	if serverRemaining != nil {
		s.applyServerProgressLocked(now, *serverRemaining, session.TimeLimitSeconds)
	}
	session.CurrentIndex = s.answers.FirstUnanswered(ordered)

	if err := s.repo.SetActive(ctx, key); err != nil {
		s.log.Error().Err(err).Str("attempt", key.String()).Msg("Failed to record active attempt")
	}

	s.log.Info().
		Str("attempt", key.String()).
		Str("phase", string(session.Phase)).
		Int("remaining", session.TimeRemainingSeconds).
		Bool("restored", persisted != nil).
		Msg("Exam session starting")

	interrupted := session.State == model.SessionStateTimeUp || session.State == model.SessionStateSubmitting
	if session.TimeRemainingSeconds <= 0 || interrupted {
		// Out of time, or the process died while submitting: deliver now.
		finish := s.finishLocked(model.SessionStateTimeUp)
		s.mu.Unlock()
		if _, err := finish(ctx); err != nil {
			return nil, err
		}
		return s.State()
	}

	if s.needsLockDownLocked() {
		token := s.requestPinLocked()
		s.mu.Unlock()
		s.monitor.Engage(ctx, token)
		return s.State()
	}

	s.beginRunningLocked(now)
	clone := session.Clone()
	s.mu.Unlock()
	return clone, nil
}

// checkDeviceFree enforces one active attempt per device across restarts.
func (s *ExamSessionService) checkDeviceFree(ctx context.Context, key model.AttemptKey) error {
	active, err := s.repo.GetActive(ctx)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && active == key) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read active attempt: %w", err)
	}
	other, err := s.repo.GetSession(ctx, active)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read active session: %w", err)
	}
	switch other.State {
	case model.SessionStateNotStarted, model.SessionStateSubmitted:
		return nil
	}
	return ErrSessionActive
}

// loadQuestions fetches the raw question set, falling back to the cached copy
// when the grading API is unreachable.
func (s *ExamSessionService) loadQuestions(ctx context.Context, key model.AttemptKey, examType model.ExamType) ([]model.Question, error) {
	questions, err := s.api.FetchQuestions(ctx, key.ExamID, examType)
	if err != nil {
		cached, cacheErr := s.repo.GetQuestions(ctx, key)
		if cacheErr != nil {
			s.log.Error().Err(err).Str("attempt", key.String()).Msg("Questions unavailable remotely and locally")
			return nil, fmt.Errorf("%w: %v", ErrQuestionsUnavailable, err)
		}
		s.log.Warn().Err(err).Str("attempt", key.String()).Msg("Using cached questions")
		questions = cached
	} else if err := s.repo.SaveQuestions(ctx, key, questions); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache questions")
	}

	if err := validateQuestions(questions); err != nil {
		return nil, err
	}
	return questions, nil
}

func validateQuestions(questions []model.Question) error {
	if len(questions) == 0 {
		return ErrInvalidQuestionSet
	}
	seen := make(map[string]struct{}, len(questions))
	for _, q := range questions {
		if q.ID == "" || len(q.Options) > model.MaxOptions {
			return fmt.Errorf("%w: question %q", ErrInvalidQuestionSet, q.ID)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: duplicate question %q", ErrInvalidQuestionSet, q.ID)
		}
		seen[q.ID] = struct{}{}
	}
	return nil
}

// restoreExamTimerLocked rebuilds remaining time for a persisted session. A
// session whose clock was running is measured from wall-clock time since it
// started, including one sent back to NOT_STARTED by an aborted lock-down. A
// stale heartbeat on a RUNNING session means the process died mid-exam.
func (s *ExamSessionService) restoreExamTimerLocked(now, heartbeat time.Time) {
	sess := s.session
	if sess.State != model.SessionStateRunning && !sess.ClockRunning {
		// Paused or never confirmed: the stored countdown is authoritative.
		return
	}

	sess.TimeRemainingSeconds = s.remainingAt(now)
	sess.ClockRunning = true
	if sess.State != model.SessionStateRunning {
		return
	}

	lastSeen := sess.LastActiveAt
	if heartbeat.After(lastSeen) {
		lastSeen = heartbeat
	}
	if gap := now.Sub(lastSeen); !lastSeen.IsZero() && gap > s.opts.Timings.ColdStartGap {
		s.recordViolationLocked(model.ViolationColdStart,
			fmt.Sprintf("exam resumed after %ds without activity", int(gap/time.Second)), true)
	}
}

// RestoreTimerFromServerProgress adopts the grading API's view of remaining
// time when it differs from local state.
func (s *ExamSessionService) RestoreTimerFromServerProgress(remainingSeconds, timeLimitSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return ErrNoActiveSession
	}
	s.applyServerProgressLocked(s.clock.Now(), remainingSeconds, timeLimitSeconds)
	s.persistLocked()
	return nil
}

func (s *ExamSessionService) applyServerProgressLocked(now time.Time, remaining, limit int) {
	sess := s.session
	if limit > 0 {
		sess.TimeLimitSeconds = limit
	}
	if remaining < 0 {
		remaining = 0
	}
	if remaining > sess.TimeLimitSeconds {
		remaining = sess.TimeLimitSeconds
	}
	if remaining == sess.TimeRemainingSeconds {
		return
	}

	s.log.Info().
		Int("local", sess.TimeRemainingSeconds).
		Int("server", remaining).
		Msg("Adopting server remaining time")
	sess.TimeRemainingSeconds = remaining
	sess.StartedAt = now.Add(-time.Duration(sess.TimeLimitSeconds-remaining) * time.Second)
}

// Resume continues a PAUSED session, re-engaging lock-down when required.
func (s *ExamSessionService) Resume(ctx context.Context) (*model.ExamSession, error) {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	if s.session.State != model.SessionStatePaused {
		s.mu.Unlock()
		return nil, ErrNotRunning
	}

	if s.needsLockDownLocked() {
		token := s.requestPinLocked()
		s.mu.Unlock()
		s.monitor.Engage(ctx, token)
		return s.State()
	}

	s.beginRunningLocked(s.clock.Now())
	clone := s.session.Clone()
	s.mu.Unlock()
	return clone, nil
}

func (s *ExamSessionService) needsLockDownLocked() bool {
	return s.opts.RequireLockDown && s.session.Phase == model.PhaseAcademic
}

// requestPinLocked moves to PIN_REQUESTED and returns the token the monitor
// must present back.
func (s *ExamSessionService) requestPinLocked() uint64 {
	s.sched.Reset()
	s.lockToken++
	s.transitionLocked(model.SessionStatePinRequested)
	return s.lockToken
}

// beginRunningLocked starts the countdown from the current remaining time.
func (s *ExamSessionService) beginRunningLocked(now time.Time) {
	sess := s.session
	sess.StartedAt = now.Add(-time.Duration(sess.TimeLimitSeconds-sess.TimeRemainingSeconds) * time.Second)
	sess.IsStarted = true
	sess.IsPaused = false
	sess.ClockRunning = true
	sess.LastActiveAt = now
	s.lastTick = now

	s.sched.Reset()
	s.sched.Every(s.opts.Timings.Tick, s.onTick)
	s.sched.Every(s.opts.Timings.SnapshotInterval, s.onSnapshot)
	s.sched.Every(s.opts.Timings.CheckpointInterval, s.onCheckpoint)

	if q, ok := s.currentQuestionLocked(); ok {
		s.answers.MarkViewed(q.ID)
	}
	if err := s.repo.SaveHeartbeat(context.Background(), sess.Key(), now); err != nil {
		s.log.Warn().Err(err).Msg("Failed to write heartbeat")
	}
	s.transitionLocked(model.SessionStateRunning)
}

func (s *ExamSessionService) onTick(epoch uint64) {
	s.mu.Lock()
	if !s.sched.Valid(epoch) || s.session == nil || s.session.State != model.SessionStateRunning {
		s.mu.Unlock()
		return
	}
	sess := s.session
	now := s.clock.Now()

	if gap := now.Sub(s.lastTick); gap > s.opts.Timings.ColdStartGap {
		s.recordViolationLocked(model.ViolationColdStart,
			fmt.Sprintf("no activity observed for %ds", int(gap/time.Second)), true)
		s.persistLocked()
	}
	s.lastTick = now
	sess.LastActiveAt = now
	sess.TimeRemainingSeconds = s.remainingAt(now)

	if err := s.repo.SaveHeartbeat(context.Background(), sess.Key(), now); err != nil {
		s.log.Warn().Err(err).Msg("Failed to write heartbeat")
	}

	if sess.TimeRemainingSeconds <= 0 {
		finish := s.finishLocked(model.SessionStateTimeUp)
		s.mu.Unlock()
		_, _ = finish(context.Background())
		return
	}

	s.publishLocked(model.EventTick, "")
	s.mu.Unlock()
}

func (s *ExamSessionService) onSnapshot(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sched.Valid(epoch) || s.session == nil || s.session.State != model.SessionStateRunning {
		return
	}
	s.session.TimeRemainingSeconds = s.remainingAt(s.clock.Now())
	s.persistLocked()
}

func (s *ExamSessionService) onCheckpoint(epoch uint64) {
	s.mu.Lock()
	if !s.sched.Valid(epoch) || s.session == nil || s.session.State != model.SessionStateRunning {
		s.mu.Unlock()
		return
	}
	s.session.TimeRemainingSeconds = s.remainingAt(s.clock.Now())
	s.persistLocked()
	s.mu.Unlock()

	if err := s.answers.Flush(context.Background()); err != nil {
		s.log.Warn().Err(err).Msg("Progress checkpoint failed")
	}
}

// remainingAt is the countdown by subtraction: limit minus whole seconds
// elapsed since StartedAt, never negative.
func (s *ExamSessionService) remainingAt(now time.Time) int {
	elapsed := int(now.Sub(s.session.StartedAt) / time.Second)
	remaining := s.session.TimeLimitSeconds - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SetAnswer records a selection on the running attempt and schedules
// auto-advance when the answered question is the one on screen.
func (s *ExamSessionService) SetAnswer(questionID, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRunningLocked(); err != nil {
		return err
	}
	idx := s.indexOfLocked(questionID)
	if idx < 0 {
		return ErrUnknownQuestion
	}

	now := s.clock.Now()
	s.session.LastActiveAt = now
	changed := s.answers.Set(questionID, value, s.remainingAt(now))

	if changed && idx == s.session.CurrentIndex && idx < len(s.questions)-1 {
		s.sched.After(s.opts.Timings.AutoAdvance, s.onAutoAdvance(idx))
	}
	return nil
}

// onAutoAdvance moves on from the question answered at index from, unless
// the candidate navigated away in the meantime.
func (s *ExamSessionService) onAutoAdvance(from int) func(uint64) {
	return func(epoch uint64) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.sched.Valid(epoch) || s.session == nil || s.session.State != model.SessionStateRunning {
			return
		}
		if s.session.CurrentIndex != from {
			return
		}
		if next, ok := s.answers.NextUnanswered(s.questions, from); ok {
			s.moveLocked(next)
		}
	}
}

// GoTo moves to a question index.
func (s *ExamSessionService) GoTo(index int) (*model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRunningLocked(); err != nil {
		return nil, err
	}
	if index < 0 || index >= len(s.questions) {
		return nil, ErrIndexOutOfRange
	}
	s.moveLocked(index)
	return s.session.Clone(), nil
}

// NextQuestion moves forward one question; a no-op on the last question.
func (s *ExamSessionService) NextQuestion() (*model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRunningLocked(); err != nil {
		return nil, err
	}
	if s.session.CurrentIndex < len(s.questions)-1 {
		s.moveLocked(s.session.CurrentIndex + 1)
	}
	return s.session.Clone(), nil
}

// PreviousQuestion moves back one question; a no-op on the first question.
func (s *ExamSessionService) PreviousQuestion() (*model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireRunningLocked(); err != nil {
		return nil, err
	}
	if s.session.CurrentIndex > 0 {
		s.moveLocked(s.session.CurrentIndex - 1)
	}
	return s.session.Clone(), nil
}

func (s *ExamSessionService) moveLocked(index int) {
	s.session.CurrentIndex = index
	s.answers.MarkViewed(s.questions[index].ID)
	s.publishLocked(model.EventNavigated, "")
}

// OnAppBackground records an app switch. Every switch while running costs one penalty.
func (s *ExamSessionService) OnAppBackground() {
	s.mu.Lock()
	if s.session == nil || s.session.State != model.SessionStateRunning {
		s.mu.Unlock()
		return
	}
	s.session.TimeRemainingSeconds = s.remainingAt(s.clock.Now())
	s.recordViolationLocked(model.ViolationAppSwitch, "application moved to background", true)
	s.persistLocked()
	s.mu.Unlock()

	if err := s.answers.Flush(context.Background()); err != nil {
		s.log.Warn().Err(err).Msg("Answer flush on background failed")
	}
}

// OnAppForeground re-syncs the countdown after the app returns. The absence
// was already reported, so it does not count as a cold start.
func (s *ExamSessionService) OnAppForeground() {
	s.mu.Lock()
	if s.session == nil || s.session.State != model.SessionStateRunning {
		s.mu.Unlock()
		return
	}
	now := s.clock.Now()
	s.lastTick = now
	s.session.LastActiveAt = now
	s.session.TimeRemainingSeconds = s.remainingAt(now)

	if s.session.TimeRemainingSeconds <= 0 {
		finish := s.finishLocked(model.SessionStateTimeUp)
		s.mu.Unlock()
		_, _ = finish(context.Background())
		return
	}
	s.publishLocked(model.EventTick, "")
	s.mu.Unlock()
}

// Submit hands the attempt to the submission pipeline. Allowed from RUNNING
// and PAUSED.
func (s *ExamSessionService) Submit(ctx context.Context) (SubmitOutcome, error) {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return SubmitOutcome{}, ErrNoActiveSession
	}
	switch s.session.State {
	case model.SessionStateRunning, model.SessionStatePaused:
	default:
		s.mu.Unlock()
		return SubmitOutcome{}, ErrNotRunning
	}
	finish := s.finishLocked(model.SessionStateSubmitting)
	s.mu.Unlock()
	return finish(ctx)
}

// finishLocked stops all periodic work and moves to state (TIME_UP or
// SUBMITTING). The returned func performs the submission and must be called
// after mu is released.
func (s *ExamSessionService) finishLocked(state model.SessionState) func(context.Context) (SubmitOutcome, error) {
	sess := s.session
	if sess.State == model.SessionStateRunning {
		sess.TimeRemainingSeconds = s.remainingAt(s.clock.Now())
	}
	s.sched.Reset()
	s.monitor.Stop()
	sess.IsPaused = false
	sess.ClockRunning = false
	s.transitionLocked(state)
	if state == model.SessionStateTimeUp {
		s.publishLocked(model.EventTimeUp, "")
	}

	snapshot := sess.Clone()
	questions := s.questions

	return func(ctx context.Context) (SubmitOutcome, error) {
		return s.deliver(ctx, snapshot, questions)
	}
}

// deliver assembles and sends the answer sheet, then clears the local
// attempt. If the sheet could neither be sent nor queued, local state is
// kept so nothing is lost.
func (s *ExamSessionService) deliver(ctx context.Context, sess *model.ExamSession, questions []model.Question) (SubmitOutcome, error) {
	key := sess.Key()
	if err := s.answers.Flush(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Answer flush before submit failed")
	}

	var prior []model.SubmittedAnswer
	if sess.Phase == model.PhaseAcademic {
		var err error
		prior, err = s.repo.GetPhaseAnswers(ctx, sess.ExamRefNo)
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to read personality answers")
		}
	}

	completedAt := s.clock.Now()
	payload := AssemblePayload(sess, questions, s.answers.Snapshot(), prior, s.opts.DeviceID, completedAt)
	outcome, err := s.pipeline.Submit(ctx, payload, QueueMetaFor(sess, len(payload.Answers)))
	if err != nil {
		s.holdUndelivered(key)
		return outcome, err
	}

	if err := s.repo.Clear(ctx, key); err != nil {
		s.log.Error().Err(err).Str("attempt", key.String()).Msg("Failed to clear local attempt state")
	}
	if len(prior) > 0 {
		if err := s.repo.ClearPhaseAnswers(ctx, sess.ExamRefNo); err != nil {
			s.log.Warn().Err(err).Msg("Failed to clear personality answers")
		}
	}
	s.answers.Clear()
	if outcome.Submitted {
		s.tasks.Go("clear_progress", func(ctx context.Context) error {
			return s.api.ClearProgress(ctx, key.ExamRefNo)
		})
	}
	if err := s.monitor.Release(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to release lock-down")
	}

	s.mu.Lock()
	if s.session != nil && s.session.Key() == key {
		s.transitionLocked(model.SessionStateSubmitted)
		if outcome.QueueEntry != nil {
			s.publishLocked(model.EventQueued, outcome.QueueEntry.AttemptID)
		} else {
			s.publishLocked(model.EventSubmitted, "")
		}
	}
	s.mu.Unlock()
	return outcome, nil
}

// holdUndelivered parks an attempt that could be neither sent nor queued in
// PAUSED, so Submit accepts it again. Answers and seed stay in place.
func (s *ExamSessionService) holdUndelivered(key model.AttemptKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.session.Key() != key {
		return
	}
	switch s.session.State {
	case model.SessionStateTimeUp, model.SessionStateSubmitting:
	default:
		return
	}
	s.log.Error().
		Str("attempt", key.String()).
		Int("remaining", s.session.TimeRemainingSeconds).
		Msg("Attempt neither submitted nor queued, holding it for retry")
	s.session.IsPaused = true
	s.transitionLocked(model.SessionStatePaused)
	s.publishLocked(model.EventPaused, "submission_not_saved")
}

// CompletePersonalityPhase ends the personality sub-test. Its answer sheet is
// stashed under the reference number and sent ahead of the academic answers.
func (s *ExamSessionService) CompletePersonalityPhase(ctx context.Context) (*model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, ErrNoActiveSession
	}
	if s.session.Phase != model.PhasePersonality {
		return nil, ErrWrongPhase
	}
	switch s.session.State {
	case model.SessionStateRunning, model.SessionStatePaused:
	default:
		return nil, ErrNotRunning
	}

	sess := s.session
	wasRunning := sess.State == model.SessionStateRunning
	if wasRunning {
		sess.TimeRemainingSeconds = s.remainingAt(s.clock.Now())
	}
	s.sched.Reset()
	if err := s.answers.Flush(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Answer flush before phase completion failed")
	}

	sheet := AssemblePayload(sess, s.questions, s.answers.Snapshot(), nil, s.opts.DeviceID, s.clock.Now()).Answers
	if err := s.repo.SavePhaseAnswers(ctx, sess.ExamRefNo, sheet); err != nil {
		// Keep the session so the candidate can retry instead of losing the phase.
		if wasRunning {
			s.beginRunningLocked(s.clock.Now())
		}
		return nil, fmt.Errorf("stash personality answers: %w", err)
	}
	if err := s.repo.Clear(ctx, sess.Key()); err != nil {
		s.log.Error().Err(err).Msg("Failed to clear personality attempt state")
	}
	s.answers.Clear()

	sess.IsPaused = false
	s.transitionLocked(model.SessionStateSubmitted)
	s.publishLocked(model.EventSubmitted, "personality_complete")
	s.log.Info().Str("exam_ref_no", sess.ExamRefNo).Int("answers", len(sheet)).Msg("Personality phase completed")
	return sess.Clone(), nil
}

// Cancel abandons the active attempt: seed, progress and session are
// cleared locally and remotely, and lock-down is released.
func (s *ExamSessionService) Cancel(ctx context.Context) error {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return ErrNoActiveSession
	}
	sess := s.session
	key := sess.Key()

	s.sched.Reset()
	s.monitor.Stop()
	s.answers.Discard()
	s.answers.Clear()

	if err := s.repo.Clear(ctx, key); err != nil {
		s.log.Error().Err(err).Str("attempt", key.String()).Msg("Failed to clear cancelled attempt")
	}
	if err := s.repo.ClearPhaseAnswers(ctx, key.ExamRefNo); err != nil {
		s.log.Warn().Err(err).Msg("Failed to clear personality answers")
	}
	s.tasks.Go("clear_progress", func(ctx context.Context) error {
		return s.api.ClearProgress(ctx, key.ExamRefNo)
	})
	s.tasks.Go("notify_stopped", func(ctx context.Context) error {
		return s.api.NotifyStopped(ctx, key.ExamID)
	})

	s.publishLocked(model.EventState, "cancelled")
	s.session = nil
	s.questions = nil
	s.mu.Unlock()

	s.log.Warn().Str("attempt", key.String()).Msg("Exam attempt cancelled")
	if err := s.monitor.Release(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to release lock-down")
	}
	return nil
}

// Resumable returns the device's unfinished attempt, if any, so the shell
// can offer to continue it after a restart.
func (s *ExamSessionService) Resumable(ctx context.Context) (*model.ExamSession, error) {
	s.mu.Lock()
	if s.occupiedLocked() {
		clone := s.session.Clone()
		s.mu.Unlock()
		return clone, nil
	}
	s.mu.Unlock()

	key, err := s.repo.GetActive(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sess, err := s.repo.GetSession(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sess.State == model.SessionStateSubmitted {
		return nil, nil
	}
	return sess, nil
}

// Shutdown persists the live attempt and stops its timers without changing
// its state, so the next start restores it from wall-clock time.
func (s *ExamSessionService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if s.session != nil && s.session.State == model.SessionStateRunning {
		s.session.TimeRemainingSeconds = s.remainingAt(s.clock.Now())
		s.persistLocked()
	}
	s.sched.Reset()
	s.monitor.Stop()
	s.mu.Unlock()

	if err := s.answers.Flush(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Answer flush on shutdown failed")
	}
}

// State returns a copy of the active session.
func (s *ExamSessionService) State() (*model.ExamSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, ErrNoActiveSession
	}
	return s.session.Clone(), nil
}

// Questions returns the ordered question set and the answers recorded so far.
func (s *ExamSessionService) Questions() ([]model.Question, map[string]model.AnswerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.questions == nil {
		return nil, nil, ErrNoActiveSession
	}
	out := make([]model.Question, len(s.questions))
	copy(out, s.questions)
	return out, s.answers.Snapshot(), nil
}

// LockConfirmed starts the countdown once lock-down holds.
func (s *ExamSessionService) LockConfirmed(token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pinPendingLocked(token) {
		return
	}
	s.beginRunningLocked(s.clock.Now())
}

// LockAborted returns to NOT_STARTED. An explicit decline is penalised. A
// restored attempt whose clock was running keeps ClockRunning, so the time
// until the next StartExam is still charged.
func (s *ExamSessionService) LockAborted(token uint64, declined bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pinPendingLocked(token) {
		return
	}
	reason := "timeout"
	if declined {
		reason = "declined"
		s.recordViolationLocked(model.ViolationLockDownDeclined, "candidate declined lock-down", true)
	}
	s.sched.Reset()
	s.session.IsStarted = false
	s.transitionLocked(model.SessionStateNotStarted)
	s.publishLocked(model.EventLockDownAborted, reason)
}

// LockLost pauses the attempt after recovery failed. The attempt stays
// resumable: seed and progress are kept.
func (s *ExamSessionService) LockLost(token uint64) {
	s.mu.Lock()
	if token != s.lockToken || s.session == nil || s.session.State != model.SessionStateRunning {
		s.mu.Unlock()
		return
	}
	sess := s.session
	sess.TimeRemainingSeconds = s.remainingAt(s.clock.Now())
	s.sched.Reset()
	s.recordViolationLocked(model.ViolationPinLost, "lock-down lost and not recovered", false)
	if err := s.answers.Flush(context.Background()); err != nil {
		s.log.Warn().Err(err).Msg("Answer flush on pause failed")
	}
	sess.IsPaused = true
	sess.ClockRunning = false
	s.transitionLocked(model.SessionStatePaused)
	s.publishLocked(model.EventPaused, "lockdown_lost")

	examID := sess.ExamID
	s.tasks.Go("notify_stopped", func(ctx context.Context) error {
		return s.api.NotifyStopped(ctx, examID)
	})
	s.mu.Unlock()
}

// LockRecovered is informational: a recovered lock-down is not a violation.
func (s *ExamSessionService) LockRecovered(token uint64) {
	s.log.Info().Uint64("token", token).Msg("Lock-down recovered without penalty")
}

func (s *ExamSessionService) pinPendingLocked(token uint64) bool {
	return token == s.lockToken && s.session != nil && s.session.State == model.SessionStatePinRequested
}

// Subscribe registers an event listener. Slow listeners miss events rather
// than block the state machine.
func (s *ExamSessionService) Subscribe() (<-chan model.SessionEvent, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan model.SessionEvent, 32)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

func (s *ExamSessionService) publishLocked(t model.EventType, reason string) {
	sess := s.session
	evt := model.SessionEvent{
		Type:                 t,
		State:                sess.State,
		Phase:                sess.Phase,
		TimeRemainingSeconds: sess.TimeRemainingSeconds,
		CurrentIndex:         sess.CurrentIndex,
		PenaltiesApplied:     sess.PenaltiesApplied,
		Reason:               reason,
	}
	if t == model.EventViolation && len(sess.SecurityViolations) > 0 {
		v := sess.SecurityViolations[len(sess.SecurityViolations)-1]
		evt.Violation = &v
	}
	if t == model.EventQueued {
		evt.QueueEntryID = reason
		evt.Reason = ""
	}
	s.broadcast(evt)
}

func (s *ExamSessionService) broadcast(evt model.SessionEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (s *ExamSessionService) transitionLocked(state model.SessionState) {
	prev := s.session.State
	s.session.State = state
	s.persistLocked()
	metrics.SessionTransitions.WithLabelValues(string(state)).Inc()
	s.log.Info().
		Str("attempt", s.session.Key().String()).
		Str("from", string(prev)).
		Str("to", string(state)).
		Int("remaining", s.session.TimeRemainingSeconds).
		Msg("Session state changed")
	s.publishLocked(model.EventState, "")
}

func (s *ExamSessionService) recordViolationLocked(t model.ViolationType, msg string, penalize bool) {
	v := model.SecurityViolation{Type: t, Message: msg, Timestamp: s.clock.Now()}
	s.session.SecurityViolations = append(s.session.SecurityViolations, v)
	if penalize {
		s.session.PenaltiesApplied++
	}
	metrics.Violations.WithLabelValues(string(t)).Inc()
	s.log.Warn().
		Str("attempt", s.session.Key().String()).
		Str("type", string(t)).
		Bool("penalized", penalize).
		Int("penalties", s.session.PenaltiesApplied).
		Msg("Security violation recorded")
	s.publishLocked(model.EventViolation, "")
}

func (s *ExamSessionService) persistLocked() {
	if err := s.repo.SaveSession(context.Background(), s.session); err != nil {
		s.log.Error().Err(err).Str("attempt", s.session.Key().String()).Msg("Failed to persist session snapshot")
	}
}

func (s *ExamSessionService) occupiedLocked() bool {
	if s.session == nil {
		return false
	}
	switch s.session.State {
	case model.SessionStateNotStarted, model.SessionStateSubmitted:
		return false
	}
	return true
}

func (s *ExamSessionService) requireRunningLocked() error {
	if s.session == nil {
		return ErrNoActiveSession
	}
	if s.session.State != model.SessionStateRunning {
		return ErrNotRunning
	}
	return nil
}

func (s *ExamSessionService) indexOfLocked(questionID string) int {
	for i, q := range s.questions {
		if q.ID == questionID {
			return i
		}
	}
	return -1
}

func (s *ExamSessionService) currentQuestionLocked() (model.Question, bool) {
	if s.session.CurrentIndex < 0 || s.session.CurrentIndex >= len(s.questions) {
		return model.Question{}, false
	}
	return s.questions[s.session.CurrentIndex], true
}
