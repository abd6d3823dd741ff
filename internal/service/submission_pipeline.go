package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// SubmitOutcome describes how a final answer sheet left the device.
type SubmitOutcome struct {
	Submitted  bool                        `json:"submitted"`
	Attempts   int                         `json:"attempts"`
	QueueEntry *model.SubmissionQueueEntry `json:"queue_entry,omitempty"`
	LastError  string                      `json:"last_error,omitempty"`
}

// SubmissionPipeline delivers a final answer sheet, falling back to the
// offline queue once its online attempts are exhausted.
type SubmissionPipeline struct {
	api      GradingAPI
	queue    *OfflineQueue
	attempts int
	backoff  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	log      zerolog.Logger
}

// NewSubmissionPipeline creates a new SubmissionPipeline.
func NewSubmissionPipeline(api GradingAPI, queue *OfflineQueue, attempts int, backoff time.Duration, log zerolog.Logger) *SubmissionPipeline {
	if attempts < 1 {
		attempts = 1
	}
	return &SubmissionPipeline{
		api:      api,
		queue:    queue,
		attempts: attempts,
		backoff:  backoff,
		sleep:    sleepContext,
		log:      log.With().Str("component", "submission").Logger(),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Submit tries the grading API with linear backoff (backoff x attempt after
// each failure) and enqueues the payload when every attempt failed. An error
// is returned only when the payload could be neither sent nor queued.
func (p *SubmissionPipeline) Submit(ctx context.Context, payload model.SubmissionPayload, meta model.QueueMeta) (SubmitOutcome, error) {
	var lastErr error
	outcome := SubmitOutcome{}

	for attempt := 1; attempt <= p.attempts; attempt++ {
		outcome.Attempts = attempt
		lastErr = p.api.Submit(ctx, payload)
		if lastErr == nil {
			metrics.Submissions.WithLabelValues("online", "success").Inc()
			p.log.Info().
				Str("exam_ref_no", payload.ExamRefNo).
				Int("attempt", attempt).
				Msg("Submission accepted")
			outcome.Submitted = true
			return outcome, nil
		}

		metrics.Submissions.WithLabelValues("online", "failure").Inc()
		p.log.Warn().Err(lastErr).
			Str("exam_ref_no", payload.ExamRefNo).
			Int("attempt", attempt).
			Msg("Submission attempt failed")

		if err := p.sleep(ctx, p.backoff*time.Duration(attempt)); err != nil {
			break
		}
	}

	outcome.LastError = lastErr.Error()

	// The attempt must survive even if the caller's context is gone.
	entry, err := p.queue.Enqueue(context.WithoutCancel(ctx), payload, meta)
	if err != nil {
		p.log.Error().Err(err).
			Str("exam_ref_no", payload.ExamRefNo).
			Msg("CRITICAL: could not queue submission")
		return outcome, fmt.Errorf("queue submission: %w", err)
	}
	outcome.QueueEntry = entry
	return outcome, nil
}

// AssemblePayload builds the final answer sheet: one record per question of
// the attempt, unanswered ones carrying a null selection. Answers of an
// earlier, separately completed phase are placed first.
func AssemblePayload(
	session *model.ExamSession,
	questions []model.Question,
	answers map[string]model.AnswerRecord,
	priorPhase []model.SubmittedAnswer,
	deviceID string,
	completedAt time.Time,
) model.SubmissionPayload {
	sheet := make([]model.SubmittedAnswer, 0, len(priorPhase)+len(questions))
	sheet = append(sheet, priorPhase...)
	for _, q := range questions {
		rec := answers[q.ID]
		sheet = append(sheet, model.SubmittedAnswer{
			QuestionID:       q.ID,
			SelectedAnswer:   rec.SelectedAnswer,
			TimeSpentSeconds: rec.TimeSpentSeconds,
			StartTime:        rec.StartTime,
			EndTime:          rec.EndTime,
			Phase:            session.Phase,
		})
	}

	violations := session.SecurityViolations
	if violations == nil {
		violations = []model.SecurityViolation{}
	}

	payload := model.SubmissionPayload{
		ExamRefNo:          session.ExamRefNo,
		ExamType:           session.ExamType,
		Answers:            sheet,
		TimeTaken:          session.TimeTakenSeconds(),
		PenaltiesApplied:   session.PenaltiesApplied,
		SecurityViolations: violations,
		DeviceID:           deviceID,
		CompletedAt:        completedAt,
	}
	if session.ExamType == model.ExamTypeDepartmental {
		payload.DepartmentExamID = session.ExamID
	} else {
		payload.ExamID = session.ExamID
	}
	return payload
}

// QueueMetaFor summarises an attempt for the queue screen.
func QueueMetaFor(session *model.ExamSession, questionCount int) model.QueueMeta {
	return model.QueueMeta{
		ExamTitle:        session.Title,
		ExamRefNo:        session.ExamRefNo,
		QuestionCount:    questionCount,
		TimeTakenSeconds: session.TimeTakenSeconds(),
	}
}
