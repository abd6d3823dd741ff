package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// ExamHandler exposes the exam session state machine to the presentation shell.
type ExamHandler struct {
	engine *service.ExamSessionService
	auth   *service.AuthService
	log    zerolog.Logger
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(engine *service.ExamSessionService, auth *service.AuthService, log zerolog.Logger) *ExamHandler {
	return &ExamHandler{
		engine: engine,
		auth:   auth,
		log:    log.With().Str("component", "exam_handler").Logger(),
	}
}

type questionView struct {
	model.Question
	Answer *string `json:"answer"`
}

// StartExam godoc
// POST /api/v1/exam/start
// Starts a new attempt or re-enters the persisted one for the same exam.
func (h *ExamHandler) StartExam(c *gin.Context) {
	var req model.StartExamRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.engine.StartExam(c.Request.Context(), req)
	if err != nil {
		h.log.Warn().Err(err).Str("exam_id", req.ExamID).Msg("Start exam failed")
		failFromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// GetState godoc
// GET /api/v1/exam/state
func (h *ExamHandler) GetState(c *gin.Context) {
	session, err := h.engine.State()
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// GetQuestions godoc
// GET /api/v1/exam/questions
// Returns the attempt's question order with the answers selected so far.
func (h *ExamHandler) GetQuestions(c *gin.Context) {
	questions, answers, err := h.engine.Questions()
	if err != nil {
		failFromError(c, err)
		return
	}

	views := make([]questionView, len(questions))
	for i, q := range questions {
		views[i] = questionView{Question: q, Answer: answers[q.ID].SelectedAnswer}
	}
	response.Success(c, http.StatusOK, gin.H{"questions": views})
}

// GetResumable godoc
// GET /api/v1/exam/resumable
// Reports an unfinished attempt left on the device, e.g. after a crash.
func (h *ExamHandler) GetResumable(c *gin.Context) {
	session, err := h.engine.Resumable(c.Request.Context())
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// SetAnswer godoc
// POST /api/v1/exam/answers
func (h *ExamHandler) SetAnswer(c *gin.Context) {
	var req model.SetAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.engine.SetAnswer(req.QuestionID, req.Answer); err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// NextQuestion godoc
// POST /api/v1/exam/next
func (h *ExamHandler) NextQuestion(c *gin.Context) {
	h.navigate(c, h.engine.NextQuestion)
}

// PreviousQuestion godoc
// POST /api/v1/exam/previous
func (h *ExamHandler) PreviousQuestion(c *gin.Context) {
	h.navigate(c, h.engine.PreviousQuestion)
}

// GoTo godoc
// POST /api/v1/exam/goto
func (h *ExamHandler) GoTo(c *gin.Context) {
	var req model.GoToRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	h.navigate(c, func() (*model.ExamSession, error) {
		return h.engine.GoTo(*req.Index)
	})
}

func (h *ExamHandler) navigate(c *gin.Context, move func() (*model.ExamSession, error)) {
	session, err := move()
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// Submit godoc
// POST /api/v1/exam/submit
// Sends the answer sheet, falling back to the offline queue. 200 either way;
// the outcome says which.
func (h *ExamHandler) Submit(c *gin.Context) {
	outcome, err := h.engine.Submit(c.Request.Context())
	if err != nil {
		if outcome.Attempts > 0 {
			// Neither sent nor queued: the attempt stays on the device.
			h.log.Error().Err(err).Msg("Submission could not be sent or queued")
			response.Fail(c, http.StatusInternalServerError, response.ErrSubmissionNotSaved)
			return
		}
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"outcome": outcome})
}

// Resume godoc
// POST /api/v1/exam/resume
// Continues a PAUSED attempt after lock-down was lost.
func (h *ExamHandler) Resume(c *gin.Context) {
	session, err := h.engine.Resume(c.Request.Context())
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// Lifecycle godoc
// POST /api/v1/exam/lifecycle
// Reports the app moving to the background or back to the foreground.
func (h *ExamHandler) Lifecycle(c *gin.Context) {
	var req model.LifecycleRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	switch req.Event {
	case validator.LifecycleBackground:
		h.engine.OnAppBackground()
	case validator.LifecycleForeground:
		h.engine.OnAppForeground()
	}

	session, err := h.engine.State()
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// CompletePhase godoc
// POST /api/v1/exam/phase/complete
// Ends the personality phase; its answers travel with the academic submission.
func (h *ExamHandler) CompletePhase(c *gin.Context) {
	session, err := h.engine.CompletePersonalityPhase(c.Request.Context())
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": session})
}

// Cancel godoc
// POST /api/v1/exam/cancel
// Abandons the attempt. Requires the proctor password.
func (h *ExamHandler) Cancel(c *gin.Context) {
	var req model.ProctorOverrideRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if err := h.auth.VerifyProctorOverride(req.Password); err != nil {
		h.log.Warn().Err(err).Msg("Rejected proctor override for cancel")
		failFromError(c, err)
		return
	}

	if err := h.engine.Cancel(c.Request.Context()); err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "cancelled"})
}
