package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// errorMap pairs engine sentinels with their HTTP status and API code.
var errorMap = []struct {
	err    error
	status int
	code   response.ErrCode
}{
	{service.ErrMissingParameters, http.StatusBadRequest, response.ErrMissingParameters},
	{service.ErrSessionActive, http.StatusConflict, response.ErrSessionActive},
	{service.ErrNoActiveSession, http.StatusNotFound, response.ErrNoActiveSession},
	{service.ErrNotRunning, http.StatusConflict, response.ErrSessionNotRunning},
	{service.ErrUnknownQuestion, http.StatusBadRequest, response.ErrUnknownQuestion},
	{service.ErrIndexOutOfRange, http.StatusBadRequest, response.ErrIndexOutOfRange},
	{service.ErrWrongPhase, http.StatusConflict, response.ErrWrongPhase},
	{service.ErrQuestionsUnavailable, http.StatusServiceUnavailable, response.ErrQuestionsUnavailable},
	{service.ErrInvalidQuestionSet, http.StatusUnprocessableEntity, response.ErrInvalidQuestionSet},
	{service.ErrEntryNotFound, http.StatusNotFound, response.ErrQueueEntryNotFound},
	{service.ErrEntryBusy, http.StatusConflict, response.ErrQueueEntryBusy},
	{service.ErrOverrideDisabled, http.StatusForbidden, response.ErrOverrideDisabled},
	{service.ErrInvalidOverride, http.StatusForbidden, response.ErrInvalidOverride},
}

// failFromError writes the response matching a service error. Anything
// unrecognised is an internal error.
func failFromError(c *gin.Context, err error) {
	for _, m := range errorMap {
		if errors.Is(err, m.err) {
			response.Fail(c, m.status, m.code)
			return
		}
	}
	response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
}
