package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

// QueueHandler manages attempts waiting in the offline submission queue.
type QueueHandler struct {
	queue *service.OfflineQueue
	auth  *service.AuthService
	log   zerolog.Logger
}

// NewQueueHandler creates a new QueueHandler.
func NewQueueHandler(queue *service.OfflineQueue, auth *service.AuthService, log zerolog.Logger) *QueueHandler {
	return &QueueHandler{
		queue: queue,
		auth:  auth,
		log:   log.With().Str("component", "queue_handler").Logger(),
	}
}

// ListQueue godoc
// GET /api/v1/queue
func (h *QueueHandler) ListQueue(c *gin.Context) {
	entries, err := h.queue.List(c.Request.Context())
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"entries": entries})
}

// SubmitAll godoc
// POST /api/v1/queue/submit
// Retries every pending entry, one at a time.
func (h *QueueHandler) SubmitAll(c *gin.Context) {
	summary, err := h.queue.SubmitAll(c.Request.Context())
	if err != nil {
		failFromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"summary": summary})
}

// SubmitOne godoc
// POST /api/v1/queue/:id/submit
func (h *QueueHandler) SubmitOne(c *gin.Context) {
	id := c.Param("id")
	if err := h.queue.SubmitOne(c.Request.Context(), id); err != nil {
		if errors.Is(err, service.ErrEntryNotFound) || errors.Is(err, service.ErrEntryBusy) {
			failFromError(c, err)
			return
		}
		// A failed send is a normal outcome: the entry is back to pending.
		h.log.Warn().Err(err).Str("attempt_id", id).Msg("Queued submission failed")
		response.Success(c, http.StatusOK, gin.H{"submitted": false, "error": err.Error()})
		return
	}
	response.Success(c, http.StatusOK, gin.H{"submitted": true})
}

// DeleteEntry godoc
// DELETE /api/v1/queue/:id
// Drops an unsent attempt for good. Requires the proctor password.
func (h *QueueHandler) DeleteEntry(c *gin.Context) {
	var req model.ProctorOverrideRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if err := h.auth.VerifyProctorOverride(req.Password); err != nil {
		h.log.Warn().Err(err).Msg("Rejected proctor override for queue delete")
		failFromError(c, err)
		return
	}

	id := c.Param("id")
	if err := h.queue.Delete(c.Request.Context(), id); err != nil {
		failFromError(c, err)
		return
	}
	h.log.Warn().Str("attempt_id", id).Msg("Queued submission deleted by proctor")
	response.Success(c, http.StatusOK, gin.H{"status": "deleted"})
}
