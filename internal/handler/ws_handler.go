package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams session events to the shell and accepts answers over
// the same socket.
type WSHandler struct {
	engine   *service.ExamSessionService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(engine *service.ExamSessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		engine:   engine,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// ExamStream godoc
// WS /ws/v1/exam/stream
// Pushes every state-machine event; accepts "answer" and "ping" actions.
func (h *WSHandler) ExamStream(c *gin.Context) {
	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	events, unsubscribe := h.engine.Subscribe()
	defer unsubscribe()

	h.log.Info().Msg("Shell connected")

	// Start from the current state so a reconnecting shell needs no extra call.
	if session, err := h.engine.State(); err == nil {
		_ = conn.WriteTyped(ws.SessionEventResponse{
			Event: ws.EventSession,
			Payload: model.SessionEvent{
				Type:                 model.EventState,
				State:                session.State,
				Phase:                session.Phase,
				TimeRemainingSeconds: session.TimeRemainingSeconds,
				CurrentIndex:         session.CurrentIndex,
				PenaltiesApplied:     session.PenaltiesApplied,
			},
		})
	}

	go func() {
		for evt := range events {
			if err := conn.WriteTyped(ws.SessionEventResponse{Event: ws.EventSession, Payload: evt}); err != nil {
				h.log.Debug().Err(err).Msg("Event write failed")
				return
			}
		}
	}()

	for {
		var msg ws.RequestPayload
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				h.log.Debug().Msg("Connection closed")
			}
			return
		}

		switch msg.Action {
		case ws.ActionAnswer:
			h.handleAnswer(conn, &msg)
		case ws.ActionPing:
			_ = conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		default:
			h.log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			_ = conn.WriteError("unknown action: " + string(msg.Action))
		}
	}
}

func (h *WSHandler) handleAnswer(conn *ws.Conn, msg *ws.RequestPayload) {
	if msg.QuestionID == "" || msg.Answer == "" {
		_ = conn.WriteError("question_id and answer are required")
		return
	}
	if err := h.engine.SetAnswer(msg.QuestionID, msg.Answer); err != nil {
		_ = conn.WriteError(err.Error())
		return
	}
	_ = conn.WriteTyped(ws.AnswerResponse{
		Event:      ws.EventSuccess,
		QuestionID: msg.QuestionID,
		Status:     "saved",
	})
}
