package websocket

import "github.com/stemsi/exstem-proctor/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer Action = "answer"
	ActionPing   Action = "ping"
)

// RequestPayload is the single shape accepted from the shell.
type RequestPayload struct {
	Action     Action `json:"action"`
	QuestionID string `json:"question_id,omitempty"`
	Answer     string `json:"answer,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventSuccess Event = "success"
	EventPong    Event = "pong"
	EventSession Event = "session"
)

type AnswerResponse struct {
	Event      Event  `json:"event"`
	QuestionID string `json:"question_id"`
	Status     string `json:"status"`
}

// SessionEventResponse forwards a state-machine notification to the shell.
type SessionEventResponse struct {
	Event   Event              `json:"event"`
	Payload model.SessionEvent `json:"payload"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
