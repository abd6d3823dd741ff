package service

import "errors"

// Engine errors surfaced to the local API.
var (
	ErrMissingParameters    = errors.New("exam id, reference number and time limit are required")
	ErrSessionActive        = errors.New("another exam session is active on this device")
	ErrNoActiveSession      = errors.New("no active exam session")
	ErrNotRunning           = errors.New("exam session is not running")
	ErrUnknownQuestion      = errors.New("question is not part of this exam")
	ErrIndexOutOfRange      = errors.New("question index out of range")
	ErrWrongPhase           = errors.New("operation not available in this phase")
	ErrQuestionsUnavailable = errors.New("questions could not be loaded")
	ErrInvalidQuestionSet   = errors.New("question set is empty or malformed")
	ErrEntryNotFound        = errors.New("submission queue entry not found")
	ErrEntryBusy            = errors.New("submission queue entry is already being submitted")
	ErrOverrideDisabled     = errors.New("proctor override is not configured on this device")
	ErrInvalidOverride      = errors.New("invalid proctor password")
)
