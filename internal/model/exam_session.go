package model

import (
	"time"
)

// SessionState enumerates the exam session state machine.
type SessionState string

const (
	SessionStateNotStarted   SessionState = "NOT_STARTED"
	SessionStatePinRequested SessionState = "PIN_REQUESTED"
	SessionStateRunning      SessionState = "RUNNING"
	SessionStatePaused       SessionState = "PAUSED"
	SessionStateTimeUp       SessionState = "TIME_UP"
	SessionStateSubmitting   SessionState = "SUBMITTING"
	SessionStateSubmitted    SessionState = "SUBMITTED"
)

// ViolationType classifies security violations.
type ViolationType string

const (
	ViolationAppSwitch        ViolationType = "app_switch"
	ViolationColdStart        ViolationType = "cold_start"
	ViolationLockDownDeclined ViolationType = "lockdown_declined"
	ViolationPinLost          ViolationType = "pin_lost"
)

// SecurityViolation is an immutable log entry.
type SecurityViolation struct {
	Type      ViolationType `json:"type"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}

// ExamSession represents the live attempt on this device.
type ExamSession struct {
	ExamID               string              `json:"exam_id"`
	ExamRefNo            string              `json:"exam_ref_no"`
	ExamType             ExamType            `json:"exam_type"`
	Phase                Phase               `json:"phase"`
	Title                string              `json:"title,omitempty"`
	State                SessionState        `json:"state"`
	TimeLimitSeconds     int                 `json:"time_limit_seconds"`
	TimeRemainingSeconds int                 `json:"time_remaining_seconds"`
	StartedAt            time.Time           `json:"started_at"`
	LastActiveAt         time.Time           `json:"last_active_at"`
	IsStarted            bool                `json:"is_started"`
	IsPaused             bool                `json:"is_paused"`
	PenaltiesApplied     int                 `json:"penalties_applied"`
	SecurityViolations   []SecurityViolation `json:"security_violations"`
	CurrentIndex         int                 `json:"current_index"`
	QuestionCount        int                 `json:"question_count"`

	// ClockRunning marks a countdown measured from StartedAt. It survives an
	// aborted lock-down re-engagement, so the attempt keeps losing time.
	ClockRunning bool `json:"clock_running,omitempty"`
}

// Key returns the attempt identity of the session.
func (s *ExamSession) Key() AttemptKey {
	return AttemptKey{ExamRefNo: s.ExamRefNo, ExamID: s.ExamID}
}

// Clone returns a deep copy safe to hand to readers outside the state machine.
func (s *ExamSession) Clone() *ExamSession {
	if s == nil {
		return nil
	}
	c := *s
	c.SecurityViolations = append([]SecurityViolation(nil), s.SecurityViolations...)
	return &c
}

// TimeTakenSeconds is the part of the time limit already consumed.
func (s *ExamSession) TimeTakenSeconds() int {
	taken := s.TimeLimitSeconds - s.TimeRemainingSeconds
	if taken < 0 {
		return 0
	}
	return taken
}
