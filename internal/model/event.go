package model

// EventType names a state-machine notification pushed to the UI shell.
type EventType string

const (
	EventState           EventType = "state"
	EventTick            EventType = "tick"
	EventViolation       EventType = "violation"
	EventPaused          EventType = "paused"
	EventLockDownAborted EventType = "lockdown_aborted"
	EventTimeUp          EventType = "time_up"
	EventSubmitted       EventType = "submitted"
	EventQueued          EventType = "queued"
	EventNavigated       EventType = "navigated"
)

// SessionEvent is a notification emitted by the exam session state machine.
type SessionEvent struct {
	Type                 EventType          `json:"event"`
	State                SessionState       `json:"state"`
	Phase                Phase              `json:"phase,omitempty"`
	TimeRemainingSeconds int                `json:"time_remaining_seconds"`
	CurrentIndex         int                `json:"current_index"`
	PenaltiesApplied     int                `json:"penalties_applied"`
	Violation            *SecurityViolation `json:"violation,omitempty"`
	Reason               string             `json:"reason,omitempty"`
	QueueEntryID         string             `json:"queue_entry_id,omitempty"`
}
