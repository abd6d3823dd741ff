package model

import "time"

// SubmittedAnswer is one row of the final answer sheet. SelectedAnswer is
// serialized as null for unanswered questions so none is ever omitted.
type SubmittedAnswer struct {
	QuestionID       string     `json:"question_id"`
	SelectedAnswer   *string    `json:"selected_answer"`
	TimeSpentSeconds int        `json:"time_spent_seconds"`
	StartTime        *time.Time `json:"start_time"`
	EndTime          *time.Time `json:"end_time"`
	Phase            Phase      `json:"phase"`
}

// SubmissionPayload is the body sent to the grading API.
type SubmissionPayload struct {
	ExamID             string              `json:"exam_id,omitempty"`
	DepartmentExamID   string              `json:"department_exam_id,omitempty"`
	ExamRefNo          string              `json:"exam_ref_no"`
	ExamType           ExamType            `json:"exam_type"`
	Answers            []SubmittedAnswer   `json:"answers"`
	TimeTaken          int                 `json:"time_taken"`
	PenaltiesApplied   int                 `json:"penalties_applied"`
	SecurityViolations []SecurityViolation `json:"security_violations"`
	DeviceID           string              `json:"device_id,omitempty"`
	CompletedAt        time.Time           `json:"completed_at"`
}

// QueueStatus enumerates offline queue entry states.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusSubmitting QueueStatus = "submitting"
	QueueStatusFailed     QueueStatus = "failed"
)

// QueueMeta is the human-readable summary shown for an unsent attempt.
type QueueMeta struct {
	ExamTitle        string `json:"exam_title"`
	ExamRefNo        string `json:"exam_ref_no"`
	QuestionCount    int    `json:"question_count"`
	TimeTakenSeconds int    `json:"time_taken_seconds"`
}

// SubmissionQueueEntry is a durable, retryable unsent attempt.
type SubmissionQueueEntry struct {
	AttemptID     string            `json:"attempt_id"`
	Payload       SubmissionPayload `json:"payload"`
	Meta          QueueMeta         `json:"meta"`
	Status        QueueStatus       `json:"status"`
	Retries       int               `json:"retries"`
	LastError     string            `json:"last_error,omitempty"`
	SubmittedAt   time.Time         `json:"submitted_at"`
	LastAttemptAt *time.Time        `json:"last_attempt_at,omitempty"`
}
