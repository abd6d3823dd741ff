package model

// StartExamRequest is the payload for starting or resuming an attempt.
type StartExamRequest struct {
	ExamID           string   `json:"exam_id" binding:"required,max=64"`
	ExamRefNo        string   `json:"exam_ref_no" binding:"required,max=64"`
	ExamType         ExamType `json:"exam_type" binding:"required,exam_type"`
	Phase            Phase    `json:"phase" binding:"required,phase"`
	TimeLimitMinutes int      `json:"time_limit_minutes" binding:"required,min=1,max=600"`
	Title            string   `json:"title" binding:"omitempty,max=255"`
}

// SetAnswerRequest is the payload for selecting an option.
type SetAnswerRequest struct {
	QuestionID string `json:"question_id" binding:"required,max=64"`
	Answer     string `json:"answer" binding:"required,max=255"`
}

// GoToRequest moves the candidate to a specific question index.
type GoToRequest struct {
	Index *int `json:"index" binding:"required,min=0"`
}

// LifecycleRequest reports an OS app lifecycle transition.
type LifecycleRequest struct {
	Event string `json:"event" binding:"required,lifecycle"`
}

// ProctorOverrideRequest carries the proctor password for privileged actions.
type ProctorOverrideRequest struct {
	Password string `json:"password" binding:"required,min=6,max=72"`
}
