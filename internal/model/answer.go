package model

import "time"

// AnswerRecord tracks a candidate's selection and time spent on one question.
type AnswerRecord struct {
	SelectedAnswer   *string    `json:"selected_answer"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	EndTime          *time.Time `json:"end_time,omitempty"`
	TimeSpentSeconds int        `json:"time_spent_seconds"`
}

// Answered reports whether the record holds a selection.
func (r AnswerRecord) Answered() bool {
	return r.SelectedAnswer != nil
}
