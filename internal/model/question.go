package model

// MaxOptions is the largest number of choices a question may carry.
const MaxOptions = 5

// Question is a single exam item as delivered to the candidate.
type Question struct {
	ID        string   `json:"id"`
	Category  string   `json:"category"`
	Prompt    string   `json:"prompt"`
	Options   []string `json:"options"`
	ImageURL  string   `json:"image_url,omitempty"`
	Direction string   `json:"direction,omitempty"`
}

// Progress is the remote progress snapshot used for hydration and resume.
type Progress struct {
	Answers          []ProgressAnswer `json:"answers"`
	RemainingSeconds *int             `json:"remaining_seconds,omitempty"`
}

// ProgressAnswer is one cached answer in a remote progress snapshot.
type ProgressAnswer struct {
	QuestionID string  `json:"question_id"`
	Answer     *string `json:"answer"`
}

// ProgressUpdate is one advisory progress upsert sent while answering.
type ProgressUpdate struct {
	QuestionID       string  `json:"question_id"`
	Answer           *string `json:"answer"`
	RemainingSeconds int     `json:"remaining_seconds"`
}
