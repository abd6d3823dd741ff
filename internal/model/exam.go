package model

import "strings"

// ExamType distinguishes regular exams from departmental ones.
type ExamType string

const (
	ExamTypeRegular      ExamType = "regular"
	ExamTypeDepartmental ExamType = "departmental"
)

// Valid reports whether t is a known exam type.
func (t ExamType) Valid() bool {
	return t == ExamTypeRegular || t == ExamTypeDepartmental
}

// Phase is the portion of a combined attempt being taken.
type Phase string

const (
	PhasePersonality Phase = "personality"
	PhaseAcademic    Phase = "academic"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p == PhasePersonality || p == PhaseAcademic
}

// AttemptKey identifies one attempt on the device.
type AttemptKey struct {
	ExamRefNo string `json:"exam_ref_no"`
	ExamID    string `json:"exam_id"`
}

// IsZero reports whether the key is unset.
func (k AttemptKey) IsZero() bool {
	return strings.TrimSpace(k.ExamRefNo) == "" || strings.TrimSpace(k.ExamID) == ""
}

func (k AttemptKey) String() string {
	return k.ExamRefNo + ":" + k.ExamID
}
