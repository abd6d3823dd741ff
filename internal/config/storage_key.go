package config

import (
	"fmt"
)

type StorageKeyStruct struct{}

func NewStorageKeyStruct() *StorageKeyStruct {
	return &StorageKeyStruct{}
}

// SessionKey returns the storage key for an attempt's session snapshot
func (r *StorageKeyStruct) SessionKey(examRefNo, examID string) string {
	return fmt.Sprintf("attempt:%s:exam:%s:session", examRefNo, examID)
}

// AnswersKey returns the storage key for an attempt's answer map
func (r *StorageKeyStruct) AnswersKey(examRefNo, examID string) string {
	return fmt.Sprintf("attempt:%s:exam:%s:answers", examRefNo, examID)
}

// SeedKey returns the storage key for an attempt's question ordering seed
func (r *StorageKeyStruct) SeedKey(examRefNo, examID string) string {
	return fmt.Sprintf("attempt:%s:exam:%s:seed", examRefNo, examID)
}

// QuestionsKey returns the storage key for an attempt's cached question set
func (r *StorageKeyStruct) QuestionsKey(examRefNo, examID string) string {
	return fmt.Sprintf("attempt:%s:exam:%s:questions", examRefNo, examID)
}

// HeartbeatKey returns the storage key for an attempt's last observed activity
func (r *StorageKeyStruct) HeartbeatKey(examRefNo, examID string) string {
	return fmt.Sprintf("attempt:%s:exam:%s:heartbeat", examRefNo, examID)
}

// PhaseAnswersKey returns the storage key for answers of a completed personality phase
func (r *StorageKeyStruct) PhaseAnswersKey(examRefNo string) string {
	return fmt.Sprintf("attempt:%s:phase_answers", examRefNo)
}

// ActiveAttemptKey returns the storage key for the device's currently active attempt
func (r *StorageKeyStruct) ActiveAttemptKey() string {
	return "device:active_attempt"
}

// SubmissionQueueKey returns the storage key for the offline submission queue
func (r *StorageKeyStruct) SubmissionQueueKey() string {
	return "submission_queue"
}

var StorageKey = NewStorageKeyStruct()
