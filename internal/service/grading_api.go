package service

import (
	"context"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// GradingAPI is the remote grading server as seen by the engine.
// Implemented by client.GradingClient.
type GradingAPI interface {
	FetchQuestions(ctx context.Context, examID string, examType model.ExamType) ([]model.Question, error)
	// FetchProgress returns nil when the server holds no progress.
	FetchProgress(ctx context.Context, examRefNo string) (*model.Progress, error)
	UpsertProgress(ctx context.Context, examRefNo string, update model.ProgressUpdate) error
	Submit(ctx context.Context, payload model.SubmissionPayload) error
	NotifyStopped(ctx context.Context, examID string) error
	ClearProgress(ctx context.Context, examRefNo string) error
	Ping(ctx context.Context) error
}
