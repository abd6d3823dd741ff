package service

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func newTestPipeline(t *testing.T, api *fakeAPI) (*SubmissionPipeline, *OfflineQueue, *[]time.Duration) {
	t.Helper()
	q, _ := newTestQueue(t, api)
	p := NewSubmissionPipeline(api, q, 3, 700*time.Millisecond, zerolog.Nop())
	var sleeps []time.Duration
	p.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return p, q, &sleeps
}

func TestPipelineSucceedsFirstTry(t *testing.T) {
	api := newFakeAPI()
	p, q, sleeps := newTestPipeline(t, api)

	out, err := p.Submit(context.Background(), model.SubmissionPayload{ExamRefNo: "REF-1"}, model.QueueMeta{})
	if err != nil || !out.Submitted || out.Attempts != 1 {
		t.Fatalf("Submit = %+v, %v", out, err)
	}
	if len(*sleeps) != 0 {
		t.Errorf("slept %v on success", *sleeps)
	}
	if entries, _ := q.List(context.Background()); len(entries) != 0 {
		t.Errorf("queue not empty: %+v", entries)
	}
}

func TestPipelineRetriesThenSucceeds(t *testing.T) {
	api := newFakeAPI()
	api.submitErrs = []error{errOffline}
	p, _, sleeps := newTestPipeline(t, api)

	out, err := p.Submit(context.Background(), model.SubmissionPayload{ExamRefNo: "REF-1"}, model.QueueMeta{})
	if err != nil || !out.Submitted || out.Attempts != 2 {
		t.Fatalf("Submit = %+v, %v", out, err)
	}
	if !reflect.DeepEqual(*sleeps, []time.Duration{700 * time.Millisecond}) {
		t.Errorf("sleeps = %v", *sleeps)
	}
}

func TestPipelineFallsBackToQueue(t *testing.T) {
	api := newFakeAPI()
	api.setSubmitErr(errOffline)
	p, q, sleeps := newTestPipeline(t, api)

	out, err := p.Submit(context.Background(),
		model.SubmissionPayload{ExamRefNo: "REF-1"},
		model.QueueMeta{ExamTitle: "Entrance Exam", ExamRefNo: "REF-1", QuestionCount: 10, TimeTakenSeconds: 900})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Submitted || out.Attempts != 3 || out.QueueEntry == nil || out.LastError != errOffline.Error() {
		t.Fatalf("outcome = %+v", out)
	}

	want := []time.Duration{700 * time.Millisecond, 1400 * time.Millisecond, 2100 * time.Millisecond}
	if !reflect.DeepEqual(*sleeps, want) {
		t.Errorf("backoff = %v, want %v", *sleeps, want)
	}

	entries, _ := q.List(context.Background())
	if len(entries) != 1 {
		t.Fatalf("queue entries = %d", len(entries))
	}
	if entries[0].Meta.QuestionCount != 10 || entries[0].Meta.TimeTakenSeconds != 900 || entries[0].Status != model.QueueStatusPending {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestAssemblePayload(t *testing.T) {
	questions := makeQuestions(4)
	start := testStart
	end := testStart.Add(20 * time.Second)
	answers := map[string]model.AnswerRecord{
		"q01": {SelectedAnswer: strPtr("A"), StartTime: &start, EndTime: &end, TimeSpentSeconds: 20},
		"q03": {SelectedAnswer: strPtr("C")},
		"q02": {StartTime: &start},
		"zz":  {SelectedAnswer: strPtr("B")},
	}
	prior := []model.SubmittedAnswer{{QuestionID: "p1", SelectedAnswer: strPtr("agree"), Phase: model.PhasePersonality}}

	tests := []struct {
		name       string
		examType   model.ExamType
		wantExamID string
		wantDeptID string
	}{
		{"regular", model.ExamTypeRegular, "exam-1", ""},
		{"departmental", model.ExamTypeDepartmental, "", "exam-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := &model.ExamSession{
				ExamID: "exam-1", ExamRefNo: "REF-1", ExamType: tt.examType, Phase: model.PhaseAcademic,
				TimeLimitSeconds: 3600, TimeRemainingSeconds: 600, PenaltiesApplied: 2,
			}
			p := AssemblePayload(sess, questions, answers, prior, "kiosk-1", end)

			if p.ExamID != tt.wantExamID || p.DepartmentExamID != tt.wantDeptID {
				t.Errorf("ids = %q / %q", p.ExamID, p.DepartmentExamID)
			}
			if len(p.Answers) != 1+len(questions) {
				t.Fatalf("answers = %d, want %d", len(p.Answers), 1+len(questions))
			}
			if p.Answers[0].QuestionID != "p1" {
				t.Errorf("prior phase answers must come first, got %s", p.Answers[0].QuestionID)
			}
			for i, q := range questions {
				if p.Answers[i+1].QuestionID != q.ID {
					t.Errorf("answer %d = %s, want %s", i+1, p.Answers[i+1].QuestionID, q.ID)
				}
			}
			if p.Answers[2].SelectedAnswer != nil || p.Answers[4].SelectedAnswer != nil {
				t.Error("unanswered questions must carry a null selection")
			}
			if p.TimeTaken != 3000 || p.PenaltiesApplied != 2 || p.DeviceID != "kiosk-1" {
				t.Errorf("payload = %+v", p)
			}
			if p.SecurityViolations == nil {
				t.Error("violations must serialise as an empty list")
			}
		})
	}
}
