package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

func newTestQueue(t *testing.T, api *fakeAPI) (*OfflineQueue, *repository.QueueRepository) {
	t.Helper()
	repo := repository.NewQueueRepository(repository.NewMemoryKV())
	return NewOfflineQueue(repo, api, clock.NewFake(testStart), 0, zerolog.Nop()), repo
}

func enqueue(t *testing.T, q *OfflineQueue, ref string) *model.SubmissionQueueEntry {
	t.Helper()
	entry, err := q.Enqueue(context.Background(),
		model.SubmissionPayload{ExamID: "exam-1", ExamRefNo: ref},
		model.QueueMeta{ExamTitle: "Entrance Exam", ExamRefNo: ref, QuestionCount: 10})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	return entry
}

func TestOfflineQueueSubmitOneSuccessRemovesEntry(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	q, _ := newTestQueue(t, api)
	entry := enqueue(t, q, "REF-1")

	if entry.Status != model.QueueStatusPending || entry.AttemptID == "" {
		t.Fatalf("new entry = %+v", entry)
	}
	if err := q.SubmitOne(ctx, entry.AttemptID); err != nil {
		t.Fatalf("SubmitOne: %v", err)
	}

	entries, _ := q.List(ctx)
	if len(entries) != 0 {
		t.Errorf("entries after success = %+v", entries)
	}
	if len(api.submissions()) != 1 {
		t.Errorf("submissions = %d", len(api.submissions()))
	}
}

func TestOfflineQueueSubmitOneFailureReturnsToPending(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	api.setSubmitErr(errOffline)
	q, _ := newTestQueue(t, api)
	entry := enqueue(t, q, "REF-1")

	for i := 1; i <= 2; i++ {
		if err := q.SubmitOne(ctx, entry.AttemptID); !errors.Is(err, errOffline) {
			t.Fatalf("SubmitOne #%d err = %v", i, err)
		}
		entries, _ := q.List(ctx)
		if len(entries) != 1 {
			t.Fatalf("entries = %d, want 1", len(entries))
		}
		got := entries[0]
		if got.Status != model.QueueStatusPending || got.Retries != i || got.LastError != errOffline.Error() {
			t.Errorf("after failure #%d: %+v", i, got)
		}
		if got.LastAttemptAt == nil {
			t.Error("last attempt time not recorded")
		}
	}
}

func TestOfflineQueueSubmitAll(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI()
	q, _ := newTestQueue(t, api)
	enqueue(t, q, "REF-1")
	enqueue(t, q, "REF-2")
	enqueue(t, q, "REF-3")

	api.submitErrs = []error{nil, errOffline, nil}
	summary, err := q.SubmitAll(ctx)
	if err != nil {
		t.Fatalf("SubmitAll: %v", err)
	}
	if summary.Submitted != 2 || summary.Failed != 1 || summary.Remaining != 1 {
		t.Errorf("summary = %+v", summary)
	}

	entries, _ := q.List(ctx)
	if len(entries) != 1 || entries[0].Meta.ExamRefNo != "REF-2" || entries[0].Status != model.QueueStatusPending {
		t.Errorf("remaining entries = %+v", entries)
	}
}

func TestOfflineQueueDeleteAndBusy(t *testing.T) {
	ctx := context.Background()
	q, repo := newTestQueue(t, newFakeAPI())
	a := enqueue(t, q, "REF-1")
	b := enqueue(t, q, "REF-2")

	entries, _ := repo.Load(ctx)
	entries[1].Status = model.QueueStatusSubmitting
	_ = repo.Save(ctx, entries)

	if err := q.SubmitOne(ctx, b.AttemptID); !errors.Is(err, ErrEntryBusy) {
		t.Errorf("SubmitOne on submitting entry = %v, want ErrEntryBusy", err)
	}
	if err := q.Delete(ctx, b.AttemptID); !errors.Is(err, ErrEntryBusy) {
		t.Errorf("Delete on submitting entry = %v, want ErrEntryBusy", err)
	}
	if err := q.Delete(ctx, a.AttemptID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := q.Delete(ctx, a.AttemptID); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("second Delete = %v, want ErrEntryNotFound", err)
	}
	if err := q.SubmitOne(ctx, "missing"); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("SubmitOne missing = %v, want ErrEntryNotFound", err)
	}
}

func TestOfflineQueueRecover(t *testing.T) {
	ctx := context.Background()
	q, repo := newTestQueue(t, newFakeAPI())
	enqueue(t, q, "REF-1")
	enqueue(t, q, "REF-2")

	entries, _ := repo.Load(ctx)
	entries[0].Status = model.QueueStatusSubmitting
	entries[1].Status = model.QueueStatusFailed
	_ = repo.Save(ctx, entries)

	n, err := q.Recover(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Recover = %d, %v", n, err)
	}
	entries, _ = q.List(ctx)
	for _, e := range entries {
		if e.Status != model.QueueStatusPending {
			t.Errorf("entry %s status = %s", e.AttemptID, e.Status)
		}
	}
}
