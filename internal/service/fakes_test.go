package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/lockdown"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

var errOffline = errors.New("network unreachable")

// fakeAPI is an in-memory grading API.
type fakeAPI struct {
	mu         sync.Mutex
	questions  map[string][]model.Question
	fetchErr   error
	progress   map[string]*model.Progress
	submitErrs []error
	submitErr  error
	submitted  []model.SubmissionPayload
	upserts    []model.ProgressUpdate
	stopped    []string
	cleared    []string
	pingErr    error
	calls      *callLog
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		questions: make(map[string][]model.Question),
		progress:  make(map[string]*model.Progress),
	}
}

func (f *fakeAPI) FetchQuestions(_ context.Context, examID string, _ model.ExamType) ([]model.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	qs, ok := f.questions[examID]
	if !ok {
		return nil, fmt.Errorf("exam %s not found", examID)
	}
	return append([]model.Question(nil), qs...), nil
}

func (f *fakeAPI) FetchProgress(_ context.Context, examRefNo string) (*model.Progress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.progress[examRefNo], nil
}

func (f *fakeAPI) UpsertProgress(_ context.Context, _ string, u model.ProgressUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, u)
	if f.calls != nil {
		f.calls.add("upsert:" + u.QuestionID)
	}
	return nil
}

func (f *fakeAPI) Submit(_ context.Context, p model.SubmissionPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if len(f.submitErrs) > 0 {
		err = f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
	} else {
		err = f.submitErr
	}
	if err == nil {
		f.submitted = append(f.submitted, p)
	}
	return err
}

func (f *fakeAPI) NotifyStopped(_ context.Context, examID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, examID)
	return nil
}

func (f *fakeAPI) ClearProgress(_ context.Context, examRefNo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, examRefNo)
	return nil
}

func (f *fakeAPI) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeAPI) setSubmitErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitErr = err
}

func (f *fakeAPI) submissions() []model.SubmissionPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.SubmissionPayload(nil), f.submitted...)
}

func (f *fakeAPI) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

// callLog records the order of side effects across fakes.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(c string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// recordingKV wraps a KV and logs every Set.
type recordingKV struct {
	repository.KV
	calls *callLog
}

func (r *recordingKV) Set(ctx context.Context, key string, value []byte) error {
	r.calls.add("set:" + key)
	return r.KV.Set(ctx, key, value)
}

// failingKV rejects writes to one key while failing is set.
type failingKV struct {
	repository.KV
	key string

	mu      sync.Mutex
	failing bool
}

func (f *failingKV) setFailing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = v
}

func (f *failingKV) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	fail := f.failing && key == f.key
	f.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return f.KV.Set(ctx, key, value)
}

// scriptedDevice is a lock-down device whose answers are set by the test.
type scriptedDevice struct {
	mu        sync.Mutex
	accept    bool
	locked    bool
	lockOnReq bool
	statusErr error
	requests  int
}

func (d *scriptedDevice) RequestLockDown(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests++
	if d.accept && d.lockOnReq {
		d.locked = true
	}
	return d.accept, nil
}

func (d *scriptedDevice) IsLockedDown(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locked, d.statusErr
}

func (d *scriptedDevice) ReleaseLockDown(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.locked = false
	return nil
}

var testStart = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// harness wires a full engine on in-memory collaborators and a fake clock.
type harness struct {
	t        *testing.T
	clock    *clock.Fake
	kv       repository.KV
	repo     *repository.AttemptRepository
	api      *fakeAPI
	device   lockdown.Device
	tasks    *TaskRunner
	answers  *AnswerStore
	monitor  *SecurityMonitor
	queue    *OfflineQueue
	pipeline *SubmissionPipeline
	engine   *ExamSessionService

	sleepMu sync.Mutex
	sleeps  []time.Duration
}

type harnessOptions struct {
	clock           *clock.Fake
	kv              repository.KV
	api             *fakeAPI
	device          lockdown.Device
	requireLockDown bool
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	if opts.clock == nil {
		opts.clock = clock.NewFake(testStart)
	}
	if opts.kv == nil {
		opts.kv = repository.NewMemoryKV()
	}
	if opts.api == nil {
		opts.api = newFakeAPI()
	}
	if opts.device == nil {
		opts.device = lockdown.NewStaticDevice()
	}

	log := zerolog.Nop()
	timings := config.DefaultTimings
	timings.QueueSubmitInterval = 0

	h := &harness{
		t:      t,
		clock:  opts.clock,
		kv:     opts.kv,
		repo:   repository.NewAttemptRepository(opts.kv),
		api:    opts.api,
		device: opts.device,
	}
	h.tasks = NewTaskRunner(time.Second, log)
	h.answers = NewAnswerStore(h.repo, h.api, h.tasks, h.clock, timings.AnswerDebounce, log)
	h.monitor = NewSecurityMonitor(h.device, h.clock, timings, log)
	h.queue = NewOfflineQueue(repository.NewQueueRepository(opts.kv), h.api, h.clock, timings.QueueSubmitInterval, log)
	h.pipeline = NewSubmissionPipeline(h.api, h.queue, timings.SubmitAttempts, timings.SubmitBackoff, log)
	h.pipeline.sleep = func(_ context.Context, d time.Duration) error {
		h.sleepMu.Lock()
		defer h.sleepMu.Unlock()
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	seeds := NewSeedService(h.repo, h.clock, log)
	seeds.random = func() string { return "abc123" }

	h.engine = NewExamSessionService(h.repo, h.api, seeds, h.answers, h.monitor, h.pipeline, h.tasks, h.clock,
		EngineOptions{Timings: timings, RequireLockDown: opts.requireLockDown, DeviceID: "kiosk-1"}, log)
	t.Cleanup(h.tasks.Wait)
	return h
}

// kill simulates process death: every timer stops, nothing is persisted.
func (h *harness) kill() {
	h.engine.sched.Reset()
	h.monitor.sched.Reset()
	h.answers.sched.Reset()
	h.tasks.Wait()
}

func (h *harness) start(examID string, phase model.Phase, minutes int) *model.ExamSession {
	h.t.Helper()
	sess, err := h.engine.StartExam(context.Background(), model.StartExamRequest{
		ExamID:           examID,
		ExamRefNo:        "REF-1",
		ExamType:         model.ExamTypeRegular,
		Phase:            phase,
		TimeLimitMinutes: minutes,
		Title:            "Entrance Exam",
	})
	if err != nil {
		h.t.Fatalf("StartExam: %v", err)
	}
	return sess
}

func (h *harness) state() *model.ExamSession {
	h.t.Helper()
	sess, err := h.engine.State()
	if err != nil {
		h.t.Fatalf("State: %v", err)
	}
	return sess
}

func (h *harness) sleepLog() []time.Duration {
	h.sleepMu.Lock()
	defer h.sleepMu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

func makeQuestions(n int, categories ...string) []model.Question {
	if len(categories) == 0 {
		categories = []string{"Math"}
	}
	qs := make([]model.Question, 0, n)
	for i := 0; i < n; i++ {
		qs = append(qs, model.Question{
			ID:       fmt.Sprintf("q%02d", i+1),
			Category: categories[i%len(categories)],
			Prompt:   fmt.Sprintf("Question %d", i+1),
			Options:  []string{"A", "B", "C", "D"},
		})
	}
	return qs
}

func strPtr(s string) *string { return &s }
