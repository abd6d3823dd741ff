package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/stemsi/exstem-proctor/internal/clock"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/lockdown"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

type stubAPI struct {
	questions []model.Question
	submitErr error
}

func (s *stubAPI) FetchQuestions(context.Context, string, model.ExamType) ([]model.Question, error) {
	return s.questions, nil
}
func (s *stubAPI) FetchProgress(context.Context, string) (*model.Progress, error) { return nil, nil }
func (s *stubAPI) UpsertProgress(context.Context, string, model.ProgressUpdate) error {
	return nil
}
func (s *stubAPI) Submit(context.Context, model.SubmissionPayload) error { return s.submitErr }
func (s *stubAPI) NotifyStopped(context.Context, string) error            { return nil }
func (s *stubAPI) ClearProgress(context.Context, string) error            { return nil }
func (s *stubAPI) Ping(context.Context) error                             { return errors.New("offline") }

type noopWatcher struct{ calls int }

func (w *noopWatcher) NetworkRestored() { w.calls++ }

type testServer struct {
	router *gin.Engine
	token  string
	engine *service.ExamSessionService
	api    *stubAPI
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	hash, _ := bcrypt.GenerateFromPassword([]byte("proctor-pass"), bcrypt.MinCost)
	cfg := &config.Config{
		GinMode:             gin.TestMode,
		JWTSecret:           "secret",
		JWTExpiry:           time.Hour,
		ProctorPasswordHash: string(hash),
		DeviceID:            "kiosk-1",
	}
	log := zerolog.Nop()
	timings := config.DefaultTimings
	timings.SubmitBackoff = time.Millisecond

	api := &stubAPI{}
	for i := 1; i <= 3; i++ {
		api.questions = append(api.questions, model.Question{
			ID: "q" + string(rune('0'+i)), Category: "Math", Prompt: "?", Options: []string{"A", "B"},
		})
	}

	kv := repository.NewMemoryKV()
	repo := repository.NewAttemptRepository(kv)
	c := clock.Real()
	tasks := service.NewTaskRunner(time.Second, log)
	answers := service.NewAnswerStore(repo, api, tasks, c, timings.AnswerDebounce, log)
	monitor := service.NewSecurityMonitor(lockdown.NewStaticDevice(), c, timings, log)
	queue := service.NewOfflineQueue(repository.NewQueueRepository(kv), api, c, 0, log)
	pipeline := service.NewSubmissionPipeline(api, queue, timings.SubmitAttempts, timings.SubmitBackoff, log)
	engine := service.NewExamSessionService(repo, api, service.NewSeedService(repo, c, log), answers, monitor, pipeline, tasks, c,
		service.EngineOptions{Timings: timings, RequireLockDown: true, DeviceID: cfg.DeviceID}, log)
	t.Cleanup(func() {
		engine.Shutdown(context.Background())
		tasks.Wait()
	})

	auth := service.NewAuthService(cfg)
	token, err := auth.GenerateToken(service.TokenTypeShell, 0)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	handlers := &Handlers{
		Exam:   handler.NewExamHandler(engine, auth, log),
		Queue:  handler.NewQueueHandler(queue, auth, log),
		WS:     handler.NewWSHandler(engine, log, nil),
		System: handler.NewSystemHandler(api, &noopWatcher{}, cfg.DeviceID, log),
	}
	r := SetupRouter(auth, handlers, middleware.NewRateLimiter(1000, time.Minute), cfg, log)
	return &testServer{router: r, token: token, engine: engine, api: api}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, response.Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp response.Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w.Code, resp
}

func errCode(resp response.Response) response.ErrCode {
	if resp.Error == nil {
		return ""
	}
	return resp.Error.Code
}

func TestExamFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodGet, "/api/v1/exam/state", nil)
	if code != http.StatusNotFound || errCode(resp) != response.ErrNoActiveSession {
		t.Fatalf("state before start = %d %v", code, resp.Error)
	}

	code, resp = s.do(t, http.MethodPost, "/api/v1/exam/start", map[string]interface{}{
		"exam_id": "pers-1", "exam_ref_no": "REF-1", "exam_type": "regular",
		"phase": "personality", "time_limit_minutes": 15,
	})
	if code != http.StatusOK {
		t.Fatalf("start = %d %v", code, resp.Error)
	}

	code, _ = s.do(t, http.MethodPost, "/api/v1/exam/answers", map[string]string{"question_id": "q1", "answer": "A"})
	if code != http.StatusOK {
		t.Errorf("answer = %d", code)
	}
	code, resp = s.do(t, http.MethodPost, "/api/v1/exam/answers", map[string]string{"question_id": "zz", "answer": "A"})
	if code != http.StatusBadRequest || errCode(resp) != response.ErrUnknownQuestion {
		t.Errorf("unknown question = %d %v", code, resp.Error)
	}

	code, resp = s.do(t, http.MethodPost, "/api/v1/exam/goto", map[string]int{"index": 7})
	if code != http.StatusBadRequest || errCode(resp) != response.ErrIndexOutOfRange {
		t.Errorf("goto out of range = %d %v", code, resp.Error)
	}

	code, resp = s.do(t, http.MethodPost, "/api/v1/exam/lifecycle", map[string]string{"event": "background"})
	if code != http.StatusOK {
		t.Errorf("lifecycle = %d %v", code, resp.Error)
	}
	session, _ := s.engine.State()
	if session.PenaltiesApplied != 1 {
		t.Errorf("penalties = %d, want 1", session.PenaltiesApplied)
	}

	code, resp = s.do(t, http.MethodPost, "/api/v1/exam/phase/complete", nil)
	if code != http.StatusOK {
		t.Fatalf("phase complete = %d %v", code, resp.Error)
	}
	session, _ = s.engine.State()
	if session.State != model.SessionStateSubmitted {
		t.Errorf("state = %s", session.State)
	}
}

func TestStartValidation(t *testing.T) {
	s := newTestServer(t)
	code, resp := s.do(t, http.MethodPost, "/api/v1/exam/start", map[string]interface{}{
		"exam_id": "exam-1", "exam_type": "midterm", "phase": "academic", "time_limit_minutes": 60,
	})
	if code != http.StatusBadRequest || errCode(resp) != response.ErrValidation {
		t.Fatalf("start = %d %v", code, resp.Error)
	}
	for _, field := range []string{"exam_ref_no", "exam_type"} {
		if resp.Error.Fields[field] == "" {
			t.Errorf("no field error for %s: %v", field, resp.Error.Fields)
		}
	}
}

func TestCancelRequiresProctor(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/exam/start", map[string]interface{}{
		"exam_id": "pers-1", "exam_ref_no": "REF-1", "exam_type": "regular",
		"phase": "personality", "time_limit_minutes": 15,
	})

	code, resp := s.do(t, http.MethodPost, "/api/v1/exam/cancel", map[string]string{"password": "wrong-pass"})
	if code != http.StatusForbidden || errCode(resp) != response.ErrInvalidOverride {
		t.Fatalf("cancel with wrong password = %d %v", code, resp.Error)
	}
	if _, err := s.engine.State(); err != nil {
		t.Fatal("session cancelled without proctor")
	}

	code, _ = s.do(t, http.MethodPost, "/api/v1/exam/cancel", map[string]string{"password": "proctor-pass"})
	if code != http.StatusOK {
		t.Fatalf("cancel = %d", code)
	}
	if _, err := s.engine.State(); !errors.Is(err, service.ErrNoActiveSession) {
		t.Error("session still active after cancel")
	}
}

func TestSubmitFallsBackToQueue(t *testing.T) {
	s := newTestServer(t)
	s.api.submitErr = errors.New("offline")
	s.do(t, http.MethodPost, "/api/v1/exam/start", map[string]interface{}{
		"exam_id": "pers-1", "exam_ref_no": "REF-1", "exam_type": "regular",
		"phase": "personality", "time_limit_minutes": 15, "title": "Entrance",
	})

	code, resp := s.do(t, http.MethodPost, "/api/v1/exam/submit", nil)
	if code != http.StatusOK {
		t.Fatalf("submit = %d %v", code, resp.Error)
	}

	var list struct {
		Entries []model.SubmissionQueueEntry `json:"entries"`
	}
	code, resp = s.do(t, http.MethodGet, "/api/v1/queue", nil)
	raw, _ := json.Marshal(resp.Data)
	_ = json.Unmarshal(raw, &list)
	if code != http.StatusOK || len(list.Entries) != 1 || list.Entries[0].Meta.ExamTitle != "Entrance" {
		t.Fatalf("queue = %d %+v", code, list.Entries)
	}

	code, resp = s.do(t, http.MethodPost, "/api/v1/queue/nope/submit", nil)
	if code != http.StatusNotFound || errCode(resp) != response.ErrQueueEntryNotFound {
		t.Errorf("submit unknown entry = %d %v", code, resp.Error)
	}
}

func TestUnauthenticatedRequests(t *testing.T) {
	s := newTestServer(t)
	s.token = "bogus"
	code, resp := s.do(t, http.MethodGet, "/api/v1/exam/state", nil)
	if code != http.StatusUnauthorized || errCode(resp) != response.ErrTokenInvalid {
		t.Errorf("bad token = %d %v", code, resp.Error)
	}

	code, resp = s.do(t, http.MethodGet, "/health", nil)
	if code != http.StatusOK {
		t.Errorf("health = %d", code)
	}
	data, _ := resp.Data.(map[string]interface{})
	if data["grading_api"] != "down" {
		t.Errorf("health data = %v", resp.Data)
	}
}
