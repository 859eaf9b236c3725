package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fpang/social-post-scheduler/internal/blobstore"
	"github.com/fpang/social-post-scheduler/internal/metrics"
	"github.com/fpang/social-post-scheduler/internal/publish"
	"github.com/fpang/social-post-scheduler/internal/scheduler"
	"github.com/fpang/social-post-scheduler/internal/store"
	"github.com/fpang/social-post-scheduler/internal/task"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type okPublisher struct{ platform task.Platform }

func (p okPublisher) Platform() task.Platform { return p.platform }
func (p okPublisher) Publish(_ context.Context, t *task.Task) (*publish.Result, error) {
	return &publish.Result{ExternalPostID: "remote-" + t.ID}, nil
}

type testEnv struct {
	tasks   *store.TaskStore
	server  *Server
	metrics *bytes.Buffer
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		tasks:   store.NewTaskStore(blobstore.NewMemoryStore()),
		metrics: &bytes.Buffer{},
	}
	clock := scheduler.ClockFunc(func() time.Time { return testNow })
	quiet := scheduler.WithMetrics(func() *metrics.Recorder { return metrics.NewWithWriter(metrics.Namespace, io.Discard) })

	var scheds []*scheduler.Scheduler
	for _, p := range []task.Platform{task.Instagram, task.Twitter} {
		scheds = append(scheds, scheduler.New(scheduler.Config{Platform: p}, env.tasks, okPublisher{p}, scheduler.WithClock(clock), quiet))
	}
	base := []Option{
		WithNow(func() time.Time { return testNow }),
		WithMetricsWriter(env.metrics),
	}
	env.server = NewServer(env.tasks, scheds, append(base, opts...)...)
	return env
}

func (env *testEnv) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	env.server.ServeHTTP(rr, req)
	return rr
}

func (env *testEnv) seed(t *testing.T, tk *task.Task) {
	t.Helper()
	if err := env.tasks.Create(context.Background(), tk); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v\n%s", err, rr.Body.String())
	}
	return v
}

func TestLiveness(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodGet, "/api/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if body := decode[map[string]string](t, rr); body["status"] != "ok" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestCreateTask(t *testing.T) {
	env := newTestEnv(t)
	body := `{"userId":"u1","caption":"sunset","imageKey":"sunset.jpg","scheduleDate":"2026-03-01T13:00:00Z"}`

	rr := env.do(http.MethodPost, "/api/instagram/tasks", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	created := decode[task.Task](t, rr)
	if created.ID == "" || created.Status != task.StatusScheduled || created.Platform != task.Instagram {
		t.Errorf("unexpected task: %+v", created)
	}

	stored, _, err := env.tasks.Get(context.Background(), task.TaskKey(task.Instagram, "u1", created.ID))
	if err != nil || stored == nil {
		t.Fatalf("task not stored: %v", err)
	}
	if !stored.ScheduledAt.Equal(testNow.Add(time.Hour)) {
		t.Errorf("unexpected scheduledAt: %v", stored.ScheduledAt)
	}
}

func TestCreateTaskRejected(t *testing.T) {
	tests := []struct {
		name     string
		platform string
		body     string
	}{
		{"tweet too long", "twitter", `{"userId":"u1","text":"` + strings.Repeat("a", 281) + `","scheduledAt":"2026-03-01T13:00:00Z"}`},
		{"in the past", "twitter", `{"userId":"u1","text":"hi","scheduledAt":"2026-03-01T11:00:00Z"}`},
		{"beyond horizon", "instagram", `{"userId":"u1","caption":"hi","imageKey":"a.jpg","scheduledAt":"2026-07-01T12:00:00Z"}`},
		{"missing caption", "instagram", `{"userId":"u1","imageKey":"a.jpg","scheduledAt":"2026-03-01T13:00:00Z"}`},
		{"missing time", "instagram", `{"userId":"u1","caption":"hi"}`},
		{"bad json", "instagram", `{"userId":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rr := env.do(http.MethodPost, "/api/"+tt.platform+"/tasks", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
			tasks, _ := env.tasks.ListUser(context.Background(), task.Twitter, "u1")
			more, _ := env.tasks.ListUser(context.Background(), task.Instagram, "u1")
			if len(tasks)+len(more) != 0 {
				t.Error("rejected task must not be stored")
			}
		})
	}
}

func TestPlatformRouting(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		path string
		want int
	}{
		{"/api/myspace/health", http.StatusNotFound},
		{"/api/facebook/health", http.StatusNotFound}, // not enabled in this env
		{"/api/x/health", http.StatusOK},
		{"/api/instagram/health", http.StatusOK},
	}
	for _, tt := range tests {
		if rr := env.do(http.MethodGet, tt.path, ""); rr.Code != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.want, rr.Code)
		}
	}
}

func TestListAndDeleteTasks(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, &task.Task{ID: "t1", UserID: "u1", Platform: task.Twitter, Payload: task.Payload{Text: "a"}, ScheduledAt: testNow.Add(time.Hour), Status: task.StatusScheduled})

	if rr := env.do(http.MethodGet, "/api/twitter/tasks", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("missing userId: expected 400, got %d", rr.Code)
	}

	rr := env.do(http.MethodGet, "/api/twitter/tasks?userId=u1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rr.Code)
	}
	list := decode[struct {
		Tasks []task.Task `json:"tasks"`
	}](t, rr)
	if len(list.Tasks) != 1 || list.Tasks[0].ID != "t1" {
		t.Errorf("unexpected list: %+v", list)
	}

	if rr := env.do(http.MethodDelete, "/api/twitter/tasks/u1/t1", ""); rr.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rr.Code)
	}
	if rr := env.do(http.MethodDelete, "/api/twitter/tasks/u1/t1", ""); rr.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rr.Code)
	}
}

func TestRetryTask(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, &task.Task{ID: "dead", UserID: "u1", Platform: task.Twitter, Payload: task.Payload{Text: "a"}, ScheduledAt: testNow.Add(-time.Hour), Status: task.StatusFailed, Attempts: 3, Error: "boom"})
	env.seed(t, &task.Task{ID: "live", UserID: "u1", Platform: task.Twitter, Payload: task.Payload{Text: "a"}, ScheduledAt: testNow.Add(time.Hour), Status: task.StatusScheduled})

	tests := []struct {
		id   string
		want int
	}{
		{"missing", http.StatusNotFound},
		{"live", http.StatusConflict},
		{"dead", http.StatusOK},
	}
	for _, tt := range tests {
		rr := env.do(http.MethodPost, "/api/twitter/tasks/"+tt.id+"/retry", "")
		if rr.Code != tt.want {
			t.Errorf("retry %s: expected %d, got %d: %s", tt.id, tt.want, rr.Code, rr.Body.String())
		}
	}

	rr := env.do(http.MethodPost, "/api/twitter/process", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("process: expected 200, got %d", rr.Code)
	}
	sum := decode[scheduler.CycleSummary](t, rr)
	if sum.Completed != 1 {
		t.Errorf("expected retried task to complete, got %+v", sum)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, &task.Task{ID: "late", UserID: "u1", Platform: task.Instagram, Payload: task.Payload{Caption: "a"}, ScheduledAt: testNow.Add(-time.Minute), Status: task.StatusScheduled})
	env.seed(t, &task.Task{ID: "done", UserID: "u1", Platform: task.Instagram, Payload: task.Payload{Caption: "a"}, ScheduledAt: testNow.Add(-time.Hour), Status: task.StatusCompleted})

	rr := env.do(http.MethodGet, "/api/instagram/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	h := decode[scheduler.Health](t, rr)
	if h.Counts.Scheduled != 1 || h.Counts.Overdue != 1 || h.Counts.Completed != 1 {
		t.Errorf("unexpected counts: %+v", h.Counts)
	}
}

func TestOriginVerify(t *testing.T) {
	env := newTestEnv(t, WithOriginSecret("s3cret"))

	if rr := env.do(http.MethodGet, "/api/health", ""); rr.Code != http.StatusOK {
		t.Errorf("liveness must not require the header, got %d", rr.Code)
	}
	if rr := env.do(http.MethodGet, "/api/twitter/health", ""); rr.Code != http.StatusForbidden {
		t.Errorf("expected 403 without header, got %d", rr.Code)
	}
	if rr := env.do(http.MethodGet, "/api/twitter/health", "", "x-origin-verify", "wrong"); rr.Code != http.StatusForbidden {
		t.Errorf("expected 403 with wrong header, got %d", rr.Code)
	}
	if rr := env.do(http.MethodGet, "/api/twitter/health", "", "x-origin-verify", "s3cret"); rr.Code != http.StatusOK {
		t.Errorf("expected 200 with header, got %d", rr.Code)
	}
}

func TestRequestMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodGet, "/api/twitter/tasks?userId=u1", "")

	var doc map[string]any
	if err := json.Unmarshal(env.metrics.Bytes(), &doc); err != nil {
		t.Fatalf("metrics output: %v\n%s", err, env.metrics.String())
	}
	if doc["Endpoint"] != "/api/{platform}/tasks" {
		t.Errorf("expected route pattern as endpoint, got %v", doc["Endpoint"])
	}
	if doc["RequestCount"] != float64(1) {
		t.Errorf("expected RequestCount 1, got %v", doc["RequestCount"])
	}
}
