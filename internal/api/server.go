// Package api serves the scheduler's health and operator control surface.
//
// Endpoints:
//
//	GET    /api/health                              liveness (no origin check)
//	GET    /api/{platform}/health                   task buckets for one platform
//	POST   /api/{platform}/tasks                    create a scheduled task
//	GET    /api/{platform}/tasks?userId=            list a user's tasks
//	DELETE /api/{platform}/tasks/{userId}/{taskId}  delete a task
//	POST   /api/{platform}/tasks/{taskId}/retry     reset a failed task
//	POST   /api/{platform}/process                  run one cycle now
package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fpang/social-post-scheduler/internal/metrics"
	"github.com/fpang/social-post-scheduler/internal/scheduler"
	"github.com/fpang/social-post-scheduler/internal/store"
	"github.com/fpang/social-post-scheduler/internal/task"
)

// maxBodySize caps request bodies.
const maxBodySize = 64 << 10

// Server routes control requests to the per-platform schedulers.
type Server struct {
	router       chi.Router
	tasks        *store.TaskStore
	schedulers   map[task.Platform]*scheduler.Scheduler
	now          func() time.Time
	originSecret string
	metricsOut   io.Writer
}

// Option configures a Server.
type Option func(*Server)

// WithOriginSecret requires x-origin-verify on every non-liveness request.
func WithOriginSecret(secret string) Option {
	return func(s *Server) { s.originSecret = secret }
}

// WithNow overrides the clock used to validate new tasks.
func WithNow(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithMetricsWriter redirects request metrics, which default to stdout.
func WithMetricsWriter(w io.Writer) Option {
	return func(s *Server) { s.metricsOut = w }
}

// NewServer builds the router. Only platforms with a scheduler are served.
func NewServer(tasks *store.TaskStore, schedulers []*scheduler.Scheduler, opts ...Option) *Server {
	s := &Server{
		tasks:      tasks,
		schedulers: make(map[task.Platform]*scheduler.Scheduler, len(schedulers)),
		now:        func() time.Time { return time.Now().UTC() },
		metricsOut: os.Stdout,
	}
	for _, sch := range schedulers {
		s.schedulers[sch.Platform()] = sch
	}
	for _, o := range opts {
		o(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, s.withRequestMetrics)

	r.Get("/api/health", s.handleLiveness)
	r.Route("/api/{platform}", func(r chi.Router) {
		r.Use(withOriginVerify(s.originSecret))
		r.Get("/health", s.handleHealth)
		r.Post("/tasks", s.handleCreateTask)
		r.Get("/tasks", s.handleListTasks)
		r.Delete("/tasks/{userId}/{taskId}", s.handleDeleteTask)
		r.Post("/tasks/{taskId}/retry", s.handleRetryTask)
		r.Post("/process", s.handleProcess)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) newMetrics() *metrics.Recorder {
	return metrics.NewWithWriter(metrics.Namespace, s.metricsOut)
}

// scheduler resolves the {platform} path parameter. It writes a 404 and
// returns nil when the platform is unknown or not enabled.
func (s *Server) scheduler(w http.ResponseWriter, r *http.Request) *scheduler.Scheduler {
	p, err := task.ParsePlatform(chi.URLParam(r, "platform"))
	if err != nil {
		httpError(w, http.StatusNotFound, err.Error())
		return nil
	}
	sch, ok := s.schedulers[p]
	if !ok {
		httpError(w, http.StatusNotFound, "platform "+string(p)+" is not enabled")
		return nil
	}
	return sch
}

// statusFor maps service errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, task.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrNotRetryable), errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
