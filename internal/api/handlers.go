package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/fpang/social-post-scheduler/internal/blobstore"
	"github.com/fpang/social-post-scheduler/internal/task"
)

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sch := s.scheduler(w, r)
	if sch == nil {
		return
	}
	h, err := sch.Health(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to read tasks", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h)
}

// createTaskRequest is the body of POST /api/{platform}/tasks.
// scheduleDate is accepted as an alias of scheduledAt.
type createTaskRequest struct {
	UserID       string     `json:"userId"`
	Caption      string     `json:"caption"`
	Text         string     `json:"text"`
	ImageKey     string     `json:"imageKey"`
	ScheduledAt  *time.Time `json:"scheduledAt"`
	ScheduleDate *time.Time `json:"scheduleDate"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	sch := s.scheduler(w, r)
	if sch == nil {
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	at := req.ScheduledAt
	if at == nil {
		at = req.ScheduleDate
	}
	if at == nil {
		httpError(w, http.StatusBadRequest, "scheduledAt is required")
		return
	}

	t, err := task.New(task.NewRequest{
		UserID:   req.UserID,
		Platform: sch.Platform(),
		Payload: task.Payload{
			Caption:  req.Caption,
			Text:     req.Text,
			ImageKey: req.ImageKey,
		},
		ScheduledAt: *at,
	}, s.now())
	if err != nil {
		httpError(w, statusFor(err), err.Error())
		return
	}

	if err := s.tasks.Create(r.Context(), t); err != nil {
		httpError(w, http.StatusInternalServerError, "failed to store task", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	sch := s.scheduler(w, r)
	if sch == nil {
		return
	}
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		httpError(w, http.StatusBadRequest, "userId query parameter is required")
		return
	}

	tasks, err := s.tasks.ListUser(r.Context(), sch.Platform(), userID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to list tasks", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	sch := s.scheduler(w, r)
	if sch == nil {
		return
	}
	userID := chi.URLParam(r, "userId")
	taskID := chi.URLParam(r, "taskId")

	err := s.tasks.Delete(r.Context(), sch.Platform(), userID, taskID)
	if errors.Is(err, blobstore.ErrNotFound) {
		httpError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "failed to delete task", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetryTask(w http.ResponseWriter, r *http.Request) {
	sch := s.scheduler(w, r)
	if sch == nil {
		return
	}
	t, err := sch.Retry(r.Context(), chi.URLParam(r, "taskId"))
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			httpError(w, status, "retry failed", err.Error())
			return
		}
		httpError(w, status, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	sch := s.scheduler(w, r)
	if sch == nil {
		return
	}
	log.Info().Str("platform", string(sch.Platform())).Msg("Force-process requested")
	respondJSON(w, http.StatusOK, sch.ForceProcess(r.Context()))
}
