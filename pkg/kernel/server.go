package kernel

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/tubeflow/tubeflow/internal/core/domain"
	"github.com/tubeflow/tubeflow/internal/core/ports"
	"github.com/tubeflow/tubeflow/internal/core/services"
)

// Server exposes the pipeline over HTTP. Transports are thin: every
// endpoint delegates to the scheduler/hub/record-store contracts.
type Server struct {
	logger   *slog.Logger
	pipeline *services.PipelineScheduler
	hub      *services.NotificationHub
	records  ports.RecordStore
}

func NewServer(logger *slog.Logger, pipeline *services.PipelineScheduler, hub *services.NotificationHub, records ports.RecordStore) *Server {
	return &Server{
		logger:   logger,
		pipeline: pipeline,
		hub:      hub,
		records:  records,
	}
}

func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// SSE event stream
		if r.Method == "GET" && r.URL.Path == "/v1/events" {
			s.handleEventsSSE(w, r)
			return
		}

		// Pipeline control
		if r.Method == "GET" && r.URL.Path == "/v1/pipeline/status" {
			s.handleStatus(w, r)
			return
		}
		if r.Method == "POST" && r.URL.Path == "/v1/pipeline/start" {
			s.handleLifecycle(w, r, "start", s.pipeline.Start)
			return
		}
		if r.Method == "POST" && r.URL.Path == "/v1/pipeline/stop" {
			s.handleLifecycle(w, r, "stop", s.pipeline.Stop)
			return
		}
		if r.Method == "POST" && r.URL.Path == "/v1/pipeline/pause" {
			s.handleLifecycle(w, r, "pause", s.pipeline.Pause)
			return
		}
		if r.Method == "POST" && r.URL.Path == "/v1/pipeline/resume" {
			s.handleLifecycle(w, r, "resume", s.pipeline.Resume)
			return
		}

		// Queue and jobs
		if r.Method == "GET" && r.URL.Path == "/v1/pipeline/queue" {
			s.handleQueue(w, r)
			return
		}
		if r.Method == "GET" && r.URL.Path == "/v1/pipeline/jobs/active" {
			s.handleActiveJobs(w, r)
			return
		}
		if r.Method == "GET" && r.URL.Path == "/v1/pipeline/jobs/completed" {
			s.handleCompletedJobs(w, r)
			return
		}
		if r.Method == "POST" && r.URL.Path == "/v1/pipeline/jobs" {
			s.handleAddJob(w, r)
			return
		}
		if r.URL.Path != "/v1/pipeline/jobs" && strings.HasPrefix(r.URL.Path, "/v1/pipeline/jobs/") {
			id := strings.TrimPrefix(r.URL.Path, "/v1/pipeline/jobs/")
			if !strings.Contains(id, "/") {
				switch r.Method {
				case "GET":
					s.handleGetJob(w, r, domain.JobID(id))
					return
				case "DELETE":
					s.handleRemoveJob(w, r, domain.JobID(id))
					return
				}
			}
		}

		if r.Method == "GET" && r.URL.Path == "/v1/pipeline/stats" {
			s.handleStats(w, r)
			return
		}
		if r.Method == "GET" && r.URL.Path == "/v1/uploads" {
			s.handleUploadHistory(w, r)
			return
		}
		if r.Method == "GET" && r.URL.Path == "/v1/healthz" {
			s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}

		http.NotFound(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.pipeline.Snapshot())
}

// handleLifecycle runs one of start/stop/pause/resume; a false return
// means the pipeline was not in a state that allows the transition.
func (s *Server) handleLifecycle(w http.ResponseWriter, _ *http.Request, op string, fn func() bool) {
	if !fn() {
		s.writeError(w, http.StatusConflict,
			fmt.Sprintf("cannot %s pipeline in state %s", op, s.pipeline.Status()))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("pipeline %s ok", op),
		"status":  s.pipeline.Status(),
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"queue":      s.pipeline.Queue(),
		"queue_size": s.pipeline.QueueSize(),
	})
}

func (s *Server) handleActiveJobs(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"active_jobs": s.pipeline.ActiveJobs(),
	})
}

// handleCompletedJobs returns the most recent terminal jobs.
// GET /v1/pipeline/jobs/completed?limit=50
func (s *Server) handleCompletedJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"completed_jobs": s.pipeline.CompletedJobs(limit),
	})
}

type addJobRequest struct {
	Type     domain.JobType `json:"type"`
	Payload  domain.Payload `json:"payload"`
	Priority int            `json:"priority"`
}

func (s *Server) handleAddJob(w http.ResponseWriter, r *http.Request) {
	var req addJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.pipeline.AddJob(req.Type, req.Payload, req.Priority)
	if err != nil {
		if domain.KindOf(err) == domain.ErrKindValidation {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"job_id":     id,
		"queue_size": s.pipeline.QueueSize(),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, _ *http.Request, id domain.JobID) {
	job, err := s.pipeline.GetJob(id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRemoveJob(w http.ResponseWriter, _ *http.Request, id domain.JobID) {
	if !s.pipeline.RemoveJob(id) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"job_id":     id,
		"queue_size": s.pipeline.QueueSize(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"stats":  s.pipeline.Stats(),
		"uptime": s.pipeline.Uptime(),
	})
}

// handleUploadHistory returns the audit log, newest first.
// GET /v1/uploads?limit=50
func (s *Server) handleUploadHistory(w http.ResponseWriter, r *http.Request) {
	if s.records == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"uploads": []domain.UploadRecord{}})
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
		if limit > 500 {
			limit = 500
		}
	}

	records, err := s.records.LoadRecords(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to load upload records", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load upload history")
		return
	}
	if records == nil {
		records = []domain.UploadRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"uploads": records})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
