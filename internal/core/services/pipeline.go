package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tubeflow/tubeflow/internal/core/domain"
)

// JobExecutor runs one job to completion. A nil error with a result
// means the job completed; an error is classified via domain.KindOf and
// recorded on the job. Execute receives a value copy; the scheduler
// remains the only writer of job state.
type JobExecutor interface {
	Execute(ctx context.Context, job domain.Job, progress func(float64)) (*domain.JobResult, error)
}

// SchedulerConfig bounds the pipeline's concurrency and loop cadence.
type SchedulerConfig struct {
	MaxConcurrentJobs int
	Tick              time.Duration
	MonitorTick       time.Duration
}

// PipelineScheduler is the orchestration core: it owns the queue, the
// active set, the completed list and the statistics, and runs the
// scheduling and monitoring loops while the pipeline is started.
type PipelineScheduler struct {
	logger *slog.Logger
	hub    *NotificationHub
	exec   JobExecutor

	maxConcurrent int
	tick          time.Duration
	monitorTick   time.Duration

	mu        sync.Mutex
	status    domain.PipelineStatus
	startedAt *time.Time
	stoppedAt *time.Time
	queue     *JobQueue
	active    map[domain.JobID]*domain.Job
	completed []*domain.Job
	stats     domain.PipelineStats

	// cancel stops the scheduling and monitoring loops. Handlers run on
	// jobCtx, which Stop leaves alone: cancellation is cooperative, so an
	// in-flight network call is never interrupted. Only Shutdown cancels
	// jobCtx.
	cancel    context.CancelFunc
	jobCtx    context.Context
	jobCancel context.CancelFunc
}

func NewPipelineScheduler(logger *slog.Logger, cfg SchedulerConfig, hub *NotificationHub, exec JobExecutor) *PipelineScheduler {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 3
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if cfg.MonitorTick <= 0 {
		cfg.MonitorTick = 5 * time.Second
	}

	return &PipelineScheduler{
		logger:        logger,
		hub:           hub,
		exec:          exec,
		maxConcurrent: cfg.MaxConcurrentJobs,
		tick:          cfg.Tick,
		monitorTick:   cfg.MonitorTick,
		status:        domain.PipelineIdle,
		queue:         NewJobQueue(),
		active:        make(map[domain.JobID]*domain.Job),
	}
}

// Start launches the scheduling and monitoring loops. Returns false if
// the pipeline is already running.
func (s *PipelineScheduler) Start() bool {
	s.mu.Lock()
	if s.status == domain.PipelineRunning {
		s.mu.Unlock()
		return false
	}

	now := time.Now()
	s.status = domain.PipelineRunning
	s.startedAt = &now
	s.stoppedAt = nil

	loopCtx, cancel := context.WithCancel(context.Background())
	jobCtx, jobCancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.jobCtx = jobCtx
	s.jobCancel = jobCancel
	s.mu.Unlock()

	go s.runLoop(loopCtx)
	go s.monitorLoop(loopCtx)

	s.logger.Info("pipeline started")
	s.hub.BroadcastToChannel(ChannelPipeline, Message{
		Type: "pipeline_status",
		Data: s.Snapshot(),
	})
	return true
}

// Stop cancels both loops and marks every active job Cancelled. The
// cancellation is cooperative: in-flight handlers keep their context and
// run their current operation to its natural end, and the eventual
// outcome is discarded against the already-terminal state. Returns false
// unless the pipeline is Running or Paused.
func (s *PipelineScheduler) Stop() bool {
	s.mu.Lock()
	if s.status != domain.PipelineRunning && s.status != domain.PipelinePaused {
		s.mu.Unlock()
		return false
	}

	s.status = domain.PipelineStopping
	now := time.Now()
	s.stoppedAt = &now
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	var cancelled []domain.Job
	for id, job := range s.active {
		if !job.State.Terminal() {
			job.State = domain.JobStateCancelled
			t := time.Now()
			job.CompletedAt = &t
		}
		delete(s.active, id)
		s.completed = append(s.completed, job)
		cancelled = append(cancelled, *job)
	}

	s.status = domain.PipelineIdle
	s.mu.Unlock()

	for _, job := range cancelled {
		s.hub.Broadcast(Message{Type: "job_cancelled", JobID: string(job.ID), Data: job})
	}

	s.logger.Info("pipeline stopped", "cancelled_jobs", len(cancelled))
	s.hub.BroadcastToChannel(ChannelPipeline, Message{
		Type: "pipeline_status",
		Data: s.Snapshot(),
	})
	return true
}

// Shutdown stops the pipeline and then cancels in-flight handlers. Used
// at process exit, where waiting out a long transfer is not an option.
func (s *PipelineScheduler) Shutdown() {
	s.Stop()

	s.mu.Lock()
	if s.jobCancel != nil {
		s.jobCancel()
		s.jobCancel = nil
	}
	s.mu.Unlock()
}

// Pause stops the scheduling loop from dequeuing new work; active jobs
// keep running.
func (s *PipelineScheduler) Pause() bool {
	s.mu.Lock()
	if s.status != domain.PipelineRunning {
		s.mu.Unlock()
		return false
	}
	s.status = domain.PipelinePaused
	s.mu.Unlock()

	s.logger.Info("pipeline paused")
	s.hub.BroadcastToChannel(ChannelPipeline, Message{
		Type: "pipeline_status",
		Data: s.Snapshot(),
	})
	return true
}

func (s *PipelineScheduler) Resume() bool {
	s.mu.Lock()
	if s.status != domain.PipelinePaused {
		s.mu.Unlock()
		return false
	}
	s.status = domain.PipelineRunning
	s.mu.Unlock()

	s.logger.Info("pipeline resumed")
	s.hub.BroadcastToChannel(ChannelPipeline, Message{
		Type: "pipeline_status",
		Data: s.Snapshot(),
	})
	return true
}

// AddJob validates the type/payload pair, enqueues a new job and returns
// its id. Enqueueing never blocks.
func (s *PipelineScheduler) AddJob(jobType domain.JobType, payload domain.Payload, priority int) (domain.JobID, error) {
	if err := validatePayload(jobType, payload); err != nil {
		return "", err
	}

	job := &domain.Job{
		ID:        domain.JobID(uuid.New().String()),
		Type:      jobType,
		Payload:   payload,
		Priority:  priority,
		State:     domain.JobStateQueued,
		CreatedAt: time.Now(),
	}

	s.queue.Enqueue(job)

	s.mu.Lock()
	now := time.Now()
	s.stats.LastActivity = &now
	s.mu.Unlock()

	s.logger.Info("job added", "job_id", job.ID, "type", jobType, "priority", priority)
	s.hub.Broadcast(Message{
		Type:  "job_added",
		JobID: string(job.ID),
		Data: map[string]any{
			"job":        *job,
			"queue_size": s.queue.Size(),
		},
	})
	return job.ID, nil
}

func validatePayload(jobType domain.JobType, payload domain.Payload) error {
	if !domain.KnownJobType(jobType) {
		return domain.NewValidationError("add_job", fmt.Errorf("unknown job type: %s", jobType))
	}
	switch jobType {
	case domain.JobTypeGenerateVideo:
		if payload.Generate == nil || payload.Generate.Prompt == "" {
			return domain.NewValidationError("add_job", fmt.Errorf("generate_video requires a prompt"))
		}
	case domain.JobTypeUploadVideo:
		if payload.Upload == nil || payload.Upload.FilePath == "" {
			return domain.NewValidationError("add_job", fmt.Errorf("upload_video requires a file path"))
		}
	case domain.JobTypeProcessExisting:
		if payload.Existing == nil || payload.Existing.FilePath == "" {
			return domain.NewValidationError("add_job", fmt.Errorf("process_existing_video requires a file path"))
		}
	}
	return nil
}

// RemoveJob drops a queued job, or cancels an active one best-effort.
// False means the id is unknown.
func (s *PipelineScheduler) RemoveJob(id domain.JobID) bool {
	if s.queue.Remove(id) {
		s.hub.Broadcast(Message{
			Type:  "job_removed",
			JobID: string(id),
			Data:  map[string]any{"queue_size": s.queue.Size()},
		})
		return true
	}

	s.mu.Lock()
	job, ok := s.active[id]
	if ok && !job.State.Terminal() {
		job.State = domain.JobStateCancelled
		now := time.Now()
		job.CompletedAt = &now
	}
	s.mu.Unlock()

	if ok {
		s.hub.Broadcast(Message{Type: "job_cancelled", JobID: string(id)})
		return true
	}
	return false
}

// runLoop is the scheduling loop: dispatch under the concurrency cap,
// then sweep finished jobs. A failing or panicking step never kills the
// loop; it logs and retries after a delay.
func (s *PipelineScheduler) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.safeStep(); err != nil {
				s.logger.Error("scheduler step failed", "error", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * s.tick):
				}
			}
		}
	}
}

func (s *PipelineScheduler) safeStep() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler step panic: %v", r)
		}
	}()
	s.step()
	return nil
}

// step dispatches under the cap and sweeps finished jobs. Everything it
// hands out after releasing the lock is a value copy taken under the
// lock, so concurrent Stop/RemoveJob writes never race these reads.
func (s *PipelineScheduler) step() {
	s.mu.Lock()
	if s.status != domain.PipelineRunning {
		// Paused keeps active jobs running but dequeues nothing; the
		// sweep still has to run so finished work is reconciled.
		if s.status != domain.PipelinePaused {
			s.mu.Unlock()
			return
		}
	}

	jobCtx := s.jobCtx

	var started *domain.Job
	if s.status == domain.PipelineRunning && len(s.active) < s.maxConcurrent {
		if job := s.queue.DequeueNext(); job != nil {
			now := time.Now()
			job.State = domain.JobStateProcessing
			job.StartedAt = &now
			s.active[job.ID] = job
			s.stats.LastActivity = &now
			copied := *job
			started = &copied
		}
	}

	var finished []domain.Job
	for id, job := range s.active {
		if !job.State.Terminal() {
			continue
		}
		delete(s.active, id)
		s.completed = append(s.completed, job)
		switch job.State {
		case domain.JobStateCompleted:
			s.stats.JobsProcessed++
			if job.Type == domain.JobTypeUploadVideo {
				s.stats.VideosUploaded++
			}
		case domain.JobStateFailed:
			s.stats.JobsFailed++
		}
		finished = append(finished, *job)
	}
	if len(finished) > 0 {
		now := time.Now()
		s.stats.LastActivity = &now
	}
	s.mu.Unlock()

	if started != nil {
		s.hub.Broadcast(Message{Type: "job_started", JobID: string(started.ID), Data: *started})
		go s.dispatch(jobCtx, started.ID, *started)
	}
	for _, job := range finished {
		s.hub.Broadcast(Message{Type: "job_completed", JobID: string(job.ID), Data: job})
	}
}

// dispatch runs the handler in its own goroutine. Handler errors and
// panics become job state, never scheduler crashes.
func (s *PipelineScheduler) dispatch(ctx context.Context, id domain.JobID, job domain.Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job handler panicked", "job_id", id, "panic", r)
			s.finishJob(id, nil, fmt.Errorf("handler panic: %v", r))
		}
	}()

	result, err := s.exec.Execute(ctx, job, func(pct float64) {
		s.setProgress(id, pct)
	})
	s.finishJob(id, result, err)
}

// finishJob records the handler outcome. If the job was cancelled while
// the handler ran, the outcome is discarded: terminal states are
// immutable.
func (s *PipelineScheduler) finishJob(id domain.JobID, result *domain.JobResult, err error) {
	s.mu.Lock()
	job, ok := s.active[id]
	if !ok || job.State.Terminal() {
		s.mu.Unlock()
		return
	}

	now := time.Now()
	job.CompletedAt = &now
	if err != nil {
		job.State = domain.JobStateFailed
		msg := err.Error()
		job.ErrorMessage = &msg
	} else {
		job.State = domain.JobStateCompleted
		job.Progress = 100
		job.Result = result
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("job failed", "job_id", id, "kind", domain.KindOf(err), "error", err)
		s.hub.Broadcast(Message{
			Type:  "error",
			JobID: string(id),
			Data: map[string]any{
				"error_type": string(domain.KindOf(err)),
				"message":    err.Error(),
			},
		})
	} else {
		s.logger.Info("job completed", "job_id", id)
	}
}

func (s *PipelineScheduler) setProgress(id domain.JobID, pct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.active[id]; ok && !job.State.Terminal() {
		job.Progress = pct
	}
}

// monitorLoop periodically broadcasts a full status snapshot and keeps
// lastActivity fresh while work exists.
func (s *PipelineScheduler) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(s.monitorTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.queue.Size() > 0 || len(s.active) > 0 {
				now := time.Now()
				s.stats.LastActivity = &now
			}
			s.mu.Unlock()

			s.hub.BroadcastToChannel(ChannelPipeline, Message{
				Type: "pipeline_status",
				Data: s.Snapshot(),
			})
		}
	}
}

// Status and read-only views. Reads copy under the lock; callers own the
// returned values.

func (s *PipelineScheduler) Status() domain.PipelineStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *PipelineScheduler) QueueSize() int {
	return s.queue.Size()
}

func (s *PipelineScheduler) Queue() []domain.Job {
	return s.queue.Snapshot()
}

func (s *PipelineScheduler) ActiveJobs() []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Job, 0, len(s.active))
	for _, job := range s.active {
		out = append(out, *job)
	}
	return out
}

func (s *PipelineScheduler) CompletedJobs(limit int) []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.completed)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.Job, 0, n)
	for i := len(s.completed) - n; i < len(s.completed); i++ {
		out = append(out, *s.completed[i])
	}
	return out
}

// GetJob looks a job up across the queue, the active set and the
// completed list.
func (s *PipelineScheduler) GetJob(id domain.JobID) (domain.Job, error) {
	for _, job := range s.queue.Snapshot() {
		if job.ID == id {
			return job, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.active[id]; ok {
		return *job, nil
	}
	for _, job := range s.completed {
		if job.ID == id {
			return *job, nil
		}
	}
	return domain.Job{}, domain.ErrJobNotFound
}

func (s *PipelineScheduler) Stats() domain.PipelineStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Uptime returns seconds since start while running, nil otherwise.
func (s *PipelineScheduler) Uptime() *float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uptimeLocked()
}

func (s *PipelineScheduler) uptimeLocked() *float64 {
	if s.startedAt == nil || s.status != domain.PipelineRunning {
		return nil
	}
	secs := time.Since(*s.startedAt).Seconds()
	return &secs
}

func (s *PipelineScheduler) Snapshot() domain.PipelineSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return domain.PipelineSnapshot{
		Status:        s.status,
		QueueSize:     s.queue.Size(),
		ActiveJobs:    len(s.active),
		Stats:         s.stats,
		UptimeSeconds: s.uptimeLocked(),
		StartedAt:     s.startedAt,
	}
}
