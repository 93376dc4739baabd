package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tubeflow/tubeflow/internal/core/domain"
	"github.com/tubeflow/tubeflow/internal/core/ports"
)

// ExecutorConfig tunes the handlers' retry and polling behavior.
type ExecutorConfig struct {
	// Whole-upload retry, independent of the upload client's per-chunk
	// retry. Absorbs longer outages with a fixed inter-attempt delay.
	UploadRetryAttempts int
	UploadRetryDelay    time.Duration

	// Generation polling is bounded by attempts, not wall clock.
	PollInterval    time.Duration
	PollMaxAttempts int

	ProcessedDir string
}

// Executor implements JobExecutor: it dispatches a job to the handler
// matching its type and translates every failure into a classified
// error for the scheduler to record.
type Executor struct {
	logger    *slog.Logger
	hub       *NotificationHub
	uploader  ports.VideoHost
	generator ports.ContentGenerator
	thumbs    ports.ThumbnailGenerator // nil disables thumbnails
	metadata  *MetadataBuilder
	cfg       ExecutorConfig

	// enqueue chains follow-up jobs (generated file -> upload) without a
	// direct dependency on the scheduler.
	enqueue func(domain.JobType, domain.Payload, int) (domain.JobID, error)
}

func NewExecutor(
	logger *slog.Logger,
	hub *NotificationHub,
	uploader ports.VideoHost,
	generator ports.ContentGenerator,
	thumbs ports.ThumbnailGenerator,
	metadata *MetadataBuilder,
	cfg ExecutorConfig,
) *Executor {
	if cfg.UploadRetryAttempts <= 0 {
		cfg.UploadRetryAttempts = 3
	}
	if cfg.UploadRetryDelay <= 0 {
		cfg.UploadRetryDelay = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PollMaxAttempts <= 0 {
		cfg.PollMaxAttempts = 120
	}

	return &Executor{
		logger:    logger,
		hub:       hub,
		uploader:  uploader,
		generator: generator,
		thumbs:    thumbs,
		metadata:  metadata,
		cfg:       cfg,
	}
}

// SetEnqueue wires the follow-up job hook. Must be called before the
// pipeline starts.
func (e *Executor) SetEnqueue(fn func(domain.JobType, domain.Payload, int) (domain.JobID, error)) {
	e.enqueue = fn
}

func (e *Executor) Execute(ctx context.Context, job domain.Job, progress func(float64)) (*domain.JobResult, error) {
	switch job.Type {
	case domain.JobTypeGenerateVideo:
		return e.executeGenerate(ctx, job, progress)
	case domain.JobTypeUploadVideo:
		return e.executeUpload(ctx, job, progress)
	case domain.JobTypeProcessExisting:
		return e.executeExisting(ctx, job)
	default:
		return nil, domain.NewValidationError("execute", fmt.Errorf("unknown job type: %s", job.Type))
	}
}

// executeGenerate submits the prompt to the generator and polls until
// the remote job finishes, fails, or the attempt bound is exhausted.
func (e *Executor) executeGenerate(ctx context.Context, job domain.Job, progress func(float64)) (*domain.JobResult, error) {
	p := job.Payload.Generate

	remoteID, err := e.generator.CreateJob(ctx, p.Prompt, p.Style)
	if err != nil {
		return nil, fmt.Errorf("create generation job: %w", err)
	}
	e.logger.Info("generation job created", "job_id", job.ID, "remote_id", remoteID)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < e.cfg.PollMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		status, err := e.generator.GetJobStatus(ctx, remoteID)
		if err != nil {
			// A single failed poll is not fatal; the bound still applies.
			e.logger.Warn("generation poll failed", "job_id", job.ID, "error", err)
			continue
		}

		progress(status.Progress)
		e.hub.BroadcastToChannel(ChannelGeneration, Message{
			Type:  "generation_progress",
			JobID: string(job.ID),
			Data: map[string]any{
				"progress": status.Progress,
				"status":   string(status.State),
			},
		})

		switch status.State {
		case domain.GenerationCompleted:
			result := &domain.JobResult{
				FilePath: status.ResultRef,
				Message:  "video generation completed",
			}
			if e.thumbs != nil {
				if thumb, err := e.thumbs.GenerateThumbnail(ctx, status.ResultRef, p.Prompt); err != nil {
					e.logger.Warn("thumbnail generation failed", "job_id", job.ID, "error", err)
				} else {
					result.ThumbnailPath = thumb
				}
			}
			if e.enqueue != nil {
				meta := &domain.VideoMetadata{Prompt: p.Prompt}
				if _, err := e.enqueue(domain.JobTypeUploadVideo, domain.Payload{
					Upload: &domain.UploadPayload{FilePath: status.ResultRef, Metadata: meta},
				}, job.Priority); err != nil {
					e.logger.Error("failed to enqueue upload for generated video", "job_id", job.ID, "error", err)
				}
			}
			return result, nil
		case domain.GenerationFailed:
			return nil, domain.NewTerminalError("generate", fmt.Errorf("remote generation failed: %s", status.Error))
		}
	}

	return nil, domain.NewTimeoutError("generate",
		fmt.Errorf("generation still pending after %d polls", e.cfg.PollMaxAttempts))
}

// executeUpload runs the outer upload retry loop around the upload
// client, then relocates the source file. Validation failures are never
// retried.
func (e *Executor) executeUpload(ctx context.Context, job domain.Job, progress func(float64)) (*domain.JobResult, error) {
	p := job.Payload.Upload
	meta := e.metadata.Build(p.FilePath, p.Metadata)

	report := func(pct float64) {
		progress(pct)
		e.hub.BroadcastToChannel(ChannelUploads, Message{
			Type:  "upload_progress",
			JobID: string(job.ID),
			Data: map[string]any{
				"progress": pct,
				"status":   "uploading",
			},
		})
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.UploadRetryAttempts; attempt++ {
		result, err := e.uploader.Upload(ctx, p.FilePath, meta, report)
		if err == nil {
			if moveErr := e.moveToProcessed(p.FilePath); moveErr != nil {
				e.logger.Error("failed to move uploaded file", "job_id", job.ID, "error", moveErr)
			}
			e.hub.BroadcastToChannel(ChannelUploads, Message{
				Type:  "upload_complete",
				JobID: string(job.ID),
				Data:  result,
			})
			return &result, nil
		}

		lastErr = err
		if domain.KindOf(err) == domain.ErrKindValidation {
			return nil, err
		}

		e.logger.Warn("upload attempt failed", "job_id", job.ID, "attempt", attempt, "error", err)
		if attempt < e.cfg.UploadRetryAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.cfg.UploadRetryDelay):
			}
		}
	}

	return nil, fmt.Errorf("upload failed after %d attempts: %w", e.cfg.UploadRetryAttempts, lastErr)
}

// executeExisting validates the file and chains an upload job for it.
func (e *Executor) executeExisting(ctx context.Context, job domain.Job) (*domain.JobResult, error) {
	p := job.Payload.Existing

	if _, err := os.Stat(p.FilePath); err != nil {
		return nil, domain.NewValidationError("process_existing", fmt.Errorf("video file not found: %s", p.FilePath))
	}
	if e.enqueue == nil {
		return nil, domain.NewTerminalError("process_existing", fmt.Errorf("no enqueue hook configured"))
	}

	id, err := e.enqueue(domain.JobTypeUploadVideo, domain.Payload{
		Upload: &domain.UploadPayload{FilePath: p.FilePath, Metadata: p.Metadata},
	}, job.Priority)
	if err != nil {
		return nil, fmt.Errorf("enqueue upload: %w", err)
	}

	return &domain.JobResult{
		FilePath: p.FilePath,
		Message:  fmt.Sprintf("upload job %s queued", id),
	}, nil
}

func (e *Executor) moveToProcessed(path string) error {
	if e.cfg.ProcessedDir == "" {
		return nil
	}
	if err := os.MkdirAll(e.cfg.ProcessedDir, 0755); err != nil {
		return fmt.Errorf("create processed dir: %w", err)
	}
	dest := filepath.Join(e.cfg.ProcessedDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("move to processed: %w", err)
	}
	e.logger.Info("file moved to processed folder", "path", dest)
	return nil
}
