package ports

import (
	"context"

	"github.com/tubeflow/tubeflow/internal/core/domain"
)

// VideoHost abstracts the remote video-hosting API (YouTube or
// compatible). Upload blocks until the transfer succeeds or fails
// terminally; progress is reported through the optional callback as a
// 0–100 percentage.
type VideoHost interface {
	Upload(ctx context.Context, filePath string, meta domain.VideoMetadata, progress func(float64)) (domain.JobResult, error)
}

// ContentGenerator abstracts the remote generative-content API.
type ContentGenerator interface {
	// CreateJob submits a generation request and returns the remote job id.
	CreateJob(ctx context.Context, prompt string, style string) (string, error)

	// GetJobStatus polls the remote job.
	GetJobStatus(ctx context.Context, jobID string) (domain.GenerationStatus, error)
}

// ThumbnailGenerator produces a thumbnail image for a video. Optional:
// a nil implementation disables the step.
type ThumbnailGenerator interface {
	// GenerateThumbnail creates a thumbnail from the prompt and writes it
	// next to the video, returning the image path.
	GenerateThumbnail(ctx context.Context, videoPath string, prompt string) (string, error)
}

// RecordStore is the durable append-only upload history. It is audit
// data, not required for scheduler correctness.
type RecordStore interface {
	AppendRecord(ctx context.Context, rec domain.UploadRecord) error
	LoadRecords(ctx context.Context, limit int) ([]domain.UploadRecord, error)
	Close() error
}

// FileSource yields paths of files that are complete and ready to
// process. Run blocks until ctx is cancelled.
type FileSource interface {
	Run(ctx context.Context, onFile func(path string)) error
}
