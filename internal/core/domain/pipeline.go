package domain

import "time"

type PipelineStatus string

const (
	PipelineIdle     PipelineStatus = "idle"
	PipelineRunning  PipelineStatus = "running"
	PipelinePaused   PipelineStatus = "paused"
	PipelineStopping PipelineStatus = "stopping"
	PipelineErrored  PipelineStatus = "error"
)

// PipelineStats are the aggregate counters. Counters only grow; they are
// mutated exclusively under the scheduler's lock.
type PipelineStats struct {
	JobsProcessed  int        `json:"jobs_processed"`
	JobsFailed     int        `json:"jobs_failed"`
	VideosUploaded int        `json:"videos_uploaded"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`
}

// PipelineSnapshot is the full status view broadcast by the monitor loop
// and returned by the status endpoint.
type PipelineSnapshot struct {
	Status        PipelineStatus `json:"status"`
	QueueSize     int            `json:"queue_size"`
	ActiveJobs    int            `json:"active_jobs"`
	Stats         PipelineStats  `json:"stats"`
	UptimeSeconds *float64       `json:"uptime,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
}

// UploadRecord is one append-only audit entry for a successful upload.
type UploadRecord struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	VideoID   string    `json:"video_id"`
	VideoURL  string    `json:"video_url"`
	Title     string    `json:"title"`
	Privacy   string    `json:"privacy"`
	CreatedAt time.Time `json:"created_at"`
}

// GenerationState is the remote generator's view of a generation job.
type GenerationState string

const (
	GenerationQueued     GenerationState = "queued"
	GenerationProcessing GenerationState = "processing"
	GenerationCompleted  GenerationState = "completed"
	GenerationFailed     GenerationState = "failed"
)

// GenerationStatus is one poll result from the generator API.
type GenerationStatus struct {
	State     GenerationState `json:"state"`
	Progress  float64         `json:"progress"`
	ResultRef string          `json:"result_ref,omitempty"`
	Error     string          `json:"error,omitempty"`
}
