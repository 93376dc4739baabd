package domain

import (
	"errors"
	"time"
)

type JobID string

type JobType string

const (
	JobTypeGenerateVideo   JobType = "generate_video"
	JobTypeUploadVideo     JobType = "upload_video"
	JobTypeProcessExisting JobType = "process_existing_video"
)

// KnownJobType reports whether t is one of the dispatchable job types.
func KnownJobType(t JobType) bool {
	switch t {
	case JobTypeGenerateVideo, JobTypeUploadVideo, JobTypeProcessExisting:
		return true
	}
	return false
}

type JobState string

const (
	JobStateQueued     JobState = "queued"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
	JobStateCancelled  JobState = "cancelled"
)

// Terminal reports whether s is a final state. Once a job reaches a
// terminal state its fields are never mutated again.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

// Job is one unit of pipeline work tracked through the state machine.
// The scheduler is the single writer: after creation only its dispatch
// and completion paths touch State/Progress/Result/ErrorMessage.
type Job struct {
	ID           JobID      `json:"id"`
	Type         JobType    `json:"type"`
	Payload      Payload    `json:"payload"`
	Priority     int        `json:"priority"`
	State        JobState   `json:"state"`
	Progress     float64    `json:"progress"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	Result       *JobResult `json:"result,omitempty"`
}

// JobResult is populated on successful completion.
type JobResult struct {
	FilePath      string `json:"file_path,omitempty"`
	ThumbnailPath string `json:"thumbnail_path,omitempty"`
	VideoID       string `json:"video_id,omitempty"`
	VideoURL      string `json:"video_url,omitempty"`
	Title         string `json:"title,omitempty"`
	Message       string `json:"message,omitempty"`
}

var (
	ErrJobNotFound = errors.New("job not found")
)
