package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tubeflow/tubeflow/internal/core/domain"
	"github.com/tubeflow/tubeflow/internal/core/ports"
)

type fakeUploader struct {
	mu      sync.Mutex
	calls   int
	results []error // error per call, nil means success
	result  domain.JobResult
}

func (f *fakeUploader) Upload(ctx context.Context, filePath string, meta domain.VideoMetadata, progress func(float64)) (domain.JobResult, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.mu.Unlock()

	if idx < len(f.results) && f.results[idx] != nil {
		return domain.JobResult{}, f.results[idx]
	}
	if progress != nil {
		progress(100)
	}
	return f.result, nil
}

func (f *fakeUploader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type scriptedGenerator struct {
	createErr error
	remoteID  string

	mu       sync.Mutex
	polls    int
	sequence []domain.GenerationStatus
	pollErr  error
}

func (g *scriptedGenerator) CreateJob(ctx context.Context, prompt, style string) (string, error) {
	if g.createErr != nil {
		return "", g.createErr
	}
	if g.remoteID == "" {
		return "gen-1", nil
	}
	return g.remoteID, nil
}

func (g *scriptedGenerator) GetJobStatus(ctx context.Context, jobID string) (domain.GenerationStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pollErr != nil {
		return domain.GenerationStatus{}, g.pollErr
	}
	idx := g.polls
	g.polls++
	if idx >= len(g.sequence) {
		idx = len(g.sequence) - 1
	}
	return g.sequence[idx], nil
}

type fakeThumbs struct {
	path string
	err  error
}

func (f *fakeThumbs) GenerateThumbnail(ctx context.Context, videoPath, prompt string) (string, error) {
	return f.path, f.err
}

type enqueueRecorder struct {
	mu    sync.Mutex
	calls []struct {
		Type    domain.JobType
		Payload domain.Payload
	}
}

func (r *enqueueRecorder) fn(jobType domain.JobType, payload domain.Payload, priority int) (domain.JobID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, struct {
		Type    domain.JobType
		Payload domain.Payload
	}{jobType, payload})
	return "chained-job", nil
}

func newTestExecutor(t *testing.T, uploader ports.VideoHost, generator ports.ContentGenerator, thumbs ports.ThumbnailGenerator, cfg ExecutorConfig) *Executor {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	hub := NewNotificationHub(logger)
	return NewExecutor(logger, hub, uploader, generator, thumbs, NewMetadataBuilder("private"), cfg)
}

func fastExecConfig() ExecutorConfig {
	return ExecutorConfig{
		UploadRetryAttempts: 3,
		UploadRetryDelay:    5 * time.Millisecond,
		PollInterval:        5 * time.Millisecond,
		PollMaxAttempts:     4,
	}
}

func uploadJob(path string) domain.Job {
	return domain.Job{
		ID:      "job-1",
		Type:    domain.JobTypeUploadVideo,
		Payload: domain.Payload{Upload: &domain.UploadPayload{FilePath: path}},
	}
}

func noProgress(float64) {}

func TestExecutor_UploadSucceedsFirstTry(t *testing.T) {
	uploader := &fakeUploader{result: domain.JobResult{VideoID: "vid-1", VideoURL: "https://www.youtube.com/watch?v=vid-1"}}
	e := newTestExecutor(t, uploader, &scriptedGenerator{}, nil, fastExecConfig())

	result, err := e.Execute(context.Background(), uploadJob("video.mp4"), noProgress)
	require.NoError(t, err)
	assert.Equal(t, "vid-1", result.VideoID)
	assert.Equal(t, 1, uploader.callCount())
}

func TestExecutor_UploadRetriesThenSucceeds(t *testing.T) {
	uploader := &fakeUploader{
		results: []error{
			domain.NewRetriableError("upload", fmt.Errorf("server error")),
			domain.NewRetriableError("upload", fmt.Errorf("server error")),
			nil,
		},
		result: domain.JobResult{VideoID: "vid-1"},
	}
	e := newTestExecutor(t, uploader, &scriptedGenerator{}, nil, fastExecConfig())

	result, err := e.Execute(context.Background(), uploadJob("video.mp4"), noProgress)
	require.NoError(t, err)
	assert.Equal(t, "vid-1", result.VideoID)
	assert.Equal(t, 3, uploader.callCount())
}

func TestExecutor_UploadExhaustsRetries(t *testing.T) {
	boom := domain.NewRetriableError("upload", fmt.Errorf("server error"))
	uploader := &fakeUploader{results: []error{boom, boom, boom}}
	e := newTestExecutor(t, uploader, &scriptedGenerator{}, nil, fastExecConfig())

	_, err := e.Execute(context.Background(), uploadJob("video.mp4"), noProgress)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, uploader.callCount())
}

func TestExecutor_UploadValidationErrorNeverRetried(t *testing.T) {
	uploader := &fakeUploader{results: []error{
		domain.NewValidationError("upload", fmt.Errorf("file too large")),
	}}
	e := newTestExecutor(t, uploader, &scriptedGenerator{}, nil, fastExecConfig())

	_, err := e.Execute(context.Background(), uploadJob("huge.mp4"), noProgress)
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindValidation, domain.KindOf(err))
	assert.Equal(t, 1, uploader.callCount(), "validation failures are final")
}

func TestExecutor_UploadMovesFileToProcessed(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0644))
	processed := filepath.Join(dir, "processed")

	cfg := fastExecConfig()
	cfg.ProcessedDir = processed
	uploader := &fakeUploader{result: domain.JobResult{VideoID: "vid-1"}}
	e := newTestExecutor(t, uploader, &scriptedGenerator{}, nil, cfg)

	_, err := e.Execute(context.Background(), uploadJob(src), noProgress)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(processed, "clip.mp4"))
	assert.NoError(t, err, "uploaded file relocated")
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestExecutor_GenerateCompletesAndChainsUpload(t *testing.T) {
	gen := &scriptedGenerator{sequence: []domain.GenerationStatus{
		{State: domain.GenerationProcessing, Progress: 40},
		{State: domain.GenerationCompleted, Progress: 100, ResultRef: "/videos/out.mp4"},
	}}
	rec := &enqueueRecorder{}
	e := newTestExecutor(t, &fakeUploader{}, gen, nil, fastExecConfig())
	e.SetEnqueue(rec.fn)

	job := domain.Job{
		ID:       "job-1",
		Type:     domain.JobTypeGenerateVideo,
		Priority: 7,
		Payload:  domain.Payload{Generate: &domain.GeneratePayload{Prompt: "a sunset over mountains"}},
	}

	var lastProgress float64
	result, err := e.Execute(context.Background(), job, func(pct float64) { lastProgress = pct })
	require.NoError(t, err)
	assert.Equal(t, "/videos/out.mp4", result.FilePath)
	assert.Equal(t, float64(100), lastProgress)

	require.Len(t, rec.calls, 1)
	assert.Equal(t, domain.JobTypeUploadVideo, rec.calls[0].Type)
	require.NotNil(t, rec.calls[0].Payload.Upload)
	assert.Equal(t, "/videos/out.mp4", rec.calls[0].Payload.Upload.FilePath)
	assert.Equal(t, "a sunset over mountains", rec.calls[0].Payload.Upload.Metadata.Prompt)
}

func TestExecutor_GenerateThumbnailFailureIsNonFatal(t *testing.T) {
	gen := &scriptedGenerator{sequence: []domain.GenerationStatus{
		{State: domain.GenerationCompleted, Progress: 100, ResultRef: "/videos/out.mp4"},
	}}
	thumbs := &fakeThumbs{err: fmt.Errorf("image api down")}
	e := newTestExecutor(t, &fakeUploader{}, gen, thumbs, fastExecConfig())

	job := domain.Job{
		ID:      "job-1",
		Type:    domain.JobTypeGenerateVideo,
		Payload: domain.Payload{Generate: &domain.GeneratePayload{Prompt: "city timelapse"}},
	}

	result, err := e.Execute(context.Background(), job, noProgress)
	require.NoError(t, err)
	assert.Empty(t, result.ThumbnailPath)
}

func TestExecutor_GenerateRemoteFailureIsTerminal(t *testing.T) {
	gen := &scriptedGenerator{sequence: []domain.GenerationStatus{
		{State: domain.GenerationFailed, Error: "content policy"},
	}}
	e := newTestExecutor(t, &fakeUploader{}, gen, nil, fastExecConfig())

	job := domain.Job{
		ID:      "job-1",
		Type:    domain.JobTypeGenerateVideo,
		Payload: domain.Payload{Generate: &domain.GeneratePayload{Prompt: "x"}},
	}

	_, err := e.Execute(context.Background(), job, noProgress)
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindTerminal, domain.KindOf(err))
}

func TestExecutor_GeneratePollBoundExhaustion(t *testing.T) {
	gen := &scriptedGenerator{sequence: []domain.GenerationStatus{
		{State: domain.GenerationProcessing, Progress: 10},
	}}
	e := newTestExecutor(t, &fakeUploader{}, gen, nil, fastExecConfig())

	job := domain.Job{
		ID:      "job-1",
		Type:    domain.JobTypeGenerateVideo,
		Payload: domain.Payload{Generate: &domain.GeneratePayload{Prompt: "x"}},
	}

	_, err := e.Execute(context.Background(), job, noProgress)
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindTimeout, domain.KindOf(err))
	gen.mu.Lock()
	polls := gen.polls
	gen.mu.Unlock()
	assert.Equal(t, 4, polls, "poll loop bounded by attempts")
}

func TestExecutor_GenerateFailedPollsStillCountTowardBound(t *testing.T) {
	gen := &scriptedGenerator{pollErr: fmt.Errorf("connection refused")}
	e := newTestExecutor(t, &fakeUploader{}, gen, nil, fastExecConfig())

	job := domain.Job{
		ID:      "job-1",
		Type:    domain.JobTypeGenerateVideo,
		Payload: domain.Payload{Generate: &domain.GeneratePayload{Prompt: "x"}},
	}

	_, err := e.Execute(context.Background(), job, noProgress)
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindTimeout, domain.KindOf(err))
}

func TestExecutor_ExistingFileChainsUpload(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "old.mp4")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0644))

	rec := &enqueueRecorder{}
	e := newTestExecutor(t, &fakeUploader{}, &scriptedGenerator{}, nil, fastExecConfig())
	e.SetEnqueue(rec.fn)

	job := domain.Job{
		ID:      "job-1",
		Type:    domain.JobTypeProcessExisting,
		Payload: domain.Payload{Existing: &domain.ExistingPayload{FilePath: src}},
	}

	result, err := e.Execute(context.Background(), job, noProgress)
	require.NoError(t, err)
	assert.Equal(t, src, result.FilePath)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, domain.JobTypeUploadVideo, rec.calls[0].Type)
}

func TestExecutor_ExistingMissingFileFailsValidation(t *testing.T) {
	e := newTestExecutor(t, &fakeUploader{}, &scriptedGenerator{}, nil, fastExecConfig())
	e.SetEnqueue((&enqueueRecorder{}).fn)

	job := domain.Job{
		ID:      "job-1",
		Type:    domain.JobTypeProcessExisting,
		Payload: domain.Payload{Existing: &domain.ExistingPayload{FilePath: "/no/such/file.mp4"}},
	}

	_, err := e.Execute(context.Background(), job, noProgress)
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindValidation, domain.KindOf(err))
}

func TestExecutor_UnknownJobTypeRejected(t *testing.T) {
	e := newTestExecutor(t, &fakeUploader{}, &scriptedGenerator{}, nil, fastExecConfig())

	_, err := e.Execute(context.Background(), domain.Job{Type: "transcode_video"}, noProgress)
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindValidation, domain.KindOf(err))
}
