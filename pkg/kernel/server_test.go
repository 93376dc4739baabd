package kernel

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tubeflow/tubeflow/internal/core/domain"
	"github.com/tubeflow/tubeflow/internal/core/services"
)

type instantExecutor struct{}

func (instantExecutor) Execute(ctx context.Context, job domain.Job, progress func(float64)) (*domain.JobResult, error) {
	return &domain.JobResult{Message: "done"}, nil
}

func newTestServer(t *testing.T) (*Server, *services.PipelineScheduler, *services.NotificationHub) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	hub := services.NewNotificationHub(logger)
	scheduler := services.NewPipelineScheduler(logger, services.SchedulerConfig{
		MaxConcurrentJobs: 2,
		Tick:              5 * time.Millisecond,
		MonitorTick:       time.Hour,
	}, hub, instantExecutor{})
	t.Cleanup(func() { scheduler.Stop() })
	return NewServer(logger, scheduler, hub, nil), scheduler, hub
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	}
	return rec, decoded
}

func TestServer_Healthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, body := doJSON(t, srv.Handler(), "GET", "/v1/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_PipelineLifecycle(t *testing.T) {
	srv, scheduler, _ := newTestServer(t)
	h := srv.Handler()

	rec, _ := doJSON(t, h, "POST", "/v1/pipeline/start", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PipelineRunning, scheduler.Status())

	// Starting twice conflicts.
	rec, body := doJSON(t, h, "POST", "/v1/pipeline/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, body["error"], "cannot start")

	rec, _ = doJSON(t, h, "POST", "/v1/pipeline/pause", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = doJSON(t, h, "POST", "/v1/pipeline/resume", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = doJSON(t, h, "POST", "/v1/pipeline/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.PipelineIdle, scheduler.Status())
}

func TestServer_StatusSnapshot(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, body := doJSON(t, srv.Handler(), "GET", "/v1/pipeline/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", body["status"])
	assert.Equal(t, float64(0), body["queue_size"])
}

func TestServer_AddAndInspectJob(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec, body := doJSON(t, h, "POST", "/v1/pipeline/jobs",
		`{"type":"upload_video","payload":{"upload":{"file_path":"/videos/a.mp4"}},"priority":5}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	jobID, ok := body["job_id"].(string)
	require.True(t, ok)
	assert.Equal(t, float64(1), body["queue_size"])

	rec, queueBody := doJSON(t, h, "GET", "/v1/pipeline/queue", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), queueBody["queue_size"])

	rec, jobBody := doJSON(t, h, "GET", "/v1/pipeline/jobs/"+jobID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "queued", jobBody["state"])

	rec, _ = doJSON(t, h, "DELETE", "/v1/pipeline/jobs/"+jobID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, h, "DELETE", "/v1/pipeline/jobs/"+jobID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_AddJobValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec, body := doJSON(t, h, "POST", "/v1/pipeline/jobs", `{"type":"transcode_video","payload":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "unknown job type")

	rec, _ = doJSON(t, h, "POST", "/v1/pipeline/jobs", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = doJSON(t, h, "POST", "/v1/pipeline/jobs", `{"type":"generate_video","payload":{"generate":{}}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "prompt")
}

func TestServer_UnknownJobAndRoutes(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec, _ := doJSON(t, h, "GET", "/v1/pipeline/jobs/no-such-id", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, h, "GET", "/v1/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Wrong method on a known path.
	rec, _ = doJSON(t, h, "DELETE", "/v1/pipeline/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_StatsEndpoint(t *testing.T) {
	srv, scheduler, _ := newTestServer(t)
	h := srv.Handler()

	require.True(t, scheduler.Start())
	_, err := scheduler.AddJob(domain.JobTypeUploadVideo,
		domain.Payload{Upload: &domain.UploadPayload{FilePath: "/videos/a.mp4"}}, 0)
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && scheduler.Stats().JobsProcessed == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	rec, completedBody := doJSON(t, h, "GET", "/v1/pipeline/jobs/completed", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	completed, ok := completedBody["completed_jobs"].([]any)
	require.True(t, ok)
	require.Len(t, completed, 1)

	rec, body := doJSON(t, h, "GET", "/v1/pipeline/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	stats, ok := body["stats"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), stats["jobs_processed"])
	assert.Equal(t, float64(1), stats["videos_uploaded"])
	assert.NotNil(t, body["uptime"])
}

func TestServer_UploadsWithoutStore(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, body := doJSON(t, srv.Handler(), "GET", "/v1/uploads", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	uploads, ok := body["uploads"].([]any)
	require.True(t, ok)
	assert.Empty(t, uploads)
}

func TestServer_EventsSSEDeliversBroadcasts(t *testing.T) {
	srv, _, hub := newTestServer(t)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/v1/events?channels=uploads", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Wait for the subscription to register before broadcasting.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && hub.ChannelSubscribers(services.ChannelUploads) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, hub.ChannelSubscribers(services.ChannelUploads))

	hub.BroadcastToChannel(services.ChannelUploads, services.Message{
		Type:  "upload_progress",
		JobID: "job-1",
	})

	reader := bufio.NewReader(resp.Body)
	var eventLine, dataLine string
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "event: ") {
			eventLine = line
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = line
			break
		}
	}

	assert.Equal(t, "event: upload_progress", eventLine)
	var msg services.Message
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(dataLine, "data: ")), &msg))
	assert.Equal(t, "job-1", msg.JobID)
	assert.Equal(t, services.ChannelUploads, msg.Channel)
	cancel()
}

func TestServer_EventsSSEChannelFiltering(t *testing.T) {
	srv, _, hub := newTestServer(t)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", ts.URL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && hub.ConnectionCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	// Channel-scoped message must not reach an unsubscribed connection;
	// the global broadcast after it must.
	hub.BroadcastToChannel(services.ChannelGeneration, services.Message{Type: "generation_progress"})
	hub.Broadcast(services.Message{Type: "job_added", JobID: "job-2"})

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "event: ") {
			assert.Equal(t, "event: job_added", line)
			break
		}
	}
	cancel()
}

func TestServer_UploadsLimitParsing(t *testing.T) {
	srv, _, _ := newTestServer(t)
	// Bad limit values fall back instead of erroring.
	rec, _ := doJSON(t, srv.Handler(), "GET", "/v1/uploads?limit=bogus", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = doJSON(t, srv.Handler(), "GET", fmt.Sprintf("/v1/uploads?limit=%d", -5), "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
