package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tubeflow/tubeflow/internal/core/domain"
	"github.com/tubeflow/tubeflow/internal/core/ports"
)

// Config tunes validation and the per-chunk retry layer.
type Config struct {
	BaseURL string
	APIKey  string

	// ChunkSize in bytes; 0 sends the whole file in a single request.
	ChunkSize int64

	// Per-chunk retry on 5xx / resumable-session faults, exponential
	// backoff base*2^attempt. Distinct from the executor's whole-upload
	// retry layer.
	RetryAttempts int
	RetryBase     time.Duration

	MaxFileSize     int64
	ValidExtensions []string
}

// UploadClient pushes local files to the hosting API with resumable
// chunked transfer. It implements ports.VideoHost.
type UploadClient struct {
	logger  *slog.Logger
	client  *http.Client
	records ports.RecordStore // optional audit log
	cfg     Config

	sleep func(ctx context.Context, d time.Duration) error
}

var _ ports.VideoHost = (*UploadClient)(nil)

func NewUploadClient(logger *slog.Logger, records ports.RecordStore, cfg Config) *UploadClient {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 2 << 30
	}
	if len(cfg.ValidExtensions) == 0 {
		cfg.ValidExtensions = []string{".mp4", ".mov", ".avi", ".mkv", ".webm"}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &UploadClient{
		logger:  logger,
		client:  &http.Client{Timeout: 10 * time.Minute},
		records: records,
		cfg:     cfg,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Upload validates the file, opens a resumable session and streams the
// chunks. Progress is a 0-100 percentage of bytes acknowledged by the
// host.
func (c *UploadClient) Upload(ctx context.Context, filePath string, meta domain.VideoMetadata, progress func(float64)) (domain.JobResult, error) {
	size, err := c.validate(filePath)
	if err != nil {
		return domain.JobResult{}, err
	}

	file, err := os.Open(filePath)
	if err != nil {
		return domain.JobResult{}, domain.NewValidationError("upload", fmt.Errorf("open %s: %w", filePath, err))
	}
	defer file.Close()

	c.logger.Info("starting upload", "file", filepath.Base(filePath), "size", size, "title", meta.Title)

	sessionURL, err := c.createSession(ctx, filePath, size, meta)
	if err != nil {
		return domain.JobResult{}, err
	}

	resp, err := c.sendChunks(ctx, sessionURL, file, size, progress)
	if err != nil {
		return domain.JobResult{}, err
	}

	result := domain.JobResult{
		VideoID:  resp.ID,
		VideoURL: fmt.Sprintf("https://www.youtube.com/watch?v=%s", resp.ID),
		Title:    meta.Title,
		FilePath: filePath,
	}
	c.logger.Info("upload successful", "video_id", result.VideoID, "url", result.VideoURL)

	if c.records != nil {
		rec := domain.UploadRecord{
			ID:        uuid.New().String(),
			Filename:  filepath.Base(filePath),
			VideoID:   result.VideoID,
			VideoURL:  result.VideoURL,
			Title:     meta.Title,
			Privacy:   meta.Privacy,
			CreatedAt: time.Now(),
		}
		if err := c.records.AppendRecord(ctx, rec); err != nil {
			// Audit only; the upload itself succeeded.
			c.logger.Error("failed to append upload record", "video_id", result.VideoID, "error", err)
		}
	}

	return result, nil
}

// validate checks existence, extension and size without touching the
// network.
func (c *UploadClient) validate(filePath string) (int64, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return 0, domain.NewValidationError("upload", fmt.Errorf("file does not exist: %s", filePath))
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	valid := false
	for _, allowed := range c.cfg.ValidExtensions {
		if ext == allowed {
			valid = true
			break
		}
	}
	if !valid {
		return 0, domain.NewValidationError("upload", fmt.Errorf("invalid file extension: %s", ext))
	}

	if info.Size() == 0 {
		return 0, domain.NewValidationError("upload", fmt.Errorf("file is empty: %s", filePath))
	}

	if info.Size() > c.cfg.MaxFileSize {
		return 0, domain.NewValidationError("upload",
			fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), c.cfg.MaxFileSize))
	}

	return info.Size(), nil
}

type sessionRequest struct {
	Filename    string   `json:"filename"`
	Size        int64    `json:"size"`
	MimeType    string   `json:"mime_type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
	Category    string   `json:"category,omitempty"`
	Privacy     string   `json:"privacy"`
}

type uploadResponse struct {
	ID string `json:"id"`
}

// createSession opens a resumable upload session and returns its URL
// from the Location header.
func (c *UploadClient) createSession(ctx context.Context, filePath string, size int64, meta domain.VideoMetadata) (string, error) {
	body, err := json.Marshal(sessionRequest{
		Filename:    filepath.Base(filePath),
		Size:        size,
		MimeType:    mimeType(filePath),
		Title:       meta.Title,
		Description: meta.Description,
		Tags:        meta.Tags,
		Category:    meta.Category,
		Privacy:     meta.Privacy,
	})
	if err != nil {
		return "", fmt.Errorf("marshal session request: %w", err)
	}

	var sessionURL string
	err = c.withRetry(ctx, "create_session", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/videos?uploadType=resumable", bytes.NewReader(body))
		if err != nil {
			return domain.NewTerminalError("create_session", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Upload-Content-Length", fmt.Sprintf("%d", size))
		c.authorize(req)

		resp, err := c.client.Do(req)
		if err != nil {
			return domain.NewRetriableError("create_session", err)
		}
		defer resp.Body.Close()

		if err := classifyStatus("create_session", resp); err != nil {
			return err
		}

		sessionURL = resp.Header.Get("Location")
		if sessionURL == "" {
			return domain.NewRetriableError("create_session", fmt.Errorf("missing resumable session location"))
		}
		return nil
	})
	return sessionURL, err
}

// sendChunks streams the file through the session. Each chunk advances
// only on success; a failed chunk is retried in place so already-sent
// bytes are never resent.
func (c *UploadClient) sendChunks(ctx context.Context, sessionURL string, file *os.File, size int64, progress func(float64)) (*uploadResponse, error) {
	chunkSize := c.cfg.ChunkSize
	if chunkSize <= 0 || chunkSize > size {
		chunkSize = size
	}

	var sent int64
	for sent < size {
		n := chunkSize
		if size-sent < n {
			n = size - sent
		}

		chunk := make([]byte, n)
		if _, err := io.ReadFull(io.NewSectionReader(file, sent, n), chunk); err != nil {
			return nil, domain.NewTerminalError("upload", fmt.Errorf("read chunk at %d: %w", sent, err))
		}

		var final *uploadResponse
		err := c.withRetry(ctx, "upload_chunk", func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, bytes.NewReader(chunk))
			if err != nil {
				return domain.NewTerminalError("upload_chunk", err)
			}
			req.Header.Set("Content-Length", fmt.Sprintf("%d", n))
			req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", sent, sent+n-1, size))
			c.authorize(req)

			resp, err := c.client.Do(req)
			if err != nil {
				return domain.NewRetriableError("upload_chunk", err)
			}
			defer resp.Body.Close()

			// 308 acknowledges the chunk and keeps the session open.
			if resp.StatusCode == http.StatusPermanentRedirect {
				return nil
			}
			if err := classifyStatus("upload_chunk", resp); err != nil {
				return err
			}

			var ur uploadResponse
			if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
				return domain.NewRetriableError("upload_chunk", fmt.Errorf("decode upload response: %w", err))
			}
			final = &ur
			return nil
		})
		if err != nil {
			return nil, err
		}

		sent += n
		if progress != nil {
			progress(float64(sent) / float64(size) * 100)
		}

		if final != nil {
			return final, nil
		}
	}

	return nil, domain.NewRetriableError("upload", fmt.Errorf("session ended without a final response"))
}

// withRetry runs fn up to the configured attempt count, backing off
// exponentially on retriable failures. Validation and terminal errors
// pass straight through.
func (c *UploadClient) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryBase * (1 << attempt)
			c.logger.Warn("retrying after transient error", "op", op, "attempt", attempt, "delay", delay, "error", lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if domain.KindOf(err) != domain.ErrKindRetriable {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}

// classifyStatus maps an HTTP response to the error taxonomy: 2xx ok,
// 5xx retriable, everything else terminal.
func classifyStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode >= 500 {
		return domain.NewRetriableError(op, err)
	}
	return domain.NewTerminalError(op, err)
}

func (c *UploadClient) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

func mimeType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp4":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".avi":
		return "video/x-msvideo"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	default:
		return "video/mp4"
	}
}
