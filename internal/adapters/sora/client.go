package sora

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tubeflow/tubeflow/internal/core/domain"
	"github.com/tubeflow/tubeflow/internal/core/ports"
)

// Client talks to the generative-video API. It implements
// ports.ContentGenerator.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ ports.ContentGenerator = (*Client)(nil)

func NewClient(baseURL string, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1/video"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type createJobRequest struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style,omitempty"`
}

type createJobResponse struct {
	ID string `json:"id"`
}

func (c *Client) CreateJob(ctx context.Context, prompt string, style string) (string, error) {
	body, err := json.Marshal(createJobRequest{Prompt: prompt, Style: style})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generations", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generator connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("generator returned status: %d", resp.StatusCode)
	}

	var cr createJobResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if cr.ID == "" {
		return "", fmt.Errorf("generator returned no job id")
	}
	return cr.ID, nil
}

type jobStatusResponse struct {
	Status    string  `json:"status"`
	Progress  float64 `json:"progress"`
	ResultRef string  `json:"result_ref"`
	Error     string  `json:"error"`
}

func (c *Client) GetJobStatus(ctx context.Context, jobID string) (domain.GenerationStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/generations/"+jobID, nil)
	if err != nil {
		return domain.GenerationStatus{}, err
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.GenerationStatus{}, fmt.Errorf("generator connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.GenerationStatus{}, fmt.Errorf("generator returned status: %d", resp.StatusCode)
	}

	var js jobStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&js); err != nil {
		return domain.GenerationStatus{}, fmt.Errorf("failed to decode response: %w", err)
	}

	state, err := parseState(js.Status)
	if err != nil {
		return domain.GenerationStatus{}, err
	}

	return domain.GenerationStatus{
		State:     state,
		Progress:  js.Progress,
		ResultRef: js.ResultRef,
		Error:     js.Error,
	}, nil
}

func parseState(s string) (domain.GenerationState, error) {
	switch s {
	case "queued":
		return domain.GenerationQueued, nil
	case "processing", "in_progress":
		return domain.GenerationProcessing, nil
	case "completed", "succeeded":
		return domain.GenerationCompleted, nil
	case "failed":
		return domain.GenerationFailed, nil
	default:
		return "", fmt.Errorf("unknown generation status: %q", s)
	}
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
