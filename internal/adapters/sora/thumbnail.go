package sora

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tubeflow/tubeflow/internal/core/ports"
)

// ThumbnailClient asks the image endpoint for a thumbnail and saves it
// locally. It implements ports.ThumbnailGenerator.
type ThumbnailClient struct {
	baseURL string
	apiKey  string
	outDir  string
	client  *http.Client
}

var _ ports.ThumbnailGenerator = (*ThumbnailClient)(nil)

func NewThumbnailClient(baseURL string, apiKey string, outDir string) *ThumbnailClient {
	return &ThumbnailClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		outDir:  outDir,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type imageRequest struct {
	Prompt string `json:"prompt"`
	Size   string `json:"size"`
	N      int    `json:"n"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

func (c *ThumbnailClient) GenerateThumbnail(ctx context.Context, videoPath string, prompt string) (string, error) {
	body, err := json.Marshal(imageRequest{
		Prompt: fmt.Sprintf("Eye-catching video thumbnail for: %s", prompt),
		Size:   "1792x1024",
		N:      1,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("image generation failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image endpoint returned status: %d", resp.StatusCode)
	}

	var ir imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(ir.Data) == 0 || ir.Data[0].URL == "" {
		return "", fmt.Errorf("image endpoint returned no image")
	}

	return c.download(ctx, ir.Data[0].URL, videoPath)
}

func (c *ThumbnailClient) download(ctx context.Context, url string, videoPath string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("thumbnail download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("thumbnail download failed status=%d", resp.StatusCode)
	}

	if err := os.MkdirAll(c.outDir, 0755); err != nil {
		return "", fmt.Errorf("create thumbnail dir: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
	outPath := filepath.Join(c.outDir, stem+"_thumbnail.png")
	file, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("create thumbnail file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, resp.Body); err != nil {
		return "", fmt.Errorf("write thumbnail: %w", err)
	}
	return outPath, nil
}
