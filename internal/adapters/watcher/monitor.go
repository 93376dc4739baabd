package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tubeflow/tubeflow/internal/core/ports"
)

// Monitor polls a watch folder for new video files. A file counts as
// ready once its size has held steady across two consecutive checks, so
// half-written files are never picked up. It implements ports.FileSource.
type Monitor struct {
	logger     *slog.Logger
	dir        string
	interval   time.Duration
	extensions []string

	mu        sync.Mutex
	sizes     map[string]int64
	processed map[string]struct{}
}

var _ ports.FileSource = (*Monitor)(nil)

func NewMonitor(logger *slog.Logger, dir string, interval time.Duration, extensions []string) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		logger:     logger,
		dir:        dir,
		interval:   interval,
		extensions: extensions,
		sizes:      make(map[string]int64),
		processed:  make(map[string]struct{}),
	}
}

// Run polls until ctx is cancelled, invoking onFile for each file that
// becomes stable.
func (m *Monitor) Run(ctx context.Context, onFile func(path string)) error {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return err
	}

	m.logger.Info("watch folder monitor started", "dir", m.dir, "interval", m.interval)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("watch folder monitor stopped")
			return nil
		case <-ticker.C:
			for _, path := range m.scan() {
				m.logger.Info("video file ready", "path", path)
				onFile(path)
			}
		}
	}
}

// scan returns the files that became stable on this check.
func (m *Monitor) scan() []string {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		m.logger.Error("failed to read watch folder", "dir", m.dir, "error", err)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var ready []string
	seen := make(map[string]struct{}, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !m.isVideo(entry.Name()) {
			continue
		}
		path := filepath.Join(m.dir, entry.Name())
		seen[path] = struct{}{}

		if _, done := m.processed[path]; done {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		prev, tracked := m.sizes[path]
		if tracked && prev == info.Size() {
			// Size stable since the last check: the writer is done.
			m.processed[path] = struct{}{}
			delete(m.sizes, path)
			ready = append(ready, path)
			continue
		}
		m.sizes[path] = info.Size()
	}

	// Forget files that left the folder so a re-drop is detected.
	for path := range m.processed {
		if _, ok := seen[path]; !ok {
			delete(m.processed, path)
		}
	}
	for path := range m.sizes {
		if _, ok := seen[path]; !ok {
			delete(m.sizes, path)
		}
	}

	return ready
}

func (m *Monitor) isVideo(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range m.extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
