package duckdb

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/tubeflow/tubeflow/internal/core/domain"
	"github.com/tubeflow/tubeflow/internal/core/ports"
)

// RecordStore persists the append-only upload history in DuckDB. It is
// audit data only; the scheduler never depends on it.
type RecordStore struct {
	db *sql.DB
}

var _ ports.RecordStore = (*RecordStore)(nil)

func NewRecordStore(path string) (*RecordStore, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS upload_records (
			id         VARCHAR PRIMARY KEY,
			filename   VARCHAR NOT NULL,
			video_id   VARCHAR NOT NULL,
			video_url  VARCHAR NOT NULL,
			title      VARCHAR,
			privacy    VARCHAR,
			created_at TIMESTAMP NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create upload_records table: %w", err)
	}

	return &RecordStore{db: db}, nil
}

func (s *RecordStore) AppendRecord(ctx context.Context, rec domain.UploadRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO upload_records (id, filename, video_id, video_url, title, privacy, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Filename,
		rec.VideoID,
		rec.VideoURL,
		rec.Title,
		rec.Privacy,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert upload record: %w", err)
	}
	return nil
}

// LoadRecords returns the history newest first. limit <= 0 returns
// everything.
func (s *RecordStore) LoadRecords(ctx context.Context, limit int) ([]domain.UploadRecord, error) {
	query := `
		SELECT id, filename, video_id, video_url, title, privacy, created_at
		FROM upload_records
		ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query upload records: %w", err)
	}
	defer rows.Close()

	var out []domain.UploadRecord
	for rows.Next() {
		var rec domain.UploadRecord
		if err := rows.Scan(&rec.ID, &rec.Filename, &rec.VideoID, &rec.VideoURL, &rec.Title, &rec.Privacy, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan upload record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *RecordStore) Close() error {
	return s.db.Close()
}
