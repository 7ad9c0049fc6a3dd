package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Upload statuses.
const (
	UploadProcessing = "processing"
	UploadCompleted  = "completed"
	UploadFailed     = "failed"
)

// Upload is the bookkeeping record kept for every imported file.
type Upload struct {
	ID                string
	TenantID          string
	FileName          string
	ObjectKey         string
	Status            string
	RecordsImported   int
	RecordsFailed     int
	ValidationResults json.RawMessage
	ErrorMessage      string
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

// CreateUpload records a file as processing and returns the upload id.
func (s *Store) CreateUpload(ctx context.Context, tenantID, fileName, objectKey string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, tenant_id, file_name, object_key, status)
		VALUES ($1, $2, $3, $4, $5)`, s.table("file_uploads")),
		id, tenantID, fileName, nullString(objectKey), UploadProcessing,
	)
	if err != nil {
		return "", fmt.Errorf("insert upload: %w", err)
	}
	return id, nil
}

// CompleteUpload stores the batch counts and the full row error list.
func (s *Store) CompleteUpload(ctx context.Context, id string, imported, failed int, validation any) error {
	results, err := json.Marshal(validation)
	if err != nil {
		return fmt.Errorf("encode validation results: %w", err)
	}
	return s.finishUpload(ctx, fmt.Sprintf(`
		UPDATE %s
		SET status = $2, records_imported = $3, records_failed = $4,
			validation_results = $5, completed_at = now()
		WHERE id = $1`, s.table("file_uploads")),
		id, UploadCompleted, imported, failed, results)
}

// FailUpload marks an upload that never produced rows.
func (s *Store) FailUpload(ctx context.Context, id, message string) error {
	return s.finishUpload(ctx, fmt.Sprintf(`
		UPDATE %s
		SET status = $2, error_message = $3, completed_at = now()
		WHERE id = $1`, s.table("file_uploads")),
		id, UploadFailed, message)
}

func (s *Store) finishUpload(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update upload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upload %v: %w", args[0], ErrNotFound)
	}
	return nil
}

// GetUpload loads one upload record.
func (s *Store) GetUpload(ctx context.Context, id string) (*Upload, error) {
	var (
		u       Upload
		results []byte
	)
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, tenant_id, file_name, COALESCE(object_key, ''), status,
			records_imported, records_failed, validation_results,
			COALESCE(error_message, ''), created_at, completed_at
		FROM %s
		WHERE id = $1`, s.table("file_uploads")), id,
	).Scan(
		&u.ID, &u.TenantID, &u.FileName, &u.ObjectKey, &u.Status,
		&u.RecordsImported, &u.RecordsFailed, &results,
		&u.ErrorMessage, &u.CreatedAt, &u.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("upload %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get upload: %w", err)
	}
	u.ValidationResults = results
	return &u, nil
}
