// Package archive keeps a copy of every raw upload in S3-compatible storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config locates the bucket uploads are written to.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Archive struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

// New connects to the object store. The bucket is created on first use by
// EnsureBucket.
func New(cfg Config) (*Archive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Archive{client: client, bucket: cfg.Bucket, now: time.Now}, nil
}

// EnsureBucket creates the upload bucket when it does not exist yet.
func (a *Archive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// Put stores a raw upload and returns its object key.
func (a *Archive) Put(ctx context.Context, tenantID, fileName string, data []byte) (string, error) {
	key := ObjectKey(tenantID, fileName, a.now(), uuid.NewString())
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: ContentType(fileName),
	})
	if err != nil {
		return "", fmt.Errorf("upload file: %w", err)
	}
	return key, nil
}

// ObjectKey lays uploads out as uploads/<tenant>/<yyyy/mm/dd>/<id8>-<name>.
func ObjectKey(tenantID, fileName string, at time.Time, id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	name := strings.ReplaceAll(filepath.Base(fileName), " ", "_")
	return fmt.Sprintf("uploads/%s/%s/%s-%s", keySegment(tenantID), at.UTC().Format("2006/01/02"), id, name)
}

// keySegment keeps s to a single path element of [A-Za-z0-9._-].
func keySegment(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
	if strings.Trim(s, ".") == "" {
		return "_"
	}
	return s
}

// ContentType is the MIME type recorded for an upload.
func ContentType(fileName string) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/octet-stream"
}
