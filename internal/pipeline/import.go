package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/refset/churnguard/internal/churn"
	"github.com/refset/churnguard/internal/ingest"
	"github.com/refset/churnguard/internal/kafka"
	"github.com/refset/churnguard/internal/source"
)

// ImportReport describes one processed upload.
type ImportReport struct {
	UploadID  string
	ObjectKey string
	Result    *ingest.Result
	Summary   ingest.Summary
}

// ImportFile reads the file at path and imports its rows for tenantID.
func (p *Pipeline) ImportFile(ctx context.Context, tenantID, path string) (*ImportReport, error) {
	if _, err := source.DetectFormat(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return p.Import(ctx, tenantID, filepath.Base(path), data)
}

// Import records an upload, archives the raw bytes, parses them and runs every
// row through the orchestrator. Row failures are reported in the result; only
// unreadable input or a cancelled context fail the upload.
func (p *Pipeline) Import(ctx context.Context, tenantID, fileName string, data []byte) (*ImportReport, error) {
	report := &ImportReport{}

	if p.archiver != nil {
		key, err := p.archiver.Put(ctx, tenantID, fileName, data)
		if err != nil {
			p.logger.Warn("archive upload failed", zap.String("file", fileName), zap.Error(err))
		} else {
			report.ObjectKey = key
		}
	}

	uploadID, err := p.store.CreateUpload(ctx, tenantID, fileName, report.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("record upload: %w", err)
	}
	report.UploadID = uploadID

	rows, err := source.Read(fileName, bytes.NewReader(data), source.Options{
		Encoding: p.cfg.Import.Encoding,
		Sheet:    p.cfg.Import.Sheet,
	})
	if err != nil {
		return report, p.failUpload(ctx, uploadID, fmt.Errorf("parse %s: %w", fileName, err))
	}

	result, err := p.ingest.Run(ctx, tenantID, rows)
	if err != nil {
		report.Result = result
		return report, p.failUpload(ctx, uploadID, err)
	}
	report.Result = result
	report.Summary = result.Summary(p.cfg.Import.ErrorLimit)

	errs := result.Errors
	if errs == nil {
		errs = []ingest.RowError{}
	}
	if err := p.store.CompleteUpload(ctx, uploadID, result.Imported, result.Failed, errs); err != nil {
		return report, fmt.Errorf("complete upload: %w", err)
	}

	if err := p.publisher.PublishImport(ctx, kafka.ImportEvent{
		TenantID:   tenantID,
		UploadID:   uploadID,
		FileName:   fileName,
		Total:      result.Total,
		Imported:   result.Imported,
		Failed:     result.Failed,
		OccurredAt: p.now().UTC(),
	}); err != nil {
		p.logger.Warn("publish import event failed", zap.String("upload", uploadID), zap.Error(err))
	}

	p.logger.Info("upload imported",
		zap.String("tenant", tenantID),
		zap.String("upload", uploadID),
		zap.Int("imported", result.Imported),
		zap.Int("failed", result.Failed))
	return report, nil
}

// failUpload marks the upload failed and returns cause. The bookkeeping uses a
// fresh context so a cancelled import is still recorded.
func (p *Pipeline) failUpload(ctx context.Context, uploadID string, cause error) error {
	if err := p.store.FailUpload(context.WithoutCancel(ctx), uploadID, cause.Error()); err != nil {
		p.logger.Error("mark upload failed", zap.String("upload", uploadID), zap.Error(err))
	}
	return cause
}

// AddCustomer validates, scores and stores a single customer given as raw
// header/value pairs.
func (p *Pipeline) AddCustomer(ctx context.Context, tenantID string, raw map[string]string) (*churn.Customer, error) {
	return p.ingest.CreateOne(ctx, tenantID, churn.Normalize(raw))
}

// customerSink persists each imported customer and announces its score.
type customerSink struct {
	p *Pipeline
}

func (s customerSink) Create(ctx context.Context, tenantID string, c *churn.Customer) (string, error) {
	id, err := s.p.store.CreateCustomer(ctx, tenantID, c)
	if err != nil {
		return "", err
	}
	if err := s.p.publisher.PublishScore(ctx, kafka.ScoreEvent{
		TenantID:    tenantID,
		CustomerID:  id,
		Name:        c.Name,
		ChurnScore:  c.ChurnScore,
		RiskLevel:   string(c.RiskLevel),
		RiskFactors: c.RiskFactors,
		Source:      churn.ImportTimeHeuristic.String(),
		OccurredAt:  s.p.now().UTC(),
	}); err != nil {
		s.p.logger.Warn("publish score event failed", zap.String("customer", id), zap.Error(err))
	}
	return id, nil
}
