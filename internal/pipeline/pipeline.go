// Package pipeline wires ingestion, persistence, events and re-analysis into
// the operations exposed by the command line.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/refset/churnguard/internal/analysis"
	"github.com/refset/churnguard/internal/churn"
	"github.com/refset/churnguard/internal/config"
	"github.com/refset/churnguard/internal/ingest"
	"github.com/refset/churnguard/internal/kafka"
	"github.com/refset/churnguard/internal/store"
)

// CustomerStore is the persistence the pipeline needs.
type CustomerStore interface {
	CreateCustomer(ctx context.Context, tenantID string, c *churn.Customer) (string, error)
	UpdateScore(ctx context.Context, tenantID string, u store.ScoreUpdate) error
	ListCustomers(ctx context.Context, tenantID string) ([]churn.Customer, error)
	ListTenants(ctx context.Context) ([]string, error)
	Stats(ctx context.Context, tenantID string) (*store.Stats, error)
	CreateUpload(ctx context.Context, tenantID, fileName, objectKey string) (string, error)
	CompleteUpload(ctx context.Context, id string, imported, failed int, validation any) error
	FailUpload(ctx context.Context, id, message string) error
}

// Publisher emits score and import events.
type Publisher interface {
	PublishScore(ctx context.Context, event kafka.ScoreEvent) error
	PublishImport(ctx context.Context, event kafka.ImportEvent) error
	Close() error
}

// Archiver keeps raw uploads.
type Archiver interface {
	Put(ctx context.Context, tenantID, fileName string, data []byte) (string, error)
}

// Analyzer re-scores customers in batches.
type Analyzer interface {
	AnalyzeAll(ctx context.Context, inputs []analysis.CustomerInput, size int, delay time.Duration) ([]analysis.Assessment, error)
}

// Pipeline runs imports and re-analysis against one store.
type Pipeline struct {
	cfg       *config.Config
	store     CustomerStore
	publisher Publisher
	archiver  Archiver
	analyzer  Analyzer
	ingest    *ingest.Orchestrator
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithPublisher(p Publisher) Option { return func(pl *Pipeline) { pl.publisher = p } }

func WithArchiver(a Archiver) Option { return func(pl *Pipeline) { pl.archiver = a } }

func WithAnalyzer(a Analyzer) Option { return func(pl *Pipeline) { pl.analyzer = a } }

func WithLogger(l *zap.Logger) Option { return func(pl *Pipeline) { pl.logger = l } }

func WithClock(now func() time.Time) Option { return func(pl *Pipeline) { pl.now = now } }

// New creates a pipeline. Without options events are dropped, uploads are not
// archived and re-analysis uses the heuristic alone.
func New(cfg *config.Config, st CustomerStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		store:     st,
		publisher: nopPublisher{},
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.analyzer == nil {
		p.analyzer = analysis.NewChain(nil,
			analysis.WithChainClock(p.now),
			analysis.WithCooldown(cfg.Analysis.ProviderCooldown),
			analysis.WithChainLogger(p.logger))
	}
	p.ingest = ingest.New(customerSink{p}, ingest.WithClock(p.now), ingest.WithLogger(p.logger))
	return p
}

// Close releases the event publisher.
func (p *Pipeline) Close() error {
	return p.publisher.Close()
}

// Run re-analyzes every tenant now and then once per sweep interval until ctx
// is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("starting churn sweep",
		zap.Duration("interval", p.cfg.Analysis.SweepInterval),
		zap.Int("batch_size", p.cfg.Analysis.BatchSize))

	ticker := time.NewTicker(p.cfg.Analysis.SweepInterval)
	defer ticker.Stop()

	// Initial sweep
	if err := p.sweep(ctx); err != nil {
		p.logger.Error("initial sweep failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("shutting down sweep")
			return nil
		case <-ticker.C:
			if err := p.sweep(ctx); err != nil {
				p.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

func (p *Pipeline) sweep(ctx context.Context) error {
	tenants, err := p.store.ListTenants(ctx)
	if err != nil {
		return err
	}

	for _, tenant := range tenants {
		if ctx.Err() != nil {
			return nil
		}
		report, err := p.Reanalyze(ctx, tenant)
		switch {
		case errors.Is(err, ErrNoCustomers):
			continue
		case err != nil:
			p.logger.Warn("tenant re-analysis failed", zap.String("tenant", tenant), zap.Error(err))
			continue
		}
		p.logger.Info("tenant re-analyzed",
			zap.String("tenant", tenant),
			zap.Int("analyzed", report.Stats.TotalAnalyzed),
			zap.Int("high_risk", report.Stats.HighRiskCount))
	}
	return nil
}

// Stats returns dashboard totals for tenantID.
func (p *Pipeline) Stats(ctx context.Context, tenantID string) (*store.Stats, error) {
	return p.store.Stats(ctx, tenantID)
}

type nopPublisher struct{}

func (nopPublisher) PublishScore(context.Context, kafka.ScoreEvent) error { return nil }

func (nopPublisher) PublishImport(context.Context, kafka.ImportEvent) error { return nil }

func (nopPublisher) Close() error { return nil }
