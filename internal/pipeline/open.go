package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/refset/churnguard/internal/analysis"
	"github.com/refset/churnguard/internal/archive"
	"github.com/refset/churnguard/internal/config"
	"github.com/refset/churnguard/internal/kafka"
	"github.com/refset/churnguard/internal/store"
)

// Open connects every configured backend and returns a ready pipeline. The
// returned close function releases them all.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Pipeline, func(), error) {
	st, err := store.Open(ctx, cfg.Database.URL, cfg.Database.Schema)
	if err != nil {
		return nil, nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		st.Close()
		return nil, nil, err
	}

	opts := []Option{WithLogger(logger)}

	if cfg.Kafka.Enabled {
		opts = append(opts, WithPublisher(kafka.NewProducer(
			cfg.Kafka.Brokers,
			cfg.Kafka.ScoresTopic,
			cfg.Kafka.ImportsTopic,
			logger,
		)))
		logger.Info("publishing events", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	if cfg.Archive.Endpoint != "" {
		arc, err := archive.New(archive.Config{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			st.Close()
			return nil, nil, err
		}
		if err := arc.EnsureBucket(ctx); err != nil {
			st.Close()
			return nil, nil, err
		}
		opts = append(opts, WithArchiver(arc))
	}

	var providers []analysis.Provider
	if cfg.Gemini.APIKey != "" {
		gemini, err := analysis.NewGeminiProvider(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, logger)
		if err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("gemini provider: %w", err)
		}
		providers = append(providers, gemini)
	}
	opts = append(opts, WithAnalyzer(analysis.NewChain(providers,
		analysis.WithCooldown(cfg.Analysis.ProviderCooldown),
		analysis.WithChainLogger(logger))))

	p := New(cfg, st, opts...)
	closeFn := func() {
		if err := p.Close(); err != nil {
			logger.Warn("close publisher", zap.Error(err))
		}
		st.Close()
	}
	return p, closeFn, nil
}
