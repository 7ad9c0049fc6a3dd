package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/refset/churnguard/internal/analysis"
	"github.com/refset/churnguard/internal/churn"
	"github.com/refset/churnguard/internal/kafka"
	"github.com/refset/churnguard/internal/store"
)

// ErrNoCustomers is returned when a tenant has nothing to re-analyze.
var ErrNoCustomers = errors.New("No customers to analyze")

// ReanalysisStats summarizes a re-analysis run.
type ReanalysisStats struct {
	TotalAnalyzed     int `json:"totalAnalyzed"`
	HighRiskCount     int `json:"highRiskCount"`
	AverageChurnScore int `json:"averageChurnScore"`
}

// ReanalysisReport carries the stats and every assessment that was stored.
type ReanalysisReport struct {
	Stats   ReanalysisStats       `json:"stats"`
	Results []analysis.Assessment `json:"results"`
}

// Reanalyze re-scores every customer of tenantID through the analyzer and
// stores the new scores.
func (p *Pipeline) Reanalyze(ctx context.Context, tenantID string) (*ReanalysisReport, error) {
	customers, err := p.store.ListCustomers(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(customers) == 0 {
		return nil, ErrNoCustomers
	}

	inputs := make([]analysis.CustomerInput, len(customers))
	names := make(map[string]string, len(customers))
	for i, c := range customers {
		inputs[i] = analysis.InputFrom(c)
		names[c.ID] = c.Name
	}

	results, err := p.analyzer.AnalyzeAll(ctx, inputs, p.cfg.Analysis.BatchSize, p.cfg.Analysis.BatchDelay)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", tenantID, err)
	}

	stored := make([]analysis.Assessment, 0, len(results))
	for _, r := range results {
		err := p.store.UpdateScore(ctx, tenantID, store.ScoreUpdate{
			CustomerID:        r.CustomerID,
			ChurnScore:        r.ChurnScore,
			RiskLevel:         r.RiskLevel,
			RiskFactors:       r.RiskFactors,
			RecommendedAction: r.RecommendedAction,
		})
		if errors.Is(err, store.ErrNotFound) {
			p.logger.Warn("customer vanished during re-analysis", zap.String("customer", r.CustomerID))
			continue
		}
		if err != nil {
			return nil, err
		}
		stored = append(stored, r)

		if err := p.publisher.PublishScore(ctx, kafka.ScoreEvent{
			TenantID:          tenantID,
			CustomerID:        r.CustomerID,
			Name:              names[r.CustomerID],
			ChurnScore:        r.ChurnScore,
			RiskLevel:         string(r.RiskLevel),
			RiskFactors:       r.RiskFactors,
			RecommendedAction: r.RecommendedAction,
			Source:            r.Provider,
			OccurredAt:        p.now().UTC(),
		}); err != nil {
			p.logger.Warn("publish score event failed", zap.String("customer", r.CustomerID), zap.Error(err))
		}
	}

	return &ReanalysisReport{Stats: summarize(stored), Results: stored}, nil
}

func summarize(results []analysis.Assessment) ReanalysisStats {
	stats := ReanalysisStats{TotalAnalyzed: len(results)}
	if len(results) == 0 {
		return stats
	}
	var sum float64
	for _, r := range results {
		sum += r.ChurnScore
		if r.RiskLevel == churn.RiskHigh || r.RiskLevel == churn.RiskCritical {
			stats.HighRiskCount++
		}
	}
	stats.AverageChurnScore = int(math.Round(sum / float64(len(results))))
	return stats
}
