// Package analysis re-scores stored customers through an ordered chain of
// providers that always ends in the bulk re-analysis heuristic.
package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/refset/churnguard/internal/churn"
)

// ErrAllProvidersFailed is returned when no provider in a chain produced a
// result. A chain built by NewChain ends in the heuristic, which cannot fail.
var ErrAllProvidersFailed = errors.New("all analysis providers failed")

// CustomerInput is what a provider sees of a stored customer.
type CustomerInput struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	Email            string  `json:"email"`
	LastActivityDate string  `json:"lastActivityDate"`
	TotalRevenue     float64 `json:"totalRevenue"`
	SupportTickets   int     `json:"supportTickets"`
	Segment          string  `json:"segment"`
}

// InputFrom projects a stored customer onto the provider input.
func InputFrom(c churn.Customer) CustomerInput {
	return CustomerInput{
		ID:               c.ID,
		Name:             c.Name,
		Email:            c.Email,
		LastActivityDate: c.LastActivityDate,
		TotalRevenue:     c.TotalRevenue,
		SupportTickets:   c.SupportTickets,
		Segment:          c.Segment,
	}
}

func (in CustomerInput) signals() churn.Signals {
	return churn.Signals{
		LastActivityDate: in.LastActivityDate,
		TotalRevenue:     in.TotalRevenue,
		SupportTickets:   in.SupportTickets,
		Segment:          in.Segment,
	}
}

// Assessment is one provider verdict.
type Assessment struct {
	CustomerID        string          `json:"customerId"`
	ChurnScore        float64         `json:"churnScore"`
	RiskLevel         churn.RiskLevel `json:"riskLevel"`
	RiskFactors       []string        `json:"riskFactors"`
	RecommendedAction string          `json:"recommendedAction"`
	Provider          string          `json:"provider"`
}

// Provider scores a batch of customers. Implementations return at most one
// assessment per input.
type Provider interface {
	Name() string
	Analyze(ctx context.Context, batch []CustomerInput) ([]Assessment, error)
}

// HeuristicName is the name of the terminal rule-based provider.
const HeuristicName = "heuristic"

// HeuristicProvider applies the bulk re-analysis heuristic. It never fails.
type HeuristicProvider struct {
	now func() time.Time
}

// NewHeuristicProvider returns a heuristic that reads the time from now.
func NewHeuristicProvider(now func() time.Time) *HeuristicProvider {
	if now == nil {
		now = time.Now
	}
	return &HeuristicProvider{now: now}
}

func (h *HeuristicProvider) Name() string { return HeuristicName }

func (h *HeuristicProvider) Analyze(_ context.Context, batch []CustomerInput) ([]Assessment, error) {
	now := h.now()
	out := make([]Assessment, 0, len(batch))
	for _, in := range batch {
		out = append(out, h.assess(in, now))
	}
	return out, nil
}

func (h *HeuristicProvider) assess(in CustomerInput, now time.Time) Assessment {
	a := churn.Score(churn.BulkReanalysisHeuristic, in.signals(), now)
	return Assessment{
		CustomerID:        in.ID,
		ChurnScore:        a.Score,
		RiskLevel:         a.Level,
		RiskFactors:       a.Factors,
		RecommendedAction: churn.RecommendedAction(a.Level),
		Provider:          HeuristicName,
	}
}
