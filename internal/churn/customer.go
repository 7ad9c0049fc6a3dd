// Package churn holds the canonical customer record, header normalization and
// the churn risk heuristics.
package churn

import "strings"

// RiskLevel is the ordinal risk tier derived from a churn score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders tiers from low (0) to critical (3). Unknown tiers rank -1.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return -1
	}
}

// Valid reports whether l is one of the four known tiers.
func (l RiskLevel) Valid() bool {
	return l.Rank() >= 0
}

// ParseRiskLevel accepts any capitalization of a known tier.
func ParseRiskLevel(value string) (RiskLevel, bool) {
	level := RiskLevel(strings.ToLower(strings.TrimSpace(value)))
	return level, level.Valid()
}

// NoRiskFactors is the single factor reported when nothing contributed to a score.
const NoRiskFactors = "No significant risk factors detected"

// Customer is the canonical customer record produced by the import pipeline.
type Customer struct {
	ID                string            `json:"id,omitempty"`
	TenantID          string            `json:"tenant_id"`
	Name              string            `json:"name"`
	Email             string            `json:"email,omitempty"`
	Phone             string            `json:"phone,omitempty"`
	Company           string            `json:"company,omitempty"`
	Segment           string            `json:"segment,omitempty"`
	LastActivityDate  string            `json:"last_activity_date,omitempty"`
	TotalRevenue      float64           `json:"total_revenue"`
	SupportTickets    int               `json:"support_tickets"`
	ChurnScore        float64           `json:"churn_score"`
	RiskLevel         RiskLevel         `json:"risk_level"`
	RiskFactors       []string          `json:"risk_factors"`
	RecommendedAction string            `json:"recommended_action,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Signals returns the scoring inputs carried by the record.
func (c *Customer) Signals() Signals {
	return Signals{
		LastActivityDate: c.LastActivityDate,
		TotalRevenue:     c.TotalRevenue,
		SupportTickets:   c.SupportTickets,
		Segment:          c.Segment,
	}
}

// Apply copies an assessment onto the record.
func (c *Customer) Apply(a Assessment) {
	c.ChurnScore = a.Score
	c.RiskLevel = a.Level
	c.RiskFactors = append([]string(nil), a.Factors...)
}
