package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/refset/churnguard/internal/churn"
)

// CreateCustomer inserts a scored customer and returns its new id.
func (s *Store) CreateCustomer(ctx context.Context, tenantID string, c *churn.Customer) (string, error) {
	factors, err := json.Marshal(nonNilFactors(c.RiskFactors))
	if err != nil {
		return "", err
	}
	metadata, err := json.Marshal(nonNilMetadata(c.Metadata))
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	_, err = s.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			id, tenant_id, name, email, phone, company, segment,
			last_activity_date, total_revenue, support_tickets,
			churn_score, risk_level, risk_factors, recommended_action, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		s.table("customers")),
		id, tenantID, c.Name,
		nullString(c.Email), nullString(c.Phone), nullString(c.Company), nullString(c.Segment),
		nullString(c.LastActivityDate), c.TotalRevenue, c.SupportTickets,
		c.ChurnScore, string(c.RiskLevel), factors, nullString(c.RecommendedAction), metadata,
	)
	if err != nil {
		return "", fmt.Errorf("insert customer: %w", err)
	}
	return id, nil
}

// ScoreUpdate is a re-analysis result for one stored customer.
type ScoreUpdate struct {
	CustomerID        string
	ChurnScore        float64
	RiskLevel         churn.RiskLevel
	RiskFactors       []string
	RecommendedAction string
}

// UpdateScore overwrites the score fields of a customer owned by tenantID.
func (s *Store) UpdateScore(ctx context.Context, tenantID string, u ScoreUpdate) error {
	factors, err := json.Marshal(nonNilFactors(u.RiskFactors))
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET churn_score = $1, risk_level = $2, risk_factors = $3,
			recommended_action = $4, updated_at = now()
		WHERE id = $5 AND tenant_id = $6`, s.table("customers")),
		u.ChurnScore, string(u.RiskLevel), factors, nullString(u.RecommendedAction),
		u.CustomerID, tenantID,
	)
	if err != nil {
		return fmt.Errorf("update score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("customer %s: %w", u.CustomerID, ErrNotFound)
	}
	return nil
}

// ListCustomers returns a tenant's customers, riskiest first.
func (s *Store) ListCustomers(ctx context.Context, tenantID string) ([]churn.Customer, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, tenant_id, name,
			COALESCE(email, ''), COALESCE(phone, ''), COALESCE(company, ''), COALESCE(segment, ''),
			COALESCE(last_activity_date, ''), total_revenue, support_tickets,
			churn_score, risk_level, risk_factors, COALESCE(recommended_action, ''), metadata
		FROM %s
		WHERE tenant_id = $1
		ORDER BY churn_score DESC, name`, s.table("customers")), tenantID)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	var customers []churn.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func scanCustomer(row pgx.Row) (churn.Customer, error) {
	var (
		c        churn.Customer
		level    string
		factors  []byte
		metadata []byte
	)
	err := row.Scan(
		&c.ID, &c.TenantID, &c.Name,
		&c.Email, &c.Phone, &c.Company, &c.Segment,
		&c.LastActivityDate, &c.TotalRevenue, &c.SupportTickets,
		&c.ChurnScore, &level, &factors, &c.RecommendedAction, &metadata,
	)
	if err != nil {
		return c, fmt.Errorf("scan customer: %w", err)
	}
	c.RiskLevel = churn.RiskLevel(level)
	if err := json.Unmarshal(factors, &c.RiskFactors); err != nil {
		return c, fmt.Errorf("decode risk factors for %s: %w", c.ID, err)
	}
	if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
		return c, fmt.Errorf("decode metadata for %s: %w", c.ID, err)
	}
	if len(c.Metadata) == 0 {
		c.Metadata = nil
	}
	return c, nil
}

// ListTenants returns every tenant that owns at least one customer.
func (s *Store) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT DISTINCT tenant_id FROM %s ORDER BY tenant_id`, s.table("customers")))
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// HighRiskScore is the churn score from which a customer counts as high risk
// on the dashboard.
const HighRiskScore = 70

// Stats summarizes a tenant's portfolio.
type Stats struct {
	TotalCustomers int                     `json:"total_customers"`
	HighRiskCount  int                     `json:"high_risk_count"`
	RevenueAtRisk  float64                 `json:"revenue_at_risk"`
	AverageScore   float64                 `json:"average_score"`
	ByLevel        map[churn.RiskLevel]int `json:"by_level"`
}

// Stats computes dashboard totals for tenantID.
func (s *Store) Stats(ctx context.Context, tenantID string) (*Stats, error) {
	stats := &Stats{ByLevel: map[churn.RiskLevel]int{}}
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE churn_score >= $2),
			COALESCE(SUM(total_revenue) FILTER (WHERE churn_score >= $2), 0),
			COALESCE(AVG(churn_score), 0)
		FROM %s
		WHERE tenant_id = $1`, s.table("customers")), tenantID, HighRiskScore,
	).Scan(&stats.TotalCustomers, &stats.HighRiskCount, &stats.RevenueAtRisk, &stats.AverageScore)
	if err != nil {
		return nil, fmt.Errorf("customer stats: %w", err)
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT risk_level, COUNT(*)
		FROM %s
		WHERE tenant_id = $1
		GROUP BY risk_level`, s.table("customers")), tenantID)
	if err != nil {
		return nil, fmt.Errorf("risk level counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var level string
		var count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, err
		}
		stats.ByLevel[churn.RiskLevel(level)] = count
	}
	return stats, rows.Err()
}

func nonNilFactors(factors []string) []string {
	if factors == nil {
		return []string{}
	}
	return factors
}

func nonNilMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return map[string]string{}
	}
	return metadata
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
