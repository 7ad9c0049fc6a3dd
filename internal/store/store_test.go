package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refset/churnguard/internal/churn"
)

func TestSanitizeSchema(t *testing.T) {
	schema, err := SanitizeSchema("  churn_guard ")
	require.NoError(t, err)
	assert.Equal(t, "churn_guard", schema)

	for _, bad := range []string{"", "public; DROP TABLE x", "1abc", "a-b"} {
		_, err := SanitizeSchema(bad)
		assert.Error(t, err, bad)
	}
}

// openTestStore connects to CHURNGUARD_TEST_DATABASE_URL using a schema unique
// to the test. The schema is dropped afterwards.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("CHURNGUARD_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CHURNGUARD_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	schema := fmt.Sprintf("churnguard_test_%d", time.Now().UnixNano())
	s, err := Open(ctx, url, schema)
	require.NoError(t, err)
	require.NoError(t, s.EnsureSchema(ctx))

	t.Cleanup(func() {
		_, _ = s.pool.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE")
		s.Close()
	})
	return s
}

func TestCustomerLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	quiet := &churn.Customer{
		Name:         "Quiet Co",
		TotalRevenue: 5000,
		ChurnScore:   10,
		RiskLevel:    churn.RiskLow,
		RiskFactors:  []string{churn.NoRiskFactors},
	}
	risky := &churn.Customer{
		Name:             "Risky Co",
		Segment:          "enterprise",
		LastActivityDate: "2026-01-01",
		TotalRevenue:     1200,
		SupportTickets:   12,
		ChurnScore:       85,
		RiskLevel:        churn.RiskCritical,
		RiskFactors:      []string{"High support ticket volume (12)"},
		Metadata:         map[string]string{"region": "emea"},
	}

	quietID, err := s.CreateCustomer(ctx, "tenant-a", quiet)
	require.NoError(t, err)
	riskyID, err := s.CreateCustomer(ctx, "tenant-a", risky)
	require.NoError(t, err)
	_, err = s.CreateCustomer(ctx, "tenant-b", quiet)
	require.NoError(t, err)

	customers, err := s.ListCustomers(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, customers, 2)
	assert.Equal(t, riskyID, customers[0].ID)
	assert.Equal(t, "enterprise", customers[0].Segment)
	assert.Equal(t, map[string]string{"region": "emea"}, customers[0].Metadata)
	assert.Equal(t, quietID, customers[1].ID)
	assert.Nil(t, customers[1].Metadata)

	tenants, err := s.ListTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-a", "tenant-b"}, tenants)

	stats, err := s.Stats(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalCustomers)
	assert.Equal(t, 1, stats.HighRiskCount)
	assert.Equal(t, 1200.0, stats.RevenueAtRisk)
	assert.Equal(t, 47.5, stats.AverageScore)
	assert.Equal(t, map[churn.RiskLevel]int{churn.RiskLow: 1, churn.RiskCritical: 1}, stats.ByLevel)

	require.NoError(t, s.UpdateScore(ctx, "tenant-a", ScoreUpdate{
		CustomerID:        quietID,
		ChurnScore:        90,
		RiskLevel:         churn.RiskCritical,
		RiskFactors:       []string{"No recorded activity"},
		RecommendedAction: churn.RecommendedAction(churn.RiskCritical),
	}))
	customers, err = s.ListCustomers(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, quietID, customers[0].ID)
	assert.Equal(t, "Urgent: CSM call + retention offer", customers[0].RecommendedAction)

	err = s.UpdateScore(ctx, "tenant-b", ScoreUpdate{CustomerID: riskyID, RiskLevel: churn.RiskLow})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUploadLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.CreateUpload(ctx, "tenant-a", "customers.csv", "tenant-a/123-customers.csv")
	require.NoError(t, err)

	upload, err := s.GetUpload(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, UploadProcessing, upload.Status)
	assert.Nil(t, upload.CompletedAt)

	errs := []map[string]any{{"row": 6, "error": "Missing required field: name"}}
	require.NoError(t, s.CompleteUpload(ctx, id, 9, 1, errs))

	upload, err = s.GetUpload(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, UploadCompleted, upload.Status)
	assert.Equal(t, 9, upload.RecordsImported)
	assert.Equal(t, 1, upload.RecordsFailed)
	assert.NotNil(t, upload.CompletedAt)

	var stored []map[string]any
	require.NoError(t, json.Unmarshal(upload.ValidationResults, &stored))
	assert.Equal(t, float64(6), stored[0]["row"])

	failedID, err := s.CreateUpload(ctx, "tenant-a", "broken.csv", "")
	require.NoError(t, err)
	require.NoError(t, s.FailUpload(ctx, failedID, "input has no header row"))
	upload, err = s.GetUpload(ctx, failedID)
	require.NoError(t, err)
	assert.Equal(t, UploadFailed, upload.Status)
	assert.Equal(t, "input has no header row", upload.ErrorMessage)
	assert.Empty(t, upload.ObjectKey)
}
