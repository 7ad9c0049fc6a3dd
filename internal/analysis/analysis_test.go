package analysis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/refset/churnguard/internal/churn"
)

var fixedNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type stubProvider struct {
	name  string
	err   error
	calls int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Analyze(_ context.Context, batch []CustomerInput) ([]Assessment, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	out := make([]Assessment, len(batch))
	for i, in := range batch {
		out[i] = Assessment{CustomerID: in.ID, ChurnScore: 42, RiskLevel: churn.RiskMedium, RiskFactors: []string{"stub"}}
	}
	return out, nil
}

func inputs(n int) []CustomerInput {
	out := make([]CustomerInput, n)
	for i := range out {
		out[i] = CustomerInput{ID: fmt.Sprintf("c-%d", i+1), Name: fmt.Sprintf("Customer %d", i+1), TotalRevenue: 500}
	}
	return out
}

func TestHeuristicProviderUsesBulkStrategy(t *testing.T) {
	h := NewHeuristicProvider(func() time.Time { return fixedNow })

	results, err := h.Analyze(context.Background(), []CustomerInput{{
		ID:               "c-1",
		LastActivityDate: fixedNow.AddDate(0, 0, -400).Format("2006-01-02"),
		SupportTickets:   11,
		Segment:          "Enterprise",
	}})
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, "c-1", r.CustomerID)
	assert.Equal(t, 100.0, r.ChurnScore)
	assert.Equal(t, churn.RiskCritical, r.RiskLevel)
	assert.Equal(t, "Urgent: CSM call + retention offer", r.RecommendedAction)
	assert.Equal(t, HeuristicName, r.Provider)
}

func TestChainUsesFirstHealthyProvider(t *testing.T) {
	primary := &stubProvider{name: "primary"}
	chain := NewChain([]Provider{primary})

	results, err := chain.Analyze(context.Background(), inputs(2))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "primary", results[0].Provider)
	assert.Equal(t, 42.0, results[1].ChurnScore)
}

func TestChainRateLimitCooldown(t *testing.T) {
	clock := &fakeClock{t: fixedNow}
	primary := &stubProvider{name: "primary", err: errors.New("429: rate limit exceeded")}
	chain := NewChain([]Provider{primary}, WithChainClock(clock.now), WithCooldown(5*time.Minute))

	results, err := chain.Analyze(context.Background(), inputs(1))
	require.NoError(t, err)
	assert.Equal(t, HeuristicName, results[0].Provider)

	state, until := chain.State("primary")
	assert.Equal(t, Unavailable, state)
	assert.Equal(t, fixedNow.Add(5*time.Minute), until)

	clock.advance(4 * time.Minute)
	_, err = chain.Analyze(context.Background(), inputs(1))
	require.NoError(t, err)
	assert.Equal(t, 1, primary.calls, "provider must be skipped while cooling down")

	clock.advance(time.Minute)
	primary.err = nil
	results, err = chain.Analyze(context.Background(), inputs(1))
	require.NoError(t, err)
	assert.Equal(t, 2, primary.calls)
	assert.Equal(t, "primary", results[0].Provider)

	state, _ = chain.State("primary")
	assert.Equal(t, Available, state)
}

func TestChainOtherErrorsFallThroughWithoutCooldown(t *testing.T) {
	primary := &stubProvider{name: "primary", err: errors.New("connection reset")}
	secondary := &stubProvider{name: "secondary"}
	chain := NewChain([]Provider{primary, secondary})

	results, err := chain.Analyze(context.Background(), inputs(1))
	require.NoError(t, err)
	assert.Equal(t, "secondary", results[0].Provider)

	state, _ := chain.State("primary")
	assert.Equal(t, Available, state)

	_, err = chain.Analyze(context.Background(), inputs(1))
	require.NoError(t, err)
	assert.Equal(t, 2, primary.calls)
}

func TestChainHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewChain(nil).Analyze(ctx, inputs(1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRateLimited(t *testing.T) {
	apiErr := genai.APIError{Code: 429, Message: "Resource has been exhausted", Status: "RESOURCE_EXHAUSTED"}
	assert.True(t, IsRateLimited(fmt.Errorf("generate: %w", apiErr)))
	assert.True(t, IsRateLimited(errors.New("You exceeded your current quota")))
	assert.True(t, IsRateLimited(errors.New("Rate limit reached for requests")))
	assert.False(t, IsRateLimited(errors.New("failed to generate content")))
	assert.False(t, IsRateLimited(genai.APIError{Code: 500, Message: "internal", Status: "INTERNAL"}))
	assert.False(t, IsRateLimited(nil))
}

func TestBatches(t *testing.T) {
	batches := Batches(inputs(23), 10)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[2], 3)
	assert.Equal(t, "c-21", batches[2][0].ID)

	assert.Len(t, Batches(inputs(5), 0), 1)
	assert.Empty(t, Batches(nil, 10))
}

func TestAnalyzeAllKeepsOrderAcrossBatches(t *testing.T) {
	chain := NewChain(nil, WithChainClock(func() time.Time { return fixedNow }))

	results, err := chain.AnalyzeAll(context.Background(), inputs(25), 10, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, results, 25)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("c-%d", i+1), r.CustomerID)
	}
}

func TestAnalyzeAllStopsWhenCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	results, err := NewChain(nil).AnalyzeAll(ctx, inputs(15), 10, time.Minute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, results, 10)
}
