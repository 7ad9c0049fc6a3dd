package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/refset/churnguard/internal/churn"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiName is the provider name reported for Gemini assessments.
const GeminiName = "gemini"

type generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type genaiGenerator struct {
	client *genai.Client
	model  string
}

func (g *genaiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	temperature := float32(0.2)
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      &temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// GeminiProvider asks a Gemini model to score a batch and cleans the answer
// up so it obeys the same bounds as the heuristic.
type GeminiProvider struct {
	gen      generator
	fallback *HeuristicProvider
	logger   *zap.Logger
}

// NewGeminiProvider creates a provider backed by the Gemini API.
func NewGeminiProvider(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newGeminiProvider(&genaiGenerator{client: client, model: model}, time.Now, logger), nil
}

func newGeminiProvider(gen generator, now func() time.Time, logger *zap.Logger) *GeminiProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiProvider{gen: gen, fallback: NewHeuristicProvider(now), logger: logger}
}

func (g *GeminiProvider) Name() string { return GeminiName }

func (g *GeminiProvider) Analyze(ctx context.Context, batch []CustomerInput) ([]Assessment, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	prompt, err := buildPrompt(batch)
	if err != nil {
		return nil, err
	}
	text, err := g.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	raw, err := parseAnswer(text)
	if err != nil {
		return nil, err
	}
	return g.reconcile(batch, raw), nil
}

func buildPrompt(batch []CustomerInput) (string, error) {
	shown := make([]CustomerInput, len(batch))
	for i, in := range batch {
		if in.LastActivityDate == "" {
			in.LastActivityDate = "unknown"
		}
		if in.Segment == "" {
			in.Segment = "unknown"
		}
		shown[i] = in
	}
	data, err := json.MarshalIndent(shown, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`You are a customer churn prediction expert. Analyze the following customers.

Customers to analyze:
%s

Return ONLY a JSON array with one object per customer:
[
  {
    "customerId": "id",
    "churnScore": 85,
    "riskLevel": "low | medium | high | critical",
    "riskFactors": ["inactive"],
    "recommendedAction": "CSM call"
  }
]`, data), nil
}

type answer struct {
	CustomerID        string   `json:"customerId"`
	ChurnScore        float64  `json:"churnScore"`
	RiskLevel         string   `json:"riskLevel"`
	RiskFactors       []string `json:"riskFactors"`
	RecommendedAction string   `json:"recommendedAction"`
}

var errEmptyAnswer = errors.New("empty response from gemini")

func parseAnswer(text string) ([]answer, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errEmptyAnswer
	}
	var out []answer
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("decode gemini response: %w", err)
	}
	return out, nil
}

// reconcile keeps one answer per requested customer, in request order.
// Unknown ids are dropped and customers the model skipped are scored by the
// heuristic.
func (g *GeminiProvider) reconcile(batch []CustomerInput, raw []answer) []Assessment {
	byID := make(map[string]answer, len(raw))
	for _, a := range raw {
		if _, dup := byID[a.CustomerID]; !dup {
			byID[a.CustomerID] = a
		}
	}

	now := g.fallback.now()
	out := make([]Assessment, 0, len(batch))
	for _, in := range batch {
		a, ok := byID[in.ID]
		if !ok {
			g.logger.Debug("gemini skipped customer, using heuristic", zap.String("customer", in.ID))
			out = append(out, g.fallback.assess(in, now))
			continue
		}
		out = append(out, sanitize(in.ID, a))
	}
	if dropped := len(byID) - countKnown(batch, byID); dropped > 0 {
		g.logger.Debug("dropped unknown customer ids from gemini response", zap.Int("count", dropped))
	}
	return out
}

func sanitize(id string, a answer) Assessment {
	score := a.ChurnScore
	switch {
	case math.IsNaN(score) || score < 0:
		score = 0
	case score > 100:
		score = 100
	}

	level, ok := churn.ParseRiskLevel(a.RiskLevel)
	if !ok {
		level = churn.Classify(churn.BulkReanalysisHeuristic, score)
	}

	var factors []string
	for _, f := range a.RiskFactors {
		if f = strings.TrimSpace(f); f != "" {
			factors = append(factors, f)
		}
	}
	if len(factors) == 0 {
		factors = []string{churn.NoRiskFactors}
	}

	action := strings.TrimSpace(a.RecommendedAction)
	if action == "" {
		action = churn.RecommendedAction(level)
	}

	return Assessment{
		CustomerID:        id,
		ChurnScore:        score,
		RiskLevel:         level,
		RiskFactors:       factors,
		RecommendedAction: action,
	}
}

func countKnown(batch []CustomerInput, byID map[string]answer) int {
	n := 0
	for _, in := range batch {
		if _, ok := byID[in.ID]; ok {
			n++
		}
	}
	return n
}
