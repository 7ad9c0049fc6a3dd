package churn

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Strategy selects one of the two scoring heuristics. CSV import and bulk
// re-analysis weigh the same signals with different buckets and thresholds.
type Strategy int

const (
	// ImportTimeHeuristic scores rows as they are imported.
	ImportTimeHeuristic Strategy = iota
	// BulkReanalysisHeuristic scores already stored customers during re-analysis.
	BulkReanalysisHeuristic
)

func (s Strategy) String() string {
	switch s {
	case ImportTimeHeuristic:
		return "import-time"
	case BulkReanalysisHeuristic:
		return "bulk-reanalysis"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ErrUnknownStrategy is returned by ParseStrategy for unrecognized names.
var ErrUnknownStrategy = errors.New("unknown scoring strategy")

// ParseStrategy resolves a strategy from its String form.
func ParseStrategy(value string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "import-time", "import":
		return ImportTimeHeuristic, nil
	case "bulk-reanalysis", "bulk", "reanalysis":
		return BulkReanalysisHeuristic, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownStrategy, value)
}

// Signals are the parsed customer fields the heuristics look at.
type Signals struct {
	LastActivityDate string
	TotalRevenue     float64
	SupportTickets   int
	Segment          string
}

// Assessment is the outcome of scoring one customer.
type Assessment struct {
	Score   float64
	Level   RiskLevel
	Factors []string
}

// Score runs the selected heuristic and classifies the result with the
// threshold table that belongs to the same strategy.
func Score(strategy Strategy, s Signals, now time.Time) Assessment {
	var score float64
	var factors []string
	switch strategy {
	case BulkReanalysisHeuristic:
		score, factors = bulkReanalysisScore(s, now)
	default:
		score, factors = importTimeScore(s, now)
	}

	score = clamp(score)
	if len(factors) == 0 {
		factors = []string{NoRiskFactors}
	}
	return Assessment{
		Score:   score,
		Level:   Classify(strategy, score),
		Factors: factors,
	}
}

func importTimeScore(s Signals, now time.Time) (float64, []string) {
	var score float64
	var factors []string

	switch days, state := inactivity(s.LastActivityDate, now); state {
	case activityAbsent:
		score += 35
		factors = append(factors, "No recorded activity")
	case activityInvalid:
		score += 10
		factors = append(factors, "Last activity date unknown or invalid")
	default:
		switch {
		case days > 90:
			score += 40
			factors = append(factors, daysFactor(days))
		case days > 60:
			score += 25
			factors = append(factors, daysFactor(days))
		case days > 30:
			score += 15
			factors = append(factors, daysFactor(days))
		}
	}

	switch tickets := s.SupportTickets; {
	case tickets > 10:
		score += 30
		factors = append(factors, fmt.Sprintf("High support ticket volume (%d)", tickets))
	case tickets > 5:
		score += 20
		factors = append(factors, fmt.Sprintf("Elevated support tickets (%d)", tickets))
	case tickets > 0:
		score += 10
	}

	switch revenue := s.TotalRevenue; {
	case revenue == 0:
		score += 15
		factors = append(factors, "No revenue generated")
	case revenue < 100:
		score += 10
		factors = append(factors, fmt.Sprintf("Low revenue ($%.2f)", revenue))
	}

	return score, factors
}

func bulkReanalysisScore(s Signals, now time.Time) (float64, []string) {
	var score float64
	var factors []string

	switch days, state := inactivity(s.LastActivityDate, now); state {
	case activityAbsent:
		score += 35
		factors = append(factors, "No recorded activity")
	case activityInvalid:
		score += 15
		factors = append(factors, "Last activity date unknown or invalid")
	default:
		switch {
		case days > 365:
			score += 50
			factors = append(factors, daysFactor(days))
		case days > 180:
			score += 35
			factors = append(factors, daysFactor(days))
		case days > 90:
			score += 25
			factors = append(factors, daysFactor(days))
		case days > 30:
			score += 15
			factors = append(factors, daysFactor(days))
		}
	}

	switch tickets := s.SupportTickets; {
	case tickets > 10:
		score += 25
		factors = append(factors, fmt.Sprintf("High support ticket volume (%d)", tickets))
	case tickets > 5:
		score += 15
		factors = append(factors, fmt.Sprintf("Elevated support tickets (%d)", tickets))
	}

	switch revenue := s.TotalRevenue; {
	case revenue == 0:
		score += 20
		factors = append(factors, "No revenue generated")
	case revenue < 100:
		score += 10
		factors = append(factors, fmt.Sprintf("Low revenue ($%.2f)", revenue))
	case revenue >= 50000:
		score += 15
		factors = append(factors, fmt.Sprintf("High-value account ($%.2f) at stake", revenue))
	case revenue >= 10000:
		score += 10
		factors = append(factors, fmt.Sprintf("High-value account ($%.2f) at stake", revenue))
	}

	if strings.EqualFold(strings.TrimSpace(s.Segment), "enterprise") {
		score += 10
		factors = append(factors, "Enterprise account")
	}

	return score, factors
}

type activityState int

const (
	activityKnown activityState = iota
	activityAbsent
	activityInvalid
)

func inactivity(value string, now time.Time) (int, activityState) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, activityAbsent
	}
	last, err := ParseDate(value)
	if err != nil {
		return 0, activityInvalid
	}
	return DaysBetween(last, now), activityKnown
}

// DaysBetween returns floor((now - then) / 24h). It is negative for future dates.
func DaysBetween(then, now time.Time) int {
	return int(math.Floor(now.Sub(then).Hours() / 24))
}

func daysFactor(days int) string {
	return fmt.Sprintf("%d days since last activity", days)
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"01-02-2006",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
}

// ParseDate parses the date formats accepted in uploads.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported date format: %s", value)
}

func clamp(score float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
