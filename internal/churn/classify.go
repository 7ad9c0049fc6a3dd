package churn

type threshold struct {
	min   float64
	level RiskLevel
}

// Ordered highest first; the first matching lower bound wins.
var (
	importTimeThresholds = []threshold{
		{70, RiskCritical},
		{50, RiskHigh},
		{30, RiskMedium},
	}
	bulkReanalysisThresholds = []threshold{
		{80, RiskCritical},
		{60, RiskHigh},
		{30, RiskMedium},
	}
)

// Classify maps a churn score to a tier using the table tied to strategy.
func Classify(strategy Strategy, score float64) RiskLevel {
	table := importTimeThresholds
	if strategy == BulkReanalysisHeuristic {
		table = bulkReanalysisThresholds
	}
	for _, t := range table {
		if score >= t.min {
			return t.level
		}
	}
	return RiskLow
}

// RecommendedAction is the retention step suggested for a tier.
func RecommendedAction(level RiskLevel) string {
	switch level {
	case RiskCritical:
		return "Urgent: CSM call + retention offer"
	case RiskHigh:
		return "Schedule CSM call this week"
	case RiskMedium:
		return "Send re-engagement email"
	default:
		return "Continue normal engagement"
	}
}
