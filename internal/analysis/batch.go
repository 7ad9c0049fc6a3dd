package analysis

import (
	"context"
	"time"
)

// Defaults for Batches.
const (
	DefaultBatchSize  = 10
	DefaultBatchDelay = 500 * time.Millisecond
)

// Batches splits inputs into runs of at most size customers.
func Batches(inputs []CustomerInput, size int) [][]CustomerInput {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]CustomerInput
	for start := 0; start < len(inputs); start += size {
		end := min(start+size, len(inputs))
		out = append(out, inputs[start:end])
	}
	return out
}

// AnalyzeAll sends inputs through the chain in batches, pausing delay between
// batches. Assessments come back in input order per batch.
func (c *Chain) AnalyzeAll(ctx context.Context, inputs []CustomerInput, size int, delay time.Duration) ([]Assessment, error) {
	batches := Batches(inputs, size)
	results := make([]Assessment, 0, len(inputs))
	for i, batch := range batches {
		if i > 0 && delay > 0 {
			if err := sleep(ctx, delay); err != nil {
				return results, err
			}
		}
		assessed, err := c.Analyze(ctx, batch)
		if err != nil {
			return results, err
		}
		results = append(results, assessed...)
	}
	return results, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
