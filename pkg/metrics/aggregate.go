package metrics

import (
	"fmt"
	"math"
	"sort"
)

// AggregateScore is the averaged view of one metric across executions.
type AggregateScore struct {
	Key     string  `json:"key"`
	Label   string  `json:"label"`
	Average float64 `json:"average"`
	Color   string  `json:"color"`
	Grade   string  `json:"grade"`
}

// Summary holds per-metric averages over a collection of executions plus a
// combined overall score.
type Summary struct {
	Count    int              `json:"count"`
	Scores   []AggregateScore `json:"scores"`
	Combined *float64         `json:"combined,omitempty"`
}

// Aggregate computes per-metric averages over the metric maps of a set of
// executions. Every distinct key observed on ANY execution is averaged,
// and the divisor is always the total execution count: executions missing
// a metric contribute 0 to its sum but still count in the denominator.
// Empty or nil input yields an empty summary.
func Aggregate(executions []map[string]Metric) Summary {
	summary := Summary{
		Count:  len(executions),
		Scores: []AggregateScore{},
	}

	if len(executions) == 0 {
		return summary
	}

	sums := make(map[string]float64)

	for _, execution := range executions {
		for key, metric := range execution {
			sums[key] += metric.Value
		}
	}

	if len(sums) == 0 {
		return summary
	}

	keys := make([]string, 0, len(sums))
	for key := range sums {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	var (
		combinedSum   float64
		combinedCount int
	)

	for _, key := range keys {
		average := sums[key] / float64(len(executions))

		summary.Scores = append(summary.Scores, AggregateScore{
			Key:     key,
			Label:   FormatFieldName(key),
			Average: average,
			Color:   ScoreColor(average),
			Grade:   ScoreGrade(average),
		})

		if !math.IsNaN(average) && !math.IsInf(average, 0) {
			combinedSum += average
			combinedCount++
		}
	}

	if combinedCount > 0 {
		combined := combinedSum / float64(combinedCount)
		summary.Combined = &combined
	}

	return summary
}

// Delta returns the percent change from previous to current, rounded to one
// decimal. It is nil whenever previous is zero or either value is not a
// finite number, so callers never divide by zero or render a nonsensical
// delta.
func Delta(current, previous float64) *float64 {
	if previous == 0 ||
		math.IsNaN(previous) || math.IsInf(previous, 0) ||
		math.IsNaN(current) || math.IsInf(current, 0) {
		return nil
	}

	delta := math.Round((current-previous)/previous*1000) / 10

	return &delta
}

// FormatScore renders a score with two decimal places. Values that are not
// finite numbers format as "-".
func FormatScore(score float64) string {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return "-"
	}

	return fmt.Sprintf("%.2f", score)
}
