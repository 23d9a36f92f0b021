package metrics

import "math"

// ColorUnknown is returned for scores that cannot be interpreted.
const ColorUnknown = "#9ca3af"

// colorBands maps normalized score thresholds to the canonical palette,
// ordered best to worst. Scores below the last threshold get colorWorst.
var colorBands = []struct {
	threshold float64
	hex       string
	grade     string
}{
	{0.9, "#22c55e", "A"},
	{0.8, "#84cc16", "B"},
	{0.7, "#eab308", "C"},
	{0.6, "#f59e0b", "D"},
	{0.5, "#f97316", "E"},
}

const (
	colorWorst = "#ef4444"
	gradeWorst = "F"
)

// NormalizeScore maps a raw score onto the 0-1 range. Values above 1 are
// treated as a 0-10 scale and divided by 10, so legacy data renders with
// the same banding as 0-1 scores.
func NormalizeScore(score float64) float64 {
	if score > 1 {
		return score / 10
	}

	return score
}

// ScoreColor returns the palette color for a score. NaN and infinities get
// the unknown gray.
func ScoreColor(score float64) string {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return ColorUnknown
	}

	normalized := NormalizeScore(score)

	for _, band := range colorBands {
		if normalized >= band.threshold {
			return band.hex
		}
	}

	return colorWorst
}

// ScoreGrade returns the letter grade for a score using the same bands as
// ScoreColor. Unparseable scores grade as an empty string.
func ScoreGrade(score float64) string {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return ""
	}

	normalized := NormalizeScore(score)

	for _, band := range colorBands {
		if normalized >= band.threshold {
			return band.grade
		}
	}

	return gradeWorst
}
