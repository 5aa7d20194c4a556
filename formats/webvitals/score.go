package webvitals

import "math"

// Grade is the letter grade derived from a performance score.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// Grades lists all grades from best to worst.
var Grades = []Grade{GradeA, GradeB, GradeC, GradeD, GradeF}

var weights = map[Name]float64{
	LCP:  0.25,
	FID:  0.25,
	CLS:  0.25,
	FCP:  0.15,
	TTFB: 0.05,
	INP:  0.05,
}

var ratingScores = map[Rating]float64{
	Good:             100,
	NeedsImprovement: 75,
	Poor:             50,
}

// Score computes the weighted average of the metric ratings, on a scale
// from 0 to 100.
func Score(metrics []Metric) (int, Grade) {
	if len(metrics) == 0 {
		return 0, GradeF
	}
	var total, totalWeight float64
	for _, m := range metrics {
		w := weights[m.Name]
		total += ratingScores[m.Rating] * w
		totalWeight += w
	}
	score := 0
	if totalWeight > 0 {
		score = int(math.Round(total / totalWeight))
	}
	return score, GradeFor(score)
}

func GradeFor(score int) Grade {
	switch {
	case score >= 90:
		return GradeA
	case score >= 80:
		return GradeB
	case score >= 70:
		return GradeC
	case score >= 60:
		return GradeD
	default:
		return GradeF
	}
}

// MetricSummary is the latest value of a metric together with the
// thresholds it was rated against.
type MetricSummary struct {
	Value     float64   `json:"value"`
	Rating    Rating    `json:"rating"`
	Threshold Threshold `json:"threshold"`
}

// Summarize condenses metrics into one entry per name. Later entries
// win.
func Summarize(metrics []Metric) map[Name]MetricSummary {
	summary := make(map[Name]MetricSummary, len(metrics))
	for _, m := range metrics {
		if !m.Name.Valid() {
			continue
		}
		summary[m.Name] = MetricSummary{
			Value:     m.Value,
			Rating:    m.Rating,
			Threshold: Thresholds[m.Name],
		}
	}
	return summary
}
