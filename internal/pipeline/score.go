package pipeline

import (
	"fmt"

	"github.com/dgallion1/adgmcheck/internal/checklist"
	"github.com/dgallion1/adgmcheck/internal/finding"
)

// MaxRecommendations caps the recommendation list.
const MaxRecommendations = 10

// Score is 100 minus the summed severity weights, clamped to [0, 100].
// Weights compound without a per-severity cap.
func Score(issues []finding.Issue) int {
	s := 100
	for _, is := range issues {
		s -= is.Severity.Weight()
	}
	if s < 0 {
		return 0
	}
	return s
}

// Overall is the unweighted mean of per-document scores, or 0 with none.
func Overall(scores []int) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum int
	for _, s := range scores {
		sum += s
	}
	return float64(sum) / float64(len(scores))
}

// Recommendations derives reviewer actions from a finished result: missing
// documents first, then serious issue counts, the score band and finally
// the process next steps.
func Recommendations(r Result) []string {
	var out []string
	cl := r.Checklist
	if cl.InferredProcess != checklist.Unknown && len(cl.MissingDocuments) > 0 {
		out = append(out, fmt.Sprintf("Missing %d required document(s) for %s", len(cl.MissingDocuments), cl.InferredProcess))
		for i, d := range cl.MissingDocuments {
			if i == 3 {
				break
			}
			out = append(out, "Upload required document: "+d)
		}
	}

	counts := finding.Counts(r.Issues())
	if n := counts[finding.Critical]; n > 0 {
		out = append(out, fmt.Sprintf("Address %d critical compliance issue(s)", n))
	}
	if n := counts[finding.High]; n > 0 {
		out = append(out, fmt.Sprintf("Review %d high-priority issue(s)", n))
	}

	switch {
	case len(r.Documents) == 0:
	case r.OverallScore < 60:
		out = append(out, "Overall compliance score is below 60: significant improvements needed")
	case r.OverallScore < 80:
		out = append(out, "Overall compliance score could be improved: review flagged issues")
	default:
		out = append(out, "Good overall compliance score: minor improvements recommended")
	}

	out = append(out, cl.NextSteps...)
	if len(out) > MaxRecommendations {
		out = out[:MaxRecommendations]
	}
	return out
}
