package gates

import (
	"fmt"
	"math"
	"sort"
)

// Opportunity is an improvement that would raise the success probability.
// Impact is in [0,1].
type Opportunity struct {
	Rule        string  `json:"rule,omitempty"`
	Description string  `json:"description"`
	Impact      float64 `json:"impact"`
}

// Optimize projects base onto the probability reached if every opportunity
// were addressed. Returns diminish exponentially and the result never
// exceeds MaxProbability.
func Optimize(base float64, opportunities []Opportunity) float64 {
	base = clamp01(base)
	total := 0.0
	for _, o := range opportunities {
		total += clamp01(o.Impact)
	}
	factor := 1 - math.Exp(-2*total)
	return min(base+(1-base)*factor, MaxProbability)
}

// Opportunities derives one opportunity per imperfect rule, largest impact
// first.
func Opportunities(r *ScoreReport) []Opportunity {
	var out []Opportunity
	for _, rr := range r.Rules {
		if rr.Score >= 1 {
			continue
		}
		desc := fmt.Sprintf("improve %s", rr.Name)
		if len(rr.Findings) > 0 {
			desc = rr.Findings[0]
		}
		out = append(out, Opportunity{
			Rule:        rr.Name,
			Description: desc,
			Impact:      rr.Weight * (1 - rr.Score),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Impact > out[j].Impact })
	return out
}

// Project-level probability constants.
const (
	neutralProbability = 0.5
	blockedPenalty     = 0.10
	maxBlockedPenalty  = 0.30
)

// ProjectProbability averages the aggregates of reports and deducts 0.10 per
// blocked rule, at most 0.30. With no reports it is 0.5.
func ProjectProbability(reports []*ScoreReport) float64 {
	scores := make([]float64, 0, len(reports))
	blocked := 0
	for _, r := range reports {
		scores = append(scores, r.Aggregate)
		blocked += r.BlockedRules()
	}
	return projectProbability(scores, blocked)
}

func projectProbability(scores []float64, blocked int) float64 {
	if len(scores) == 0 {
		return neutralProbability
	}
	sum := 0.0
	for _, v := range scores {
		sum += v
	}
	p := sum/float64(len(scores)) - min(blockedPenalty*float64(blocked), maxBlockedPenalty)
	return min(max(p, 0), MaxProbability)
}
