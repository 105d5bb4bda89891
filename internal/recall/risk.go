package recall

import (
	"go.uber.org/zap"

	"github.com/HendryAvila/membank/internal/memory"
)

// riskTopK is how many ranked records are checked against failure patterns.
const riskTopK = 5

// RiskFlag warns that a topic touches a domain with a known failure pattern.
type RiskFlag struct {
	Domain     string  `json:"domain"`
	Rationale  string  `json:"rationale"`
	Confidence float64 `json:"confidence"`
	Support    int     `json:"support"`
	RecordID   string  `json:"record_id"`
	Title      string  `json:"title"`
}

// PredictRisk queries topic and raises one flag per failure pattern whose
// confidence exceeds the risk threshold and which matches a top-ranked
// failed record. No flags is a valid answer.
func (e *Engine) PredictRisk(s *memory.Store, topic string) ([]RiskFlag, error) {
	res, err := e.Query(s, topic, riskTopK)
	if err != nil {
		return nil, err
	}
	if len(res.Items) == 0 {
		return nil, nil
	}

	failures := make(map[string]Pattern)
	for _, p := range e.MinePatterns(s, "") {
		if p.Class == ClassFailure && p.Confidence > e.opts.RiskThreshold {
			failures[p.Domain] = p
		}
	}

	var flags []RiskFlag
	flagged := make(map[string]bool)
	for _, it := range res.Items {
		rec := it.Record
		if rec.Outcome != memory.OutcomeFailed || flagged[rec.Domain] {
			continue
		}
		p, ok := failures[rec.Domain]
		if !ok {
			continue
		}
		flagged[rec.Domain] = true
		flags = append(flags, RiskFlag{
			Domain:     p.Domain,
			Rationale:  p.Rationale,
			Confidence: p.Confidence,
			Support:    p.Support,
			RecordID:   rec.ID,
			Title:      rec.Title,
		})
	}
	if len(flags) > 0 {
		riskFlagsTotal.Add(float64(len(flags)))
		e.log.Info("recall: risk flagged",
			zap.String("project", s.Project()),
			zap.String("topic", memory.Truncate(topic, 80)),
			zap.Int("flags", len(flags)))
	}
	return flags, nil
}
