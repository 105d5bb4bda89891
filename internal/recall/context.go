package recall

import (
	"fmt"
	"strings"

	"github.com/HendryAvila/membank/internal/memory"
)

// Section sizes of a rendered context.
const (
	contextDirect  = 5
	contextRecent  = 5
	contextSuccess = 3
	contextAvoid   = 2
)

// Context bundles what a caller should know before deciding on a topic.
type Context struct {
	Project string                  `json:"project"`
	Topic   string                  `json:"topic"`
	Direct  []Item                  `json:"direct"`
	Recent  []memory.DecisionRecord `json:"recent"`
	Success []Pattern               `json:"success"`
	Avoid   []Pattern               `json:"avoid"`
	Risks   []RiskFlag              `json:"risks,omitempty"`
}

// Empty reports whether the bundle has nothing to say.
func (c *Context) Empty() bool {
	return len(c.Direct) == 0 && len(c.Recent) == 0 &&
		len(c.Success) == 0 && len(c.Avoid) == 0 && len(c.Risks) == 0
}

// BuildContext gathers ranked references, recent decisions and patterns for
// topic. topK bounds the direct references.
func (e *Engine) BuildContext(s *memory.Store, topic string, topK int) (*Context, error) {
	if topK <= 0 || topK > contextDirect {
		topK = contextDirect
	}
	res, err := e.Query(s, topic, topK)
	if err != nil {
		return nil, err
	}
	c := &Context{Project: s.Project(), Topic: topic, Direct: res.Items}

	for rec, err := range s.Recent(contextRecent) {
		if err != nil {
			return nil, fmt.Errorf("recall: recent decisions: %w", err)
		}
		c.Recent = append(c.Recent, rec)
	}

	for _, p := range e.MinePatterns(s, "") {
		switch {
		case p.Class == ClassSuccess && len(c.Success) < contextSuccess:
			c.Success = append(c.Success, p)
		case p.Class == ClassFailure && len(c.Avoid) < contextAvoid:
			c.Avoid = append(c.Avoid, p)
		}
	}

	if c.Risks, err = e.PredictRisk(s, topic); err != nil {
		return nil, err
	}
	return c, nil
}

// Format renders the context as markdown. Returns "" when there is nothing
// to show.
func (c *Context) Format() string {
	if c.Empty() {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Memory Context: %s\n", c.Project)

	if len(c.Direct) > 0 {
		b.WriteString("\n### DIRECT REFERENCES\n")
		for _, it := range c.Direct {
			rec := it.Record
			fmt.Fprintf(&b, "- [%s] **%s** (%.2f): %s\n",
				rec.Domain, rec.Title, it.Score, memory.Truncate(rec.ChosenOption, 200))
			if rec.Rationale != "" {
				fmt.Fprintf(&b, "  Rationale: %s\n", memory.Truncate(rec.Rationale, 300))
			}
		}
	}

	if len(c.Recent) > 0 {
		b.WriteString("\n### RECENT DECISIONS\n")
		for _, rec := range c.Recent {
			fmt.Fprintf(&b, "- [%s/%s] **%s**: %s\n",
				rec.Status, rec.Outcome, rec.Title, memory.Truncate(rec.ChosenOption, 200))
		}
	}

	if len(c.Success) > 0 {
		b.WriteString("\n### SUCCESS PATTERNS\n")
		for _, p := range c.Success {
			fmt.Fprintf(&b, "- [%s] %s (confidence %.2f, %d decisions)\n",
				p.Domain, p.Rationale, p.Confidence, p.Support)
		}
	}

	if len(c.Avoid) > 0 {
		b.WriteString("\n### PATTERNS TO AVOID\n")
		for _, p := range c.Avoid {
			fmt.Fprintf(&b, "- [%s] %s (confidence %.2f, %d decisions)\n",
				p.Domain, p.Rationale, p.Confidence, p.Support)
		}
	}

	if len(c.Risks) > 0 {
		b.WriteString("\n### RISK FLAGS\n")
		for _, r := range c.Risks {
			fmt.Fprintf(&b, "- WARNING [%s] %s (confidence %.2f, triggered by %q)\n",
				r.Domain, r.Rationale, r.Confidence, r.Title)
		}
	}

	return b.String()
}
