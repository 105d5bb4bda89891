// Package gates scores artifacts (requirements documents, task breakdowns,
// implementations) against weighted rule sets and estimates their success
// probability.
//
// Rules are structural and textual. The pattern_conflicts rule consults the
// recall engine so artifacts that repeat a known failure score lower.
package gates

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/HendryAvila/membank/internal/memory"
	"github.com/HendryAvila/membank/internal/recall"
)

// WarningThreshold separates a warning from a failure.
const WarningThreshold = 0.70

// MaxProbability caps every probability; the model never claims certainty.
const MaxProbability = 0.99

var errNoContext = errors.New("context engine unavailable")

// Verdict is the overall judgement of a report.
type Verdict string

const (
	VerdictPass    Verdict = "pass"
	VerdictWarning Verdict = "warning"
	VerdictFail    Verdict = "fail"
	VerdictBlocked Verdict = "blocked"
)

// RuleResult is the outcome of one rule.
type RuleResult struct {
	Name     string   `json:"name"`
	Weight   float64  `json:"weight"`
	Score    float64  `json:"score"`
	Blocking bool     `json:"blocking"`
	Blocked  bool     `json:"blocked"`
	Findings []string `json:"findings,omitempty"`
}

// ScoreReport is the assessment of one artifact.
type ScoreReport struct {
	ArtifactType         ArtifactType  `json:"artifact_type"`
	Aggregate            float64       `json:"aggregate"`
	Rules                []RuleResult  `json:"rules"`
	Threshold            float64       `json:"threshold"`
	Passed               bool          `json:"passed"`
	Verdict              Verdict       `json:"verdict"`
	Probability          float64       `json:"probability"`
	Opportunities        []Opportunity `json:"opportunities,omitempty"`
	OptimizedProbability float64       `json:"optimized_probability"`
}

// BlockedRules counts blocking rules that scored below 0.5.
func (r *ScoreReport) BlockedRules() int {
	n := 0
	for _, rr := range r.Rules {
		if rr.Blocked {
			n++
		}
	}
	return n
}

// Engine assesses artifacts. It holds no per-project state.
type Engine struct {
	recall *recall.Engine
	log    *zap.Logger
}

// New returns an Engine backed by the given context engine. A nil logger
// discards output.
func New(r *recall.Engine, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{recall: r, log: log}
}

// assessment carries the parsed artifact through the rules.
type assessment struct {
	engine *Engine
	store  *memory.Store
	typ    ArtifactType
	raw    string

	requirements   *requirementsDoc
	tasks          []Task
	implementation *implementationDoc
}

// text is what pattern conflicts are searched in.
func (a *assessment) text() string {
	switch a.typ {
	case TaskBreakdown:
		var b strings.Builder
		for _, t := range a.tasks {
			b.WriteString(t.Title + "\n" + t.Description + "\n")
		}
		return b.String()
	case Implementation:
		var b strings.Builder
		for _, f := range a.implementation.Files {
			b.WriteString(f.Path + "\n" + f.Content + "\n")
		}
		return b.String()
	default:
		return a.raw
	}
}

// Assess scores content as an artifact of the named type against the store's
// threshold. Unknown types are a ValidationError; unreadable content is a
// MalformedArtifactError and yields no report.
func (e *Engine) Assess(s *memory.Store, artifactType, content string) (*ScoreReport, error) {
	report, _, err := e.assess(s, artifactType, content)
	return report, err
}

func (e *Engine) assess(s *memory.Store, artifactType, content string) (*ScoreReport, *assessment, error) {
	typ, err := ParseArtifactType(artifactType)
	if err != nil {
		return nil, nil, err
	}
	if err := checkContent(typ, content); err != nil {
		assessmentsTotal.WithLabelValues(string(typ), "malformed").Inc()
		return nil, nil, err
	}

	a := &assessment{engine: e, store: s, typ: typ, raw: content}
	switch typ {
	case Requirements:
		a.requirements, err = parseRequirements(content)
	case TaskBreakdown:
		a.tasks, err = parseTasks(content)
	case Implementation:
		a.implementation, err = parseImplementation(content)
	}
	if err != nil {
		assessmentsTotal.WithLabelValues(string(typ), "malformed").Inc()
		return nil, nil, err
	}

	threshold := memory.DefaultSuccessThreshold
	if s != nil {
		threshold = s.Options().Threshold()
	}
	report := &ScoreReport{ArtifactType: typ, Threshold: threshold}
	blocked := false
	for _, rule := range ruleSets[typ] {
		score, findings, err := rule.check(a)
		if err != nil {
			e.log.Warn("gates: rule failed",
				zap.String("artifact_type", string(typ)),
				zap.String("rule", rule.Name),
				zap.Error(err))
			score, findings = 0, append(findings, fmt.Sprintf("rule could not run: %v", err))
		}
		score = clamp01(score)
		rr := RuleResult{
			Name:     rule.Name,
			Weight:   rule.Weight,
			Score:    score,
			Blocking: rule.Blocking,
			Blocked:  rule.Blocking && score < blockingScore,
			Findings: findings,
		}
		blocked = blocked || rr.Blocked
		report.Aggregate += rule.Weight * score
		report.Rules = append(report.Rules, rr)
	}
	report.Aggregate = clamp01(report.Aggregate)

	switch {
	case blocked:
		report.Verdict = VerdictBlocked
	case report.Aggregate >= threshold:
		report.Verdict = VerdictPass
	case report.Aggregate >= WarningThreshold:
		report.Verdict = VerdictWarning
	default:
		report.Verdict = VerdictFail
	}
	report.Passed = report.Verdict == VerdictPass
	report.Probability = min(report.Aggregate, MaxProbability)
	report.Opportunities = Opportunities(report)
	report.OptimizedProbability = Optimize(report.Probability, report.Opportunities)

	assessmentsTotal.WithLabelValues(string(typ), string(report.Verdict)).Inc()
	e.log.Info("gates: artifact assessed",
		zap.String("artifact_type", string(typ)),
		zap.Float64("aggregate", report.Aggregate),
		zap.String("verdict", string(report.Verdict)))
	return report, a, nil
}

// ProjectAssessment summarizes several artifacts of one project. Coverage
// is set when both requirements and a task breakdown were submitted.
type ProjectAssessment struct {
	Probability float64        `json:"probability"`
	Reports     []*ScoreReport `json:"reports"`
	Coverage    *Coverage      `json:"coverage,omitempty"`
}

// AssessProject assesses every artifact and folds the reports into one
// project-level probability. Requirement coverage by the submitted tasks
// counts as one more score, and blocks like a rule when it is below 0.6.
// The first error aborts.
func (e *Engine) AssessProject(s *memory.Store, artifacts []Artifact) (*ProjectAssessment, error) {
	out := &ProjectAssessment{}
	var (
		docs  []*requirementsDoc
		tasks []Task
	)
	for i, art := range artifacts {
		r, a, err := e.assess(s, art.Type, art.Content)
		if err != nil {
			return nil, fmt.Errorf("artifact %d: %w", i, err)
		}
		out.Reports = append(out.Reports, r)
		switch a.typ {
		case Requirements:
			docs = append(docs, a.requirements)
		case TaskBreakdown:
			tasks = append(tasks, a.tasks...)
		}
	}

	scores := make([]float64, 0, len(out.Reports)+1)
	blocked := 0
	for _, r := range out.Reports {
		scores = append(scores, r.Aggregate)
		blocked += r.BlockedRules()
	}
	if out.Coverage = traceCoverage(docs, tasks); out.Coverage != nil {
		scores = append(scores, out.Coverage.Score)
		if out.Coverage.Blocked {
			blocked++
		}
		e.log.Info("gates: requirement coverage traced",
			zap.Int("covered", out.Coverage.Covered),
			zap.Int("total", out.Coverage.Total))
	}
	out.Probability = projectProbability(scores, blocked)
	return out, nil
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
