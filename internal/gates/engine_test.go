package gates_test

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/membank/internal/gates"
	"github.com/HendryAvila/membank/internal/memory"
	"github.com/HendryAvila/membank/internal/recall"
)

func newStore(t *testing.T, mutate ...func(*memory.Options)) *memory.Store {
	t.Helper()
	opts := memory.Options{Project: "gates", DataDir: t.TempDir(), BudgetBytes: 1 << 20}
	for _, m := range mutate {
		m(&opts)
	}
	s, err := memory.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newEngine() *gates.Engine {
	return gates.New(recall.New(recall.Options{}), nil)
}

func rule(t *testing.T, r *gates.ScoreReport, name string) gates.RuleResult {
	t.Helper()
	for _, rr := range r.Rules {
		if rr.Name == name {
			return rr
		}
	}
	t.Fatalf("rule %q not in report", name)
	return gates.RuleResult{}
}

func completePRD(extra string) string {
	return `# Overview
TaskFlow is a task tracker for small teams.

## Goals
1. Ship a usable tracker in one quarter.

## Users and Workflows
- Team leads assign work to members.

## Architecture
` + strings.Repeat("The service exposes a REST API and keeps its state in PostgreSQL. ", 40) + `

## Functional Requirements
1. Users can create tasks.
2. Users can assign tasks.
` + extra + `

## Non-Functional Requirements
- p95 latency under 200ms.

## Testing Strategy
Unit and integration tests run in CI.

## Acceptance Criteria
- A created task appears in the list.
`
}

// ─── Requirements ───────────────────────────────────────────────────────────

func TestAssess_CompleteRequirementsPass(t *testing.T) {
	s := newStore(t)
	r, err := newEngine().Assess(s, "requirements", completePRD(""))
	require.NoError(t, err)

	assert.Equal(t, gates.Requirements, r.ArtifactType)
	assert.InDelta(t, 1.0, r.Aggregate, 1e-9)
	assert.Equal(t, gates.VerdictPass, r.Verdict)
	assert.True(t, r.Passed)
	assert.Equal(t, memory.DefaultSuccessThreshold, r.Threshold)
	assert.Equal(t, gates.MaxProbability, r.Probability)
	assert.Empty(t, r.Opportunities)
	assert.Equal(t, gates.MaxProbability, r.OptimizedProbability)
	require.Len(t, r.Rules, 4)
	for _, rr := range r.Rules {
		assert.Empty(t, rr.Findings, rr.Name)
	}
}

func TestAssess_MissingSectionsBlock(t *testing.T) {
	s := newStore(t)
	r, err := newEngine().Assess(s, "prd", "# Overview\nA tracker.\n\n## Goals\n")
	require.NoError(t, err)

	structure := rule(t, r, gates.RuleStructure)
	assert.InDelta(t, 2.0/7.0, structure.Score, 1e-9)
	assert.True(t, structure.Blocked)
	assert.Contains(t, structure.Findings, "missing section: testing")

	sections := rule(t, r, gates.RuleNonEmptySections)
	assert.Equal(t, 0.5, sections.Score)
	assert.Contains(t, sections.Findings, "empty section: Goals")

	assert.Equal(t, gates.VerdictBlocked, r.Verdict)
	assert.False(t, r.Passed)
	assert.Equal(t, 1, r.BlockedRules())
	require.NotEmpty(t, r.Opportunities)
	assert.Equal(t, gates.RuleStructure, r.Opportunities[0].Rule)
	assert.Greater(t, r.OptimizedProbability, r.Probability)
}

func TestAssess_NestedSectionCountsAsFilled(t *testing.T) {
	s := newStore(t)
	r, err := newEngine().Assess(s, "requirements", "# Requirements\n## Functional\n- create tasks\n")
	require.NoError(t, err)
	assert.Equal(t, 1.0, rule(t, r, gates.RuleNonEmptySections).Score)
}

func TestAssess_HeadingsInsideCodeFencesIgnored(t *testing.T) {
	s := newStore(t)
	doc := "# Overview\nSee below.\n```\n# Goals\n```\n"
	r, err := newEngine().Assess(s, "requirements", doc)
	require.NoError(t, err)
	assert.Contains(t, rule(t, r, gates.RuleStructure).Findings, "missing section: goals")
}

func TestAssess_StrictModeRaisesThreshold(t *testing.T) {
	s := newStore(t, func(o *memory.Options) { o.StrictMode = true })
	r, err := newEngine().Assess(s, "requirements", completePRD(""))
	require.NoError(t, err)
	assert.Equal(t, memory.StrictSuccessThreshold, r.Threshold)
	assert.True(t, r.Passed)
}

func TestAssess_WarningBand(t *testing.T) {
	s := newStore(t)
	// no acceptance criteria and short: detail drops to 0.65
	doc := `# Overview
x
# Goals
x
# Users
x
# Architecture
x
# Functional Requirements
- create tasks
# Non-functional Requirements
x
# Testing
x
`
	r, err := newEngine().Assess(s, "requirements", doc)
	require.NoError(t, err)
	assert.InDelta(t, 0.65, rule(t, r, gates.RuleDetail).Score, 1e-9)
	assert.InDelta(t, 0.35+0.25*0.65+0.15+0.25, r.Aggregate, 1e-9)
	assert.Equal(t, gates.VerdictWarning, r.Verdict)
}

// ─── Pattern conflicts ──────────────────────────────────────────────────────

func TestAssess_PatternConflictLowersScore(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 3; i++ {
		_, err := s.AppendDecision(memory.DecisionInput{
			Title:        fmt.Sprintf("Token storage %d", i),
			Context:      "browser clients",
			ChosenOption: "localStorage tokens",
			Rationale:    "tokens leaked through XSS",
			Domain:       "security",
			Outcome:      memory.OutcomeFailed,
		})
		require.NoError(t, err)
	}

	r, err := newEngine().Assess(s, "requirements", completePRD("3. Store session tokens in localStorage."))
	require.NoError(t, err)

	pc := rule(t, r, gates.RulePatternConflicts)
	assert.InDelta(t, 0.25, pc.Score, 1e-9)
	require.Len(t, pc.Findings, 1)
	assert.Contains(t, pc.Findings[0], "localStorage tokens")
	assert.Contains(t, pc.Findings[0], "tokens leaked through XSS")
	assert.Equal(t, gates.VerdictWarning, r.Verdict)

	clean, err := newEngine().Assess(s, "requirements", completePRD("3. Store session tokens in HttpOnly cookies."))
	require.NoError(t, err)
	assert.Equal(t, 1.0, rule(t, clean, gates.RulePatternConflicts).Score)
}

func TestAssess_RuleFailureScoresZero(t *testing.T) {
	s := newStore(t)
	r, err := gates.New(nil, nil).Assess(s, "requirements", completePRD(""))
	require.NoError(t, err)

	pc := rule(t, r, gates.RulePatternConflicts)
	assert.Zero(t, pc.Score)
	require.NotEmpty(t, pc.Findings)
	assert.Contains(t, pc.Findings[0], "rule could not run")
	assert.InDelta(t, 0.75, r.Aggregate, 1e-9)
}

// ─── Input errors ───────────────────────────────────────────────────────────

func TestAssess_Malformed(t *testing.T) {
	s := newStore(t)
	tests := []struct {
		name, typ, content string
	}{
		{"empty", "requirements", ""},
		{"whitespace", "task_breakdown", "  \n\t "},
		{"invalid utf8", "requirements", "# Overview\n\xff\xfe"},
		{"bad yaml", "task_breakdown", "tasks: [unclosed"},
		{"scalar tasks", "task_breakdown", "just some prose"},
		{"mapping without tasks", "task_breakdown", "items: []"},
		{"wrong field type", "task_breakdown", "- title: a\n  dependencies: {x: 1}"},
		{"implementation list", "implementation", "- a\n- b"},
		{"bad json", "implementation", `{"files": [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := newEngine().Assess(s, tt.typ, tt.content)
			assert.Nil(t, r)
			var me *gates.MalformedArtifactError
			require.ErrorAs(t, err, &me)
			assert.ErrorIs(t, err, gates.ErrMalformedArtifact)
			assert.NotEmpty(t, me.Reason)
		})
	}
}

func TestAssess_UnknownType(t *testing.T) {
	s := newStore(t)
	_, err := newEngine().Assess(s, "poem", "roses are red")
	var ve *memory.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "artifact_type", ve.Field)
}

func TestParseArtifactType(t *testing.T) {
	for in, want := range map[string]gates.ArtifactType{
		"requirements":   gates.Requirements,
		" PRD ":          gates.Requirements,
		"task-breakdown": gates.TaskBreakdown,
		"tasks":          gates.TaskBreakdown,
		"Implementation": gates.Implementation,
		"code":           gates.Implementation,
	} {
		got, err := gates.ParseArtifactType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestRuleWeightsSumToOne(t *testing.T) {
	for _, name := range gates.ArtifactTypes() {
		sum := 0.0
		for _, r := range gates.Rules(gates.ArtifactType(name)) {
			sum += r.Weight
		}
		assert.InDelta(t, 1.0, sum, 1e-9, name)
	}
}

// ─── Task breakdown ─────────────────────────────────────────────────────────

const goodTasks = `
tasks:
  - id: T1
    title: Schema
    description: Create the tasks table
    estimate_hours: 4
    acceptance_criteria: [migration applies cleanly]
  - id: T2
    title: API
    description: CRUD endpoints for tasks
    dependencies: [T1]
    estimate_hours: 8
    acceptance_criteria: [endpoints return 2xx]
  - id: T3
    title: UI
    description: Task list view
    dependencies: [T1, T2]
    estimate_hours: 12
    acceptance_criteria: [list renders created tasks]
`

func TestAssess_TaskBreakdownPass(t *testing.T) {
	s := newStore(t)
	r, err := newEngine().Assess(s, "task_breakdown", goodTasks)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, r.Aggregate, 1e-9)
	assert.Equal(t, gates.VerdictPass, r.Verdict)
	require.Len(t, r.Rules, 5)
}

func TestAssess_TaskBreakdownJSONList(t *testing.T) {
	s := newStore(t)
	content := `[` +
		`{"id": "T1", "title": "Schema", "description": "tables", "estimate_hours": 2, "acceptance_criteria": ["applies"]},` +
		`{"id": "T2", "title": "API", "description": "endpoints", "dependencies": ["T1"], "estimate_hours": 3, "acceptance_criteria": ["2xx"]}` +
		`]`
	r, err := newEngine().Assess(s, "tasks", content)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, r.Aggregate, 1e-9)
}

func TestAssess_TaskCycleBlocks(t *testing.T) {
	s := newStore(t)
	content := `
- {id: A, title: a, description: a, dependencies: [B], estimate_hours: 1, acceptance_criteria: [x]}
- {id: B, title: b, description: b, dependencies: [A], estimate_hours: 1, acceptance_criteria: [x]}
`
	r, err := newEngine().Assess(s, "task_breakdown", content)
	require.NoError(t, err)

	deps := rule(t, r, gates.RuleDependencies)
	assert.Equal(t, 0.25, deps.Score)
	assert.True(t, deps.Blocked)
	require.Len(t, deps.Findings, 1)
	assert.Contains(t, deps.Findings[0], "circular dependency: A -> B -> A")
	assert.Equal(t, gates.VerdictBlocked, r.Verdict)
}

func TestAssess_TaskDependencyFindings(t *testing.T) {
	s := newStore(t)
	content := `
- {id: A, title: a, description: a, dependencies: [Z], estimate_hours: 20}
- {id: A, title: dup, description: b, estimate_hours: 60}
- {title: c}
`
	r, err := newEngine().Assess(s, "task_breakdown", content)
	require.NoError(t, err)

	deps := rule(t, r, gates.RuleDependencies)
	assert.InDelta(t, 0.6, deps.Score, 1e-9)
	assert.Len(t, deps.Findings, 2)

	assert.InDelta(t, 2.0/3.0, rule(t, r, gates.RuleCompleteness).Score, 1e-9)
	// 20h splits, 60h is too large, missing estimate counts half
	assert.InDelta(t, (0.5+0+0.5)/3, rule(t, r, gates.RuleGranularity).Score, 1e-9)
	assert.Zero(t, rule(t, r, gates.RuleAcceptanceCriteria).Score)
}

func TestAssess_EmptyTaskListBlocks(t *testing.T) {
	s := newStore(t)
	r, err := newEngine().Assess(s, "task_breakdown", "tasks: []")
	require.NoError(t, err)
	assert.Equal(t, gates.VerdictBlocked, r.Verdict)
	assert.Contains(t, rule(t, r, gates.RuleCompleteness).Findings, "no tasks")
}

// ─── Implementation ─────────────────────────────────────────────────────────

func implementation(t *testing.T, criteria []string, files ...gates.File) string {
	t.Helper()
	type file struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	doc := struct {
		Files              []file   `json:"files"`
		AcceptanceCriteria []string `json:"acceptance_criteria"`
	}{AcceptanceCriteria: criteria}
	for _, f := range files {
		doc.Files = append(doc.Files, file{f.Path, f.Content})
	}
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	return string(b)
}

const cleanSource = `package tasks

// CreateTask inserts a task and returns its id.
func CreateTask(title string) (int64, error) {
	return insertTask(title)
}
`

func TestAssess_ImplementationPass(t *testing.T) {
	s := newStore(t)
	content := implementation(t, []string{"create task returns id"},
		gates.File{Path: "internal/tasks/store.go", Content: cleanSource})
	r, err := newEngine().Assess(s, "implementation", content)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, r.Aggregate, 1e-9)
	assert.Equal(t, gates.VerdictPass, r.Verdict)
}

func TestAssess_ImplementationSecurityFindings(t *testing.T) {
	s := newStore(t)
	insecure := `package tasks

func connect() {
	password := "hunter22"
	eval(userInput)
	cfg := &tls.Config{InsecureSkipVerify: true}
}
`
	content := implementation(t, []string{"connect uses tls"},
		gates.File{Path: "conn.go", Content: insecure})
	r, err := newEngine().Assess(s, "implementation", content)
	require.NoError(t, err)

	sec := rule(t, r, gates.RuleSecurity)
	assert.Equal(t, 0.25, sec.Score)
	assert.Len(t, sec.Findings, 3)
	assert.True(t, sec.Blocked)
	assert.Equal(t, gates.VerdictBlocked, r.Verdict)
}

func TestAssess_ImplementationQualityAndCriteria(t *testing.T) {
	s := newStore(t)
	messy := "package x\n// TODO: handle errors\n// FIXME later\nvar s = \"" + strings.Repeat("a", 150) + "\"\n"
	content := implementation(t, []string{"exports metrics endpoint", "   "},
		gates.File{Path: "x.go", Content: messy},
		gates.File{Path: "empty.go", Content: ""})
	r, err := newEngine().Assess(s, "implementation", content)
	require.NoError(t, err)

	// x.go: 1 - 0.1 (long line) - 0.2 (markers); empty.go scores 0
	assert.InDelta(t, 0.35, rule(t, r, gates.RuleCodeQuality).Score, 1e-9)
	crit := rule(t, r, gates.RuleAcceptanceCriteria)
	assert.Zero(t, crit.Score)
	assert.Equal(t, []string{"criterion not evidenced: exports metrics endpoint"}, crit.Findings)
}

func TestAssess_ImplementationWithoutFilesOrCriteria(t *testing.T) {
	s := newStore(t)
	r, err := newEngine().Assess(s, "implementation", `{"files": []}`)
	require.NoError(t, err)
	assert.Zero(t, rule(t, r, gates.RuleSecurity).Score)
	assert.Zero(t, rule(t, r, gates.RuleAcceptanceCriteria).Score)
	assert.Equal(t, 3, r.BlockedRules())
}

// ─── Project ────────────────────────────────────────────────────────────────

func TestAssessProject(t *testing.T) {
	s := newStore(t)
	e := newEngine()

	out, err := e.AssessProject(s, []gates.Artifact{
		{Type: "requirements", Content: completePRD("")},
		{Type: "task_breakdown", Content: goodTasks + assignTask},
	})
	require.NoError(t, err)
	require.Len(t, out.Reports, 2)
	require.NotNil(t, out.Coverage)
	assert.Equal(t, 2, out.Coverage.Covered)
	assert.Equal(t, 1.0, out.Coverage.Score)
	assert.Empty(t, out.Coverage.Findings)
	assert.InDelta(t, gates.MaxProbability, out.Probability, 1e-9)

	_, err = e.AssessProject(s, []gates.Artifact{{Type: "requirements", Content: " "}})
	assert.ErrorIs(t, err, gates.ErrMalformedArtifact)

	empty, err := e.AssessProject(s, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.5, empty.Probability)
}

const assignTask = `  - id: T4
    title: Assignment
    description: Users assign tasks to members
    dependencies: [T2]
    estimate_hours: 6
    acceptance_criteria: [assignee is shown]
`

func TestAssessProject_RequirementCoverage(t *testing.T) {
	s := newStore(t)
	e := newEngine()

	out, err := e.AssessProject(s, []gates.Artifact{
		{Type: "requirements", Content: completePRD("")},
		{Type: "task_breakdown", Content: goodTasks},
	})
	require.NoError(t, err)
	require.NotNil(t, out.Coverage)
	assert.Equal(t, 2, out.Coverage.Total)
	assert.Equal(t, 1, out.Coverage.Covered)
	assert.Equal(t, 0.5, out.Coverage.Score)
	assert.True(t, out.Coverage.Blocked)
	assert.Contains(t, out.Coverage.Findings, "tasks cover 1 of 2 requirements")
	assert.Contains(t, out.Coverage.Findings, `requirement not covered by any task: "Users can assign tasks."`)
	// (1 + 1 + 0.5) / 3 minus one blocked penalty
	assert.InDelta(t, 2.5/3-0.1, out.Probability, 1e-9)

	// nothing to trace without both sides
	only, err := e.AssessProject(s, []gates.Artifact{{Type: "requirements", Content: completePRD("")}})
	require.NoError(t, err)
	assert.Nil(t, only.Coverage)

	bare, err := e.AssessProject(s, []gates.Artifact{
		{Type: "requirements", Content: "# Overview\nA tracker.\n"},
		{Type: "task_breakdown", Content: goodTasks},
	})
	require.NoError(t, err)
	assert.Nil(t, bare.Coverage)
}

func TestOptimize(t *testing.T) {
	got := gates.Optimize(0.70, []gates.Opportunity{{Impact: 0.15}, {Impact: 0.20}})
	want := 0.70 + 0.30*(1-math.Exp(-0.7))
	assert.InDelta(t, want, got, 1e-12)
	assert.Greater(t, got, 0.70)
	assert.Less(t, got, 0.99)
	assert.Equal(t, got, gates.Optimize(0.70, []gates.Opportunity{{Impact: 0.15}, {Impact: 0.20}}))

	assert.Equal(t, 0.5, gates.Optimize(0.5, nil))
	assert.Equal(t, 0.99, gates.Optimize(0.98, []gates.Opportunity{{Impact: 1}}))
	assert.Equal(t, 0.5, gates.Optimize(0.5, []gates.Opportunity{{Impact: -3}}))
	assert.Equal(t, 0.99, gates.Optimize(7, nil))
	assert.Equal(t, gates.Optimize(0, []gates.Opportunity{{Impact: 1}}), gates.Optimize(-1, []gates.Opportunity{{Impact: 9}}))
}

func TestOptimize_DiminishingReturns(t *testing.T) {
	one := gates.Optimize(0.5, []gates.Opportunity{{Impact: 0.2}}) - 0.5
	two := gates.Optimize(0.5, []gates.Opportunity{{Impact: 0.2}, {Impact: 0.2}}) - 0.5
	assert.Less(t, two, 2*one)
}

func TestOpportunities(t *testing.T) {
	r := &gates.ScoreReport{Rules: []gates.RuleResult{
		{Name: "a", Weight: 0.2, Score: 1},
		{Name: "b", Weight: 0.3, Score: 0.5, Findings: []string{"fix b"}},
		{Name: "c", Weight: 0.5, Score: 0.4},
	}}
	opps := gates.Opportunities(r)
	require.Len(t, opps, 2)
	assert.Equal(t, "c", opps[0].Rule)
	assert.InDelta(t, 0.3, opps[0].Impact, 1e-12)
	assert.Equal(t, "improve c", opps[0].Description)
	assert.Equal(t, "fix b", opps[1].Description)
	assert.InDelta(t, 0.15, opps[1].Impact, 1e-12)
}

func TestProjectProbability(t *testing.T) {
	assert.Equal(t, 0.5, gates.ProjectProbability(nil))

	blocked := gates.RuleResult{Blocked: true}
	reports := []*gates.ScoreReport{
		{Aggregate: 0.9},
		{Aggregate: 0.8, Rules: []gates.RuleResult{blocked}},
	}
	assert.InDelta(t, 0.75, gates.ProjectProbability(reports), 1e-12)

	heavy := []*gates.ScoreReport{{Aggregate: 0.6, Rules: []gates.RuleResult{blocked, blocked, blocked, blocked, blocked}}}
	assert.InDelta(t, 0.3, gates.ProjectProbability(heavy), 1e-12)

	assert.Zero(t, gates.ProjectProbability([]*gates.ScoreReport{{Aggregate: 0.1, Rules: []gates.RuleResult{blocked, blocked}}}))
	assert.Equal(t, 0.99, gates.ProjectProbability([]*gates.ScoreReport{{Aggregate: 1}}))
}
