package gates

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/HendryAvila/membank/internal/index"
	"github.com/HendryAvila/membank/internal/recall"
)

// blockingScore is the score below which a blocking rule blocks the artifact.
const blockingScore = 0.5

// Rule is one weighted check of an artifact.
type Rule struct {
	Name     string
	Weight   float64
	Blocking bool
	check    func(*assessment) (float64, []string, error)
}

// Rule names.
const (
	RuleStructure          = "structure"
	RuleDetail             = "detail"
	RuleNonEmptySections   = "non_empty_sections"
	RulePatternConflicts   = "pattern_conflicts"
	RuleCompleteness       = "completeness"
	RuleDependencies       = "dependencies"
	RuleGranularity        = "granularity"
	RuleAcceptanceCriteria = "acceptance_criteria"
	RuleSecurity           = "security"
	RuleCodeQuality        = "code_quality"
)

// ruleSets maps each artifact type to its rules. Weights sum to 1.
var ruleSets = map[ArtifactType][]Rule{
	Requirements: {
		{Name: RuleStructure, Weight: 0.35, Blocking: true, check: checkStructure},
		{Name: RuleDetail, Weight: 0.25, check: checkDetail},
		{Name: RuleNonEmptySections, Weight: 0.15, check: checkNonEmptySections},
		{Name: RulePatternConflicts, Weight: 0.25, check: checkPatternConflicts},
	},
	TaskBreakdown: {
		{Name: RuleCompleteness, Weight: 0.15, Blocking: true, check: checkTaskCompleteness},
		{Name: RuleDependencies, Weight: 0.30, Blocking: true, check: checkTaskDependencies},
		{Name: RuleGranularity, Weight: 0.20, check: checkTaskGranularity},
		{Name: RuleAcceptanceCriteria, Weight: 0.15, check: checkTaskCriteria},
		{Name: RulePatternConflicts, Weight: 0.20, check: checkPatternConflicts},
	},
	Implementation: {
		{Name: RuleSecurity, Weight: 0.30, Blocking: true, check: checkSecurity},
		{Name: RuleAcceptanceCriteria, Weight: 0.30, Blocking: true, check: checkImplementationCriteria},
		{Name: RuleCodeQuality, Weight: 0.20, Blocking: true, check: checkCodeQuality},
		{Name: RulePatternConflicts, Weight: 0.20, check: checkPatternConflicts},
	},
}

// Rules returns the rule set of an artifact type.
func Rules(t ArtifactType) []Rule {
	return append([]Rule(nil), ruleSets[t]...)
}

// ─── Requirements ───────────────────────────────────────────────────────────

type requiredSection struct {
	name  string
	match func(heading string) bool
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func nonFunctional(h string) bool {
	return containsAny(h, "non functional", "nonfunctional", "quality attributes")
}

var requiredSections = []requiredSection{
	{"overview", func(h string) bool { return containsAny(h, "overview", "introduction", "summary", "background") }},
	{"goals", func(h string) bool { return containsAny(h, "goal", "vision", "objective") }},
	{"users", func(h string) bool { return containsAny(h, "user", "persona", "stakeholder", "workflow") }},
	{"architecture", func(h string) bool { return containsAny(h, "architecture", "design", "technical approach") }},
	{"functional requirements", func(h string) bool {
		return !nonFunctional(h) && containsAny(h, "functional", "features")
	}},
	{"non-functional requirements", nonFunctional},
	{"testing", func(h string) bool { return containsAny(h, "test", "verification", "quality assurance") }},
}

func normalizeHeading(h string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(strings.ToLower(h), "-", " ")), " ")
}

func checkStructure(a *assessment) (float64, []string, error) {
	var findings []string
	found := 0
	for _, req := range requiredSections {
		ok := false
		for _, s := range a.requirements.sections {
			if req.match(normalizeHeading(s.heading)) {
				ok = true
				break
			}
		}
		if ok {
			found++
		} else {
			findings = append(findings, fmt.Sprintf("missing section: %s", req.name))
		}
	}
	return float64(found) / float64(len(requiredSections)), findings, nil
}

var (
	listItemRe = regexp.MustCompile(`(?m)^\s*(\d+[.)]|[-*+])\s+\S`)
	criteriaRe = regexp.MustCompile(`(?i)acceptance criteria`)
)

// detailMinChars is the length below which a requirements document reads as
// a sketch.
const detailMinChars = 2000

func checkDetail(a *assessment) (float64, []string, error) {
	var findings []string
	points := 50
	if utf8.RuneCountInString(a.requirements.text) >= detailMinChars {
		points += 20
	} else {
		findings = append(findings, fmt.Sprintf("document is shorter than %d characters", detailMinChars))
	}
	if listItemRe.MatchString(a.requirements.text) {
		points += 15
	} else {
		findings = append(findings, "no numbered or bulleted requirements")
	}
	if criteriaRe.MatchString(a.requirements.text) {
		points += 15
	} else {
		findings = append(findings, "no acceptance criteria")
	}
	return float64(points) / 100, findings, nil
}

// checkNonEmptySections counts a heading as filled when it or one of its
// subsections has body text.
func checkNonEmptySections(a *assessment) (float64, []string, error) {
	sections := a.requirements.sections
	if len(sections) == 0 {
		return 0, []string{"document has no sections"}, nil
	}
	var findings []string
	filled := 0
	for i, s := range sections {
		ok := strings.TrimSpace(s.body) != ""
		for j := i + 1; !ok && j < len(sections) && sections[j].level > s.level; j++ {
			ok = strings.TrimSpace(sections[j].body) != ""
		}
		if ok {
			filled++
		} else {
			findings = append(findings, fmt.Sprintf("empty section: %s", s.heading))
		}
	}
	return float64(filled) / float64(len(sections)), findings, nil
}

// ─── Task breakdown ─────────────────────────────────────────────────────────

func checkTaskCompleteness(a *assessment) (float64, []string, error) {
	if len(a.tasks) == 0 {
		return 0, []string{"no tasks"}, nil
	}
	var findings []string
	complete := 0
	for i, t := range a.tasks {
		switch {
		case strings.TrimSpace(t.Title) == "":
			findings = append(findings, fmt.Sprintf("task %d has no title", i+1))
		case strings.TrimSpace(t.Description) == "":
			findings = append(findings, fmt.Sprintf("task %q has no description", t.Title))
		default:
			complete++
		}
	}
	return float64(complete) / float64(len(a.tasks)), findings, nil
}

// Dependency penalties.
const (
	unknownDepPenalty  = 0.2
	duplicateIDPenalty = 0.2
	cycleScoreCeiling  = 0.25
)

// Task size limits in hours.
const (
	oversizedTaskHours  = 16
	unsplittableTaskHrs = 40
)

func checkTaskDependencies(a *assessment) (float64, []string, error) {
	if len(a.tasks) == 0 {
		return 0, []string{"no tasks"}, nil
	}
	var findings []string
	score := 1.0

	graph := make(map[string][]string, len(a.tasks))
	var order []string
	for _, t := range a.tasks {
		k := t.key()
		if _, dup := graph[k]; dup {
			findings = append(findings, fmt.Sprintf("duplicate task id %q", k))
			score -= duplicateIDPenalty
		} else {
			order = append(order, k)
		}
		graph[k] = append(graph[k], t.Dependencies...)
	}
	for _, k := range order {
		for _, dep := range graph[k] {
			if _, ok := graph[dep]; !ok {
				findings = append(findings, fmt.Sprintf("task %q depends on unknown task %q", k, dep))
				score -= unknownDepPenalty
			}
		}
	}
	if cycle := findCycle(graph, order); cycle != nil {
		findings = append(findings, "circular dependency: "+strings.Join(cycle, " -> "))
		score = min(score, cycleScoreCeiling)
	}
	return max(score, 0), findings, nil
}

// findCycle returns one dependency cycle, or nil.
func findCycle(graph map[string][]string, order []string) []string {
	const (
		unvisited = iota
		active
		done
	)
	state := make(map[string]int, len(graph))
	var path []string
	var visit func(string) []string
	visit = func(n string) []string {
		state[n] = active
		path = append(path, n)
		for _, dep := range graph[n] {
			if _, ok := graph[dep]; !ok {
				continue
			}
			switch state[dep] {
			case active:
				for i, p := range path {
					if p == dep {
						return append(append([]string(nil), path[i:]...), dep)
					}
				}
			case unvisited:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		path = path[:len(path)-1]
		state[n] = done
		return nil
	}
	for _, n := range order {
		if state[n] == unvisited {
			if c := visit(n); c != nil {
				return c
			}
		}
	}
	return nil
}

func checkTaskGranularity(a *assessment) (float64, []string, error) {
	if len(a.tasks) == 0 {
		return 0, []string{"no tasks"}, nil
	}
	var findings []string
	total := 0.0
	for _, t := range a.tasks {
		h := t.EstimateHours
		switch {
		case h <= 0:
			total += 0.5
			findings = append(findings, fmt.Sprintf("task %q has no estimate", t.key()))
		case h <= oversizedTaskHours:
			total++
		case h <= unsplittableTaskHrs:
			total += 0.5
			findings = append(findings, fmt.Sprintf("task %q (%gh) should be split", t.key(), h))
		default:
			findings = append(findings, fmt.Sprintf("task %q (%gh) is too large to estimate reliably", t.key(), h))
		}
	}
	return total / float64(len(a.tasks)), findings, nil
}

func checkTaskCriteria(a *assessment) (float64, []string, error) {
	if len(a.tasks) == 0 {
		return 0, []string{"no tasks"}, nil
	}
	var findings []string
	covered := 0
	for _, t := range a.tasks {
		if hasNonBlank(t.AcceptanceCriteria) {
			covered++
		} else {
			findings = append(findings, fmt.Sprintf("task %q has no acceptance criteria", t.key()))
		}
	}
	return float64(covered) / float64(len(a.tasks)), findings, nil
}

func hasNonBlank(items []string) bool {
	for _, s := range items {
		if strings.TrimSpace(s) != "" {
			return true
		}
	}
	return false
}

// ─── Implementation ─────────────────────────────────────────────────────────

type securityCheck struct {
	re      *regexp.Regexp
	finding string
}

var securityChecks = []securityCheck{
	{regexp.MustCompile(`(?i)(password|passwd|secret|api[_-]?key|access[_-]?token)\w*\s*(:=|=|:)\s*["'][^"'\s]{4,}["']`), "hardcoded credential"},
	{regexp.MustCompile(`\beval\s*\(`), "dynamic code evaluation"},
	{regexp.MustCompile(`(?i)InsecureSkipVerify\s*:\s*true|verify\s*=\s*False`), "TLS verification disabled"},
	{regexp.MustCompile(`(?i)"\s*(select|insert|update|delete)\s[^"]*"\s*\+`), "SQL built by string concatenation"},
	{regexp.MustCompile(`(?i)\b(md5|sha1)\.(new|sum)`), "weak hash"},
	{regexp.MustCompile(`(?i)exec\.Command\(\s*"(sh|bash)"\s*,\s*"-c"`), "shell command execution"},
}

// securityPenalty is deducted per finding.
const securityPenalty = 0.25

func checkSecurity(a *assessment) (float64, []string, error) {
	if len(a.implementation.Files) == 0 {
		return 0, []string{"no files to inspect"}, nil
	}
	var findings []string
	for _, f := range a.implementation.Files {
		for _, c := range securityChecks {
			if n := len(c.re.FindAllStringIndex(f.Content, -1)); n > 0 {
				findings = append(findings, fmt.Sprintf("%s: %s (%d)", f.Path, c.finding, n))
			}
		}
	}
	return max(1-securityPenalty*float64(len(findings)), 0), findings, nil
}

// checkImplementationCriteria counts a criterion as covered when at least
// half of its terms appear in the files.
func checkImplementationCriteria(a *assessment) (float64, []string, error) {
	var criteria []string
	for _, c := range a.implementation.AcceptanceCriteria {
		if strings.TrimSpace(c) != "" {
			criteria = append(criteria, c)
		}
	}
	if len(criteria) == 0 {
		return 0, []string{"no acceptance criteria"}, nil
	}

	corpus := make(map[string]struct{})
	for _, f := range a.implementation.Files {
		for _, t := range index.Tokenize(splitIdentifiers(f.Path + "\n" + f.Content)) {
			corpus[t] = struct{}{}
		}
	}

	var findings []string
	covered := 0
	for _, c := range criteria {
		terms := index.Unique(index.Tokenize(c))
		hit := 0
		for _, t := range terms {
			if _, ok := corpus[t]; ok {
				hit++
			}
		}
		if len(terms) > 0 && 2*hit >= len(terms) {
			covered++
		} else {
			findings = append(findings, fmt.Sprintf("criterion not evidenced: %s", c))
		}
	}
	return float64(covered) / float64(len(criteria)), findings, nil
}

// splitIdentifiers breaks camelCase and snake_case so identifiers match prose.
func splitIdentifiers(s string) string {
	var b strings.Builder
	b.Grow(len(s) + len(s)/4)
	var prev rune
	for _, r := range s {
		if r == '_' {
			b.WriteByte(' ')
			prev = r
			continue
		}
		if r >= 'A' && r <= 'Z' && prev >= 'a' && prev <= 'z' {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
		prev = r
	}
	return s + "\n" + b.String()
}

// Code quality limits.
const (
	maxLineRunes     = 120
	maxFileLines     = 500
	qualityDeductCap = 0.3
)

var markerRe = regexp.MustCompile(`\b(TODO|FIXME|XXX|HACK)\b`)

func checkCodeQuality(a *assessment) (float64, []string, error) {
	files := a.implementation.Files
	if len(files) == 0 {
		return 0, []string{"no files to inspect"}, nil
	}
	var findings []string
	total := 0.0
	for _, f := range files {
		if strings.TrimSpace(f.Content) == "" {
			findings = append(findings, fmt.Sprintf("%s: empty file", f.Path))
			continue
		}
		score := 1.0
		lines := strings.Split(f.Content, "\n")
		long := 0
		for _, l := range lines {
			if utf8.RuneCountInString(l) > maxLineRunes {
				long++
			}
		}
		if long > 0 {
			score -= min(0.1*float64(long), qualityDeductCap)
			findings = append(findings, fmt.Sprintf("%s: %d lines longer than %d characters", f.Path, long, maxLineRunes))
		}
		if n := len(markerRe.FindAllString(f.Content, -1)); n > 0 {
			score -= min(0.1*float64(n), qualityDeductCap)
			findings = append(findings, fmt.Sprintf("%s: %d unresolved markers", f.Path, n))
		}
		if len(lines) > maxFileLines {
			score -= 0.2
			findings = append(findings, fmt.Sprintf("%s: %d lines, consider splitting", f.Path, len(lines)))
		}
		total += max(score, 0)
	}
	return total / float64(len(files)), findings, nil
}

// ─── Pattern conflicts ──────────────────────────────────────────────────────

// checkPatternConflicts lowers the score when the artifact proposes an
// approach that a confident failure pattern already recorded.
func checkPatternConflicts(a *assessment) (float64, []string, error) {
	if a.engine.recall == nil || a.store == nil {
		return 0, nil, errNoContext
	}
	text := make(map[string]struct{})
	for _, t := range index.Tokenize(a.text()) {
		text[t] = struct{}{}
	}

	var findings []string
	worst := 0.0
	for _, p := range a.engine.recall.MinePatterns(a.store, "") {
		if p.Class != recall.ClassFailure || p.Confidence <= a.engine.recall.RiskThreshold() {
			continue
		}
		for _, approach := range p.Approaches {
			terms := index.Unique(index.Tokenize(approach))
			if len(terms) == 0 || !containsAll(text, terms) {
				continue
			}
			findings = append(findings, fmt.Sprintf("proposes %q, which failed %d times in %s: %s",
				approach, p.Support, p.Domain, p.Rationale))
			worst = max(worst, p.Confidence)
		}
	}
	sort.Strings(findings)
	return 1 - worst, findings, nil
}

func containsAll(set map[string]struct{}, terms []string) bool {
	for _, t := range terms {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}
