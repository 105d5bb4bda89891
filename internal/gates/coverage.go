package gates

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/HendryAvila/membank/internal/index"
	"github.com/HendryAvila/membank/internal/memory"
)

// Coverage thresholds for tracing requirements to tasks.
const (
	coverageWarn  = 0.8
	coverageBlock = 0.6

	// coverageStemRunes is the shortest term that also matches longer task
	// terms it starts ("create" covers "created").
	coverageStemRunes = 4

	maxUncoveredFindings = 5
)

// Coverage traces the functional requirements of a requirements document to
// the tasks of a task breakdown assessed alongside it.
type Coverage struct {
	Score    float64  `json:"score"`
	Covered  int      `json:"covered"`
	Total    int      `json:"total"`
	Blocked  bool     `json:"blocked"`
	Findings []string `json:"findings,omitempty"`
}

// requirementItems returns the list items of the functional requirement
// sections of doc.
func requirementItems(doc *requirementsDoc) []string {
	var items []string
	for _, sec := range doc.sections {
		h := normalizeHeading(sec.heading)
		if nonFunctional(h) || containsAny(h, "out of scope", "non goal") {
			continue
		}
		if !containsAny(h, "requirement", "functional", "feature", "user stor") {
			continue
		}
		inFence := false
		for _, line := range strings.Split(sec.body, "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "```") {
				inFence = !inFence
				continue
			}
			if inFence {
				continue
			}
			if item, ok := listItem(line); ok {
				items = append(items, item)
			}
		}
	}
	return items
}

// listItem strips a bullet ("- ", "* ", "+ ") or ordinal ("1. ", "2) ")
// marker.
func listItem(line string) (string, bool) {
	for _, m := range []string{"- ", "* ", "+ "} {
		if rest, ok := strings.CutPrefix(line, m); ok {
			rest = strings.TrimSpace(rest)
			return rest, rest != ""
		}
	}
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 || i+1 >= len(line) || (line[i] != '.' && line[i] != ')') || line[i+1] != ' ' {
		return "", false
	}
	rest := strings.TrimSpace(line[i+2:])
	return rest, rest != ""
}

// taskVocabulary collects the distinct terms of every task.
func taskVocabulary(tasks []Task) []string {
	var b strings.Builder
	for _, t := range tasks {
		b.WriteString(t.Title + " " + t.Description + " " + strings.Join(t.AcceptanceCriteria, " ") + " ")
	}
	return index.Unique(index.Tokenize(b.String()))
}

func vocabularyHas(vocab []string, term string) bool {
	for _, v := range vocab {
		if v == term {
			return true
		}
		short, long := term, v
		if len(short) > len(long) {
			short, long = long, short
		}
		if utf8.RuneCountInString(short) >= coverageStemRunes && strings.HasPrefix(long, short) {
			return true
		}
	}
	return false
}

// requirementCovered reports whether at least half of the item's terms
// appear among the task terms.
func requirementCovered(item string, vocab []string) bool {
	terms := index.Unique(index.Tokenize(item))
	if len(terms) == 0 {
		return true
	}
	hit := 0
	for _, term := range terms {
		if vocabularyHas(vocab, term) {
			hit++
		}
	}
	return 2*hit >= len(terms)
}

// traceCoverage measures how many requirement items the tasks cover. It
// returns nil when there is nothing to trace.
func traceCoverage(docs []*requirementsDoc, tasks []Task) *Coverage {
	if len(docs) == 0 || len(tasks) == 0 {
		return nil
	}
	var items []string
	for _, d := range docs {
		items = append(items, requirementItems(d)...)
	}
	if len(items) == 0 {
		return nil
	}

	vocab := taskVocabulary(tasks)
	c := &Coverage{Total: len(items)}
	var uncovered []string
	for _, item := range items {
		if requirementCovered(item, vocab) {
			c.Covered++
			continue
		}
		uncovered = append(uncovered, item)
	}
	c.Score = float64(c.Covered) / float64(c.Total)
	c.Blocked = c.Score < coverageBlock
	if c.Score < coverageWarn {
		c.Findings = append(c.Findings, fmt.Sprintf("tasks cover %d of %d requirements", c.Covered, c.Total))
	}
	for i, item := range uncovered {
		if i == maxUncoveredFindings {
			c.Findings = append(c.Findings, fmt.Sprintf("... and %d more", len(uncovered)-i))
			break
		}
		c.Findings = append(c.Findings, fmt.Sprintf("requirement not covered by any task: %q", memory.Truncate(item, 80)))
	}
	return c
}
