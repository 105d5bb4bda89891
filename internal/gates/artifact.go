package gates

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/membank/internal/memory"
)

// ArtifactType names a kind of artifact that can be assessed.
type ArtifactType string

const (
	Requirements   ArtifactType = "requirements"
	TaskBreakdown  ArtifactType = "task_breakdown"
	Implementation ArtifactType = "implementation"
)

var artifactAliases = map[string]ArtifactType{
	"requirements":   Requirements,
	"prd":            Requirements,
	"task_breakdown": TaskBreakdown,
	"tasks":          TaskBreakdown,
	"implementation": Implementation,
	"code":           Implementation,
}

// ArtifactTypes lists the canonical artifact types.
func ArtifactTypes() []string {
	return []string{string(Requirements), string(TaskBreakdown), string(Implementation)}
}

// ParseArtifactType resolves a type name or one of its aliases.
func ParseArtifactType(s string) (ArtifactType, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	if t, ok := artifactAliases[key]; ok {
		return t, nil
	}
	return "", &memory.ValidationError{
		Field:  "artifact_type",
		Reason: "must be one of " + strings.Join(ArtifactTypes(), ", "),
	}
}

// Artifact is one document submitted for assessment.
type Artifact struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// ─── Requirements (markdown) ────────────────────────────────────────────────

type section struct {
	level   int
	heading string
	body    string
}

type requirementsDoc struct {
	text     string
	sections []section
}

func parseRequirements(content string) (*requirementsDoc, error) {
	doc := &requirementsDoc{text: content}
	var (
		cur     *section
		body    strings.Builder
		inFence bool
	)
	flush := func() {
		if cur != nil {
			cur.body = body.String()
			doc.sections = append(doc.sections, *cur)
		}
		body.Reset()
	}

	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
		}
		if !inFence {
			if level, heading, ok := headingLine(trimmed); ok {
				flush()
				cur = &section{level: level, heading: heading}
				continue
			}
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, &MalformedArtifactError{Type: Requirements, Reason: err.Error()}
	}
	flush()
	return doc, nil
}

// headingLine recognizes ATX headings ("## Goals").
func headingLine(line string) (int, string, bool) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 || level == len(line) || line[level] != ' ' {
		return 0, "", false
	}
	heading := strings.TrimSpace(strings.TrimRight(line[level:], "# "))
	if heading == "" {
		return 0, "", false
	}
	return level, heading, true
}

// ─── Task breakdown (YAML / JSON) ───────────────────────────────────────────

// Task is one entry of a task breakdown.
type Task struct {
	ID                 string   `yaml:"id"`
	Title              string   `yaml:"title"`
	Description        string   `yaml:"description"`
	Dependencies       []string `yaml:"dependencies"`
	AcceptanceCriteria []string `yaml:"acceptance_criteria"`
	EstimateHours      float64  `yaml:"estimate_hours"`
}

func (t Task) key() string {
	if t.ID != "" {
		return t.ID
	}
	return t.Title
}

func parseTasks(content string) ([]Task, error) {
	root, err := decodeRoot(TaskBreakdown, content)
	if err != nil {
		return nil, err
	}
	var tasks []Task
	switch root.Kind {
	case yaml.SequenceNode:
		err = root.Decode(&tasks)
	case yaml.MappingNode:
		var wrapped struct {
			Tasks *[]Task `yaml:"tasks"`
		}
		if err = root.Decode(&wrapped); err == nil {
			if wrapped.Tasks == nil {
				return nil, &MalformedArtifactError{Type: TaskBreakdown, Reason: `expected a list of tasks or a "tasks" key`}
			}
			tasks = *wrapped.Tasks
		}
	default:
		return nil, &MalformedArtifactError{Type: TaskBreakdown, Reason: "expected a list of tasks"}
	}
	if err != nil {
		return nil, &MalformedArtifactError{Type: TaskBreakdown, Reason: err.Error()}
	}
	return tasks, nil
}

// ─── Implementation (YAML / JSON) ───────────────────────────────────────────

// File is one source file of an implementation artifact.
type File struct {
	Path    string `yaml:"path"`
	Content string `yaml:"content"`
}

type implementationDoc struct {
	Files              []File   `yaml:"files"`
	AcceptanceCriteria []string `yaml:"acceptance_criteria"`
}

func parseImplementation(content string) (*implementationDoc, error) {
	root, err := decodeRoot(Implementation, content)
	if err != nil {
		return nil, err
	}
	if root.Kind != yaml.MappingNode {
		return nil, &MalformedArtifactError{Type: Implementation, Reason: `expected a mapping with "files"`}
	}
	var doc implementationDoc
	if err := root.Decode(&doc); err != nil {
		return nil, &MalformedArtifactError{Type: Implementation, Reason: err.Error()}
	}
	return &doc, nil
}

// decodeRoot parses content into its single root node. JSON is accepted
// because it is valid YAML.
func decodeRoot(t ArtifactType, content string) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.NewDecoder(strings.NewReader(content)).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &MalformedArtifactError{Type: t, Reason: "empty document"}
		}
		return nil, &MalformedArtifactError{Type: t, Reason: err.Error()}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, &MalformedArtifactError{Type: t, Reason: "empty document"}
	}
	return doc.Content[0], nil
}

// checkContent rejects input no rule could read.
func checkContent(t ArtifactType, content string) error {
	if strings.TrimSpace(content) == "" {
		return &MalformedArtifactError{Type: t, Reason: "content is empty"}
	}
	if !utf8.ValidString(content) {
		return &MalformedArtifactError{Type: t, Reason: "content is not valid UTF-8"}
	}
	return nil
}
