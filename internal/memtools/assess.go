package memtools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/membank/internal/gates"
	"github.com/HendryAvila/membank/internal/memory"
)

// AssessTool handles the mem_assess MCP tool.
type AssessTool struct {
	registry *memory.Registry
	gates    *gates.Engine
}

// NewAssessTool creates an AssessTool.
func NewAssessTool(registry *memory.Registry, g *gates.Engine) *AssessTool {
	return &AssessTool{registry: registry, gates: g}
}

// Definition returns the MCP tool definition for mem_assess.
func (t *AssessTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_assess",
		mcp.WithDescription(
			"Score a project artifact against its quality gate and estimate its success probability. "+
				"requirements is markdown; task_breakdown is a YAML/JSON task list; implementation is "+
				"YAML/JSON {files: [{path, content}], acceptance_criteria: [...]}. Pass 'artifacts' "+
				"instead to assess several artifacts and get a project-level probability.",
		),
		withProject(),
		mcp.WithString("artifact_type",
			mcp.Description("requirements, task_breakdown or implementation"),
			mcp.Enum(gates.ArtifactTypes()...),
		),
		mcp.WithString("content",
			mcp.Description("The artifact to assess"),
		),
		mcp.WithString("artifacts",
			mcp.Description(`Several artifacts as a JSON array: [{"type":"requirements","content":"..."}]`),
		),
	)
}

// Handle processes the mem_assess tool call.
func (t *AssessTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawArtifacts := req.GetString("artifacts", "")
	artifactType := req.GetString("artifact_type", "")
	if rawArtifacts == "" && artifactType == "" {
		return mcp.NewToolResultError("either 'artifact_type' with 'content', or 'artifacts', is required"), nil
	}

	store, errRes := openProject(t.registry, req)
	if errRes != nil {
		return errRes, nil
	}

	if rawArtifacts != "" {
		var artifacts []gates.Artifact
		if err := json.Unmarshal([]byte(rawArtifacts), &artifacts); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("'artifacts' must be a JSON array: %v", err)), nil
		}
		pa, err := t.gates.AssessProject(store, artifacts)
		if err != nil {
			return failure("assess project", err)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "## Project assessment: %s\n\nSuccess probability: %s\n",
			store.Project(), percent(pa.Probability))
		if c := pa.Coverage; c != nil {
			fmt.Fprintf(&b, "Requirement coverage: %d of %d (%.2f, blocked: %t)\n", c.Covered, c.Total, c.Score, c.Blocked)
			for _, f := range c.Findings {
				b.WriteString("- " + f + "\n")
			}
		}
		for _, r := range pa.Reports {
			b.WriteString("\n")
			writeReport(&b, r)
		}
		return mcp.NewToolResultText(withTokenFooter(b.String())), nil
	}

	report, err := t.gates.Assess(store, artifactType, req.GetString("content", ""))
	if err != nil {
		return failure("assess artifact", err)
	}
	var b strings.Builder
	writeReport(&b, report)
	return mcp.NewToolResultText(withTokenFooter(b.String())), nil
}

func writeReport(b *strings.Builder, r *gates.ScoreReport) {
	fmt.Fprintf(b, "### %s: %s\n\n", r.ArtifactType, strings.ToUpper(string(r.Verdict)))
	fmt.Fprintf(b, "- **Score**: %.3f (threshold %.2f, passed: %t)\n", r.Aggregate, r.Threshold, r.Passed)
	fmt.Fprintf(b, "- **Success probability**: %s\n", percent(r.Probability))
	if len(r.Opportunities) > 0 {
		fmt.Fprintf(b, "- **If improved**: %s\n", percent(r.OptimizedProbability))
	}

	b.WriteString("\n| Rule | Weight | Score |\n|---|---|---|\n")
	for _, rr := range r.Rules {
		mark := ""
		if rr.Blocked {
			mark = " (blocking)"
		}
		fmt.Fprintf(b, "| %s%s | %.2f | %.2f |\n", rr.Name, mark, rr.Weight, rr.Score)
	}

	var findings []string
	for _, rr := range r.Rules {
		for _, f := range rr.Findings {
			findings = append(findings, fmt.Sprintf("- [%s] %s", rr.Name, f))
		}
	}
	if len(findings) > 0 {
		b.WriteString("\nFindings:\n")
		b.WriteString(strings.Join(findings, "\n"))
		b.WriteString("\n")
	}
}

// OptimizeTool handles the mem_optimize MCP tool.
type OptimizeTool struct {
	registry *memory.Registry
	gates    *gates.Engine
}

// NewOptimizeTool creates an OptimizeTool.
func NewOptimizeTool(registry *memory.Registry, g *gates.Engine) *OptimizeTool {
	return &OptimizeTool{registry: registry, gates: g}
}

// Definition returns the MCP tool definition for mem_optimize.
func (t *OptimizeTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_optimize",
		mcp.WithDescription(
			"Estimate how far a success probability rises if improvements are made. Either pass an "+
				"artifact to derive the improvements from its assessment, or a base probability with "+
				"the impact of each improvement.",
		),
		mcp.WithString("project",
			mcp.Description("Project name (required with 'artifact_type')"),
		),
		mcp.WithString("artifact_type",
			mcp.Description("requirements, task_breakdown or implementation"),
			mcp.Enum(gates.ArtifactTypes()...),
		),
		mcp.WithString("content",
			mcp.Description("The artifact to assess"),
		),
		mcp.WithNumber("base",
			mcp.Description("Current success probability in [0,1]"),
		),
		mcp.WithString("impacts",
			mcp.Description("Comma-separated impact of each improvement in [0,1], e.g. '0.15, 0.2'"),
		),
	)
}

// Handle processes the mem_optimize tool call.
func (t *OptimizeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if req.GetString("artifact_type", "") != "" {
		return t.handleArtifact(req)
	}

	if _, ok := req.GetArguments()["base"]; !ok {
		return mcp.NewToolResultError("either 'artifact_type' with 'content', or 'base', is required"), nil
	}
	base := floatArg(req, "base", 0)
	impacts, err := parseImpacts(req.GetString("impacts", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opps := make([]gates.Opportunity, len(impacts))
	for i, v := range impacts {
		opps[i] = gates.Opportunity{Description: fmt.Sprintf("improvement %d", i+1), Impact: v}
	}
	optimized := gates.Optimize(base, opps)
	return mcp.NewToolResultText(fmt.Sprintf("Base probability: %s\nOptimized probability: %s (%d improvements)",
		percent(min(max(base, 0), 1)), percent(optimized), len(opps))), nil
}

func (t *OptimizeTool) handleArtifact(req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	store, errRes := openProject(t.registry, req)
	if errRes != nil {
		return errRes, nil
	}
	report, err := t.gates.Assess(store, req.GetString("artifact_type", ""), req.GetString("content", ""))
	if err != nil {
		return failure("assess artifact", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Current probability: %s\n", percent(report.Probability))
	if len(report.Opportunities) == 0 {
		b.WriteString("No improvements found; every rule is satisfied.\n")
		return mcp.NewToolResultText(b.String()), nil
	}
	fmt.Fprintf(&b, "Optimized probability: %s\n\nImprovements, largest impact first:\n", percent(report.OptimizedProbability))
	for _, o := range report.Opportunities {
		fmt.Fprintf(&b, "- [%s] %s (impact %.3f)\n", o.Rule, o.Description, o.Impact)
	}
	return mcp.NewToolResultText(b.String()), nil
}
