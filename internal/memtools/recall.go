package memtools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/membank/internal/memory"
	"github.com/HendryAvila/membank/internal/recall"
)

// QueryTool handles the mem_query MCP tool.
type QueryTool struct {
	registry *memory.Registry
	recall   *recall.Engine
}

// NewQueryTool creates a QueryTool.
func NewQueryTool(registry *memory.Registry, r *recall.Engine) *QueryTool {
	return &QueryTool{registry: registry, recall: r}
}

// Definition returns the MCP tool definition for mem_query.
func (t *QueryTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_query",
		mcp.WithDescription(
			"Search project memory for decisions relevant to a topic. Results are ranked by keyword "+
				"match, textual similarity, recency and domain, and show which signals matched.",
		),
		withProject(),
		mcp.WithString("topic",
			mcp.Required(),
			mcp.Description("Natural-language topic or keywords"),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Max results (default: 5, max: 50)"),
		),
		withDetailLevel(),
	)
}

// Handle processes the mem_query tool call.
func (t *QueryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic := req.GetString("topic", "")
	if strings.TrimSpace(topic) == "" {
		return mcp.NewToolResultError("'topic' is required"), nil
	}
	topK := min(intArg(req, "top_k", recall.DefaultTopK), 50)
	level := parseDetailLevel(req.GetString("detail_level", ""))

	store, errRes := openProject(t.registry, req)
	if errRes != nil {
		return errRes, nil
	}
	res, err := t.recall.Query(store, topic, topK)
	if err != nil {
		return failure("query memory", err)
	}
	if len(res.Items) == 0 {
		return mcp.NewToolResultText("No decisions found matching your topic."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d decisions for %q:\n\n", len(res.Items), res.Topic)
	for i, item := range res.Items {
		fmt.Fprintf(&b, "[%d] score %.3f (lexical %.2f, similarity %.2f, recency %.2f, tag %.2f)",
			i+1, item.Score, item.Signals.Lexical, item.Signals.Similarity, item.Signals.Recency, item.Signals.Tag)
		if len(item.Matched) > 0 {
			fmt.Fprintf(&b, " matched: %s", strings.Join(item.Matched, ", "))
		}
		b.WriteString("\n")
		writeDecision(&b, &item.Record, level)
		b.WriteString("\n")
	}
	if res.Partial {
		b.WriteString("Fewer matches than requested exist.\n")
	}
	if level == detailSummary {
		b.WriteString(summaryFooter)
	}
	return mcp.NewToolResultText(withTokenFooter(b.String())), nil
}

// PatternsTool handles the mem_patterns MCP tool.
type PatternsTool struct {
	registry *memory.Registry
	recall   *recall.Engine
}

// NewPatternsTool creates a PatternsTool.
func NewPatternsTool(registry *memory.Registry, r *recall.Engine) *PatternsTool {
	return &PatternsTool{registry: registry, recall: r}
}

// Definition returns the MCP tool definition for mem_patterns.
func (t *PatternsTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_patterns",
		mcp.WithDescription(
			"List success and failure patterns mined from decisions with known outcomes. "+
				"A pattern needs at least two decisions in the same domain with the same outcome.",
		),
		withProject(),
		mcp.WithString("domain",
			mcp.Description("Only patterns for this domain (default: all domains)"),
		),
	)
}

// Handle processes the mem_patterns tool call.
func (t *PatternsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	store, errRes := openProject(t.registry, req)
	if errRes != nil {
		return errRes, nil
	}
	domain := req.GetString("domain", "")
	patterns := t.recall.MinePatterns(store, domain)
	if len(patterns) == 0 {
		return mcp.NewToolResultText("No patterns yet. Record outcomes with mem_outcome to build them."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Patterns: %s\n\n", store.Project())
	for _, p := range patterns {
		writePattern(&b, p)
	}
	return mcp.NewToolResultText(withTokenFooter(b.String())), nil
}

func writePattern(b *strings.Builder, p recall.Pattern) {
	fmt.Fprintf(b, "- **%s** %s (confidence %s, support %d)\n", p.Domain, p.Class, percent(p.Confidence), p.Support)
	if p.Rationale != "" {
		fmt.Fprintf(b, "  %s\n", p.Rationale)
	}
	if len(p.Approaches) > 0 {
		fmt.Fprintf(b, "  Approaches: %s\n", strings.Join(p.Approaches, "; "))
	}
}

// RiskTool handles the mem_risk MCP tool.
type RiskTool struct {
	registry *memory.Registry
	recall   *recall.Engine
}

// NewRiskTool creates a RiskTool.
func NewRiskTool(registry *memory.Registry, r *recall.Engine) *RiskTool {
	return &RiskTool{registry: registry, recall: r}
}

// Definition returns the MCP tool definition for mem_risk.
func (t *RiskTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_risk",
		mcp.WithDescription(
			"Check a planned topic or approach against known failure patterns before committing to it.",
		),
		withProject(),
		mcp.WithString("topic",
			mcp.Required(),
			mcp.Description("What you are about to decide or build"),
		),
	)
}

// Handle processes the mem_risk tool call.
func (t *RiskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic := req.GetString("topic", "")
	if strings.TrimSpace(topic) == "" {
		return mcp.NewToolResultError("'topic' is required"), nil
	}
	store, errRes := openProject(t.registry, req)
	if errRes != nil {
		return errRes, nil
	}
	flags, err := t.recall.PredictRisk(store, topic)
	if err != nil {
		return failure("predict risk", err)
	}
	if len(flags) == 0 {
		return mcp.NewToolResultText("No known failure patterns match this topic."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Risk flags for %q\n\n", topic)
	writeRiskFlags(&b, flags)
	return mcp.NewToolResultText(b.String()), nil
}

func writeRiskFlags(b *strings.Builder, flags []recall.RiskFlag) {
	for _, f := range flags {
		fmt.Fprintf(b, "- **%s**: %d past failures (confidence %s), e.g. %q (%s)\n",
			f.Domain, f.Support, percent(f.Confidence), f.Title, f.RecordID)
		if f.Rationale != "" {
			fmt.Fprintf(b, "  %s\n", f.Rationale)
		}
	}
}

// ContextTool handles the mem_context MCP tool.
type ContextTool struct {
	registry *memory.Registry
	recall   *recall.Engine
}

// NewContextTool creates a ContextTool.
func NewContextTool(registry *memory.Registry, r *recall.Engine) *ContextTool {
	return &ContextTool{registry: registry, recall: r}
}

// Definition returns the MCP tool definition for mem_context.
func (t *ContextTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_context",
		mcp.WithDescription(
			"Build a briefing for a topic: directly relevant decisions, recent decisions, success "+
				"patterns, patterns to avoid and risk flags. Call this before making a new decision.",
		),
		withProject(),
		mcp.WithString("topic",
			mcp.Required(),
			mcp.Description("The topic about to be decided"),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Max direct references (default: 5)"),
		),
	)
}

// Handle processes the mem_context tool call.
func (t *ContextTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic := req.GetString("topic", "")
	if strings.TrimSpace(topic) == "" {
		return mcp.NewToolResultError("'topic' is required"), nil
	}
	store, errRes := openProject(t.registry, req)
	if errRes != nil {
		return errRes, nil
	}
	bundle, err := t.recall.BuildContext(store, topic, intArg(req, "top_k", 0))
	if err != nil {
		return failure("build context", err)
	}
	if bundle.Empty() {
		return mcp.NewToolResultText(fmt.Sprintf("No memory context for %q yet.", topic)), nil
	}
	return mcp.NewToolResultText(withTokenFooter(bundle.Format())), nil
}
