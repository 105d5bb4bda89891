package memtools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/membank/internal/memory"
)

// GetTool handles the mem_get MCP tool.
type GetTool struct {
	registry *memory.Registry
}

// NewGetTool creates a GetTool.
func NewGetTool(registry *memory.Registry) *GetTool {
	return &GetTool{registry: registry}
}

// Definition returns the MCP tool definition for mem_get.
func (t *GetTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_get",
		mcp.WithDescription(
			"Fetch one decision or conversation by ID with its complete content.",
		),
		withProject(),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Decision or conversation ID"),
		),
	)
}

// Handle processes the mem_get tool call.
func (t *GetTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("id", ""))
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	store, errRes := openProject(t.registry, req)
	if errRes != nil {
		return errRes, nil
	}

	var b strings.Builder
	rec, err := store.Get(id)
	switch {
	case err == nil:
		b.WriteString("## Decision\n\n")
		writeDecision(&b, rec, detailFull)
		return mcp.NewToolResultText(withTokenFooter(b.String())), nil
	case !errors.Is(err, memory.ErrNotFound):
		return failure("get decision", err)
	}

	conv, err := store.GetConversation(id)
	if err != nil {
		return failure("get record", err)
	}
	fmt.Fprintf(&b, "## Conversation\n\nID: %s\nRecorded: %s\n\n**Query**: %s\n\n**Response**: %s\n",
		conv.ID, conv.CreatedAt.Format("2006-01-02 15:04"), conv.Query, conv.Response)
	if len(conv.ReferencedIDs) > 0 {
		fmt.Fprintf(&b, "\nReferences: %s\n", strings.Join(conv.ReferencedIDs, ", "))
	}
	return mcp.NewToolResultText(withTokenFooter(b.String())), nil
}

// RecentTool handles the mem_recent MCP tool.
type RecentTool struct {
	registry *memory.Registry
}

// NewRecentTool creates a RecentTool.
func NewRecentTool(registry *memory.Registry) *RecentTool {
	return &RecentTool{registry: registry}
}

// Definition returns the MCP tool definition for mem_recent.
func (t *RecentTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_recent",
		mcp.WithDescription(
			"List the most recent decisions of a project, newest first. "+
				"Optionally includes recent conversations.",
		),
		withProject(),
		mcp.WithNumber("limit",
			mcp.Description("Max decisions (default: 10, max: 50)"),
		),
		mcp.WithBoolean("conversations",
			mcp.Description("Also list recent conversations (default: false)"),
		),
		withDetailLevel(),
	)
}

// Handle processes the mem_recent tool call.
func (t *RecentTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := min(max(intArg(req, "limit", 10), 1), 50)
	level := parseDetailLevel(req.GetString("detail_level", ""))
	store, errRes := openProject(t.registry, req)
	if errRes != nil {
		return errRes, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Recent decisions: %s\n\n", store.Project())
	shown := 0
	for rec, err := range store.Recent(limit) {
		if err != nil {
			return failure("list decisions", err)
		}
		writeDecision(&b, &rec, level)
		shown++
	}
	if shown == 0 {
		b.WriteString("No decisions recorded yet.\n")
	}
	b.WriteString(navigationHint(shown, len(store.AllDecisions()), "Raise 'limit' to see more."))

	if req.GetBool("conversations", false) {
		b.WriteString("\n\n## Recent conversations\n\n")
		n := 0
		for conv, err := range store.RecentConversations(limit) {
			if err != nil {
				return failure("list conversations", err)
			}
			fmt.Fprintf(&b, "- [%s] %s\n  ID: %s\n", conv.CreatedAt.Format("2006-01-02"),
				memory.Truncate(conv.Query, 120), conv.ID)
			n++
		}
		if n == 0 {
			b.WriteString("No conversations recorded yet.\n")
		}
	}
	if level == detailSummary {
		b.WriteString(summaryFooter)
	}
	return mcp.NewToolResultText(withTokenFooter(b.String())), nil
}

// StatsTool handles the mem_stats MCP tool.
type StatsTool struct {
	registry *memory.Registry
}

// NewStatsTool creates a StatsTool.
func NewStatsTool(registry *memory.Registry) *StatsTool {
	return &StatsTool{registry: registry}
}

// Definition returns the MCP tool definition for mem_stats.
func (t *StatsTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_stats",
		mcp.WithDescription(
			"Show memory statistics for a project: record counts, outcomes, domains and space used.",
		),
		withProject(),
	)
}

// Handle processes the mem_stats tool call.
func (t *StatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	store, errRes := openProject(t.registry, req)
	if errRes != nil {
		return errRes, nil
	}
	stats, err := store.Stats()
	if err != nil {
		return failure("get stats", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Memory Statistics: %s\n\n", stats.Project)
	fmt.Fprintf(&b, "- **Decisions**: %d\n", stats.Decisions)
	fmt.Fprintf(&b, "- **Conversations**: %d\n", stats.Conversations)
	fmt.Fprintf(&b, "- **Outcomes**: %d successful, %d failed, %d unknown\n",
		stats.Outcomes[memory.OutcomeSuccessful], stats.Outcomes[memory.OutcomeFailed], stats.Outcomes[memory.OutcomeUnknown])
	fmt.Fprintf(&b, "- **Storage**: %s of %s bytes\n", formatNumber(int(stats.StoredBytes)), formatNumber(int(stats.BudgetBytes)))
	fmt.Fprintf(&b, "- **Encrypted**: %t\n", stats.Encrypted)
	fmt.Fprintf(&b, "- **Version**: %d\n", stats.Version)

	if len(stats.Domains) > 0 {
		domains := make([]string, 0, len(stats.Domains))
		for d := range stats.Domains {
			domains = append(domains, d)
		}
		sort.Strings(domains)
		parts := make([]string, len(domains))
		for i, d := range domains {
			parts[i] = fmt.Sprintf("%s (%d)", d, stats.Domains[d])
		}
		fmt.Fprintf(&b, "- **Domains**: %s\n", strings.Join(parts, ", "))
	}
	return mcp.NewToolResultText(b.String()), nil
}
