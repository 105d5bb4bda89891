package memtools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/membank/internal/memory"
	"github.com/HendryAvila/membank/internal/recall"
)

// DecideTool handles the mem_decide MCP tool.
type DecideTool struct {
	registry *memory.Registry
	recall   *recall.Engine
}

// NewDecideTool creates a DecideTool. The recall engine is optional; when
// set, known risks for the new decision are reported back.
func NewDecideTool(registry *memory.Registry, r *recall.Engine) *DecideTool {
	return &DecideTool{registry: registry, recall: r}
}

// Definition returns the MCP tool definition for mem_decide.
func (t *DecideTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_decide",
		mcp.WithDescription(
			"Record an engineering decision in project memory. Call this whenever a choice between "+
				"alternatives is made so future work can learn from it. Returns the decision ID and any "+
				"failure patterns the new decision resembles.",
		),
		withProject(),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Short, searchable title (e.g. 'Use PostgreSQL for the event store')"),
		),
		mcp.WithString("context",
			mcp.Required(),
			mcp.Description("Problem context: what situation required a decision?"),
		),
		mcp.WithString("chosen_option",
			mcp.Required(),
			mcp.Description("The option that was chosen"),
		),
		mcp.WithString("rationale",
			mcp.Description("Why this option was chosen"),
		),
		mcp.WithString("options",
			mcp.Description(`Alternatives considered, as a JSON array: [{"name":"...","description":"...","pros":["..."],"cons":["..."],"risk_level":"low","effort":"medium"}]`),
		),
		mcp.WithString("decision_maker",
			mcp.Description("Who made the decision"),
		),
		mcp.WithString("domain",
			mcp.Description("Domain tag (e.g. architecture, database, security). Inferred from the text when omitted."),
		),
		mcp.WithString("status",
			mcp.Description("proposed (default) or implemented"),
			mcp.Enum(string(memory.StatusProposed), string(memory.StatusImplemented)),
		),
		mcp.WithString("outcome",
			mcp.Description("unknown (default), successful or failed"),
			mcp.Enum(string(memory.OutcomeUnknown), string(memory.OutcomeSuccessful), string(memory.OutcomeFailed)),
		),
		mcp.WithString("metadata",
			mcp.Description(`Extra string key/values as a JSON object, e.g. {"ticket":"OPS-12"}`),
		),
	)
}

// Handle processes the mem_decide tool call.
func (t *DecideTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	in := memory.DecisionInput{
		Title:         req.GetString("title", ""),
		Context:       req.GetString("context", ""),
		ChosenOption:  req.GetString("chosen_option", ""),
		Rationale:     req.GetString("rationale", ""),
		DecisionMaker: req.GetString("decision_maker", ""),
		Domain:        req.GetString("domain", ""),
		Status:        memory.Status(req.GetString("status", "")),
		Outcome:       memory.Outcome(req.GetString("outcome", "")),
	}
	if strings.TrimSpace(in.Title) == "" {
		return mcp.NewToolResultError("'title' is required"), nil
	}
	if strings.TrimSpace(in.Context) == "" {
		return mcp.NewToolResultError("'context' is required"), nil
	}
	if strings.TrimSpace(in.ChosenOption) == "" {
		return mcp.NewToolResultError("'chosen_option' is required"), nil
	}
	if raw := req.GetString("options", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.Options); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("'options' must be a JSON array of options: %v", err)), nil
		}
	}
	if raw := req.GetString("metadata", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &in.Metadata); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("'metadata' must be a JSON object of strings: %v", err)), nil
		}
	}

	store, errRes := openProject(t.registry, req)
	if errRes != nil {
		return errRes, nil
	}
	id, err := store.AppendDecision(in)
	if err != nil {
		return failure("record decision", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Decision recorded: %q\nID: %s\n", strings.TrimSpace(in.Title), id)
	if rec, ok := store.Lookup(id); ok {
		fmt.Fprintf(&b, "Domain: %s\nStatus: %s | Outcome: %s\n", rec.Domain, rec.Status, rec.Outcome)
	}

	if t.recall != nil {
		flags, err := t.recall.PredictRisk(store, in.Title+" "+in.ChosenOption)
		if err != nil {
			return failure("predict risk", err)
		}
		if len(flags) > 0 {
			b.WriteString("\nKnown risks for similar decisions:\n")
			writeRiskFlags(&b, flags)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

// OutcomeTool handles the mem_outcome MCP tool.
type OutcomeTool struct {
	registry *memory.Registry
}

// NewOutcomeTool creates an OutcomeTool.
func NewOutcomeTool(registry *memory.Registry) *OutcomeTool {
	return &OutcomeTool{registry: registry}
}

// Definition returns the MCP tool definition for mem_outcome.
func (t *OutcomeTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_outcome",
		mcp.WithDescription(
			"Report what became of a recorded decision. Status moves proposed -> implemented and "+
				"outcome moves unknown -> successful or failed; changes never go backwards. "+
				"Outcomes feed the success and failure patterns.",
		),
		withProject(),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Decision ID returned by mem_decide"),
		),
		mcp.WithString("status",
			mcp.Description("New status: implemented or proposed"),
			mcp.Enum(string(memory.StatusProposed), string(memory.StatusImplemented)),
		),
		mcp.WithString("outcome",
			mcp.Description("New outcome: successful, failed or unknown"),
			mcp.Enum(string(memory.OutcomeUnknown), string(memory.OutcomeSuccessful), string(memory.OutcomeFailed)),
		),
	)
}

// Handle processes the mem_outcome tool call.
func (t *OutcomeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("id", ""))
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	status := memory.Status(req.GetString("status", ""))
	outcome := memory.Outcome(req.GetString("outcome", ""))
	if status == "" && outcome == "" {
		return mcp.NewToolResultError("at least one of 'status' or 'outcome' is required"), nil
	}

	store, errRes := openProject(t.registry, req)
	if errRes != nil {
		return errRes, nil
	}
	rec, err := store.UpdateOutcome(id, status, outcome)
	if err != nil {
		return failure("update decision", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Decision updated: %q\nID: %s\nStatus: %s | Outcome: %s",
		rec.Title, rec.ID, rec.Status, rec.Outcome)), nil
}

// ConverseTool handles the mem_converse MCP tool.
type ConverseTool struct {
	registry *memory.Registry
}

// NewConverseTool creates a ConverseTool.
func NewConverseTool(registry *memory.Registry) *ConverseTool {
	return &ConverseTool{registry: registry}
}

// Definition returns the MCP tool definition for mem_converse.
func (t *ConverseTool) Definition() mcp.Tool {
	return mcp.NewTool("mem_converse",
		mcp.WithDescription(
			"Record a question/answer exchange and the decisions it relied on. Referenced decisions "+
				"are kept longer when memory runs out of space.",
		),
		withProject(),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The question that was asked"),
		),
		mcp.WithString("response",
			mcp.Required(),
			mcp.Description("The answer that was given"),
		),
		mcp.WithString("referenced_ids",
			mcp.Description("Comma-separated decision IDs the answer relied on"),
		),
	)
}

// Handle processes the mem_converse tool call.
func (t *ConverseTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	in := memory.ConversationInput{
		Query:         req.GetString("query", ""),
		Response:      req.GetString("response", ""),
		ReferencedIDs: splitList(req.GetString("referenced_ids", "")),
	}
	if strings.TrimSpace(in.Query) == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}
	if strings.TrimSpace(in.Response) == "" {
		return mcp.NewToolResultError("'response' is required"), nil
	}

	store, errRes := openProject(t.registry, req)
	if errRes != nil {
		return errRes, nil
	}
	id, err := store.AppendConversation(in)
	if err != nil {
		return failure("record conversation", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("Conversation recorded (ID: %s, %d references)",
		id, len(in.ReferencedIDs))), nil
}
