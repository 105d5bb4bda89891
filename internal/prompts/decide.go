// Package prompts implements MCP prompt handlers for membank.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to run a sequence of memory tools. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// DecidePrompt handles the membank-decide MCP prompt.
// It walks the AI through consulting memory before recording a decision.
type DecidePrompt struct{}

// NewDecidePrompt creates a DecidePrompt.
func NewDecidePrompt() *DecidePrompt {
	return &DecidePrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *DecidePrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("membank-decide",
		mcp.WithPromptDescription(
			"Make an engineering decision informed by project memory: review past decisions "+
				"and failure patterns, choose, then record the decision.",
		),
		mcp.WithArgument("project",
			mcp.ArgumentDescription("Project name"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("topic",
			mcp.ArgumentDescription("What needs to be decided"),
			mcp.RequiredArgument(),
		),
	)
}

// Handle processes the membank-decide prompt request.
func (p *DecidePrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	project := argument(req, "project", "default")
	topic := argument(req, "topic", "")
	if topic == "" {
		return nil, fmt.Errorf("prompt argument 'topic' is required")
	}

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Decide: %s", topic),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I need to make a decision in project '%s' about: %s\n\n"+
						"Please:\n"+
						"1. Run `mem_context` with project='%s' and this topic, and summarize what we decided before\n"+
						"2. Point out every RISK FLAG and PATTERN TO AVOID that applies\n"+
						"3. Propose two or three options with pros, cons, risk level and effort, and recommend one\n"+
						"4. Once I confirm, run `mem_decide` with the chosen option, the alternatives as 'options', and the rationale\n"+
						"5. Remind me to report the outcome later with `mem_outcome`",
					project, topic, project,
				)),
			},
		},
	}, nil
}

// argument reads a prompt argument, falling back to def when it is missing
// or empty.
func argument(req mcp.GetPromptRequest, name, def string) string {
	if v, ok := req.Params.Arguments[name]; ok && v != "" {
		return v
	}
	return def
}
