package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// ReviewPrompt handles the membank-review MCP prompt.
// It asks the AI to run an artifact through its quality gate and act on the
// findings.
type ReviewPrompt struct{}

// NewReviewPrompt creates a ReviewPrompt.
func NewReviewPrompt() *ReviewPrompt {
	return &ReviewPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *ReviewPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("membank-review",
		mcp.WithPromptDescription(
			"Review a requirements document, task breakdown or implementation against its "+
				"quality gate and get the changes that raise its success probability most.",
		),
		mcp.WithArgument("project",
			mcp.ArgumentDescription("Project name"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("artifact_type",
			mcp.ArgumentDescription("requirements, task_breakdown or implementation. Default: requirements"),
		),
	)
}

// Handle processes the membank-review prompt request.
func (p *ReviewPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	project := argument(req, "project", "default")
	artifactType := argument(req, "artifact_type", "requirements")

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Review %s for %s", artifactType, project),
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"Please review my %s for project '%s'.\n\n"+
						"1. Ask me for the artifact if I have not shared it yet\n"+
						"2. Run `mem_assess` with project='%s', artifact_type='%s' and the artifact as content\n"+
						"3. Explain the verdict and every blocking rule in plain words\n"+
						"4. Run `mem_optimize` on the same artifact and list the improvements, largest impact first\n"+
						"5. Offer to apply the top improvements and assess again",
					artifactType, project, project, artifactType,
				)),
			},
		},
	}, nil
}
