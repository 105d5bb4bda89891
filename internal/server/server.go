// Package server wires all MCP components and creates the server instance.
//
// This is the composition root: it creates the memory registry and the
// engines and injects them into the tools, prompts and resources that
// depend on them. No business logic lives here, only wiring.
package server

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/HendryAvila/membank/internal/config"
	"github.com/HendryAvila/membank/internal/gates"
	"github.com/HendryAvila/membank/internal/memory"
	"github.com/HendryAvila/membank/internal/memtools"
	"github.com/HendryAvila/membank/internal/prompts"
	"github.com/HendryAvila/membank/internal/recall"
	"github.com/HendryAvila/membank/internal/resources"
)

// Version is set at build time via ldflags.
var Version = "dev"

// tool is what every memtools handler provides.
type tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// New creates and configures the MCP server with all tools, prompts and
// resources registered. This is the single place where all dependencies are
// resolved.
//
// The returned cleanup function closes every project store opened while the
// server ran and must be called on shutdown (typically via defer).
func New(cfg *config.Config, log *zap.Logger) (*server.MCPServer, func()) {
	if log == nil {
		log = zap.NewNop()
	}

	// --- Create shared dependencies ---

	registry := memory.NewRegistry(cfg.MemoryOptions("", log.Named("memory")))
	recallEngine := recall.New(cfg.RecallOptions(log.Named("recall")))
	gateEngine := gates.New(recallEngine, log.Named("gates"))

	// --- Create the MCP server ---

	s := server.NewMCPServer(
		"membank",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions),
	)

	for _, t := range tools(registry, recallEngine, gateEngine) {
		s.AddTool(t.Definition(), t.Handle)
	}

	// --- Register prompts ---

	decidePrompt := prompts.NewDecidePrompt()
	s.AddPrompt(decidePrompt.Definition(), decidePrompt.Handle)

	reviewPrompt := prompts.NewReviewPrompt()
	s.AddPrompt(reviewPrompt.Definition(), reviewPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(registry)
	s.AddResource(resourceHandler.ProjectsResource(), resourceHandler.HandleProjects)
	s.AddResourceTemplate(resourceHandler.StatsTemplate(), resourceHandler.HandleStats)

	cleanup := func() {
		if err := registry.Close(); err != nil {
			log.Warn("server: closing project stores", zap.Error(err))
		}
	}
	return s, cleanup
}

// tools builds every memory tool in registration order.
func tools(registry *memory.Registry, r *recall.Engine, g *gates.Engine) []tool {
	return []tool{
		// --- Ingestion ---
		memtools.NewDecideTool(registry, r),
		memtools.NewOutcomeTool(registry),
		memtools.NewConverseTool(registry),

		// --- Retrieval ---
		memtools.NewGetTool(registry),
		memtools.NewRecentTool(registry),
		memtools.NewQueryTool(registry, r),
		memtools.NewPatternsTool(registry, r),
		memtools.NewRiskTool(registry, r),
		memtools.NewContextTool(registry, r),

		// --- Quality gates ---
		memtools.NewAssessTool(registry, g),
		memtools.NewOptimizeTool(registry, g),

		// --- Statistics ---
		memtools.NewStatsTool(registry),
	}
}

// serverInstructions tells the AI how to use membank effectively.
const serverInstructions = `You have access to membank, a persistent project memory of engineering decisions.

## WHEN TO USE membank

- BEFORE deciding anything non-trivial (a library, a datastore, an API shape, a deployment
  target), call mem_context with the topic. Read the RISK FLAGS and PATTERNS TO AVOID first.
- AFTER a decision is made, call mem_decide. Include the alternatives you considered as
  'options' and say why the chosen one won in 'rationale'.
- WHEN you learn how a decision turned out, call mem_outcome. Outcomes are what turn single
  decisions into success and failure patterns; without them membank cannot warn anyone.
- WHEN you answer a question using remembered decisions, call mem_converse with the IDs you
  relied on. Referenced decisions are kept longer when memory runs out of space.

## QUALITY GATES

Use mem_assess on requirements (markdown), task breakdowns (YAML/JSON task lists) and
implementations (YAML/JSON files plus acceptance criteria). A report is one of pass,
warning, fail or blocked. Use mem_optimize to see which improvements raise the success
probability most, then fix the largest first.

## PROJECTS

Every tool takes a 'project' argument. Projects never share memory. Use the repository
or product name consistently.

## RULES

- Status only moves proposed -> implemented; outcome only moves unknown -> successful|failed.
  A rejected transition means the record already has a later state.
- Do not invent decision IDs. Get them from mem_decide, mem_query or mem_recent.
- Keep titles short and searchable; put detail in 'context' and 'rationale'.`
