// Package memtools exposes the project memory as MCP tools.
//
// Each tool handler follows the same pattern:
//   - A struct with its dependencies injected via constructor
//   - Definition() returns the mcp.Tool schema
//   - Handle() processes the request and returns a result
//
// Every tool takes a "project" argument resolved through a memory.Registry.
// Problems with the caller's input come back as tool errors; only
// infrastructure failures are returned as Go errors.
package memtools

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/membank/internal/gates"
	"github.com/HendryAvila/membank/internal/memory"
)

// withProject is the shared "project" parameter.
func withProject() mcp.ToolOption {
	return mcp.WithString("project",
		mcp.Required(),
		mcp.Description("Project name. Each project has its own isolated memory."),
	)
}

// openProject resolves the project argument. A non-nil result is a tool
// error to hand back as-is.
func openProject(reg *memory.Registry, req mcp.CallToolRequest) (*memory.Store, *mcp.CallToolResult) {
	project := strings.TrimSpace(req.GetString("project", ""))
	if project == "" {
		return nil, mcp.NewToolResultError("'project' is required")
	}
	s, err := reg.Open(project)
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("failed to open project %q: %v", project, err))
	}
	return s, nil
}

// failure turns err into a tool error when the caller can fix it, and into
// a Go error otherwise.
func failure(action string, err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, memory.ErrValidation),
		errors.Is(err, memory.ErrNotFound),
		errors.Is(err, memory.ErrInvalidTransition),
		errors.Is(err, memory.ErrCapacity),
		errors.Is(err, memory.ErrAccess),
		errors.Is(err, gates.ErrMalformedArtifact):
		return mcp.NewToolResultError(fmt.Sprintf("failed to %s: %v", action, err)), nil
	}
	return nil, fmt.Errorf("%s: %w", action, err)
}

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// floatArg extracts a number argument.
func floatArg(req mcp.CallToolRequest, key string, defaultVal float64) float64 {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return v
}

// splitList splits a comma-separated argument, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseImpacts parses a comma-separated list of numbers.
func parseImpacts(s string) ([]float64, error) {
	var out []float64
	for _, part := range splitList(s) {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid impact %q", part)
		}
		out = append(out, v)
	}
	return out, nil
}

func percent(p float64) string {
	return fmt.Sprintf("%.1f%%", p*100)
}
