// Package resources implements MCP resource handlers for membank.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (membank://...) following MCP conventions.
package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/membank/internal/memory"
)

const (
	projectsURI    = "membank://projects"
	statsURIPrefix = "membank://projects/"
	statsURISuffix = "/stats"
)

// Handler manages membank resource endpoints.
type Handler struct {
	registry *memory.Registry
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(registry *memory.Registry) *Handler {
	return &Handler{registry: registry}
}

// ProjectsResource returns the MCP resource definition for the project list.
func (h *Handler) ProjectsResource() mcp.Resource {
	return mcp.NewResource(
		projectsURI,
		"Open Projects",
		mcp.WithResourceDescription("Projects whose memory has been opened by this server"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleProjects returns the open projects as a JSON array.
func (h *Handler) HandleProjects(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	projects := h.registry.Projects()
	sort.Strings(projects)
	return jsonResource(req.Params.URI, projects)
}

// StatsTemplate returns the MCP resource template for per-project stats.
func (h *Handler) StatsTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		statsURIPrefix+"{project}"+statsURISuffix,
		"Project Memory Stats",
		mcp.WithTemplateDescription("Record counts, outcomes, domains and storage for one project"),
		mcp.WithTemplateMIMEType("application/json"),
	)
}

// HandleStats returns one project's memory stats as JSON.
func (h *Handler) HandleStats(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	project, ok := projectFromURI(req.Params.URI)
	if !ok {
		return errorResource(req.Params.URI, "expected "+statsURIPrefix+"{project}"+statsURISuffix), nil
	}
	store, err := h.registry.Open(project)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	stats, err := store.Stats()
	if err != nil {
		return nil, fmt.Errorf("reading stats: %w", err)
	}
	return jsonResource(req.Params.URI, stats)
}

// projectFromURI extracts {project} from membank://projects/{project}/stats.
func projectFromURI(uri string) (string, bool) {
	rest, ok := strings.CutPrefix(uri, statsURIPrefix)
	if !ok {
		return "", false
	}
	project, ok := strings.CutSuffix(rest, statsURISuffix)
	if !ok || project == "" || strings.Contains(project, "/") {
		return "", false
	}
	return project, true
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling resource: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
