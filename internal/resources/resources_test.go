package resources

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/membank/internal/memory"
)

func readReq(uri string) mcp.ReadResourceRequest {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	return req
}

func contentText(t *testing.T, contents []mcp.ResourceContents) mcp.TextResourceContents {
	t.Helper()
	require.Len(t, contents, 1)
	tc, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	return tc
}

func TestHandler(t *testing.T) {
	reg := memory.NewRegistry(memory.Options{DataDir: t.TempDir(), BudgetBytes: 1 << 20})
	t.Cleanup(func() { _ = reg.Close() })
	h := NewHandler(reg)

	store, err := reg.Open("api")
	require.NoError(t, err)
	_, err = store.AppendDecision(memory.DecisionInput{Title: "Queue", Context: "jobs", ChosenOption: "NATS"})
	require.NoError(t, err)

	contents, err := h.HandleStats(context.Background(), readReq("membank://projects/api/stats"))
	require.NoError(t, err)
	tc := contentText(t, contents)
	assert.Equal(t, "application/json", tc.MIMEType)
	var stats memory.Stats
	require.NoError(t, json.Unmarshal([]byte(tc.Text), &stats))
	assert.Equal(t, "api", stats.Project)
	assert.Equal(t, 1, stats.Decisions)

	contents, err = h.HandleProjects(context.Background(), readReq("membank://projects"))
	require.NoError(t, err)
	assert.JSONEq(t, `["api"]`, contentText(t, contents).Text)

	contents, err = h.HandleStats(context.Background(), readReq("membank://projects/a/b/stats"))
	require.NoError(t, err)
	assert.Equal(t, "text/plain", contentText(t, contents).MIMEType)
}

func TestProjectFromURI(t *testing.T) {
	p, ok := projectFromURI("membank://projects/web-app/stats")
	assert.True(t, ok)
	assert.Equal(t, "web-app", p)

	for _, uri := range []string{"membank://projects//stats", "membank://projects/x", "other://projects/x/stats"} {
		_, ok := projectFromURI(uri)
		assert.False(t, ok, uri)
	}
}
