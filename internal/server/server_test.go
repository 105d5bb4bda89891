package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/HendryAvila/membank/internal/config"
	"github.com/HendryAvila/membank/internal/gates"
	"github.com/HendryAvila/membank/internal/memory"
	"github.com/HendryAvila/membank/internal/recall"
)

func TestTools_RegistersEveryMemoryTool(t *testing.T) {
	reg := memory.NewRegistry(memory.Options{DataDir: t.TempDir(), BudgetBytes: 1 << 20})
	t.Cleanup(func() { _ = reg.Close() })
	r := recall.New(recall.Options{})

	var names []string
	for _, tl := range tools(reg, r, gates.New(r, nil)) {
		names = append(names, tl.Definition().Name)
	}
	assert.ElementsMatch(t, []string{
		"mem_decide", "mem_outcome", "mem_converse",
		"mem_get", "mem_recent", "mem_query", "mem_patterns", "mem_risk", "mem_context",
		"mem_assess", "mem_optimize", "mem_stats",
	}, names)
}

func TestNew(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

	s, cleanup := New(cfg, zaptest.NewLogger(t))
	require.NotNil(t, s)
	require.NotNil(t, cleanup)
	cleanup()
}
