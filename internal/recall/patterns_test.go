package recall_test

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HendryAvila/membank/internal/memory"
	"github.com/HendryAvila/membank/internal/recall"
)

func failedSecurity(i int, rationale string) memory.DecisionInput {
	return memory.DecisionInput{
		Title:        fmt.Sprintf("Session token storage %d", i),
		Context:      "browser clients keep session tokens",
		ChosenOption: "localStorage tokens",
		Rationale:    rationale,
		Domain:       "security",
		Outcome:      memory.OutcomeFailed,
	}
}

func TestConfidence(t *testing.T) {
	assert.Equal(t, 0.5, recall.Confidence(1))
	assert.InDelta(t, 2.0/3.0, recall.Confidence(2), 1e-12)
	assert.Equal(t, 0.75, recall.Confidence(3))
	assert.Less(t, recall.Confidence(1000), 1.0)
}

func TestMinePatterns_GroupsByDomainAndOutcome(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 3; i++ {
		mustAppend(t, s, failedSecurity(i, "tokens leaked through XSS"))
	}
	// a lone failure and undecided records never form a pattern
	mustAppend(t, s, memory.DecisionInput{
		Title: "Cache eviction", Context: "memory limits", ChosenOption: "LRU",
		Domain: "performance", Outcome: memory.OutcomeFailed,
	})
	for i := 0; i < 3; i++ {
		mustAppend(t, s, memory.DecisionInput{
			Title: fmt.Sprintf("Password hashing %d", i), Context: "credentials", ChosenOption: "bcrypt",
			Domain: "security",
		})
	}
	e := recall.New(recall.Options{})

	patterns := e.MinePatterns(s, "")
	require.Len(t, patterns, 1)
	p := patterns[0]
	assert.Equal(t, "security", p.Domain)
	assert.Equal(t, recall.ClassFailure, p.Class)
	assert.Equal(t, 3, p.Support)
	assert.Equal(t, 0.75, p.Confidence)
	assert.Len(t, p.RecordIDs, 3)
	assert.Equal(t, []string{"localStorage tokens"}, p.Approaches)
	assert.Equal(t, "tokens leaked through XSS", p.Rationale)
}

func TestMinePatterns_SortedByConfidence(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 2; i++ {
		mustAppend(t, s, memory.DecisionInput{
			Title: fmt.Sprintf("Load test %d", i), Context: "release gate", ChosenOption: "k6",
			Domain: "testing", Outcome: memory.OutcomeSuccessful,
		})
	}
	for i := 0; i < 4; i++ {
		mustAppend(t, s, failedSecurity(i, "tokens leaked"))
	}
	e := recall.New(recall.Options{})

	patterns := e.MinePatterns(s, "")
	require.Len(t, patterns, 2)
	assert.Equal(t, "security", patterns[0].Domain)
	assert.Equal(t, "testing", patterns[1].Domain)
	assert.Equal(t, recall.ClassSuccess, patterns[1].Class)
	assert.Greater(t, patterns[0].Confidence, patterns[1].Confidence)

	only := e.MinePatterns(s, "Testing")
	require.Len(t, only, 1)
	assert.Equal(t, "testing", only[0].Domain)
}

func TestMinePatterns_RepresentativeRationale(t *testing.T) {
	s := newStore(t)
	mustAppend(t, s, failedSecurity(0, "token refresh rotation failed"))
	mustAppend(t, s, failedSecurity(1, "token refresh leaked"))
	mustAppend(t, s, failedSecurity(2, "vendor outage"))
	e := recall.New(recall.Options{})

	patterns := e.MinePatterns(s, "security")
	require.Len(t, patterns, 1)
	// the first two share two terms each; the newer one wins the tie
	assert.Equal(t, "token refresh leaked", patterns[0].Rationale)
}

func TestMinePatterns_InvalidatedByWrites(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 3; i++ {
		mustAppend(t, s, failedSecurity(i, "tokens leaked"))
	}
	e := recall.New(recall.Options{})

	first := e.MinePatterns(s, "")
	require.Len(t, first, 1)
	assert.Equal(t, 3, first[0].Support)

	mustAppend(t, s, failedSecurity(3, "tokens leaked"))
	second := e.MinePatterns(s, "")
	require.Len(t, second, 1)
	assert.Equal(t, 4, second[0].Support)
	assert.Equal(t, 0.8, second[0].Confidence)
}

func TestMinePatterns_OutcomeUpdateJoinsGroup(t *testing.T) {
	s := newStore(t)
	mustAppend(t, s, failedSecurity(0, "tokens leaked"))
	in := failedSecurity(1, "tokens leaked")
	in.Outcome = ""
	id := mustAppend(t, s, in)
	e := recall.New(recall.Options{})

	assert.Empty(t, e.MinePatterns(s, ""))

	_, err := s.UpdateOutcome(id, memory.StatusImplemented, memory.OutcomeFailed)
	require.NoError(t, err)
	patterns := e.MinePatterns(s, "")
	require.Len(t, patterns, 1)
	assert.Equal(t, 2, patterns[0].Support)
}

func TestMinePatterns_ConcurrentCallersAgree(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 5; i++ {
		mustAppend(t, s, failedSecurity(i, "tokens leaked"))
	}
	e := recall.New(recall.Options{})

	var wg sync.WaitGroup
	results := make([][]recall.Pattern, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.MinePatterns(s, "")
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		require.Len(t, r, 1)
		assert.Equal(t, 5, r[0].Support)
	}
}

func TestPredictRisk_FlagsKnownFailure(t *testing.T) {
	s := newStore(t)
	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, mustAppend(t, s, failedSecurity(i, "tokens leaked through XSS")))
	}
	e := recall.New(recall.Options{})

	flags, err := e.PredictRisk(s, "where should session tokens live")
	require.NoError(t, err)
	require.Len(t, flags, 1)
	f := flags[0]
	assert.Equal(t, "security", f.Domain)
	assert.Equal(t, 0.75, f.Confidence)
	assert.Equal(t, 3, f.Support)
	assert.Equal(t, "tokens leaked through XSS", f.Rationale)
	assert.Contains(t, ids, f.RecordID)
}

func TestPredictRisk_NoFlags(t *testing.T) {
	s := newStore(t)
	seedArchitecture(t, s)
	e := recall.New(recall.Options{})

	flags, err := e.PredictRisk(s, "jwt authentication")
	require.NoError(t, err)
	assert.Empty(t, flags)

	_, err = e.PredictRisk(s, " ")
	assert.ErrorIs(t, err, memory.ErrValidation)
}

func TestPredictRisk_ThresholdIsStrict(t *testing.T) {
	s := newStore(t)
	for i := 0; i < 2; i++ {
		mustAppend(t, s, failedSecurity(i, "tokens leaked"))
	}
	// support 2 gives confidence 2/3
	e := recall.New(recall.Options{RiskThreshold: 0.7})

	flags, err := e.PredictRisk(s, "session tokens")
	require.NoError(t, err)
	assert.Empty(t, flags)

	flags, err = recall.New(recall.Options{}).PredictRisk(s, "session tokens")
	require.NoError(t, err)
	assert.Len(t, flags, 1)
}

func TestBuildContext_Format(t *testing.T) {
	s := newStore(t)
	seedArchitecture(t, s)
	for i := 0; i < 3; i++ {
		mustAppend(t, s, failedSecurity(i, "tokens leaked through XSS"))
	}
	for i := 0; i < 2; i++ {
		mustAppend(t, s, memory.DecisionInput{
			Title: fmt.Sprintf("Contract tests %d", i), Context: "service boundaries", ChosenOption: "Pact",
			Domain: "testing", Outcome: memory.OutcomeSuccessful,
		})
	}
	e := recall.New(recall.Options{})

	c, err := e.BuildContext(s, "session tokens", 10)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(c.Direct), 5)
	assert.Len(t, c.Recent, 5)
	assert.Len(t, c.Success, 1)
	assert.Len(t, c.Avoid, 1)
	assert.NotEmpty(t, c.Risks)

	out := c.Format()
	for _, section := range []string{
		"## Memory Context: demo",
		"### DIRECT REFERENCES",
		"### RECENT DECISIONS",
		"### SUCCESS PATTERNS",
		"### PATTERNS TO AVOID",
		"### RISK FLAGS",
	} {
		assert.Contains(t, out, section)
	}
	assert.Less(t, strings.Index(out, "DIRECT REFERENCES"), strings.Index(out, "RECENT DECISIONS"))
	assert.Less(t, strings.Index(out, "SUCCESS PATTERNS"), strings.Index(out, "PATTERNS TO AVOID"))
}

func TestBuildContext_EmptyStore(t *testing.T) {
	s := newStore(t)
	e := recall.New(recall.Options{})

	c, err := e.BuildContext(s, "anything", 5)
	require.NoError(t, err)
	assert.True(t, c.Empty())
	assert.Empty(t, c.Format())
}
