package index

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(id, text string) Document {
	return Document{ID: id, Tokens: Tokenize(text)}
}

func TestTokenize(t *testing.T) {
	got := Tokenize("Use JWT with Refresh-Tokens for the API, v2 a")
	assert.Equal(t, []string{"jwt", "refresh", "tokens", "api", "v2"}, got)
	assert.Empty(t, Tokenize("  the a of  "))
	assert.Equal(t, []string{"café", "über"}, Tokenize("CAFÉ Über"))
}

func TestUnique(t *testing.T) {
	assert.Equal(t, []string{"b", "a"}, Unique([]string{"b", "a", "b", "a"}))
}

func TestRemove_DropsPostingsAndStats(t *testing.T) {
	x := New(0)
	x.Index(doc("1", "kafka consumer groups"))
	x.Index(doc("2", "kafka retention"))

	x.Remove("1")
	assert.Equal(t, 1, x.Len())
	assert.Empty(t, x.TopSimilar(x.QueryVector([]string{"consumer"}), 5))

	stats, n, _ := x.Snapshot()
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, stats["kafka"].DF)
	_, ok := stats["consumer"]
	assert.False(t, ok)

	x.Remove("missing")
	assert.Equal(t, 1, x.Len())
}

func TestSimilarity_RangeAndOrdering(t *testing.T) {
	x := New(0)
	x.Index(doc("a", "redis cache for session storage"))
	x.Index(doc("b", "redis cluster sharding strategy"))
	x.Index(doc("c", "react component library"))

	q := x.QueryVector(Tokenize("redis session cache"))
	sims := x.Similarity(q, []string{"a", "b", "c", "zzz"})
	for id, s := range sims {
		assert.GreaterOrEqual(t, s, 0.0, id)
		assert.LessOrEqual(t, s, 1.0, id)
	}
	assert.Greater(t, sims["a"], sims["b"])
	assert.Zero(t, sims["c"])
	assert.Zero(t, sims["zzz"])

	top := x.TopSimilar(q, 5)
	require.Len(t, top, 2)
	assert.Equal(t, "a", top[0].ID)
	assert.Equal(t, "b", top[1].ID)

	assert.Len(t, x.TopSimilar(q, 1), 1)
	assert.Nil(t, x.TopSimilar(x.QueryVector(nil), 3))
}

func TestSimilarity_IdenticalTextIsOne(t *testing.T) {
	x := New(0)
	x.Index(doc("a", "grpc streaming transport"))
	x.Index(doc("b", "something else entirely"))
	q := x.QueryVector(Tokenize("grpc streaming transport"))
	assert.InDelta(t, 1.0, x.Similarity(q, []string{"a"})["a"], 1e-9)
}

func TestPlan_IncrementalThenFullRecompute(t *testing.T) {
	x := New(3)
	x.Index(doc("1", "alpha beta"))
	x.Index(doc("2", "alpha gamma"))

	// "beta" was last touched when the corpus had one document, so its idf
	// is stale until the next full recompute.
	stats, n, writes := x.Snapshot()
	require.Equal(t, 2, n)
	require.Equal(t, 2, writes)
	assert.InDelta(t, idf(1, 1), stats["beta"].IDF, 1e-12)

	d := x.Plan([]Document{doc("3", "delta")}, nil)
	assert.True(t, d.Full)
	assert.Equal(t, 0, d.Writes)
	assert.Equal(t, 3, d.DocCount)
	assert.InDelta(t, idf(1, 3), d.Terms["beta"].IDF, 1e-12)
	assert.InDelta(t, idf(2, 3), d.Terms["alpha"].IDF, 1e-12)

	// Plan does not mutate.
	stats, _, _ = x.Snapshot()
	assert.InDelta(t, idf(1, 1), stats["beta"].IDF, 1e-12)

	x.Apply(d)
	stats, n, writes = x.Snapshot()
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, writes)
	assert.InDelta(t, idf(1, 3), stats["beta"].IDF, 1e-12)
}

func TestPlan_ReplaceExistingID(t *testing.T) {
	x := New(0)
	x.Index(doc("1", "alpha"))
	d := x.Plan([]Document{doc("1", "beta")}, nil)
	assert.Equal(t, 1, d.DocCount)
	assert.Equal(t, TermStat{}, d.Terms["alpha"])
	assert.Equal(t, 1, d.Terms["beta"].DF)
	x.Apply(d)
	assert.Empty(t, x.TopSimilar(x.QueryVector([]string{"alpha"}), 5))
	assert.Len(t, x.TopSimilar(x.QueryVector([]string{"beta"}), 5), 1)
}

func TestRestore_UsesPersistedStats(t *testing.T) {
	x := New(100)
	docs := []Document{doc("1", "alpha beta"), doc("2", "alpha gamma")}
	for _, d := range docs {
		x.Index(d)
	}
	stats, n, writes := x.Snapshot()

	y := New(100)
	ok := y.Restore(docs, stats, n, writes)
	require.True(t, ok)

	q := Tokenize("alpha beta")
	assert.Equal(t,
		x.Similarity(x.QueryVector(q), []string{"1", "2"}),
		y.Similarity(y.QueryVector(q), []string{"1", "2"}))
	_, _, w := y.Snapshot()
	assert.Equal(t, writes, w)
}

func TestRestore_RebuildsInconsistentStats(t *testing.T) {
	docs := []Document{doc("1", "alpha beta"), doc("2", "alpha")}
	y := New(0)
	ok := y.Restore(docs, map[string]TermStat{"alpha": {DF: 1, IDF: 9}}, 2, 5)
	assert.False(t, ok)

	stats, n, writes := y.Snapshot()
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, writes)
	assert.Equal(t, 2, stats["alpha"].DF)
	assert.InDelta(t, math.Log(3.0/3.0)+1, stats["alpha"].IDF, 1e-12)
	assert.Equal(t, 1, stats["beta"].DF)
}
