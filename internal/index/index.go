// Package index keeps the TF-IDF similarity index over a project's decision
// records. Lexical lookup lives in the store's FTS5 table; this package only
// needs term frequencies and the postings that feed TopSimilar.
//
// Writes follow a plan/apply protocol so a caller can persist term
// statistics inside its own transaction before the in-memory structures
// change: Plan computes a Delta without mutating anything, and Apply installs
// it. Plan and Apply must be driven by one writer at a time; all read methods
// are safe for concurrent use with each other and with Apply.
package index

import (
	"math"
	"sort"
	"sync"
)

// DefaultRecomputeEvery is the number of writes between full IDF recomputes.
const DefaultRecomputeEvery = 32

// Document is the indexable form of a record.
type Document struct {
	ID     string
	Tokens []string
}

// TermStat is the persisted corpus statistic for one term.
type TermStat struct {
	DF  int
	IDF float64
}

// Delta is a planned index mutation.
type Delta struct {
	adds    []Document
	removes []string

	// Terms holds the new statistics for every term the write touched, or for
	// every term in the corpus when Full is set. DF == 0 means the term left
	// the vocabulary.
	Terms    map[string]TermStat
	DocCount int
	Writes   int
	Full     bool
}

// Scored pairs a record id with a similarity score.
type Scored struct {
	ID    string
	Score float64
}

// Vector is a sparse TF-IDF query vector.
type Vector struct {
	weights map[string]float64
	norm    float64
}

// Empty reports whether the vector has no weight.
func (v Vector) Empty() bool { return v.norm == 0 }

// Index is the in-memory similarity index.
type Index struct {
	mu             sync.RWMutex
	recomputeEvery int

	postings map[string]map[string]struct{}
	docs     map[string]map[string]int
	stats    map[string]TermStat
	docCount int
	writes   int
}

// New returns an empty index. recomputeEvery <= 0 selects DefaultRecomputeEvery.
func New(recomputeEvery int) *Index {
	if recomputeEvery <= 0 {
		recomputeEvery = DefaultRecomputeEvery
	}
	return &Index{
		recomputeEvery: recomputeEvery,
		postings:       make(map[string]map[string]struct{}),
		docs:           make(map[string]map[string]int),
		stats:          make(map[string]TermStat),
	}
}

// idf is the smoothed inverse document frequency.
func idf(df, n int) float64 {
	return math.Log(float64(1+n)/float64(1+df)) + 1
}

// ─── Write path ─────────────────────────────────────────────────────────────

// Plan computes the effect of adding and removing documents. Adding an id
// that is already indexed replaces it.
func (x *Index) Plan(adds []Document, removes []string) *Delta {
	x.mu.RLock()
	defer x.mu.RUnlock()

	dfChange := make(map[string]int)
	gone := make(map[string]struct{})
	docCount := x.docCount

	drop := func(id string) {
		if _, done := gone[id]; done {
			return
		}
		tf, ok := x.docs[id]
		if !ok {
			return
		}
		gone[id] = struct{}{}
		docCount--
		for term := range tf {
			dfChange[term]--
		}
	}

	for _, id := range removes {
		drop(id)
	}
	for _, d := range adds {
		drop(d.ID)
		docCount++
		for term := range termCounts(d.Tokens) {
			dfChange[term]++
		}
	}

	delta := &Delta{
		adds:     adds,
		removes:  removes,
		DocCount: docCount,
		Writes:   x.writes + 1,
		Terms:    make(map[string]TermStat, len(dfChange)),
	}

	newDF := func(term string) int { return x.stats[term].DF + dfChange[term] }

	if delta.Writes >= x.recomputeEvery {
		delta.Full = true
		delta.Writes = 0
		for term := range x.stats {
			delta.Terms[term] = TermStat{DF: newDF(term), IDF: idf(newDF(term), docCount)}
		}
	}
	for term := range dfChange {
		df := newDF(term)
		if df <= 0 {
			delta.Terms[term] = TermStat{}
			continue
		}
		delta.Terms[term] = TermStat{DF: df, IDF: idf(df, docCount)}
	}
	for term, st := range delta.Terms {
		if st.DF <= 0 {
			delta.Terms[term] = TermStat{}
		}
	}
	return delta
}

// Apply installs a planned delta.
func (x *Index) Apply(d *Delta) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, id := range d.removes {
		x.removeLocked(id)
	}
	for _, doc := range d.adds {
		x.removeLocked(doc.ID)
		x.addLocked(doc)
	}
	for term, st := range d.Terms {
		if st.DF <= 0 {
			delete(x.stats, term)
			continue
		}
		x.stats[term] = st
	}
	x.docCount = d.DocCount
	x.writes = d.Writes
}

// Index adds or replaces one document.
func (x *Index) Index(doc Document) {
	x.Apply(x.Plan([]Document{doc}, nil))
}

// Remove drops a document. Unknown ids are ignored.
func (x *Index) Remove(id string) {
	x.Apply(x.Plan(nil, []string{id}))
}

func (x *Index) addLocked(doc Document) {
	tf := termCounts(doc.Tokens)
	x.docs[doc.ID] = tf
	for term := range tf {
		set, ok := x.postings[term]
		if !ok {
			set = make(map[string]struct{})
			x.postings[term] = set
		}
		set[doc.ID] = struct{}{}
	}
}

func (x *Index) removeLocked(id string) {
	tf, ok := x.docs[id]
	if !ok {
		return
	}
	for term := range tf {
		set := x.postings[term]
		delete(set, id)
		if len(set) == 0 {
			delete(x.postings, term)
		}
	}
	delete(x.docs, id)
}

// ─── Persistence ────────────────────────────────────────────────────────────

// Restore loads documents together with previously persisted term statistics.
// When the statistics do not describe the documents (missing, stale, or
// partial) they are recomputed from scratch and Restore returns false so the
// caller can persist the rebuilt table.
func (x *Index) Restore(docs []Document, stats map[string]TermStat, docCount, writes int) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.postings = make(map[string]map[string]struct{})
	x.docs = make(map[string]map[string]int)
	for _, d := range docs {
		x.addLocked(d)
	}

	consistent := docCount == len(x.docs) && len(stats) == len(x.postings)
	if consistent {
		for term, set := range x.postings {
			if st, ok := stats[term]; !ok || st.DF != len(set) {
				consistent = false
				break
			}
		}
	}

	x.docCount = len(x.docs)
	if consistent {
		x.stats = make(map[string]TermStat, len(stats))
		for term, st := range stats {
			x.stats[term] = st
		}
		x.writes = writes
		return true
	}

	x.stats = make(map[string]TermStat, len(x.postings))
	for term, set := range x.postings {
		x.stats[term] = TermStat{DF: len(set), IDF: idf(len(set), x.docCount)}
	}
	x.writes = 0
	return false
}

// Snapshot returns a copy of the term statistics and counters.
func (x *Index) Snapshot() (stats map[string]TermStat, docCount, writes int) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	stats = make(map[string]TermStat, len(x.stats))
	for term, st := range x.stats {
		stats[term] = st
	}
	return stats, x.docCount, x.writes
}

// Len returns the number of indexed documents.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}

// ─── Read path ──────────────────────────────────────────────────────────────

// QueryVector weights the query tokens by the current IDF table.
func (x *Index) QueryVector(tokens []string) Vector {
	x.mu.RLock()
	defer x.mu.RUnlock()

	v := Vector{weights: make(map[string]float64)}
	for term, n := range termCounts(tokens) {
		w := float64(n) * x.idfLocked(term)
		v.weights[term] = w
		v.norm += w * w
	}
	v.norm = math.Sqrt(v.norm)
	return v
}

// Similarity returns the cosine similarity between q and each candidate.
// Unknown ids score 0.
func (x *Index) Similarity(q Vector, ids []string) map[string]float64 {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make(map[string]float64, len(ids))
	for _, id := range ids {
		out[id] = x.cosineLocked(q, id)
	}
	return out
}

// TopSimilar returns up to k documents with non-zero similarity to q, best
// first. Ties are ordered by id.
func (x *Index) TopSimilar(q Vector, k int) []Scored {
	if q.Empty() || k <= 0 {
		return nil
	}
	x.mu.RLock()
	defer x.mu.RUnlock()

	seen := make(map[string]struct{})
	var scored []Scored
	for term := range q.weights {
		for id := range x.postings[term] {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			if s := x.cosineLocked(q, id); s > 0 {
				scored = append(scored, Scored{ID: id, Score: s})
			}
		}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

func (x *Index) idfLocked(term string) float64 {
	if st, ok := x.stats[term]; ok {
		return st.IDF
	}
	return idf(0, x.docCount)
}

func (x *Index) cosineLocked(q Vector, id string) float64 {
	tf, ok := x.docs[id]
	if !ok || q.norm == 0 {
		return 0
	}
	var dot, norm float64
	for term, n := range tf {
		w := float64(n) * x.idfLocked(term)
		norm += w * w
		if qw, ok := q.weights[term]; ok {
			dot += w * qw
		}
	}
	if norm == 0 {
		return 0
	}
	s := dot / (math.Sqrt(norm) * q.norm)
	return math.Min(1, math.Max(0, s))
}
