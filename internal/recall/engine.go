// Package recall is the context engine: it ranks a project's decisions
// against a free-text topic, mines recurring success and failure patterns,
// and raises risk flags when a topic lands on a known failure.
//
// Every operation takes the *memory.Store it reads from, so one Engine can
// serve any number of projects.
package recall

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/HendryAvila/membank/internal/index"
	"github.com/HendryAvila/membank/internal/memory"
)

// timeNow is replaced in tests to pin recency scores.
var timeNow = time.Now

// Relevance weights. They sum to 1.
const (
	WeightLexical    = 0.3
	WeightSimilarity = 0.3
	WeightRecency    = 0.2
	WeightTag        = 0.2
)

// Signal names reported in Item.Matched.
const (
	SignalLexical    = "lexical"
	SignalSimilarity = "similarity"
	SignalRecency    = "recency"
	SignalTag        = "tag"
)

const (
	DefaultTopK          = 5
	DefaultHalfLife      = 30 * 24 * time.Hour
	DefaultRiskThreshold = 0.5
	DefaultPatternTTL    = 5 * time.Minute

	// minSimilarCandidates is the floor on similarity candidates fetched per
	// query, on top of the lexical hits.
	minSimilarCandidates = 20
)

// Options tunes the engine. Zero values select the defaults.
type Options struct {
	HalfLife      time.Duration
	RiskThreshold float64
	PatternTTL    time.Duration
	Logger        *zap.Logger
}

// Engine answers queries over project memories. It is safe for concurrent use.
type Engine struct {
	opts  Options
	log   *zap.Logger
	group singleflight.Group

	mu    sync.Mutex
	cache map[cacheKey]cachedPatterns
}

// New returns an Engine.
func New(opts Options) *Engine {
	if opts.HalfLife <= 0 {
		opts.HalfLife = DefaultHalfLife
	}
	if opts.RiskThreshold <= 0 {
		opts.RiskThreshold = DefaultRiskThreshold
	}
	if opts.PatternTTL <= 0 {
		opts.PatternTTL = DefaultPatternTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		opts:  opts,
		log:   opts.Logger,
		cache: make(map[cacheKey]cachedPatterns),
	}
}

// RiskThreshold is the confidence a failure pattern must exceed to raise a flag.
func (e *Engine) RiskThreshold() float64 { return e.opts.RiskThreshold }

// ─── Query ───────────────────────────────────────────────────────────────────

// Signals is the per-signal breakdown of a relevance score, each in [0,1].
type Signals struct {
	Lexical    float64 `json:"lexical"`
	Similarity float64 `json:"similarity"`
	Recency    float64 `json:"recency"`
	Tag        float64 `json:"tag"`
}

// Item is one ranked decision.
type Item struct {
	Record  memory.DecisionRecord `json:"record"`
	Score   float64               `json:"score"`
	Signals Signals               `json:"signals"`
	Matched []string              `json:"matched"`
}

// Result is a ranked answer to a topic. Partial is set when fewer than the
// requested number of candidates existed.
type Result struct {
	Topic   string `json:"topic"`
	Items   []Item `json:"items"`
	Partial bool   `json:"partial"`
}

// Query ranks the store's decisions against topic and returns the best topK.
// topK <= 0 selects DefaultTopK.
func (e *Engine) Query(s *memory.Store, topic string, topK int) (*Result, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, &memory.ValidationError{Field: "topic", Reason: "must not be empty"}
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	start := time.Now()
	defer func() { queryDuration.Observe(time.Since(start).Seconds()) }()

	res := &Result{Topic: topic}
	tokens := index.Tokenize(topic)
	distinct := index.Unique(tokens)
	if len(distinct) == 0 {
		res.Partial = true
		return res, nil
	}

	lexical, err := s.SearchLexical(tokens)
	if err != nil {
		return nil, err
	}
	idx := s.Index()
	qv := idx.QueryVector(tokens)

	ids := make([]string, 0, len(lexical))
	seen := make(map[string]struct{}, len(lexical))
	for id := range lexical {
		ids = append(ids, id)
		seen[id] = struct{}{}
	}
	for _, sc := range idx.TopSimilar(qv, max(4*topK, minSimilarCandidates)) {
		if _, ok := seen[sc.ID]; !ok {
			ids = append(ids, sc.ID)
			seen[sc.ID] = struct{}{}
		}
	}
	sims := idx.Similarity(qv, ids)

	topicTerms := make(map[string]struct{}, len(distinct))
	for _, t := range distinct {
		topicTerms[t] = struct{}{}
	}

	now := timeNow()
	items := make([]Item, 0, len(ids))
	for _, rec := range s.Decisions(ids) {
		sig := Signals{
			Lexical:    float64(lexical[rec.ID]) / float64(len(distinct)),
			Similarity: sims[rec.ID],
			Recency:    e.recency(rec.CreatedAt, now),
			Tag:        tagBoost(rec.Domain, topicTerms),
		}
		items = append(items, Item{
			Record:  rec,
			Score:   relevance(sig),
			Signals: sig,
			Matched: sig.matched(),
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Record.CreatedAt.Equal(b.Record.CreatedAt) {
			return a.Record.CreatedAt.After(b.Record.CreatedAt)
		}
		return a.Record.Seq < b.Record.Seq
	})

	if len(items) < topK {
		res.Partial = true
	} else {
		items = items[:topK]
	}
	res.Items = items
	e.log.Debug("recall: query ranked",
		zap.String("project", s.Project()),
		zap.Int("candidates", len(ids)),
		zap.Int("returned", len(items)))
	return res, nil
}

func relevance(sig Signals) float64 {
	return WeightLexical*sig.Lexical +
		WeightSimilarity*sig.Similarity +
		WeightRecency*sig.Recency +
		WeightTag*sig.Tag
}

func (sig Signals) matched() []string {
	var out []string
	if sig.Lexical > 0 {
		out = append(out, SignalLexical)
	}
	if sig.Similarity > 0 {
		out = append(out, SignalSimilarity)
	}
	if sig.Recency > 0 {
		out = append(out, SignalRecency)
	}
	if sig.Tag > 0 {
		out = append(out, SignalTag)
	}
	return out
}

// recency halves every HalfLife.
func (e *Engine) recency(created, now time.Time) float64 {
	age := now.Sub(created)
	if age <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * float64(age) / float64(e.opts.HalfLife))
}

// tagBoost is 1 when every word of the domain tag appears in the topic.
func tagBoost(domain string, topic map[string]struct{}) float64 {
	words := index.Tokenize(strings.ReplaceAll(domain, "-", " "))
	if len(words) == 0 {
		return 0
	}
	for _, w := range words {
		if _, ok := topic[w]; !ok {
			return 0
		}
	}
	return 1
}
