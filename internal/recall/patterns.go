package recall

import (
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/HendryAvila/membank/internal/index"
	"github.com/HendryAvila/membank/internal/memory"
)

// Class is the outcome class of a pattern.
type Class string

const (
	ClassSuccess Class = "success"
	ClassFailure Class = "failure"
)

// minSupport is the smallest group that counts as a pattern.
const minSupport = 2

// rationaleLimit caps the representative rationale length.
const rationaleLimit = 200

// Pattern generalizes decisions that share a domain and a decided outcome.
type Pattern struct {
	Domain     string   `json:"domain"`
	Class      Class    `json:"class"`
	Rationale  string   `json:"rationale"`
	Support    int      `json:"support"`
	Confidence float64  `json:"confidence"`
	RecordIDs  []string `json:"record_ids"`
	Approaches []string `json:"approaches"`
}

// Confidence grows with support and never reaches 1.
func Confidence(support int) float64 {
	return float64(support) / float64(support+1)
}

type cacheKey struct {
	epoch   string
	version uint64
	domain  string
}

type cachedPatterns struct {
	patterns []Pattern
	at       time.Time
}

// MinePatterns groups decisions by (domain, outcome), skipping undecided
// ones, and returns every group with at least two members, most confident
// first. A non-empty domain restricts mining to that domain. Results are
// memoized per corpus version for the pattern TTL.
func (e *Engine) MinePatterns(s *memory.Store, domain string) []Pattern {
	key := cacheKey{epoch: s.Epoch(), version: s.Version(), domain: memory.NormalizeDomain(domain)}

	e.mu.Lock()
	if c, ok := e.cache[key]; ok && timeNow().Sub(c.at) < e.opts.PatternTTL {
		e.mu.Unlock()
		patternCache.WithLabelValues("hit").Inc()
		return clonePatterns(c.patterns)
	}
	e.mu.Unlock()
	patternCache.WithLabelValues("miss").Inc()

	flight := key.epoch + "/" + strconv.FormatUint(key.version, 10) + "/" + key.domain
	v, _, _ := e.group.Do(flight, func() (any, error) {
		patterns := minePatterns(s.AllDecisions(), key.domain)
		e.store(key, patterns)
		e.log.Debug("recall: patterns mined",
			zap.String("project", s.Project()),
			zap.Uint64("version", key.version),
			zap.Int("patterns", len(patterns)))
		return patterns, nil
	})
	return clonePatterns(v.([]Pattern))
}

// store caches patterns and drops entries from older versions of the same
// store handle.
func (e *Engine) store(key cacheKey, patterns []Pattern) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k := range e.cache {
		if k.epoch == key.epoch && k.version < key.version {
			delete(e.cache, k)
		}
	}
	e.cache[key] = cachedPatterns{patterns: patterns, at: timeNow()}
}

func clonePatterns(in []Pattern) []Pattern {
	return append([]Pattern(nil), in...)
}

func minePatterns(records []memory.DecisionRecord, domain string) []Pattern {
	type groupKey struct {
		domain  string
		outcome memory.Outcome
	}
	groups := make(map[groupKey][]memory.DecisionRecord)
	for _, rec := range records {
		if rec.Outcome == memory.OutcomeUnknown {
			continue
		}
		if domain != "" && rec.Domain != domain {
			continue
		}
		k := groupKey{rec.Domain, rec.Outcome}
		groups[k] = append(groups[k], rec)
	}

	var patterns []Pattern
	for k, members := range groups {
		if len(members) < minSupport {
			continue
		}
		class := ClassSuccess
		if k.outcome == memory.OutcomeFailed {
			class = ClassFailure
		}
		p := Pattern{
			Domain:     k.domain,
			Class:      class,
			Rationale:  memory.Truncate(representative(members), rationaleLimit),
			Support:    len(members),
			Confidence: Confidence(len(members)),
		}
		seen := make(map[string]bool)
		for _, m := range members {
			p.RecordIDs = append(p.RecordIDs, m.ID)
			if !seen[m.ChosenOption] {
				seen[m.ChosenOption] = true
				p.Approaches = append(p.Approaches, m.ChosenOption)
			}
		}
		patterns = append(patterns, p)
	}

	sort.Slice(patterns, func(i, j int) bool {
		a, b := patterns[i], patterns[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if a.Domain != b.Domain {
			return a.Domain < b.Domain
		}
		return a.Class < b.Class
	})
	return patterns
}

// representative picks the member rationale sharing the most terms with the
// others. Ties go to the newest record. Members arrive in insertion order.
func representative(members []memory.DecisionRecord) string {
	texts := make([]string, len(members))
	sets := make([]map[string]struct{}, len(members))
	for i, m := range members {
		texts[i] = m.Rationale
		if texts[i] == "" {
			texts[i] = m.ChosenOption
		}
		sets[i] = make(map[string]struct{})
		for _, t := range index.Tokenize(texts[i]) {
			sets[i][t] = struct{}{}
		}
	}

	best, bestScore := -1, -1
	for i := range members {
		score := 0
		for j := range members {
			if i == j {
				continue
			}
			for t := range sets[i] {
				if _, ok := sets[j][t]; ok {
					score++
				}
			}
		}
		if score > bestScore || (score == bestScore && newer(members[i], members[best])) {
			best, bestScore = i, score
		}
	}
	return texts[best]
}

func newer(a, b memory.DecisionRecord) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.Seq > b.Seq
}
