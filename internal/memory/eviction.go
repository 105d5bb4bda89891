package memory

import (
	"errors"
	"math"
	"sort"
	"time"
)

// rowOverhead is charged per stored row on top of its payload.
const rowOverhead = 64

// RetentionDecay is the time constant of the recency weight.
const RetentionDecay = 30 * 24 * time.Hour

// OutcomeWeight is the retention weight of a decision outcome. Decided
// outcomes (either way) are worth keeping for pattern mining; undecided ones
// go first.
func OutcomeWeight(o Outcome) float64 {
	switch o {
	case OutcomeSuccessful, OutcomeFailed:
		return 1.0
	default:
		return 0.4
	}
}

// RetentionScore is outcome weight times an exponential recency weight.
func RetentionScore(o Outcome, createdAt, now time.Time) float64 {
	age := now.Sub(createdAt)
	if age < 0 {
		age = 0
	}
	return OutcomeWeight(o) * math.Exp(-float64(age)/float64(RetentionDecay))
}

var errNothingToEvict = errors.New("no evictable records left")

type recordKind int

const (
	kindDecision recordKind = iota
	kindConversation
)

func (k recordKind) String() string {
	if k == kindConversation {
		return "conversation"
	}
	return "decision"
}

// retained describes one stored row for eviction planning.
type retained struct {
	id        string
	kind      recordKind
	seq       int64
	size      int64
	score     float64
	createdAt time.Time
	refs      []string // decision ids referenced by a conversation
}

// planEviction picks rows to delete, lowest retention score first, until at
// least need bytes are freed. Decisions referenced by a conversation that is
// still retained are skipped while any other candidate remains; evicting a
// conversation releases its references. Pinned decision ids count as
// referenced by one extra conversation that is never evicted.
func planEviction(rows []retained, need int64, pinned ...string) ([]retained, error) {
	if need <= 0 {
		return nil, nil
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score < rows[j].score
		}
		if !rows[i].createdAt.Equal(rows[j].createdAt) {
			return rows[i].createdAt.Before(rows[j].createdAt)
		}
		return rows[i].seq < rows[j].seq
	})

	protected := make(map[string]int)
	for _, id := range pinned {
		protected[id]++
	}
	for _, r := range rows {
		if r.kind == kindConversation {
			for _, id := range r.refs {
				protected[id]++
			}
		}
	}

	evicted := make([]bool, len(rows))
	var plan []retained
	var freed int64

	pick := func(honorRefs bool) int {
		for i, r := range rows {
			if evicted[i] {
				continue
			}
			if honorRefs && r.kind == kindDecision && protected[r.id] > 0 {
				continue
			}
			return i
		}
		return -1
	}

	for freed < need {
		i := pick(true)
		if i < 0 {
			i = pick(false)
		}
		if i < 0 {
			return nil, errNothingToEvict
		}
		evicted[i] = true
		r := rows[i]
		plan = append(plan, r)
		freed += r.size
		if r.kind == kindConversation {
			for _, id := range r.refs {
				protected[id]--
			}
		}
	}
	return plan, nil
}
