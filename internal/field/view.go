package field

import (
	"cmp"
	"iter"
	"slices"
	"sync/atomic"

	"github.com/xkilldash9x/darkswarm/api/schemas"
)

// Predicate selects signals in a query.
type Predicate func(schemas.Signal) bool

// OfKind matches any of the listed kinds.
func OfKind(kinds ...schemas.Kind) Predicate {
	return func(s schemas.Signal) bool {
		return slices.Contains(kinds, s.Kind)
	}
}

// MinIntensity matches signals at or above the threshold.
func MinIntensity(threshold float64) Predicate {
	return func(s schemas.Signal) bool { return s.Intensity >= threshold }
}

// All matches when every predicate matches. No predicates match everything.
func All(preds ...Predicate) Predicate {
	return func(s schemas.Signal) bool {
		for _, p := range preds {
			if p != nil && !p(s) {
				return false
			}
		}
		return true
	}
}

// Reader is the read-only surface agents sense through.
type Reader interface {
	// Tick is the tick index the view was captured at.
	Tick() int64
	Len() int
	Get(id string) (schemas.Signal, bool)
	// Query yields matching signals most-intense-first, ties broken by ID.
	// Each returned sequence can be ranged over once.
	Query(pred Predicate) iter.Seq[schemas.Signal]
}

// View is an immutable copy of the field taken at a tick boundary.
// It is safe for concurrent readers.
type View struct {
	tick    int64
	ordered []schemas.Signal
	index   map[string]int
}

var _ Reader = (*View)(nil)

func newView(tick int64, signals map[string]schemas.Signal) *View {
	ordered := make([]schemas.Signal, 0, len(signals))
	for _, s := range signals {
		ordered = append(ordered, s)
	}
	slices.SortFunc(ordered, byIntensity)

	index := make(map[string]int, len(ordered))
	for i, s := range ordered {
		index[s.ID] = i
	}
	return &View{tick: tick, ordered: ordered, index: index}
}

func byIntensity(a, b schemas.Signal) int {
	if c := cmp.Compare(b.Intensity, a.Intensity); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func (v *View) Tick() int64 { return v.tick }

func (v *View) Len() int { return len(v.ordered) }

func (v *View) Get(id string) (schemas.Signal, bool) {
	i, ok := v.index[id]
	if !ok {
		return schemas.Signal{}, false
	}
	return v.ordered[i], true
}

func (v *View) Query(pred Predicate) iter.Seq[schemas.Signal] {
	var consumed atomic.Bool
	return func(yield func(schemas.Signal) bool) {
		if consumed.Swap(true) {
			return
		}
		for _, s := range v.ordered {
			if pred != nil && !pred(s) {
				continue
			}
			if !yield(s) {
				return
			}
		}
	}
}

// Collect drains a query into a slice, stopping after limit results when
// limit is positive.
func Collect(seq iter.Seq[schemas.Signal], limit int) []schemas.Signal {
	var out []schemas.Signal
	for s := range seq {
		out = append(out, s)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
