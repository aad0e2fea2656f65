package cdtrans

import (
	"errors"
	"math"
)

// InvalidCount is the sentinel returned by a predictor when the split
// cannot be counted, e.g. when discard-absent-models is set and none of
// the split's allophones labels any arc.
const InvalidCount = math.MinInt

// ErrUnsupportedSubstrate is returned when a counting substrate other
// than the canonical constructional transducer is requested. The
// composed and lexicon substrates are external collaborators; only
// their interface contracts are provided here.
var ErrUnsupportedSubstrate = errors.New("cdtrans: counting substrate not supported")

// SplitPredictor counts how many new transducer states a hypothesized
// split would require, so the state-count penalty can be computed before
// the transducer is mutated. Implementations must not mutate the
// transducer they observe.
type SplitPredictor interface {
	// Count returns the number of new states required to distinguish
	// the contexts of a state model split at position pos under q.
	// models is the list of allophones involved in the split. If
	// maxNewStates > 0, counting may stop early once the running total
	// exceeds it; the returned value is then clamped to maxNewStates.
	Count(pos int, q Question, models []*AllophoneModel, maxNewStates int) int

	// NeedCount reports whether counting is required at all for the
	// given context position. A right-context split never creates
	// states.
	NeedCount(pos int) bool

	// ThreadSafe reports whether Clone produces independent predictors
	// that may run concurrently. Predictors over shared mutable caches
	// must return false, forcing the driver into sequential ranking.
	ThreadSafe() bool

	// Clone returns an independent predictor over the same transducer.
	Clone() SplitPredictor

	// SetDiscardAbsentModels makes Count return InvalidCount for splits
	// whose models label no arc.
	SetDiscardAbsentModels(discard bool)
}

// Predictor is the canonical SplitPredictor over a constructional
// transducer. It walks the predecessor closure of the states carrying
// the split models and counts, layer by layer, how many narrowed
// histories do not yet exist as states.
type Predictor struct {
	t             *Transducer
	centerSet     bool
	discardAbsent bool
}

// NewPredictor returns a predictor observing t. centerSet must be true
// when center phones are tied groups, enabling position-0 counting.
func NewPredictor(t *Transducer, centerSet bool) *Predictor {
	return &Predictor{t: t, centerSet: centerSet}
}

// NeedCount reports false only for right-context splits, which relabel
// arcs in place.
func (p *Predictor) NeedCount(pos int) bool { return pos != 1 }

// ThreadSafe reports true: clones share only the transducer, which is
// read-only during ranking.
func (p *Predictor) ThreadSafe() bool { return true }

// Clone returns an independent predictor over the same transducer.
func (p *Predictor) Clone() SplitPredictor {
	return &Predictor{t: p.t, centerSet: p.centerSet, discardAbsent: p.discardAbsent}
}

// SetDiscardAbsentModels configures Count to return InvalidCount when
// none of the split's allophones labels an arc.
func (p *Predictor) SetDiscardAbsentModels(discard bool) { p.discardAbsent = discard }

type historySet map[phoneContextKey]PhoneContext

func historiesOf(states map[*State]struct{}) historySet {
	hs := make(historySet, len(states))
	for s := range states {
		hs[s.key] = s.Context
	}
	return hs
}

// Count implements the layer walk described for the predictor: layer 0
// holds the histories of states carrying the split models, layer i the
// histories of their i-th predecessors. Layers are processed outermost
// first; each history is narrowed at the layer's slot by the question's
// partition, new histories are substituted into the inner layers so
// successor splits see the new ancestors, and the running total counts
// created states minus removed ones.
func (p *Predictor) Count(pos int, q Question, models []*AllophoneModel, maxNewStates int) int {
	if pos == 1 {
		return 0
	}

	states := make(map[*State]struct{})
	for _, m := range models {
		for _, s := range p.t.StatesWithArcUsing(m) {
			states[s] = struct{}{}
		}
	}
	if len(states) == 0 {
		if p.discardAbsent {
			return InvalidCount
		}
		return 0
	}

	// closure[i] = histories of predecessors(closure[i-1]); layer i is
	// narrowed at slot pos+i. The innermost layer sits at position 0 and
	// is empty unless centers are tied groups.
	depth := 1 - pos
	layers := make([]historySet, depth)
	layers[0] = historiesOf(states)
	current := states
	for i, pp := 1, pos+1; pp <= 0; i, pp = i+1, pp+1 {
		if pp == 0 && !p.centerSet {
			layers[i] = make(historySet)
			continue
		}
		preds := make(map[*State]struct{})
		for s := range current {
			for _, ps := range p.t.Predecessors(s) {
				preds[ps] = struct{}{}
			}
		}
		layers[i] = historiesOf(preds)
		current = preds
	}

	nQ := q.Y.Invert()
	created := make(map[phoneContextKey]struct{})
	num := 0
	for i := depth - 1; i >= 0; i-- {
		slot := pos + i
		for key, h := range layers[i] {
			var halves [2]PhoneContext
			var valid [2]bool
			newStates, existing := 0, 0
			for c, part := range []ContextSet{q.Y, nQ} {
				narrowed := h.At(slot).Intersect(part)
				if narrowed.Empty() {
					continue
				}
				nh := h.WithAt(slot, narrowed)
				nk := nh.key()
				_, inTransducer := p.t.states[nk]
				_, hypothesized := created[nk]
				if inTransducer || hypothesized {
					existing++
					continue
				}
				halves[c] = nh
				valid[c] = true
				newStates++
			}
			if newStates == 0 {
				continue
			}
			for c := range halves {
				if valid[c] {
					created[halves[c].key()] = struct{}{}
				}
			}
			// Substitute the new histories into the inner layers so a
			// successor split sees the new ancestors instead of the one
			// about to disappear.
			for j := i - 1; j >= 0; j-- {
				if _, ok := layers[j][key]; ok {
					delete(layers[j], key)
					for c := range halves {
						if valid[c] {
							layers[j][halves[c].key()] = halves[c]
						}
					}
				}
			}
			// The old state is removed only when every surviving half is
			// new; a half colliding with an existing state keeps it alive.
			if existing == 0 {
				num += newStates - 1
			} else {
				num += newStates
			}
			if maxNewStates > 0 && num > maxNewStates {
				return maxNewStates
			}
		}
	}
	return num
}

// ComposedPredictor is the contract stub for the composed-substrate
// predictor (C composed with an auxiliary counting transducer). The
// substrate itself is an external collaborator; constructing the stub
// always fails.
type ComposedPredictor struct{}

// NewComposedPredictor reports that the composed substrate is not
// provided by this package.
func NewComposedPredictor() (*ComposedPredictor, error) {
	return nil, ErrUnsupportedSubstrate
}

func (p *ComposedPredictor) Count(int, Question, []*AllophoneModel, int) int { return InvalidCount }
func (p *ComposedPredictor) NeedCount(pos int) bool                          { return pos != 1 }
func (p *ComposedPredictor) ThreadSafe() bool                                { return false }
func (p *ComposedPredictor) Clone() SplitPredictor                           { return p }
func (p *ComposedPredictor) SetDiscardAbsentModels(bool)                     {}

// LexiconPredictor is the contract stub for the lexicon-substrate
// predictor (splits counted against a lexicon transducer, shifted or
// unshifted). Constructing the stub always fails.
type LexiconPredictor struct{}

// NewLexiconPredictor reports that the lexicon substrate is not
// provided by this package.
func NewLexiconPredictor() (*LexiconPredictor, error) {
	return nil, ErrUnsupportedSubstrate
}

func (p *LexiconPredictor) Count(int, Question, []*AllophoneModel, int) int { return InvalidCount }
func (p *LexiconPredictor) NeedCount(pos int) bool                          { return pos != 1 }
func (p *LexiconPredictor) ThreadSafe() bool                                { return false }
func (p *LexiconPredictor) Clone() SplitPredictor                           { return p }
func (p *LexiconPredictor) SetDiscardAbsentModels(bool)                     {}
