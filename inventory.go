package cdtrans

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// PhoneInfo supplies the per-phone metadata InitMonophones needs: how
// many HMM states each phone has, which phones are context-independent,
// and (optionally) which phones share a tied center-phone group.
type PhoneInfo struct {
	Universe   int         // total number of phones, including epsilon at id 0
	NumStates  map[int]int // phone id -> number of HMM states
	CI         map[int]bool
	CenterTie  map[int]ContextSet // optional phone -> tied center group; default singleton
}

func (pi PhoneInfo) centerSet(phone int) ContextSet {
	if pi.CenterTie != nil {
		if s, ok := pi.CenterTie[phone]; ok {
			return s
		}
	}
	return Singleton(pi.Universe, phone)
}

// Inventory owns every AllophoneStateModel and AllophoneModel: a single
// arena so that cross-references between the two can be plain borrowed
// pointers instead of a shared-ownership cycle.
type Inventory struct {
	Universe int
	L, R     int
	Samples  *SampleSet
	Scorer   Scorer

	states      map[*AllophoneStateModel]struct{}
	allophones  map[*AllophoneModel]struct{}
	nextStateID int
	nextAlloID  int

	// listeners are notified after a commit so co-maintained structures
	// can react. The constructional transducer is not one of them: the
	// driver rewrites it through the Splitter.
	listeners []InventoryListener
}

// InventoryListener observes state-model lifecycle events.
type InventoryListener interface {
	OnStateModelSplit(old, a, b *AllophoneStateModel, split *StateModelSplit, phoneSplits []PhoneModelSplit)
}

// NewInventory returns an empty inventory over the given phone universe
// and context window [-L,+R].
func NewInventory(universe, l, r int, samples *SampleSet, scorer Scorer) *Inventory {
	return &Inventory{
		Universe:   universe,
		L:          l,
		R:          r,
		Samples:    samples,
		Scorer:     scorer,
		states:     make(map[*AllophoneStateModel]struct{}),
		allophones: make(map[*AllophoneModel]struct{}),
	}
}

// AddListener registers l to be notified of future state-model splits.
func (inv *Inventory) AddListener(l InventoryListener) {
	inv.listeners = append(inv.listeners, l)
}

// NumStateModels returns the number of live tied state models.
func (inv *Inventory) NumStateModels() int { return len(inv.states) }

// NumAllophones returns the number of live allophones.
func (inv *Inventory) NumAllophones() int { return len(inv.allophones) }

// StateModels returns every live state model, in unspecified order.
func (inv *Inventory) StateModels() []*AllophoneStateModel {
	out := make([]*AllophoneStateModel, 0, len(inv.states))
	for s := range inv.states {
		out = append(out, s)
	}
	return out
}

// Allophones returns every live allophone, in unspecified order.
func (inv *Inventory) Allophones() []*AllophoneModel {
	out := make([]*AllophoneModel, 0, len(inv.allophones))
	for a := range inv.allophones {
		out = append(out, a)
	}
	return out
}

func (inv *Inventory) newStateModel(hmmState int, ctx PhoneContext) *AllophoneStateModel {
	inv.nextStateID++
	return &AllophoneStateModel{id: inv.nextStateID, HMMState: hmmState, Context: ctx}
}

func (inv *Inventory) newAllophone(phones []int, states []*AllophoneStateModel) *AllophoneModel {
	inv.nextAlloID++
	a := &AllophoneModel{id: inv.nextAlloID, Phones: phones, States: states}
	for i, s := range states {
		s.addReferent(a, i)
	}
	return a
}

func (inv *Inventory) register(s *AllophoneStateModel) {
	inv.states[s] = struct{}{}
}

func (inv *Inventory) registerAllophone(a *AllophoneModel) {
	inv.allophones[a] = struct{}{}
}

// InitMonophones builds one AllophoneModel per phone named in info, with
// num_hmm_states(phone) AllophoneStateModels each. Context-dependent
// phones get "any phone" (Full) at every non-zero position; context
// independent phones get the empty set there. Position 0 holds the
// phone's singleton or tied group.
//
// Rejects phones with zero HMM states rather than silently skipping them.
func (inv *Inventory) InitMonophones(info PhoneInfo) (map[int]*AllophoneModel, error) {
	result := make(map[int]*AllophoneModel, len(info.NumStates))
	// One allophone per unit: tied center groups share a single model,
	// reached through every member phone.
	groups := make(map[string]*AllophoneModel)
	for phone := 0; phone < inv.Universe; phone++ {
		n, ok := info.NumStates[phone]
		if !ok {
			continue
		}
		if n <= 0 {
			return nil, fmt.Errorf("cdtrans: phone %d has zero HMM states", phone)
		}
		center := info.centerSet(phone)
		if a, ok := groups[center.String()]; ok {
			result[phone] = a
			continue
		}
		ci := info.CI[phone]
		states := make([]*AllophoneStateModel, n)
		for i := 0; i < n; i++ {
			ctx := NewPhoneContext(inv.L, inv.R, inv.Universe)
			if !ci {
				for p := -inv.L; p <= inv.R; p++ {
					if p == 0 {
						continue
					}
					ctx = ctx.WithAt(p, Full(inv.Universe))
				}
			}
			ctx = ctx.WithAt(0, center)
			sm := inv.newStateModel(i, ctx)
			inv.register(sm)
			states[i] = sm
		}
		phones := make([]int, 0, center.Cardinality())
		for _, m := range center.Members() {
			if _, modeled := info.NumStates[m]; modeled {
				phones = append(phones, m)
			}
		}
		a := inv.newAllophone(phones, states)
		inv.registerAllophone(a)
		groups[center.String()] = a
		result[phone] = a
	}
	return result, nil
}

// StateModelSplit is a hypothesized (not yet committed) split of a tied
// state model at one context position under one question.
type StateModelSplit struct {
	Position int
	Question Question
	Old      *AllophoneStateModel
	A, B     *AllophoneStateModel // nil if that half's intersection is empty

	StatsA, StatsB               Statistics
	distributed                  bool
	contextsA, contextsB         map[contextKey]struct{}
}

type contextKey struct {
	left, right uint64
}

// Split produces two new (uncommitted) state models by intersecting
// old.Context[position] with Y and N respectively. Either half is nil if
// its intersection is empty.
func (inv *Inventory) Split(position int, old *AllophoneStateModel, q Question) *StateModelSplit {
	y, n := q.Split(old.Context.At(position))

	split := &StateModelSplit{Position: position, Question: q, Old: old}
	if !y.Empty() {
		split.A = inv.newStateModel(old.HMMState, old.Context.WithAt(position, y))
	}
	if !n.Empty() {
		split.B = inv.newStateModel(old.HMMState, old.Context.WithAt(position, n))
	}
	return split
}

func samplePositionPhone(s Sample, position int) (int, bool) {
	switch {
	case position == 0:
		return s.CenterPhone, true
	case position < 0:
		p := s.LeftAt(-position)
		return p, p >= 0
	default:
		p := s.RightAt(position)
		return p, p >= 0
	}
}

func sampleContextKey(s Sample) contextKey {
	var left, right uint64
	for i, p := range s.Left {
		left ^= uint64(p+1) * (0x9E3779B97F4A7C15 + uint64(i))
	}
	for i, p := range s.Right {
		right ^= uint64(p+1) * (0xC2B2AE3D27D4EB4F + uint64(i))
	}
	return contextKey{left: left, right: right}
}

// DistributeStatistics walks the sample set for the split's (phone,
// hmm_state), assigning each sample whose full context matches the old
// model to the A or B half by its phone at the split position. Idempotent.
func (inv *Inventory) DistributeStatistics(split *StateModelSplit) {
	if split.distributed {
		return
	}
	split.distributed = true

	dim := inv.Samples.Dim
	split.StatsA = NewStatistics(dim)
	split.StatsB = NewStatistics(dim)
	split.contextsA = make(map[contextKey]struct{})
	split.contextsB = make(map[contextKey]struct{})

	for center := range inv.Samples.byPhone {
		if !split.Old.Context.Center().Test(center) {
			continue
		}
		for _, s := range inv.Samples.For(center, split.Old.HMMState) {
			if !sampleMatchesContext(s, split.Old.Context) {
				continue
			}
			phone, ok := samplePositionPhone(s, split.Position)
			if !ok {
				continue
			}
			ck := sampleContextKey(s)
			if split.Question.Y.Test(phone) {
				if split.A != nil {
					split.StatsA.AddRaw(s.Stats.Weight, s.Stats.Sum, s.Stats.SumSq)
					split.contextsA[ck] = struct{}{}
				}
			} else {
				if split.B != nil {
					split.StatsB.AddRaw(s.Stats.Weight, s.Stats.Sum, s.Stats.SumSq)
					split.contextsB[ck] = struct{}{}
				}
			}
		}
	}
	if split.A != nil {
		split.A.stats = split.StatsA
		split.A.statsValid = true
	}
	if split.B != nil {
		split.B.stats = split.StatsB
		split.B.statsValid = true
	}
}

// ObservationsA/B report the accumulated sample weight for each half,
// used by the generator's min_observations check.
func (split *StateModelSplit) ObservationsA() float64 { return split.StatsA.Weight }
func (split *StateModelSplit) ObservationsB() float64 { return split.StatsB.Weight }

// DistinctContextsA/B report the number of distinct sample contexts
// assigned to each half, used by the generator's min_contexts check.
func (split *StateModelSplit) DistinctContextsA() int { return len(split.contextsA) }
func (split *StateModelSplit) DistinctContextsB() int { return len(split.contextsB) }

// Score computes the cost of each half via the inventory's scorer.
func (inv *Inventory) Score(split *StateModelSplit) (costA, costB float64) {
	if split.A != nil {
		costA = inv.Scorer.Score(split.StatsA)
	}
	if split.B != nil {
		costB = inv.Scorer.Score(split.StatsB)
	}
	return costA, costB
}

// Gain returns cost(original) - cost(A) - cost(B).
func (inv *Inventory) Gain(split *StateModelSplit) float64 {
	costA, costB := inv.Score(split)
	return inv.Scorer.Score(split.Old.Stats(inv.Samples)) - costA - costB
}

// PhoneModelSplit is the allophone-level counterpart of a
// StateModelSplit: for one AllophoneModel referencing the old state
// model, the (up to two) new allophones produced by the split.
type PhoneModelSplit struct {
	Old  *AllophoneModel
	A, B *AllophoneModel
}

// SplitAllophones emits, for every AllophoneModel referencing
// split.Old at its hmm_state, a PhoneModelSplit whose halves are
// identical to the original except at that hmm_state, where they
// reference split.A and split.B respectively. At position 0, each half's
// phone list is narrowed to the subset of the original's phones lying in
// Y or N; at any other position, both halves keep the full phone list.
func (inv *Inventory) SplitAllophones(split *StateModelSplit) []PhoneModelSplit {
	referents := make([]*AllophoneModel, 0, len(split.Old.referents))
	for orig := range split.Old.referents {
		referents = append(referents, orig)
	}
	slices.SortFunc(referents, func(a, b *AllophoneModel) bool { return a.id < b.id })

	var out []PhoneModelSplit
	for _, orig := range referents {
		stateIdx := split.Old.referents[orig]
		phonesA, phonesB := orig.Phones, orig.Phones
		if split.Position == 0 {
			phonesA = filterPhones(orig.Phones, split.Question.Y)
			phonesB = filterPhones(orig.Phones, split.Question.Y.Invert())
		}

		pms := PhoneModelSplit{Old: orig}
		if split.A != nil && len(phonesA) > 0 {
			pms.A = inv.newAllophoneLike(orig, stateIdx, split.A, phonesA)
		}
		if split.B != nil && len(phonesB) > 0 {
			pms.B = inv.newAllophoneLike(orig, stateIdx, split.B, phonesB)
		}
		out = append(out, pms)
	}
	return out
}

func (inv *Inventory) newAllophoneLike(orig *AllophoneModel, stateIdx int, newState *AllophoneStateModel, phones []int) *AllophoneModel {
	states := make([]*AllophoneStateModel, len(orig.States))
	copy(states, orig.States)
	states[stateIdx] = newState
	return inv.newAllophone(phones, states)
}

func filterPhones(phones []int, y ContextSet) []int {
	var out []int
	for _, p := range phones {
		if y.Test(p) {
			out = append(out, p)
		}
	}
	return out
}

// Commit installs split.A and split.B into the inventory, removes
// split.Old, and for each phone-model split inserts the new allophones
// into the referent lists of every state model they touch, removing the
// old allophone from the same lists. Old allophones are then destroyed,
// leaving no live allophone referencing a retired state model.
func (inv *Inventory) Commit(split *StateModelSplit, phoneSplits []PhoneModelSplit) (a, b *AllophoneStateModel) {
	if !split.distributed {
		inv.DistributeStatistics(split)
	}

	if split.A != nil {
		inv.register(split.A)
	}
	if split.B != nil {
		inv.register(split.B)
	}
	delete(inv.states, split.Old)

	for _, pms := range phoneSplits {
		if pms.A != nil {
			inv.registerAllophone(pms.A)
		}
		if pms.B != nil {
			inv.registerAllophone(pms.B)
		}
		// Detach the old allophone from every state model it referenced
		// (including ones untouched by this split) and destroy it.
		for _, s := range pms.Old.States {
			s.removeReferent(pms.Old)
		}
		delete(inv.allophones, pms.Old)
	}

	for _, l := range inv.listeners {
		l.OnStateModelSplit(split.Old, split.A, split.B, split, phoneSplits)
	}

	return split.A, split.B
}
