package cdtrans

// AllophoneStateModel is a tied HMM-state model: an equivalence class of
// acoustic distributions identified by (hmm_state, PhoneContext) and
// shared across every allophone whose context lies within it.
//
// AllophoneStateModel and AllophoneModel never own each other; both are
// owned by the Inventory arena. Cross-references are plain Go pointers
// used as borrowed references, avoiding a shared-ownership cycle — the
// inventory is the only thing that ever deletes one.
type AllophoneStateModel struct {
	id        int
	HMMState  int
	Context   PhoneContext
	referents map[*AllophoneModel]int // allophone -> index into its States slice

	statsValid bool
	stats      Statistics
	costValid  bool
	cost       float64
}

// ID returns a stable small integer identifying this state model within
// its owning inventory, for diagnostics and recipe fingerprints.
func (m *AllophoneStateModel) ID() int { return m.id }

// Referents returns the allophones currently referencing this state
// model, in unspecified order.
func (m *AllophoneStateModel) Referents() []*AllophoneModel {
	out := make([]*AllophoneModel, 0, len(m.referents))
	for a := range m.referents {
		out = append(out, a)
	}
	return out
}

func (m *AllophoneStateModel) addReferent(a *AllophoneModel, stateIdx int) {
	if m.referents == nil {
		m.referents = make(map[*AllophoneModel]int)
	}
	m.referents[a] = stateIdx
}

func (m *AllophoneStateModel) removeReferent(a *AllophoneModel) {
	delete(m.referents, a)
}

// referenced reports whether any allophone still points at this state
// model. A state model with no referents, once removed from the
// inventory, is eligible for collection.
func (m *AllophoneStateModel) referenced() bool {
	return len(m.referents) > 0
}

func (m *AllophoneStateModel) invalidate() {
	m.statsValid = false
	m.costValid = false
}

// Stats lazily computes and caches the statistics object for this state
// model: the pointwise sum over every sample whose center phone is in the
// context's position-0 set and whose left/right contexts lie in the
// context's corresponding slots.
func (m *AllophoneStateModel) Stats(samples *SampleSet) Statistics {
	if m.statsValid {
		return m.stats
	}
	m.stats = computeStats(m.HMMState, m.Context, samples)
	m.statsValid = true
	return m.stats
}

// Cost returns scorer(Stats(samples)), cached until invalidate clears
// it. A split does not change an existing state model; it creates new
// ones.
func (m *AllophoneStateModel) Cost(samples *SampleSet, scorer Scorer) float64 {
	if m.costValid {
		return m.cost
	}
	m.cost = scorer.Score(m.Stats(samples))
	m.costValid = true
	return m.cost
}

func computeStats(hmmState int, ctx PhoneContext, samples *SampleSet) Statistics {
	dim := samples.Dim
	total := NewStatistics(dim)
	for center := range samples.byPhone {
		if !ctx.Center().Test(center) {
			continue
		}
		for _, s := range samples.For(center, hmmState) {
			if sampleMatchesContext(s, ctx) {
				total.AddRaw(s.Stats.Weight, s.Stats.Sum, s.Stats.SumSq)
			}
		}
	}
	return total
}

// sampleMatchesContext reports whether a sample's recorded left/right
// contexts lie within ctx's corresponding slots. An empty slot carries
// no constraint: context-independent models are built with empty
// non-center slots and accumulate every sample of their phones.
func sampleMatchesContext(s Sample, ctx PhoneContext) bool {
	for k := 1; k <= ctx.L(); k++ {
		slot := ctx.At(-k)
		if slot.Empty() {
			continue
		}
		phone := s.LeftAt(k)
		if phone < 0 || !slot.Test(phone) {
			return false
		}
	}
	for k := 1; k <= ctx.R(); k++ {
		slot := ctx.At(k)
		if slot.Empty() {
			continue
		}
		phone := s.RightAt(k)
		if phone < 0 || !slot.Test(phone) {
			return false
		}
	}
	return true
}

// AllophoneModel is a context-dependent phone: an ordered list of tied
// state models, one per HMM state of its center phone, plus the list of
// center phones it represents. Two allophones with equal phone lists and
// equal state pointers are still distinct objects — identity is by
// object, not by value.
type AllophoneModel struct {
	id     int
	Phones []int
	States []*AllophoneStateModel
}

// ID returns a stable small integer identifying this allophone within its
// owning inventory.
func (a *AllophoneModel) ID() int { return a.id }

// StateAt returns the tied state model for hmm state index i.
func (a *AllophoneModel) StateAt(i int) *AllophoneStateModel {
	return a.States[i]
}

// NumStates returns the number of HMM states this allophone has.
func (a *AllophoneModel) NumStates() int {
	return len(a.States)
}

// HasPhone reports whether p is one of the center phones this allophone
// represents.
func (a *AllophoneModel) HasPhone(p int) bool {
	for _, q := range a.Phones {
		if q == p {
			return true
		}
	}
	return false
}
