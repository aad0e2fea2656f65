package cdtrans

// InitTransducer builds the starting constructional transducer: one state
// per unit (one per phone, or one per tied-phone group), whose history is
// "any phone" at every left position, plus an arc for every (src-unit,
// next-phone) pair labeled with the monophone model of the source unit.
//
// monophones maps phone id to the AllophoneModel InitMonophones produced
// for it. units lists the distinct center-phone sets to create states
// for: for ordinary (untied) setups this is one singleton set per phone;
// callers configuring tied center-phone groups pass one set per group
// instead.
func InitTransducer(t *Transducer, universe, left int, monophones map[int]*AllophoneModel, units []ContextSet) {
	stateOf := make(map[int]*State, len(units)) // phone id -> its unit's state, for arc fan-out

	unitState := make([]*State, len(units))
	for i, unit := range units {
		ctx := NewPhoneContext(left, 0, universe)
		ctx = ctx.WithAt(0, unit)
		for p := -left; p < 0; p++ {
			ctx = ctx.WithAt(p, Full(universe))
		}
		s, _ := t.GetOrAddState(ctx)
		unitState[i] = s
		for _, phone := range unit.Members() {
			stateOf[phone] = s
		}
	}

	for i, srcUnit := range units {
		src := unitState[i]
		srcPhone := srcUnit.Members()[0]
		model := monophones[srcPhone]
		if model == nil {
			continue
		}
		for _, dstUnit := range units {
			for _, nextPhone := range dstUnit.Members() {
				dst := stateOf[nextPhone]
				t.AddArc(src, dst, model, nextPhone)
			}
		}
	}
}

// DefaultUnits returns one singleton ContextSet per phone present in
// info.NumStates, in ascending phone order, the common case where units
// are untied phones.
func DefaultUnits(info PhoneInfo) []ContextSet {
	units := make([]ContextSet, 0, len(info.NumStates))
	for phone := 0; phone < info.Universe; phone++ {
		if _, ok := info.NumStates[phone]; ok {
			units = append(units, Singleton(info.Universe, phone))
		}
	}
	return units
}
