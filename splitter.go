package cdtrans

import "golang.org/x/exp/slices"

// Splitter applies a committed StateModelSplit to the constructional
// transducer. A right-context split (position > 0) is a pure relabel: no
// state is created. A left-context or center split rewrites states and
// arcs so model compatibility, history nesting and output determinism
// continue to hold, following the same source/target compatibility
// predicate used to build the transducer in the first place.
type Splitter struct {
	// CenterIsGroup must be true when center phones are tied groups
	// (PhoneInfo.CenterTie configured), enabling position-0 splits and
	// the output-membership check in the compatibility predicate.
	CenterIsGroup bool
}

// Apply rewires t for one committed split: one SplitHistory or
// SplitFuture call per allophone the split touches, followed by a single
// Finish so co-maintained structures reconcile once per split rather
// than once per allophone.
func (sp *Splitter) Apply(t *Transducer, split *StateModelSplit, phoneSplits []PhoneModelSplit) {
	if split.Position > 0 {
		for _, ps := range phoneSplits {
			sp.splitFuture(t, split, ps)
		}
	} else {
		universe := split.Old.Context.At(0).Cap()
		contextA := NewContextSet(universe)
		if split.A != nil {
			contextA = split.A.Context.At(split.Position)
		}
		contextB := NewContextSet(universe)
		if split.B != nil {
			contextB = split.B.Context.At(split.Position)
		}
		for _, ps := range phoneSplits {
			sp.splitHistory(t, split.Position, contextA, contextB, ps)
		}
	}
	t.Finish()
}

// splitFuture performs a right-context split: no state creation, every
// arc using ps.Old is relabeled to whichever new allophone's +1 context
// contains the arc's output phone.
func (sp *Splitter) splitFuture(t *Transducer, split *StateModelSplit, ps PhoneModelSplit) {
	for _, a := range t.ArcsUsing(ps.Old) {
		var m *AllophoneModel
		if split.A != nil && split.A.Context.At(1).Test(a.Output) {
			m = ps.A
		}
		if split.B != nil && split.B.Context.At(1).Test(a.Output) {
			m = ps.B
		}
		if m != nil {
			t.RelabelArc(a, m)
		}
	}
}

// splitHistory performs a left-context or center split at pos<=0 for one
// allophone: collect the states carrying an outgoing arc labeled with
// ps.Old, recursively pre-split their predecessors if the split depth
// requires it, then rewrite each matching state.
func (sp *Splitter) splitHistory(t *Transducer, pos int, contextA, contextB ContextSet, ps PhoneModelSplit) {
	matching := t.StatesWithArcUsing(ps.Old)
	if len(matching) == 0 {
		return
	}
	if pos < -1 || (sp.CenterIsGroup && pos == -1) {
		set := make(map[*State]bool, len(matching))
		for _, s := range matching {
			set[s] = true
		}
		sp.splitPredecessorStates(t, set, pos+1, contextA, contextB)
		matching = t.StatesWithArcUsing(ps.Old)
	}
	for _, state := range matching {
		_, _, removeState := sp.splitState(t, state, pos, contextA, contextB, ps.Old, ps.A, ps.B)
		if removeState {
			t.RemoveState(state)
		}
	}
}

// splitPredecessorStates recursively narrows the history of every state
// that feeds into states, one position closer to the center at a time,
// so that by the time splitHistory processes "states" itself, routing an
// incoming arc by its source's relevant history slot is unambiguous.
//
// states is mutated in place: a predecessor that is also a member of
// states (a state can be both "uses the model being split" and "feeds a
// state that uses it") is replaced by its own split halves, mirroring
// the original's "loop arc split" bookkeeping.
func (sp *Splitter) splitPredecessorStates(t *Transducer, states map[*State]bool, pos int, contextA, contextB ContextSet) {
	preds := make(map[*State]bool)
	for s := range states {
		for _, p := range t.Predecessors(s) {
			preds[p] = true
		}
	}
	if pos < -1 || (sp.CenterIsGroup && pos == -1) {
		sp.splitPredecessorStates(t, preds, pos+1, contextA, contextB)
	}
	ordered := make([]*State, 0, len(preds))
	for old := range preds {
		ordered = append(ordered, old)
	}
	slices.SortFunc(ordered, func(a, b *State) bool { return a.id < b.id })
	for _, old := range ordered {
		newA, newB, removeState := sp.splitState(t, old, pos, contextA, contextB, nil, nil, nil)
		if removeState {
			t.RemoveState(old)
		}
		if states[old] {
			delete(states, old)
			if newA != nil {
				states[newA] = true
			}
			if newB != nil {
				states[newB] = true
			}
		}
	}
}

// splitState narrows state's context at pos by contextA and contextB,
// creating or reusing the two resulting states, then rewrites state's
// incoming and outgoing arcs to target/originate from the right halves.
// It reports whether the caller should remove the original state: false
// when either half resolves to a state that already exists, including
// state itself when the narrowing leaves its context unchanged.
func (sp *Splitter) splitState(t *Transducer, state *State, pos int, contextA, contextB ContextSet, oldModel, newModelA, newModelB *AllophoneModel) (newA, newB *State, removeState bool) {
	removeState = true
	toRemove := make(map[*Arc]bool)

	split := func(ctx ContextSet) *State {
		if ctx.Empty() {
			return nil
		}
		narrowed := ctx.Intersect(state.Context.At(pos))
		if narrowed.Empty() {
			return nil
		}
		newHist := state.Context.WithAt(pos, narrowed)
		ns, created := t.GetOrAddState(newHist)
		if created {
			sp.updateIncomingArcs(t, state, ns, toRemove)
		} else {
			removeState = false
		}
		return ns
	}
	newA = split(contextA)
	newB = split(contextB)

	sp.updateOutgoingArcs(t, state, newA, newB, oldModel, newModelA, newModelB, toRemove)

	for a := range toRemove {
		t.RemoveArc(a)
	}
	return newA, newB, removeState
}

func (sp *Splitter) updateIncomingArcs(t *Transducer, oldState, newState *State, toRemove map[*Arc]bool) {
	for _, a := range oldState.InArcs() {
		if a.Source() == oldState {
			continue // self-loops are rewritten by updateOutgoingArcs
		}
		if isValidStateSequence(a.Source().Context, newState.Context, a.Output, sp.CenterIsGroup) {
			t.AddArc(a.Source(), newState, a.Input, a.Output)
			toRemove[a] = true
		}
	}
}

func (sp *Splitter) updateOutgoingArcs(t *Transducer, oldState, newA, newB *State, oldModel, newModelA, newModelB *AllophoneModel, toRemove map[*Arc]bool) {
	for _, a := range oldState.OutArcs() {
		if a.Target() == oldState {
			sp.redirectLoop(t, a, newA, newB, newModelA, newModelB, a.Input == oldModel)
			toRemove[a] = true
			continue
		}
		if a.Input != oldModel {
			if newA != nil && newA != oldState {
				t.AddArc(newA, a.Target(), a.Input, a.Output)
				toRemove[a] = true
			}
			if newB != nil && newB != oldState {
				t.AddArc(newB, a.Target(), a.Input, a.Output)
				toRemove[a] = true
			}
			continue
		}
		if newA != nil {
			t.AddArc(newA, a.Target(), newModelA, a.Output)
			toRemove[a] = true
		}
		if newB != nil {
			t.AddArc(newB, a.Target(), newModelB, a.Output)
			toRemove[a] = true
		}
	}
}

// redirectLoop rewrites a self-loop of the pre-split state into loops (or
// cross arcs) among {newA, newB}: for each surviving half as source, the
// valid target is whichever half the compatibility predicate accepts.
func (sp *Splitter) redirectLoop(t *Transducer, a *Arc, newA, newB *State, modelA, modelB *AllophoneModel, updateInput bool) {
	type cand struct {
		state *State
		model *AllophoneModel
	}
	var sources, targets []cand
	if newA != nil {
		sources = append(sources, cand{newA, modelA})
		targets = append(targets, cand{newA, modelA})
	}
	if newB != nil {
		sources = append(sources, cand{newB, modelB})
		targets = append(targets, cand{newB, modelB})
	}
	for _, src := range sources {
		var target *State
		for _, dst := range targets {
			if isValidStateSequence(src.state.Context, dst.state.Context, a.Output, sp.CenterIsGroup) {
				target = dst.state
			}
		}
		if target == nil {
			continue
		}
		input := a.Input
		if updateInput {
			input = src.model
		}
		t.AddArc(src.state, target, input, a.Output)
	}
}

// isValidStateSequence reports whether source --output--> target is a
// legal transition: output must lie in target's center (checked only
// when centers are tied groups; singleton centers make this automatic),
// and source's history must nest inside target's history shifted by one
// position, skipping any target slot left empty by a context-independent
// phone.
func isValidStateSequence(source, target PhoneContext, output int, centerIsGroup bool) bool {
	if centerIsGroup && !target.Center().Test(output) {
		return false
	}
	for l := 0; l < source.L(); l++ {
		sourceCtx := source.At(-l)
		targetCtx := target.At(-l - 1)
		if targetCtx.Empty() {
			continue
		}
		if !sourceCtx.Subset(targetCtx) {
			return false
		}
	}
	return true
}
