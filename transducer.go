package cdtrans

import (
	"container/list"

	"golang.org/x/exp/slices"
)

// State is a transducer state: a PhoneContext plus its outgoing and
// incoming arcs. Arcs are kept in a container/list so iterators remain
// valid while the splitter inserts and deletes neighboring arcs.
type State struct {
	id      int
	Context PhoneContext
	key     phoneContextKey

	out *list.List // of *Arc, this state as source
	in  *list.List // of *Arc, this state as target

	predsValid bool
	preds      []*State
}

// ID returns a stable small integer identifying this state, for
// diagnostics.
func (s *State) ID() int { return s.id }

// OutArcs returns the state's outgoing arcs in their current order.
func (s *State) OutArcs() []*Arc {
	return arcsOf(s.out)
}

// InArcs returns the arcs terminating at this state.
func (s *State) InArcs() []*Arc {
	return arcsOf(s.in)
}

func arcsOf(l *list.List) []*Arc {
	out := make([]*Arc, 0, l.Len())
	for e := l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Arc))
	}
	return out
}

// Arc is a transducer arc: source, target, an AllophoneModel on the
// input side and a phone on the output side.
type Arc struct {
	src, dst *State
	Input    *AllophoneModel
	Output   int

	srcElem *list.Element
	dstElem *list.Element
}

// Source returns the arc's source state.
func (a *Arc) Source() *State { return a.src }

// Target returns the arc's target state.
func (a *Arc) Target() *State { return a.dst }

// Transducer is the in-memory constructional FST: states carry
// PhoneContext tuples, arcs are labeled by allophone models on the input
// side and phones on the output side.
type Transducer struct {
	states   map[phoneContextKey]*State
	byModel  map[*AllophoneModel]map[*Arc]struct{}
	nextID   int
	listener TransducerListener
}

// TransducerListener observes state/arc births and deaths, giving
// co-maintained structures (a counting substrate, an FST-adapter layer) an
// explicit hook instead of ad-hoc callback registration.
type TransducerListener interface {
	OnStateAdded(s *State)
	OnStateRemoved(s *State)
	OnArcAdded(a *Arc)
	OnArcRemoved(a *Arc)
	OnFinish()
}

// NewTransducer returns an empty transducer.
func NewTransducer() *Transducer {
	return &Transducer{
		states:  make(map[phoneContextKey]*State),
		byModel: make(map[*AllophoneModel]map[*Arc]struct{}),
	}
}

// SetListener installs the transducer's single observer. Passing nil
// detaches it.
func (t *Transducer) SetListener(l TransducerListener) {
	t.listener = l
}

func (t *Transducer) notifyStateAdded(s *State) {
	if t.listener != nil {
		t.listener.OnStateAdded(s)
	}
}
func (t *Transducer) notifyStateRemoved(s *State) {
	if t.listener != nil {
		t.listener.OnStateRemoved(s)
	}
}
func (t *Transducer) notifyArcAdded(a *Arc) {
	if t.listener != nil {
		t.listener.OnArcAdded(a)
	}
}
func (t *Transducer) notifyArcRemoved(a *Arc) {
	if t.listener != nil {
		t.listener.OnArcRemoved(a)
	}
}

// Finish fires the "finish" observer, called once after a batch of
// mutations so co-maintained structures can reconcile.
func (t *Transducer) Finish() {
	if t.listener != nil {
		t.listener.OnFinish()
	}
}

// NumStates returns the number of live states.
func (t *Transducer) NumStates() int { return len(t.states) }

// States returns every live state, in unspecified order.
func (t *Transducer) States() []*State {
	out := make([]*State, 0, len(t.states))
	for _, s := range t.states {
		out = append(out, s)
	}
	return out
}

// Lookup returns the state carrying ctx, if any.
func (t *Transducer) Lookup(ctx PhoneContext) (*State, bool) {
	s, ok := t.states[ctx.key()]
	return s, ok
}

// GetOrAddState returns the state carrying ctx, creating it if absent.
// Reports whether the state was newly created.
func (t *Transducer) GetOrAddState(ctx PhoneContext) (*State, bool) {
	k := ctx.key()
	if s, ok := t.states[k]; ok {
		return s, false
	}
	t.nextID++
	s := &State{
		id:      t.nextID,
		Context: ctx,
		key:     k,
		out:     list.New(),
		in:      list.New(),
	}
	t.states[k] = s
	t.invalidatePredecessorsOf(s)
	t.notifyStateAdded(s)
	return s, true
}

// RemoveState deletes s after first removing every outgoing and incoming
// arc.
func (t *Transducer) RemoveState(s *State) {
	for _, a := range s.OutArcs() {
		t.RemoveArc(a)
	}
	for _, a := range s.InArcs() {
		t.RemoveArc(a)
	}
	delete(t.states, s.key)
	t.notifyStateRemoved(s)
}

// AddArc inserts an arc src--model/phone-->dst and returns it.
func (t *Transducer) AddArc(src, dst *State, model *AllophoneModel, phone int) *Arc {
	a := &Arc{src: src, dst: dst, Input: model, Output: phone}
	a.srcElem = src.out.PushBack(a)
	a.dstElem = dst.in.PushBack(a)
	t.indexArc(a)
	t.invalidatePredecessorsOf(dst)
	t.notifyArcAdded(a)
	return a
}

func (t *Transducer) indexArc(a *Arc) {
	set, ok := t.byModel[a.Input]
	if !ok {
		set = make(map[*Arc]struct{})
		t.byModel[a.Input] = set
	}
	set[a] = struct{}{}
}

func (t *Transducer) unindexArc(a *Arc) {
	if set, ok := t.byModel[a.Input]; ok {
		delete(set, a)
		if len(set) == 0 {
			delete(t.byModel, a.Input)
		}
	}
}

// RemoveArc deletes a from the transducer.
func (t *Transducer) RemoveArc(a *Arc) {
	a.src.out.Remove(a.srcElem)
	a.dst.in.Remove(a.dstElem)
	t.unindexArc(a)
	t.invalidatePredecessorsOf(a.dst)
	t.notifyArcRemoved(a)
}

// RelabelArc changes a's input model, maintaining the reverse index.
func (t *Transducer) RelabelArc(a *Arc, model *AllophoneModel) {
	t.unindexArc(a)
	a.Input = model
	t.indexArc(a)
}

// StatesWithArcUsing returns the distinct source states of arcs whose
// input is model, ordered by state id so callers mutate in a
// reproducible order.
func (t *Transducer) StatesWithArcUsing(model *AllophoneModel) []*State {
	seen := make(map[*State]struct{})
	var out []*State
	for a := range t.byModel[model] {
		if _, ok := seen[a.src]; !ok {
			seen[a.src] = struct{}{}
			out = append(out, a.src)
		}
	}
	slices.SortFunc(out, func(a, b *State) bool { return a.id < b.id })
	return out
}

// ArcsUsing returns every arc whose input is model.
func (t *Transducer) ArcsUsing(model *AllophoneModel) []*Arc {
	out := make([]*Arc, 0, len(t.byModel[model]))
	for a := range t.byModel[model] {
		out = append(out, a)
	}
	return out
}

func (t *Transducer) invalidatePredecessorsOf(s *State) {
	s.predsValid = false
}

// Predecessors returns the distinct source states of s's incoming arcs,
// cached until the next incoming-arc edit invalidates it.
func (t *Transducer) Predecessors(s *State) []*State {
	if s.predsValid {
		return s.preds
	}
	seen := make(map[*State]struct{})
	var preds []*State
	for e := s.in.Front(); e != nil; e = e.Next() {
		src := e.Value.(*Arc).src
		if _, ok := seen[src]; !ok {
			seen[src] = struct{}{}
			preds = append(preds, src)
		}
	}
	s.preds = preds
	s.predsValid = true
	return preds
}
