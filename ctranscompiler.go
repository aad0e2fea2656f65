package cdtrans

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// CTransducerCompiler converts the final constructional transducer into
// an OutputFST with integer labels: each arc's input model becomes its
// HMM label, each output phone its phone-table id.
type CTransducerCompiler struct {
	trans         *Transducer
	hmm           *HMMCompiler
	boundaryPhone int

	stateIDs map[*State]int
}

// NewCTransducerCompiler returns a compiler using the labels assigned
// by hmm (Enumerate must have run).
func NewCTransducerCompiler(t *Transducer, hmm *HMMCompiler, boundaryPhone int) *CTransducerCompiler {
	return &CTransducerCompiler{trans: t, hmm: hmm, boundaryPhone: boundaryPhone}
}

// isBoundaryState reports whether s can begin an utterance: its center
// contains the boundary phone and so does every left-history slot
// except the leftmost one, which the synthetic start state accounts
// for.
func (c *CTransducerCompiler) isBoundaryState(s *State) bool {
	if !s.Context.Center().Test(c.boundaryPhone) {
		return false
	}
	for pos := -1; pos > -s.Context.L(); pos-- {
		if !s.Context.At(pos).Test(c.boundaryPhone) {
			return false
		}
	}
	return true
}

func (c *CTransducerCompiler) stateID(f *OutputFST, s *State) int {
	if id, ok := c.stateIDs[s]; ok {
		return id
	}
	id := f.AddState()
	c.stateIDs[s] = id
	return id
}

func (c *CTransducerCompiler) addArcs(f *OutputFST, s *State, id int, epsInput bool) {
	for _, a := range s.OutArcs() {
		input := 0
		if !epsInput {
			input, _ = c.hmm.HMMSymbols().ID(c.hmm.HMMName(a.Input))
		}
		f.AddArc(id, OutputArc{In: input, Out: a.Output, Next: c.stateID(f, a.Target())})
	}
}

// Compile walks the transducer and produces the output FST. The unique
// boundary state is mirrored by a synthetic start state carrying the
// same arcs with epsilon inputs, so the first phone of a sequence sees
// the boundary phone in all of its left contexts. Every state whose
// center contains the boundary phone becomes final.
func (c *CTransducerCompiler) Compile() (*OutputFST, error) {
	c.stateIDs = make(map[*State]int)
	f := NewOutputFST()

	states := c.trans.States()
	slices.SortFunc(states, func(a, b *State) bool { return a.ID() < b.ID() })

	foundInitial := false
	for _, s := range states {
		id := c.stateID(f, s)
		if c.isBoundaryState(s) {
			if foundInitial {
				return nil, fmt.Errorf("c transducer: more than one boundary state")
			}
			foundInitial = true
			start := f.AddState()
			f.SetStart(start)
			c.addArcs(f, s, start, true)
		}
		if s.Context.Center().Test(c.boundaryPhone) {
			// The last phone of a sequence must have the boundary phone
			// as right context.
			f.SetFinal(id)
		}
		c.addArcs(f, s, id, false)
	}
	if !foundInitial {
		return nil, fmt.Errorf("c transducer: no boundary state found")
	}
	return f, nil
}

// VerifyReplay reports whether two compiled transducers are identical,
// used to self-check a replay run against a recorded one.
func VerifyReplay(a, b *OutputFST) error {
	if a.NumStates() != b.NumStates() {
		return fmt.Errorf("replay mismatch: %d vs %d states", a.NumStates(), b.NumStates())
	}
	if a.Start() != b.Start() {
		return fmt.Errorf("replay mismatch: start state %d vs %d", a.Start(), b.Start())
	}
	for s := 0; s < a.NumStates(); s++ {
		if a.IsFinal(s) != b.IsFinal(s) {
			return fmt.Errorf("replay mismatch: finality of state %d", s)
		}
		aa, ba := a.Arcs(s), b.Arcs(s)
		if len(aa) != len(ba) {
			return fmt.Errorf("replay mismatch: state %d has %d vs %d arcs", s, len(aa), len(ba))
		}
		for i := range aa {
			if aa[i] != ba[i] {
				return fmt.Errorf("replay mismatch: state %d arc %d", s, i)
			}
		}
	}
	return nil
}
