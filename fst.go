package cdtrans

import (
	"bufio"
	"fmt"
	"io"
)

// OutputFST is a plain integer-labeled transducer in its final, written
// form. It is produced by the H and C compilers and serialized in the
// AT&T text format (one "src dst ilabel olabel" line per arc, one line
// per final state), the interchange format FST toolkits compile from.
type OutputFST struct {
	start  int
	finals map[int]bool
	arcs   [][]OutputArc
}

// OutputArc is an arc of an OutputFST. Label 0 is epsilon.
type OutputArc struct {
	In, Out, Next int
}

// NewOutputFST returns an empty transducer with no states.
func NewOutputFST() *OutputFST {
	return &OutputFST{start: -1, finals: make(map[int]bool)}
}

// AddState appends a state and returns its id.
func (f *OutputFST) AddState() int {
	f.arcs = append(f.arcs, nil)
	return len(f.arcs) - 1
}

// NumStates returns the number of states.
func (f *OutputFST) NumStates() int { return len(f.arcs) }

// SetStart marks s as the start state.
func (f *OutputFST) SetStart(s int) { f.start = s }

// Start returns the start state, or -1 if none was set.
func (f *OutputFST) Start() int { return f.start }

// SetFinal marks s as a final state.
func (f *OutputFST) SetFinal(s int) { f.finals[s] = true }

// IsFinal reports whether s is final.
func (f *OutputFST) IsFinal(s int) bool { return f.finals[s] }

// AddArc appends an arc from src.
func (f *OutputFST) AddArc(src int, a OutputArc) {
	f.arcs[src] = append(f.arcs[src], a)
}

// Arcs returns the arcs leaving s in insertion order.
func (f *OutputFST) Arcs(s int) []OutputArc { return f.arcs[s] }

// WriteText serializes the transducer in AT&T text format. The start
// state's arcs are written first, as the format requires.
func (f *OutputFST) WriteText(w io.Writer) error {
	if f.start < 0 {
		return fmt.Errorf("fst: no start state")
	}
	bw := bufio.NewWriter(w)
	writeState := func(s int) {
		for _, a := range f.arcs[s] {
			fmt.Fprintf(bw, "%d\t%d\t%d\t%d\n", s, a.Next, a.In, a.Out)
		}
		if f.finals[s] {
			fmt.Fprintf(bw, "%d\n", s)
		}
	}
	writeState(f.start)
	for s := 0; s < len(f.arcs); s++ {
		if s != f.start {
			writeState(s)
		}
	}
	return bw.Flush()
}

// EpsilonClosure removes fully-epsilon arcs (epsilon on both tapes) by
// replacing each with copies of the arcs reachable through it, and
// marks a state final if an all-epsilon path reaches a final state.
func EpsilonClosure(f *OutputFST) {
	for s := range f.arcs {
		var kept []OutputArc
		seen := map[int]bool{s: true}
		queue := []int{}
		for _, a := range f.arcs[s] {
			if a.In == 0 && a.Out == 0 {
				queue = append(queue, a.Next)
			} else {
				kept = append(kept, a)
			}
		}
		for len(queue) > 0 {
			q := queue[0]
			queue = queue[1:]
			if seen[q] {
				continue
			}
			seen[q] = true
			if f.finals[q] {
				f.finals[s] = true
			}
			for _, a := range f.arcs[q] {
				if a.In == 0 && a.Out == 0 {
					queue = append(queue, a.Next)
				} else {
					kept = append(kept, a)
				}
			}
		}
		f.arcs[s] = kept
	}
}
