package cdtrans

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"golang.org/x/exp/slices"
)

// HMMCompiler walks the final inventory and assigns deterministic
// labels: each tied state gets "<phone>_<state>.<seq>" with a
// per-(phone, state) sequence counter, each allophone gets
// "<phone>_<index>" with a global index. From those it emits the symbol
// tables, the HMM list, the name maps, the Gaussian parameters and the
// H transducer.
type HMMCompiler struct {
	inv    *Inventory
	syms   *SymbolTable
	scorer Scorer

	stateNames   map[*AllophoneStateModel]string
	sortedStates []*AllophoneStateModel // sorted by name
	hmmIndex     map[*AllophoneModel]int
	hmmNames     map[*AllophoneModel]string
	sortedHMMs   []*AllophoneModel // sorted by index

	stateSyms *SymbolTable
	hmmSyms   *SymbolTable
}

// NewHMMCompiler returns a compiler over the inventory's final state.
func NewHMMCompiler(inv *Inventory, syms *SymbolTable, scorer Scorer) *HMMCompiler {
	return &HMMCompiler{inv: inv, syms: syms, scorer: scorer}
}

// statePhone returns the phone a state model is named after: the
// smallest member of its center set.
func statePhone(m *AllophoneStateModel) int {
	return m.Context.Center().Members()[0]
}

// Enumerate assigns every name and index and builds the symbol tables.
// Downstream acoustic-model training assumes the state symbols to be
// sorted by name; the Gaussian parameters are emitted in the same
// order so symbol id and parameter index stay aligned (offset by the
// two reserved symbols).
func (c *HMMCompiler) Enumerate() error {
	models := c.inv.StateModels()
	if len(models) == 0 {
		return fmt.Errorf("hmm compiler: empty inventory")
	}
	slices.SortFunc(models, func(a, b *AllophoneStateModel) bool {
		pa, pb := statePhone(a), statePhone(b)
		if pa != pb {
			return pa < pb
		}
		if a.HMMState != b.HMMState {
			return a.HMMState < b.HMMState
		}
		return a.ID() < b.ID()
	})

	type phoneState struct{ phone, state int }
	seq := make(map[phoneState]int)
	c.stateNames = make(map[*AllophoneStateModel]string, len(models))
	c.hmmIndex = make(map[*AllophoneModel]int)
	c.hmmNames = make(map[*AllophoneModel]string)
	nextHMM := 1
	for _, m := range models {
		key := phoneState{statePhone(m), m.HMMState}
		seq[key]++
		c.stateNames[m] = fmt.Sprintf("%s_%d.%d",
			c.syms.Symbol(key.phone), m.HMMState+1, seq[key])

		referents := m.Referents()
		slices.SortFunc(referents, func(a, b *AllophoneModel) bool { return a.ID() < b.ID() })
		for _, a := range referents {
			if _, ok := c.hmmIndex[a]; ok {
				continue
			}
			c.hmmIndex[a] = nextHMM
			c.hmmNames[a] = fmt.Sprintf("%s_%d", c.syms.Symbol(a.Phones[0]), nextHMM)
			c.sortedHMMs = append(c.sortedHMMs, a)
			nextHMM++
		}
	}

	c.sortedStates = slices.Clone(models)
	sort.Slice(c.sortedStates, func(i, j int) bool {
		return c.stateNames[c.sortedStates[i]] < c.stateNames[c.sortedStates[j]]
	})

	c.stateSyms = NewSymbolTable()
	c.stateSyms.Intern(".eps")
	c.stateSyms.Intern(".wb")
	for _, m := range c.sortedStates {
		c.stateSyms.Intern(c.stateNames[m])
	}
	c.hmmSyms = NewSymbolTable()
	c.hmmSyms.Intern(".eps")
	c.hmmSyms.Intern(".wb")
	for _, a := range c.sortedHMMs {
		c.hmmSyms.Intern(c.hmmNames[a])
	}
	return nil
}

// NumStateModels returns the number of enumerated tied states.
func (c *HMMCompiler) NumStateModels() int { return len(c.sortedStates) }

// NumHMMs returns the number of enumerated allophones.
func (c *HMMCompiler) NumHMMs() int { return len(c.sortedHMMs) }

// StateModelName returns the name assigned to m.
func (c *HMMCompiler) StateModelName(m *AllophoneStateModel) string { return c.stateNames[m] }

// HMMName returns the name assigned to a.
func (c *HMMCompiler) HMMName(a *AllophoneModel) string { return c.hmmNames[a] }

// StateSymbols returns the HMM-state symbol table (.eps and .wb
// reserved, then the sorted state-model names).
func (c *HMMCompiler) StateSymbols() *SymbolTable { return c.stateSyms }

// HMMSymbols returns the HMM symbol table.
func (c *HMMCompiler) HMMSymbols() *SymbolTable { return c.hmmSyms }

// WriteSymbolTable writes t as two-column "symbol id" text.
func WriteSymbolTable(w io.Writer, t *SymbolTable) error {
	bw := bufio.NewWriter(w)
	for id := 0; id < t.Len(); id++ {
		fmt.Fprintf(bw, "%s %d\n", t.Symbol(id), id)
	}
	return bw.Flush()
}

// WriteHMMList writes one line per allophone: the HMM name followed by
// the names of its tied states in HMM-state order.
func (c *HMMCompiler) WriteHMMList(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(".eps\n.wb\n")
	for _, a := range c.sortedHMMs {
		bw.WriteString(c.hmmNames[a])
		for _, m := range a.States {
			bw.WriteString(" " + c.stateNames[m])
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// WriteCDToPhoneMap writes the mapping from each HMM name to its phone
// symbol.
func (c *HMMCompiler) WriteCDToPhoneMap(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(".eps .eps\n.wb .wb\n")
	for _, a := range c.sortedHMMs {
		fmt.Fprintf(bw, "%s %s\n", c.hmmNames[a], c.syms.Symbol(a.Phones[0]))
	}
	return bw.Flush()
}

// WriteStateNameMap writes the mapping from each tied-state name to the
// context-independent state name "<phone>_<state>" it descends from.
func (c *HMMCompiler) WriteStateNameMap(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, m := range c.sortedStates {
		fmt.Fprintf(bw, "%s %s_%d\n", c.stateNames[m],
			c.syms.Symbol(statePhone(m)), m.HMMState+1)
	}
	return bw.Flush()
}

// WriteHMMTransducer writes the H transducer: each HMM label expands to
// the left-to-right sequence of its HMM-state labels, looping back to
// the single start/final state.
func (c *HMMCompiler) WriteHMMTransducer(w io.Writer) error {
	h := NewOutputFST()
	root := h.AddState()
	h.SetStart(root)
	h.SetFinal(root)
	for _, a := range c.sortedHMMs {
		output, _ := c.hmmSyms.ID(c.hmmNames[a])
		state := root
		for s, m := range a.States {
			input, _ := c.stateSyms.ID(c.stateNames[m])
			next := root
			if s < len(a.States)-1 {
				next = h.AddState()
			}
			h.AddArc(state, OutputArc{In: input, Out: output, Next: next})
			state = next
			output = 0
		}
	}
	return h.WriteText(w)
}

// WriteGaussians writes the per-state mean and floored diagonal
// variance in the requested dialect ("text" or "rwth-text"). Parameters
// appear in state-symbol order.
func (c *HMMCompiler) WriteGaussians(w io.Writer, dialect string) error {
	switch dialect {
	case "", "text":
		return c.writeGaussiansText(w)
	case "rwth-text":
		return c.writeGaussiansRWTH(w)
	default:
		return fmt.Errorf("hmm compiler: unknown leaf model dialect %q", dialect)
	}
}

func (c *HMMCompiler) writeGaussiansText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "gaussian-model text 1\n")
	fmt.Fprintf(bw, "%d %d\n", len(c.sortedStates), c.inv.Samples.Dim)
	for _, m := range c.sortedStates {
		stats := m.Stats(c.inv.Samples)
		fmt.Fprintf(bw, "%s\n", c.stateNames[m])
		writeVector(bw, "m", stats.Mean())
		writeVector(bw, "v", c.scorer.FloorVariance(stats))
	}
	return bw.Flush()
}

func (c *HMMCompiler) writeGaussiansRWTH(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "MIXTURE-SET\nVERSION 1\n")
	fmt.Fprintf(bw, "DIMENSION %d\nNMEANS %d\n", c.inv.Samples.Dim, len(c.sortedStates))
	for _, m := range c.sortedStates {
		stats := m.Stats(c.inv.Samples)
		fmt.Fprintf(bw, "MIXTURE %s 1\n", c.stateNames[m])
		writeVector(bw, "MEAN", stats.Mean())
		writeVector(bw, "VARIANCE", c.scorer.FloorVariance(stats))
	}
	return bw.Flush()
}

func writeVector(w *bufio.Writer, tag string, v []float64) {
	w.WriteString(tag)
	for _, x := range v {
		fmt.Fprintf(w, " %g", x)
	}
	w.WriteByte('\n')
}
