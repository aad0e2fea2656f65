package cdtrans

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/exp/slices"
)

// Recipe files record the sequence of applied splits as a replayable
// binary stream: a magic header and version, then one record per split
// holding the context position, the question's index within its
// per-position set, and a fingerprint of the split state model.
const (
	recipeMagic   uint32 = 0x52435054
	recipeVersion int32  = 1
)

// StateModelStub is the recorded fingerprint of a tied state model:
// its HMM state, its phone context and the phone lists of its
// referring allophones (sorted, so the fingerprint is independent of
// referent iteration order).
type StateModelStub struct {
	State      int
	Context    PhoneContext
	Allophones [][]int
}

// NewStateModelStub fingerprints m.
func NewStateModelStub(m *AllophoneStateModel) StateModelStub {
	stub := StateModelStub{State: m.HMMState, Context: m.Context.Clone()}
	for _, a := range m.Referents() {
		stub.Allophones = append(stub.Allophones, slices.Clone(a.Phones))
	}
	sortPhoneLists(stub.Allophones)
	return stub
}

func sortPhoneLists(lists [][]int) {
	slices.SortFunc(lists, func(a, b []int) bool {
		for i := 0; i < len(a) && i < len(b); i++ {
			if a[i] != b[i] {
				return a[i] < b[i]
			}
		}
		return len(a) < len(b)
	})
}

// Matches reports whether m carries the same HMM state, context and
// allophone phone lists as the fingerprint.
func (s StateModelStub) Matches(m *AllophoneStateModel) bool {
	if m.HMMState != s.State || !m.Context.Equal(s.Context) {
		return false
	}
	referents := m.Referents()
	if len(referents) != len(s.Allophones) {
		return false
	}
	lists := make([][]int, len(referents))
	for i, a := range referents {
		lists[i] = a.Phones
	}
	sortPhoneLists(lists)
	for i := range lists {
		if !slices.Equal(lists[i], s.Allophones[i]) {
			return false
		}
	}
	return true
}

// SplitDef is one recorded split.
type SplitDef struct {
	Position      int
	QuestionIndex int
	Model         StateModelStub
}

// RecipeWriter streams applied splits to a file.
type RecipeWriter struct {
	w *bufio.Writer
}

// NewRecipeWriter wraps w and writes the stream header.
func NewRecipeWriter(w io.Writer) (*RecipeWriter, error) {
	rw := &RecipeWriter{w: bufio.NewWriter(w)}
	if err := binary.Write(rw.w, binary.LittleEndian, recipeMagic); err != nil {
		return nil, fmt.Errorf("recipe: %w", err)
	}
	if err := binary.Write(rw.w, binary.LittleEndian, recipeVersion); err != nil {
		return nil, fmt.Errorf("recipe: %w", err)
	}
	return rw, nil
}

// AddSplit appends one record for the hypothesis about to be applied.
func (rw *RecipeWriter) AddSplit(h *SplitHypothesis) error {
	def := SplitDef{
		Position:      h.Position,
		QuestionIndex: h.QuestionIndex,
		Model:         NewStateModelStub(h.Model),
	}
	if err := rw.writeSplit(def); err != nil {
		return fmt.Errorf("recipe: %w", err)
	}
	return nil
}

// Flush writes any buffered records through to the underlying file.
func (rw *RecipeWriter) Flush() error {
	return rw.w.Flush()
}

func (rw *RecipeWriter) writeInt(v int) error {
	return binary.Write(rw.w, binary.LittleEndian, int32(v))
}

func (rw *RecipeWriter) writeContextSet(s ContextSet) error {
	if err := rw.writeInt(s.Cap()); err != nil {
		return err
	}
	members := s.Members()
	if err := rw.writeInt(len(members)); err != nil {
		return err
	}
	for _, m := range members {
		if err := rw.writeInt(m); err != nil {
			return err
		}
	}
	return nil
}

func (rw *RecipeWriter) writeSplit(def SplitDef) error {
	if err := rw.writeInt(def.Position); err != nil {
		return err
	}
	if err := rw.writeInt(def.QuestionIndex); err != nil {
		return err
	}
	if err := rw.writeInt(def.Model.State); err != nil {
		return err
	}
	ctx := def.Model.Context
	if err := rw.writeInt(ctx.L()); err != nil {
		return err
	}
	if err := rw.writeInt(ctx.R()); err != nil {
		return err
	}
	for p := -ctx.L(); p <= ctx.R(); p++ {
		if err := rw.writeContextSet(ctx.At(p)); err != nil {
			return err
		}
	}
	if err := rw.writeInt(len(def.Model.Allophones)); err != nil {
		return err
	}
	for _, phones := range def.Model.Allophones {
		if err := rw.writeInt(len(phones)); err != nil {
			return err
		}
		for _, p := range phones {
			if err := rw.writeInt(p); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecipeReader pulls recorded splits one at a time.
type RecipeReader struct {
	r *bufio.Reader
}

// NewRecipeReader wraps r and validates the stream header.
func NewRecipeReader(r io.Reader) (*RecipeReader, error) {
	rr := &RecipeReader{r: bufio.NewReader(r)}
	var magic uint32
	var version int32
	if err := binary.Read(rr.r, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("recipe: reading header: %w", err)
	}
	if err := binary.Read(rr.r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("recipe: reading header: %w", err)
	}
	if magic != recipeMagic || version != recipeVersion {
		return nil, fmt.Errorf("recipe: bad header %08x version %d", magic, version)
	}
	return rr, nil
}

// ReadSplit returns the next record, or io.EOF when the stream is
// exhausted.
func (rr *RecipeReader) ReadSplit() (*SplitDef, error) {
	pos, err := rr.readInt()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("recipe: %w", err)
	}
	def := &SplitDef{Position: pos}
	if def.QuestionIndex, err = rr.readIntFull(); err != nil {
		return nil, err
	}
	if def.Model.State, err = rr.readIntFull(); err != nil {
		return nil, err
	}
	l, err := rr.readIntFull()
	if err != nil {
		return nil, err
	}
	r, err := rr.readIntFull()
	if err != nil {
		return nil, err
	}
	var slots []ContextSet
	for i := 0; i < l+r+1; i++ {
		s, err := rr.readContextSet()
		if err != nil {
			return nil, err
		}
		slots = append(slots, s)
	}
	if len(slots) > 0 {
		ctx := NewPhoneContext(l, r, slots[0].Cap())
		for p := -l; p <= r; p++ {
			ctx = ctx.WithAt(p, slots[l+p])
		}
		def.Model.Context = ctx
	}
	n, err := rr.readIntFull()
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		np, err := rr.readIntFull()
		if err != nil {
			return nil, err
		}
		phones := make([]int, np)
		for j := 0; j < np; j++ {
			if phones[j], err = rr.readIntFull(); err != nil {
				return nil, err
			}
		}
		def.Model.Allophones = append(def.Model.Allophones, phones)
	}
	return def, nil
}

func (rr *RecipeReader) readInt() (int, error) {
	var v int32
	if err := binary.Read(rr.r, binary.LittleEndian, &v); err != nil {
		return 0, err
	}
	return int(v), nil
}

// readIntFull is readInt with EOF inside a record reported as a
// corruption error rather than a clean end of stream.
func (rr *RecipeReader) readIntFull() (int, error) {
	v, err := rr.readInt()
	if err != nil {
		return 0, fmt.Errorf("recipe: truncated record: %w", err)
	}
	return v, nil
}

func (rr *RecipeReader) readContextSet() (ContextSet, error) {
	capacity, err := rr.readIntFull()
	if err != nil {
		return ContextSet{}, err
	}
	n, err := rr.readIntFull()
	if err != nil {
		return ContextSet{}, err
	}
	s := NewContextSet(capacity)
	for i := 0; i < n; i++ {
		m, err := rr.readIntFull()
		if err != nil {
			return ContextSet{}, err
		}
		s.Add(m)
	}
	return s, nil
}
