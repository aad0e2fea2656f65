package cdtrans

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func twoPhoneInfo() PhoneInfo {
	return PhoneInfo{
		Universe:  3, // eps, sil, a
		NumStates: map[int]int{phSil: 1, phA: 3},
		CI:        map[int]bool{phSil: true},
	}
}

func TestInitTransducerMonophoneStates(t *testing.T) {
	info := twoPhoneInfo()
	samples := NewSampleSet(1)
	inv := NewInventory(info.Universe, 1, 1, samples, NewScorer(1e-3))
	monophones, err := inv.InitMonophones(info)
	require.NoError(t, err)

	tr := NewTransducer()
	units := DefaultUnits(info)
	InitTransducer(tr, info.Universe, 1, monophones, units)

	// One state per phone.
	require.Equal(t, 2, tr.NumStates())

	for _, s := range tr.States() {
		// Fully connected: one outgoing arc per unit (2 units).
		require.Len(t, s.OutArcs(), 2)
	}
}

func TestTransducerAddRemoveArc(t *testing.T) {
	tr := NewTransducer()
	universe := 3
	ctxA := NewPhoneContext(1, 0, universe).WithAt(0, Singleton(universe, phSil))
	ctxB := NewPhoneContext(1, 0, universe).WithAt(0, Singleton(universe, phA))

	a, created := tr.GetOrAddState(ctxA)
	require.True(t, created)
	b, _ := tr.GetOrAddState(ctxB)

	model := &AllophoneModel{}
	arc := tr.AddArc(a, b, model, phA)
	require.Len(t, a.OutArcs(), 1)
	require.Len(t, b.InArcs(), 1)
	require.ElementsMatch(t, []*State{a}, tr.StatesWithArcUsing(model))
	require.ElementsMatch(t, []*State{a}, tr.Predecessors(b))

	tr.RemoveArc(arc)
	require.Len(t, a.OutArcs(), 0)
	require.Len(t, b.InArcs(), 0)
	require.Empty(t, tr.ArcsUsing(model))
}

func TestTransducerRelabelArc(t *testing.T) {
	tr := NewTransducer()
	universe := 3
	a, _ := tr.GetOrAddState(NewPhoneContext(0, 0, universe).WithAt(0, Singleton(universe, phSil)))
	b, _ := tr.GetOrAddState(NewPhoneContext(0, 0, universe).WithAt(0, Singleton(universe, phA)))
	m1 := &AllophoneModel{}
	m2 := &AllophoneModel{}
	arc := tr.AddArc(a, b, m1, phA)

	tr.RelabelArc(arc, m2)
	require.Empty(t, tr.ArcsUsing(m1))
	require.Len(t, tr.ArcsUsing(m2), 1)
}

func TestTransducerRemoveStateRemovesArcs(t *testing.T) {
	tr := NewTransducer()
	universe := 3
	a, _ := tr.GetOrAddState(NewPhoneContext(0, 0, universe).WithAt(0, Singleton(universe, phSil)))
	b, _ := tr.GetOrAddState(NewPhoneContext(0, 0, universe).WithAt(0, Singleton(universe, phA)))
	model := &AllophoneModel{}
	tr.AddArc(a, b, model, phA)

	tr.RemoveState(a)
	require.Equal(t, 1, tr.NumStates())
	require.Empty(t, b.InArcs())
}
