package cdtrans

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestGeneratorRedundancyPruning: questions {a} and {a,b} both reduce a
// context of {a,c} to {a}; only the first yields a hypothesis.
func TestGeneratorRedundancyPruning(t *testing.T) {
	// phones: <eps>=0, sil=1, a=2, b=3, c=4
	const phC = 4
	universe := 5
	info := PhoneInfo{
		Universe:  universe,
		NumStates: map[int]int{phSil: 1, phA: 1, phB: 1, phC: 1},
		CI:        map[int]bool{phSil: true},
	}
	samples := NewSampleSet(1)
	inv := NewInventory(universe, 1, 1, samples, NewScorer(1e-6))
	_, err := inv.InitMonophones(info)
	require.NoError(t, err)

	// Build a state model whose -1 context is {a,c}.
	ctx := NewPhoneContext(1, 1, universe).
		WithAt(-1, FromMembers(universe, []int{phA, phC})).
		WithAt(0, Singleton(universe, phB)).
		WithAt(1, Full(universe))
	model := inv.newStateModel(0, ctx)
	inv.register(model)
	inv.registerAllophone(inv.newAllophone([]int{phB}, []*AllophoneStateModel{model}))

	qs := NewQuestionSets(1, 1)
	qs.Add(-1, Question{Name: "Q1", Y: Singleton(universe, phA)})
	qs.Add(-1, Question{Name: "Q2", Y: FromMembers(universe, []int{phA, phB})})

	gen := &SplitGenerator{Inventory: inv, Questions: qs}
	hyps := gen.Generate(model, false)
	require.Len(t, hyps, 1)
	require.Equal(t, "Q1", hyps[0].Question.Name)
	require.Equal(t, 0, hyps[0].QuestionIndex)
}

func TestGeneratorDegenerateSplitDiscarded(t *testing.T) {
	p := newTestPipeline(t, monophoneInfo(), buildLeftContextSamples(), leftSilQuestions(), DriverOptions{})

	// sil is context independent: its contexts are empty, every split
	// degenerates.
	var sil *AllophoneStateModel
	for _, m := range p.inv.StateModels() {
		if m.Context.Center().Test(phSil) {
			sil = m
		}
	}
	require.Empty(t, p.gen.Generate(sil, false))
}

func TestGeneratorMinObservations(t *testing.T) {
	p := newTestPipeline(t, monophoneInfo(), buildLeftContextSamples(), leftSilQuestions(), DriverOptions{})

	var model *AllophoneStateModel
	for _, m := range p.inv.StateModels() {
		if m.Context.Center().Test(phA) && m.HMMState == 0 {
			model = m
		}
	}
	// The sil half carries 3000 observations; an impossible minimum
	// rejects the split.
	p.gen.MinObservations = 5000
	require.Empty(t, p.gen.Generate(model, false))

	p.gen.MinObservations = 1000
	require.Len(t, p.gen.Generate(model, false), 1)
}

func TestGeneratorMinContexts(t *testing.T) {
	p := newTestPipeline(t, monophoneInfo(), buildLeftContextSamples(), leftSilQuestions(), DriverOptions{})

	var model *AllophoneStateModel
	for _, m := range p.inv.StateModels() {
		if m.Context.Center().Test(phA) && m.HMMState == 0 {
			model = m
		}
	}
	// The sil half sees 3 distinct contexts (3 right phones).
	p.gen.MinContexts = 4
	require.Empty(t, p.gen.Generate(model, false))

	p.gen.MinContexts = 3
	require.Len(t, p.gen.Generate(model, false), 1)
}

func TestGeneratorMinGain(t *testing.T) {
	p := newTestPipeline(t, monophoneInfo(), buildLeftContextSamples(), leftSilQuestions(), DriverOptions{})

	var model *AllophoneStateModel
	for _, m := range p.inv.StateModels() {
		if m.Context.Center().Test(phA) && m.HMMState == 0 {
			model = m
		}
	}
	p.gen.MinGain = 1e12
	require.Empty(t, p.gen.Generate(model, false))
}

func TestGeneratorParallelScoring(t *testing.T) {
	qs := NewQuestionSets(1, 1)
	qs.Add(-1, Question{Name: "SIL", Y: Singleton(4, phSil)})
	qs.Add(-1, Question{Name: "A", Y: Singleton(4, phA)})
	qs.Add(-1, Question{Name: "B", Y: Singleton(4, phB)})

	sequentialPipeline := newTestPipeline(t, monophoneInfo(), buildLeftContextSamples(), qs, DriverOptions{})
	parallelPipeline := newTestPipeline(t, monophoneInfo(), buildLeftContextSamples(), qs, DriverOptions{})
	parallelPipeline.gen.Workers = 4

	var sequential, parallel []*SplitHypothesis
	for _, m := range sequentialPipeline.inv.StateModels() {
		if m.Context.Center().Test(phA) && m.HMMState == 0 {
			sequential = sequentialPipeline.gen.Generate(m, false)
		}
	}
	for _, m := range parallelPipeline.inv.StateModels() {
		if m.Context.Center().Test(phA) && m.HMMState == 0 {
			parallel = parallelPipeline.gen.Generate(m, false)
		}
	}
	require.Equal(t, len(sequential), len(parallel))
	for i := range sequential {
		require.Equal(t, sequential[i].Question.Name, parallel[i].Question.Name)
		require.InDelta(t, sequential[i].Gain, parallel[i].Gain, 1e-9)
	}
}

func TestHypothesisListOrderingAndTies(t *testing.T) {
	var l hypothesisList
	h1 := &SplitHypothesis{Gain: 1}
	h2 := &SplitHypothesis{Gain: 3}
	h3 := &SplitHypothesis{Gain: 3}
	h4 := &SplitHypothesis{Gain: 2}
	for _, h := range []*SplitHypothesis{h1, h2, h3, h4} {
		l.Insert(h)
	}
	require.Equal(t, 4, l.Len())
	// Descending by gain; equal gains keep insertion order.
	require.Same(t, h2, l.At(0))
	require.Same(t, h3, l.At(1))
	require.Same(t, h4, l.At(2))
	require.Same(t, h1, l.At(3))
}

func TestHypothesisListRemoveModel(t *testing.T) {
	var l hypothesisList
	m1 := &AllophoneStateModel{}
	m2 := &AllophoneStateModel{}
	l.Insert(&SplitHypothesis{Model: m1, Gain: 2})
	l.Insert(&SplitHypothesis{Model: m2, Gain: 1})
	l.Insert(&SplitHypothesis{Model: m1, Gain: 3})

	l.RemoveModel(m1)
	require.Equal(t, 1, l.Len())
	require.Same(t, m2, l.At(0).Model)
}
