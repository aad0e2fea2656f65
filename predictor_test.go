package cdtrans

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// applyFirstHypothesis generates and applies the single open hypothesis
// of the pipeline, returning the predictor's count taken before the
// mutation.
func applyFirstHypothesis(t *testing.T, p *testPipeline) (predicted, actual int) {
	t.Helper()
	p.driver.InitHypotheses()
	require.Equal(t, 1, p.driver.NumOpenHypotheses())
	h := p.driver.hyps.At(0)

	predicted = p.pred.Count(h.Position, h.Question, h.Model.Referents(), 0)
	before := p.trans.NumStates()
	p.driver.applySplit(h)
	return predicted, p.trans.NumStates() - before
}

func TestPredictorLeftSplitCount(t *testing.T) {
	p := newTestPipeline(t, monophoneInfo(), buildLeftContextSamples(), leftSilQuestions(), DriverOptions{})
	predicted, actual := applyFirstHypothesis(t, p)
	require.Equal(t, 1, predicted)
	require.Equal(t, predicted, actual)
}

func TestPredictorRightSplitCountsZero(t *testing.T) {
	qs := NewQuestionSets(1, 1)
	qs.Add(1, Question{Name: "SIL", Y: Singleton(4, phSil)})
	p := newTestPipeline(t, monophoneInfo(), buildRightContextSamples(), qs, DriverOptions{})
	predicted, actual := applyFirstHypothesis(t, p)
	require.Equal(t, 0, predicted)
	require.Equal(t, predicted, actual)
}

// buildDepth2Samples builds observations for phone a over a two-deep
// left context where the acoustics depend on the second-left phone.
func buildDepth2Samples() *SampleSet {
	samples := NewSampleSet(1)
	phones := []int{phSil, phA}
	for _, l1 := range phones {
		for _, l2 := range phones {
			for _, r := range phones {
				mean := 2.0
				if l2 == phSil {
					mean = 0.0
				}
				s := Sample{CenterPhone: phA, HMMState: 0, Left: []int{l1, l2}, Right: []int{r}}
				s.Stats = NewStatistics(1)
				s.Stats.AddRaw(1000, []float64{mean * 1000}, []float64{mean * mean * 1000})
				samples.Add(s)
			}
		}
	}
	return samples
}

// TestPredictorDepth2Split exercises the predecessor closure: a split
// at position -2 pre-splits the predecessors at -1, so the predicted
// count covers both layers.
func TestPredictorDepth2Split(t *testing.T) {
	info := PhoneInfo{
		Universe:  3, // eps, sil, a
		NumStates: map[int]int{phSil: 1, phA: 1},
		CI:        map[int]bool{phSil: true},
	}
	qs := NewQuestionSets(2, 1)
	qs.Add(-2, Question{Name: "SIL", Y: Singleton(3, phSil)})

	p := newTestPipeline(t, info, buildDepth2Samples(), qs, DriverOptions{})
	predicted, actual := applyFirstHypothesis(t, p)

	// Both predecessors split at -1 (+1 each), then both halves of the
	// a state split at -2 (+1 each).
	require.Equal(t, 4, predicted)
	require.Equal(t, predicted, actual)

	check := NewTransducerCheck(p.trans, p.info, 2, 1, nil)
	require.True(t, check.IsValid())
}

func TestPredictorDiscardAbsentModels(t *testing.T) {
	p := newTestPipeline(t, monophoneInfo(), buildLeftContextSamples(), leftSilQuestions(), DriverOptions{})
	p.driver.InitHypotheses()
	h := p.driver.hyps.At(0)

	// An allophone labeling no arc yields an invalid count when absent
	// models are discarded.
	orphan := &AllophoneModel{}
	p.pred.SetDiscardAbsentModels(true)
	require.Equal(t, InvalidCount, p.pred.Count(-1, h.Question, []*AllophoneModel{orphan}, 0))

	p.pred.SetDiscardAbsentModels(false)
	require.Equal(t, 0, p.pred.Count(-1, h.Question, []*AllophoneModel{orphan}, 0))
}

func TestPredictorEarlyTermination(t *testing.T) {
	info := PhoneInfo{
		Universe:  3,
		NumStates: map[int]int{phSil: 1, phA: 1},
		CI:        map[int]bool{phSil: true},
	}
	qs := NewQuestionSets(2, 1)
	qs.Add(-2, Question{Name: "SIL", Y: Singleton(3, phSil)})
	p := newTestPipeline(t, info, buildDepth2Samples(), qs, DriverOptions{})
	p.driver.InitHypotheses()
	h := p.driver.hyps.At(0)

	// The full count is 4; a bound of 2 clamps the result.
	require.Equal(t, 2, p.pred.Count(h.Position, h.Question, h.Model.Referents(), 2))
}

func TestPredictorDoesNotMutateTransducer(t *testing.T) {
	p := newTestPipeline(t, monophoneInfo(), buildLeftContextSamples(), leftSilQuestions(), DriverOptions{})
	p.driver.InitHypotheses()
	h := p.driver.hyps.At(0)

	before := p.trans.NumStates()
	p.pred.Count(h.Position, h.Question, h.Model.Referents(), 0)
	require.Equal(t, before, p.trans.NumStates())
}
