package cdtrans

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckValidAfterInit(t *testing.T) {
	p := newTestPipeline(t, monophoneInfo(), buildLeftContextSamples(), leftSilQuestions(), DriverOptions{})
	check := NewTransducerCheck(p.trans, p.info, 1, 1, nil)
	require.True(t, check.IsValid())
}

func TestCheckDetectsDuplicateOutput(t *testing.T) {
	p := newTestPipeline(t, monophoneInfo(), buildLeftContextSamples(), leftSilQuestions(), DriverOptions{})

	// Duplicate an existing arc: same source, same output label.
	var src *State
	for _, s := range p.trans.States() {
		if s.Context.Center().Test(phA) {
			src = s
		}
	}
	arc := src.OutArcs()[0]
	p.trans.AddArc(src, arc.Target(), arc.Input, arc.Output)

	check := NewTransducerCheck(p.trans, p.info, 1, 1, nil)
	require.False(t, check.IsValid())
}

func TestCheckDetectsBadTarget(t *testing.T) {
	p := newTestPipeline(t, monophoneInfo(), buildLeftContextSamples(), leftSilQuestions(), DriverOptions{})

	// An arc whose output is not in the target's center violates the
	// compatibility predicate.
	var silState, aState *State
	for _, s := range p.trans.States() {
		if s.Context.Center().Test(phSil) {
			silState = s
		}
		if s.Context.Center().Test(phA) {
			aState = s
		}
	}
	model := aState.OutArcs()[0].Input
	p.trans.AddArc(aState, silState, model, phB)

	check := NewTransducerCheck(p.trans, p.info, 1, 1, nil)
	require.False(t, check.IsValid())
}
