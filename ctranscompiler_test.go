package cdtrans

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func compileMonophone(t *testing.T) (*testPipeline, *OutputFST) {
	t.Helper()
	p, syms := buildMonophonePipeline(t)
	hc := NewHMMCompiler(p.inv, syms, NewScorer(1e-6))
	require.NoError(t, hc.Enumerate())
	compiler := NewCTransducerCompiler(p.trans, hc, phSil)
	fst, err := compiler.Compile()
	require.NoError(t, err)
	return p, fst
}

func TestCTransducerCompilerMonophone(t *testing.T) {
	p, fst := compileMonophone(t)

	// Two constructional states plus the synthetic start.
	require.Equal(t, p.trans.NumStates()+1, fst.NumStates())
	require.GreaterOrEqual(t, fst.Start(), 0)

	// The synthetic start mirrors the boundary state's arcs with
	// epsilon inputs.
	startArcs := fst.Arcs(fst.Start())
	require.Len(t, startArcs, 2)
	for _, a := range startArcs {
		require.Equal(t, 0, a.In)
		require.NotEqual(t, 0, a.Out)
	}

	// Exactly one final state: the one whose center holds the boundary
	// phone.
	finals := 0
	for s := 0; s < fst.NumStates(); s++ {
		if fst.IsFinal(s) {
			finals++
		}
	}
	require.Equal(t, 1, finals)

	// Every non-start arc carries a nonzero HMM input label.
	for s := 0; s < fst.NumStates(); s++ {
		if s == fst.Start() {
			continue
		}
		for _, a := range fst.Arcs(s) {
			require.NotEqual(t, 0, a.In)
			require.NotEqual(t, 0, a.Out)
		}
	}
}

func TestCTransducerCompilerNoBoundaryState(t *testing.T) {
	p, syms := buildMonophonePipeline(t)
	hc := NewHMMCompiler(p.inv, syms, NewScorer(1e-6))
	require.NoError(t, hc.Enumerate())

	// Epsilon occurs in no state's center, so no boundary state exists.
	compiler := NewCTransducerCompiler(p.trans, hc, phEps)
	_, err := compiler.Compile()
	require.Error(t, err)
}

func TestOutputFSTWriteText(t *testing.T) {
	f := NewOutputFST()
	s0 := f.AddState()
	s1 := f.AddState()
	f.SetStart(s1)
	f.SetFinal(s0)
	f.AddArc(s0, OutputArc{In: 1, Out: 2, Next: s1})
	f.AddArc(s1, OutputArc{In: 3, Out: 4, Next: s0})

	var buf bytes.Buffer
	require.NoError(t, f.WriteText(&buf))
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	// Start state's arcs come first.
	require.Equal(t, "1\t0\t3\t4", lines[0])
	require.Equal(t, "0\t1\t1\t2", lines[1])
	require.Equal(t, "0", lines[2])
}

func TestOutputFSTWriteTextRequiresStart(t *testing.T) {
	f := NewOutputFST()
	f.AddState()
	var buf bytes.Buffer
	require.Error(t, f.WriteText(&buf))
}

func TestEpsilonClosure(t *testing.T) {
	f := NewOutputFST()
	s0 := f.AddState()
	s1 := f.AddState()
	s2 := f.AddState()
	f.SetStart(s0)
	f.SetFinal(s2)
	// s0 -eps:eps-> s1 -eps:eps-> s2 -1:2-> s1
	f.AddArc(s0, OutputArc{In: 0, Out: 0, Next: s1})
	f.AddArc(s1, OutputArc{In: 0, Out: 0, Next: s2})
	f.AddArc(s2, OutputArc{In: 1, Out: 2, Next: s1})

	EpsilonClosure(f)

	// The start hoists s2's labeled arc and inherits its finality.
	require.True(t, f.IsFinal(s0))
	require.Len(t, f.Arcs(s0), 1)
	require.Equal(t, OutputArc{In: 1, Out: 2, Next: s1}, f.Arcs(s0)[0])
	// No fully-epsilon arc remains anywhere.
	for s := 0; s < f.NumStates(); s++ {
		for _, a := range f.Arcs(s) {
			require.False(t, a.In == 0 && a.Out == 0)
		}
	}
}

func TestVerifyReplayDetectsDifferences(t *testing.T) {
	build := func(out int) *OutputFST {
		f := NewOutputFST()
		s0 := f.AddState()
		s1 := f.AddState()
		f.SetStart(s0)
		f.SetFinal(s1)
		f.AddArc(s0, OutputArc{In: 1, Out: out, Next: s1})
		return f
	}
	require.NoError(t, VerifyReplay(build(2), build(2)))
	require.Error(t, VerifyReplay(build(2), build(3)))
}
