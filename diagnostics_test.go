package cdtrans

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/require"
)

func TestWriteStateModelLog(t *testing.T) {
	p, syms := buildMonophonePipeline(t)
	hc := NewHMMCompiler(p.inv, syms, NewScorer(1e-6))
	require.NoError(t, hc.Enumerate())

	var buf bytes.Buffer
	require.NoError(t, WriteStateModelLog(&buf, p.inv, syms, hc.StateModelName))
	out := buf.String()
	require.Contains(t, out, "a_1.1")
	// 4 triphone contexts, 1000 observations each.
	require.Contains(t, out, "num_obs=4000")
	require.Contains(t, out, "num_context=4")
	require.Contains(t, out, "0={a}")
}

func TestWriteTransducerLog(t *testing.T) {
	p, syms := buildMonophonePipeline(t)
	var buf bytes.Buffer
	require.NoError(t, WriteTransducerLog(&buf, p.trans, syms))
	out := buf.String()
	require.Contains(t, out, "state 1")
	require.Contains(t, out, "output=sil")
	require.Contains(t, out, "output=a")
}

func TestBuildProfile(t *testing.T) {
	p, syms := buildMonophonePipeline(t)
	hc := NewHMMCompiler(p.inv, syms, NewScorer(1e-6))
	require.NoError(t, hc.Enumerate())

	prof := BuildProfile(p.inv, hc.StateModelName)
	require.NoError(t, prof.CheckValid())
	require.Len(t, prof.Sample, p.inv.NumStateModels())
	require.Equal(t, "observations", prof.SampleType[0].Type)

	// Round-trips through the pprof wire format.
	var buf bytes.Buffer
	require.NoError(t, prof.Write(&buf))
	parsed, err := profile.Parse(&buf)
	require.NoError(t, err)
	require.Len(t, parsed.Sample, p.inv.NumStateModels())
}

func TestDiagnosticsServer(t *testing.T) {
	p, syms := buildMonophonePipeline(t)
	server := NewDiagnosticsServer(p.inv, p.trans, syms, nil)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	for _, path := range []string{"/statemodels", "/transducer", "/profile"} {
		resp, err := ts.Client().Get(ts.URL + path)
		require.NoError(t, err)
		require.Equal(t, 200, resp.StatusCode)
		resp.Body.Close()
	}
}

func TestSeenContexts(t *testing.T) {
	samples := buildLeftContextSamples()
	inv := NewInventory(4, 1, 1, samples, NewScorer(1e-6))
	models, err := inv.InitMonophones(monophoneInfo())
	require.NoError(t, err)

	// 3 left x 3 right contexts for phone a's state 0.
	require.Equal(t, 9, seenContexts(models[phA].StateAt(0), samples))
	require.Equal(t, 0, seenContexts(models[phB].StateAt(0), samples))
}
