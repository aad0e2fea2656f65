package cdtrans

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/pprof/profile"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// seenContexts counts the distinct sample contexts contributing to m's
// statistics.
func seenContexts(m *AllophoneStateModel, samples *SampleSet) int {
	seen := make(map[contextKey]struct{})
	for center := range samples.byPhone {
		if !m.Context.Center().Test(center) {
			continue
		}
		for _, s := range samples.For(center, m.HMMState) {
			if sampleMatchesContext(s, m.Context) {
				seen[sampleContextKey(s)] = struct{}{}
			}
		}
	}
	return len(seen)
}

func contextDescription(ctx PhoneContext, syms *SymbolTable) string {
	var b strings.Builder
	for pos := -ctx.L(); pos <= ctx.R(); pos++ {
		fmt.Fprintf(&b, "%d={", pos)
		for i, p := range ctx.At(pos).Members() {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(syms.Symbol(p))
		}
		b.WriteString("} ")
	}
	return b.String()
}

func sortedByID(models []*AllophoneStateModel) []*AllophoneStateModel {
	models = slices.Clone(models)
	slices.SortFunc(models, func(a, b *AllophoneStateModel) bool { return a.ID() < b.ID() })
	return models
}

// WriteStateModelLog dumps one line per tied state: its name,
// observation count, distinct seen contexts, cost and context sets.
// name maps a state model to its printed name; the HMM compiler's
// StateModelName once labels are assigned, an id-based fallback before.
func WriteStateModelLog(w io.Writer, inv *Inventory, syms *SymbolTable,
	name func(*AllophoneStateModel) string) error {
	bw := bufio.NewWriter(w)
	for _, m := range sortedByID(inv.StateModels()) {
		stats := m.Stats(inv.Samples)
		fmt.Fprintf(bw, "%s num_obs=%g num_context=%d cost=%f %s\n",
			name(m), stats.Weight, seenContexts(m, inv.Samples),
			m.Cost(inv.Samples, inv.Scorer), contextDescription(m.Context, syms))
	}
	return bw.Flush()
}

// WriteTransducerLog dumps one block per state: its context followed by
// one line per outgoing arc.
func WriteTransducerLog(w io.Writer, t *Transducer, syms *SymbolTable) error {
	bw := bufio.NewWriter(w)
	states := t.States()
	slices.SortFunc(states, func(a, b *State) bool { return a.ID() < b.ID() })
	for _, s := range states {
		fmt.Fprintf(bw, "state %d %s\n", s.ID(), contextDescription(s.Context, syms))
		for _, a := range s.OutArcs() {
			fmt.Fprintf(bw, "  -> %d input=%d output=%s\n",
				a.Target().ID(), a.Input.ID(), syms.Symbol(a.Output))
		}
	}
	return bw.Flush()
}

// BuildProfile renders the inventory as a pprof profile: one location
// per tied state, valued by its observation count and cost in
// millinats. The profile can be inspected with standard pprof tooling
// to find where the acoustic mass and the modeling cost sit.
func BuildProfile(inv *Inventory, name func(*AllophoneStateModel) string) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "observations", Unit: "count"},
			{Type: "cost", Unit: "millinats"},
		},
	}
	for i, m := range sortedByID(inv.StateModels()) {
		fn := &profile.Function{ID: uint64(i + 1), Name: name(m), SystemName: name(m)}
		loc := &profile.Location{ID: uint64(i + 1), Line: []profile.Line{{Function: fn}}}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		stats := m.Stats(inv.Samples)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value: []int64{
				int64(stats.Weight),
				int64(m.Cost(inv.Samples, inv.Scorer) * 1000),
			},
		})
	}
	return p
}

// DiagnosticsServer serves the diagnostic dumps over HTTP while the
// driver runs, so long optimizations can be inspected without waiting
// for the final files.
type DiagnosticsServer struct {
	inv   *Inventory
	trans *Transducer
	syms  *SymbolTable
	log   *zap.Logger
	mu    *sync.RWMutex
}

// SetLock installs the lock the driver write-holds while mutating the
// inventory and transducer. Handlers hold it exclusively too: a dump
// fills lazy statistics caches, so two concurrent dumps would race
// each other.
func (d *DiagnosticsServer) SetLock(mu *sync.RWMutex) { d.mu = mu }

func (d *DiagnosticsServer) lock() func() {
	if d.mu == nil {
		return func() {}
	}
	d.mu.Lock()
	return d.mu.Unlock
}

// NewDiagnosticsServer returns a server over the live inventory and
// transducer. A nil logger disables logging.
func NewDiagnosticsServer(inv *Inventory, trans *Transducer, syms *SymbolTable, logger *zap.Logger) *DiagnosticsServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiagnosticsServer{inv: inv, trans: trans, syms: syms, log: logger}
}

func (d *DiagnosticsServer) idName(m *AllophoneStateModel) string {
	return fmt.Sprintf("state_model_%d", m.ID())
}

// Handler returns the mux serving /statemodels, /transducer and
// /profile.
func (d *DiagnosticsServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/statemodels", func(w http.ResponseWriter, r *http.Request) {
		defer d.lock()()
		if err := WriteStateModelLog(w, d.inv, d.syms, d.idName); err != nil {
			d.log.Warn("writing state model dump", zap.Error(err))
		}
	})
	mux.HandleFunc("/transducer", func(w http.ResponseWriter, r *http.Request) {
		defer d.lock()()
		if err := WriteTransducerLog(w, d.trans, d.syms); err != nil {
			d.log.Warn("writing transducer dump", zap.Error(err))
		}
	})
	mux.HandleFunc("/profile", func(w http.ResponseWriter, r *http.Request) {
		defer d.lock()()
		p := BuildProfile(d.inv, d.idName)
		if err := p.Write(w); err != nil {
			d.log.Warn("writing profile", zap.Error(err))
		}
	})
	return mux
}

// ListenAndServe serves the handler on addr until the server fails.
func (d *DiagnosticsServer) ListenAndServe(addr string) error {
	d.log.Info("serving diagnostics", zap.String("addr", addr))
	return http.ListenAndServe(addr, d.Handler())
}
