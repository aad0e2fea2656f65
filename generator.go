package cdtrans

import (
	"context"
	"sort"

	"golang.org/x/sync/semaphore"
)

// QuestionSets holds the questions eligible at each context position of
// the window [-L,+R].
type QuestionSets struct {
	left, right int
	sets        [][]Question
}

// NewQuestionSets returns empty per-position question sets for the
// window [-l,+r].
func NewQuestionSets(l, r int) *QuestionSets {
	return &QuestionSets{left: l, right: r, sets: make([][]Question, l+r+1)}
}

// Add appends q to position p's set. Duplicates across source files are
// admitted; redundant questions are pruned by the generator.
func (qs *QuestionSets) Add(p int, q Question) {
	qs.sets[qs.left+p] = append(qs.sets[qs.left+p], q)
}

// AddAll appends every question to every position's set.
func (qs *QuestionSets) AddAll(questions []Question) {
	for p := -qs.left; p <= qs.right; p++ {
		for _, q := range questions {
			qs.Add(p, q)
		}
	}
}

// At returns the questions eligible at position p.
func (qs *QuestionSets) At(p int) []Question {
	return qs.sets[qs.left+p]
}

// SplitHypothesis is a scored candidate split of one tied state model,
// owning its materialized (uncommitted) halves until it is applied or
// discarded.
type SplitHypothesis struct {
	Model         *AllophoneStateModel
	Position      int
	QuestionIndex int // index within the per-position question set
	Question      Question
	Gain          float64
	Split         *StateModelSplit
}

// hypothesisList keeps open hypotheses sorted by descending gain, with
// insertion order preserved among equal gains so ranking tie-breaks are
// stable across runs.
type hypothesisList struct {
	hyps []*SplitHypothesis
}

// Insert places h behind every existing hypothesis with gain >= h.Gain.
func (l *hypothesisList) Insert(h *SplitHypothesis) {
	i := sort.Search(len(l.hyps), func(i int) bool {
		return l.hyps[i].Gain < h.Gain
	})
	l.hyps = append(l.hyps, nil)
	copy(l.hyps[i+1:], l.hyps[i:])
	l.hyps[i] = h
}

// RemoveModel drops every hypothesis referencing m; their materialized
// halves are abandoned to the collector.
func (l *hypothesisList) RemoveModel(m *AllophoneStateModel) {
	kept := l.hyps[:0]
	for _, h := range l.hyps {
		if h.Model != m {
			kept = append(kept, h)
		}
	}
	for i := len(kept); i < len(l.hyps); i++ {
		l.hyps[i] = nil
	}
	l.hyps = kept
}

func (l *hypothesisList) Len() int                  { return len(l.hyps) }
func (l *hypothesisList) At(i int) *SplitHypothesis { return l.hyps[i] }
func (l *hypothesisList) Empty() bool               { return len(l.hyps) == 0 }

// SplitGenerator enumerates candidate (model, position, question)
// splits, materializes and scores them, and filters out degenerate,
// redundant and under-observed candidates.
type SplitGenerator struct {
	Inventory *Inventory
	Questions *QuestionSets

	MinGain         float64
	MinObservations float64
	MinContexts     int
	SplitCenter     bool

	// Workers > 1 fans statistics distribution and scoring out over a
	// bounded worker set; candidate enumeration and ordering stay
	// sequential so hypothesis ranks are reproducible.
	Workers int
}

// Generate returns the surviving hypotheses for m, ordered by
// (position, question index). centerOnly restricts enumeration to
// position 0, used for context-independent phones of tied groups.
func (g *SplitGenerator) Generate(m *AllophoneStateModel, centerOnly bool) []*SplitHypothesis {
	from, to := -g.Inventory.L, g.Inventory.R
	if centerOnly {
		from, to = 0, 0
	}

	var candidates []*SplitHypothesis
	for pos := from; pos <= to; pos++ {
		if pos == 0 && !g.SplitCenter {
			continue
		}
		ctx := m.Context.At(pos)
		seen := make(map[string]struct{})
		for qi, q := range g.Questions.At(pos) {
			narrowed := ctx.Intersect(q.Y)
			if narrowed.Empty() {
				continue
			}
			key := narrowed.String()
			if _, dup := seen[key]; dup {
				// Redundant question: same resulting context as an
				// earlier question at this position.
				continue
			}
			seen[key] = struct{}{}
			split := g.Inventory.Split(pos, m, q)
			if split.A == nil || split.B == nil {
				continue
			}
			candidates = append(candidates, &SplitHypothesis{
				Model:         m,
				Position:      pos,
				QuestionIndex: qi,
				Question:      q,
				Split:         split,
			})
		}
	}

	g.scoreAll(candidates)

	kept := candidates[:0]
	for _, h := range candidates {
		if g.isValid(h.Split) && g.isEnoughGain(h.Gain) {
			kept = append(kept, h)
		}
	}
	return kept
}

func (g *SplitGenerator) isEnoughGain(gain float64) bool {
	return g.MinGain <= 0 || gain >= g.MinGain
}

// scoreAll distributes statistics and computes the gain of every
// candidate. Candidates are independent of each other and of all shared
// state except the read-only sample set, so they may be scored
// concurrently.
func (g *SplitGenerator) scoreAll(candidates []*SplitHypothesis) {
	score := func(h *SplitHypothesis) {
		g.Inventory.DistributeStatistics(h.Split)
		h.Gain = g.Inventory.Gain(h.Split)
	}
	if g.Workers <= 1 || len(candidates) < 2 {
		for _, h := range candidates {
			score(h)
		}
		return
	}
	// Prime the split model's lazily-cached statistics before fanning
	// out; Gain reads them through the cache on every candidate.
	for _, h := range candidates {
		h.Split.Old.Stats(g.Inventory.Samples)
	}
	ctx := context.Background()
	sem := semaphore.NewWeighted(int64(g.Workers))
	for _, h := range candidates {
		h := h
		_ = sem.Acquire(ctx, 1)
		go func() {
			defer sem.Release(1)
			score(h)
		}()
	}
	_ = sem.Acquire(ctx, int64(g.Workers))
	sem.Release(int64(g.Workers))
}

func (g *SplitGenerator) isValid(split *StateModelSplit) bool {
	if g.MinObservations > 0 &&
		(split.ObservationsA() < g.MinObservations || split.ObservationsB() < g.MinObservations) {
		return false
	}
	if g.MinContexts > 0 &&
		(split.DistinctContextsA() < g.MinContexts || split.DistinctContextsB() < g.MinContexts) {
		return false
	}
	return true
}
