package cdtrans

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

// ErrReplayMismatch is returned when a recorded split cannot be matched
// to any open hypothesis.
var ErrReplayMismatch = errors.New("cdtrans: recorded split matches no open hypothesis")

// DriverOptions are the tunables of the greedy splitting loop.
type DriverOptions struct {
	// StatePenaltyWeight is the weight w of the predicted state count in
	// score(h) = gain(h) - w * predicted_new_states(h).
	StatePenaltyWeight float64
	// TargetNumModels stops the loop once the inventory holds this many
	// tied state models. Zero means unbounded.
	TargetNumModels int
	// TargetNumStates stops the loop once the transducer holds this many
	// states. Zero means unbounded.
	TargetNumStates int
	// MaxHyps caps how many of the top-gain hypotheses are ranked per
	// round. Zero means all. Ignored in parallel ranking.
	MaxHyps int
	// IgnoreAbsentModels discards hypotheses whose models label no arc.
	IgnoreAbsentModels bool
	// Workers enables parallel ranking when > 1 and the predictor is
	// thread safe.
	Workers int
}

// Driver runs the greedy loop: rank the open hypotheses by gain minus
// the weighted predicted state count, apply the winner to the inventory
// and the transducer, then re-expand hypotheses for the two new models.
type Driver struct {
	inv       *Inventory
	trans     *Transducer
	splitter  *Splitter
	predictor SplitPredictor
	gen       *SplitGenerator
	info      PhoneInfo
	opts      DriverOptions

	hyps   hypothesisList
	recipe *RecipeWriter
	replay *RecipeReader
	log    *zap.Logger

	// dataMu, when set, is write-held while the inventory and transducer
	// are mutated; a diagnostics server holds the same lock exclusively
	// for each dump, since dumps fill lazily cached statistics.
	dataMu *sync.RWMutex
}

// NewDriver assembles a driver over the given inventory and transducer.
// A nil logger disables logging.
func NewDriver(inv *Inventory, trans *Transducer, splitter *Splitter, predictor SplitPredictor,
	gen *SplitGenerator, info PhoneInfo, opts DriverOptions, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	predictor.SetDiscardAbsentModels(opts.IgnoreAbsentModels)
	return &Driver{
		inv:       inv,
		trans:     trans,
		splitter:  splitter,
		predictor: predictor,
		gen:       gen,
		info:      info,
		opts:      opts,
		log:       logger,
	}
}

// SetRecipeWriter records every applied split to w.
func (d *Driver) SetRecipeWriter(w *RecipeWriter) { d.recipe = w }

// SetReplayReader replaces ranking with replaying the splits recorded
// in r.
func (d *Driver) SetReplayReader(r *RecipeReader) { d.replay = r }

// SetDataLock shares the mutation lock with a diagnostics server.
func (d *Driver) SetDataLock(mu *sync.RWMutex) { d.dataMu = mu }

// NumOpenHypotheses returns the number of open split hypotheses.
func (d *Driver) NumOpenHypotheses() int { return d.hyps.Len() }

// VerifyStatistics checks that every initial state model has samples
// for at least one of its center phones. A unit with no statistics at
// all is fatal; a phone missing within a multi-phone unit is only
// warned about.
func (d *Driver) VerifyStatistics() error {
	for _, m := range d.sortedStateModels() {
		haveData := false
		for _, phone := range m.Context.Center().Members() {
			if d.inv.Samples.HasAny(phone, m.HMMState) {
				haveData = true
			} else {
				d.log.Warn("no statistics for phone",
					zap.Int("phone", phone), zap.Int("hmm_state", m.HMMState))
			}
		}
		if !haveData {
			return fmt.Errorf("cdtrans: no statistics for unit %s state %d",
				m.Context.Center(), m.HMMState)
		}
	}
	return nil
}

func (d *Driver) sortedStateModels() []*AllophoneStateModel {
	models := d.inv.StateModels()
	slices.SortFunc(models, func(a, b *AllophoneStateModel) bool { return a.ID() < b.ID() })
	return models
}

// centerOnly reports whether m's phones are context independent, in
// which case only center splits (of tied groups) are eligible.
func (d *Driver) centerOnly(m *AllophoneStateModel) bool {
	for _, phone := range m.Context.Center().Members() {
		if !d.info.CI[phone] {
			return false
		}
	}
	return true
}

// InitHypotheses creates the initial hypotheses for every state model.
// Context-independent single-phone units are skipped: their contexts
// are empty and their center is a singleton, so no split can apply.
func (d *Driver) InitHypotheses() {
	for _, m := range d.sortedStateModels() {
		ci := d.centerOnly(m)
		if ci && m.Context.Center().Cardinality() <= 1 {
			continue
		}
		for _, h := range d.gen.Generate(m, ci) {
			d.hyps.Insert(h)
		}
	}
	d.log.Info("initial split hypotheses", zap.Int("num_hyps", d.hyps.Len()))
}

// Run executes the greedy loop until no hypothesis survives or a
// target count is reached.
func (d *Driver) Run() error {
	numModels := d.inv.NumStateModels()
	numStates := d.trans.NumStates()
	for !d.hyps.Empty() &&
		(d.opts.TargetNumModels == 0 || numModels < d.opts.TargetNumModels) &&
		(d.opts.TargetNumStates == 0 || numStates < d.opts.TargetNumStates) {

		var best *SplitHypothesis
		var err error
		if d.replay != nil {
			best, err = d.findReplaySplit()
			if err != nil {
				return err
			}
			if best == nil {
				d.log.Info("replay exhausted")
				break
			}
		} else {
			best = d.findBestSplit()
			if best == nil {
				d.log.Info("no valid split found")
				break
			}
		}

		if d.recipe != nil {
			if err := d.recipe.AddSplit(best); err != nil {
				return err
			}
		}
		d.applySplit(best)

		numModels = d.inv.NumStateModels()
		newStates := d.trans.NumStates() - numStates
		numStates = d.trans.NumStates()
		d.log.Info("applied split",
			zap.Int("num_models", numModels),
			zap.Int("num_states", numStates),
			zap.Int("new_states", newStates))
	}
	return nil
}

// findBestSplit ranks the gain-sorted hypotheses and returns the one
// maximizing gain - w * predicted_new_states. Since the penalty is
// non-negative, the scan stops at the first hypothesis whose gain no
// longer exceeds the best score seen.
func (d *Driver) findBestSplit() *SplitHypothesis {
	if d.hyps.Empty() {
		return nil
	}
	if d.opts.StatePenaltyWeight == 0 {
		// No penalty: the top-gain hypothesis wins, provided it improves
		// the likelihood at all.
		if h := d.hyps.At(0); h.Gain > 0 {
			return h
		}
		return nil
	}
	if d.opts.Workers > 1 && d.predictor.ThreadSafe() {
		return d.findBestParallel()
	}
	return d.findBestSequential()
}

func (d *Driver) findBestSequential() *SplitHypothesis {
	w := d.opts.StatePenaltyWeight
	// A split is only worth applying when its score is positive, so the
	// best score starts at zero, not at minus infinity.
	best := 0.0
	var bestHyp *SplitHypothesis
	bestRank, bestNew, counts := -1, -1, 0

	maxHyp := d.hyps.Len()
	if d.opts.MaxHyps > 0 && d.opts.MaxHyps < maxHyp {
		maxHyp = d.opts.MaxHyps
	}
	for h := 0; h < maxHyp; h++ {
		hyp := d.hyps.At(h)
		if hyp.Gain <= best {
			// Hypotheses are gain sorted; no later score can win.
			break
		}
		newStates := 0
		if d.predictor.NeedCount(hyp.Position) {
			// Counting can stop once this hypothesis can no longer beat
			// the current best score.
			maxStates := int(math.Ceil((hyp.Gain-best)/w)) + 1
			newStates = d.predictor.Count(hyp.Position, hyp.Question, hyp.Model.Referents(), maxStates)
			counts++
		}
		if newStates == InvalidCount {
			continue
		}
		score := hyp.Gain - w*float64(newStates)
		if score > best {
			best = score
			bestHyp = hyp
			bestNew = newStates
			bestRank = h
		}
	}
	if bestHyp != nil {
		d.log.Debug("best split",
			zap.Int("num_hyps", d.hyps.Len()),
			zap.Int("num_counts", counts),
			zap.Float64("score", best),
			zap.Float64("gain", bestHyp.Gain),
			zap.Int("new_states", bestNew),
			zap.Int("position", bestHyp.Position),
			zap.String("question", bestHyp.Question.Name),
			zap.Int("rank", bestRank))
	}
	return bestHyp
}

// findBestParallel distributes state counting over a bounded worker
// set, each worker owning a predictor clone. The reduction tie-breaks
// equal scores by the lower hypothesis rank, so the applied sequence is
// identical to sequential ranking regardless of scheduling.
func (d *Driver) findBestParallel() *SplitHypothesis {
	w := d.opts.StatePenaltyWeight
	if d.opts.MaxHyps > 0 {
		d.log.Warn("max_hyps is ignored in parallel ranking")
	}

	// Predecessor sets are cached lazily per state; fill them up front
	// so the worker clones only ever read.
	for _, s := range d.trans.States() {
		d.trans.Predecessors(s)
	}

	best := 0.0
	var bestHyp *SplitHypothesis
	bestRank, bestNew := -1, -1

	type task struct {
		rank int
		hyp  *SplitHypothesis
	}
	var tasks []task
	for r := 0; r < d.hyps.Len(); r++ {
		hyp := d.hyps.At(r)
		if hyp.Gain <= best {
			break
		}
		if !d.predictor.NeedCount(hyp.Position) {
			best = hyp.Gain
			bestHyp = hyp
			bestRank = r
			bestNew = 0
			continue
		}
		tasks = append(tasks, task{rank: r, hyp: hyp})
	}

	type workerResult struct {
		score     float64
		hyp       *SplitHypothesis
		rank      int
		newStates int
		counts    int
	}
	workers := d.opts.Workers
	results := make([]workerResult, workers)
	ch := make(chan task)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		i := i
		pred := d.predictor.Clone()
		g.Go(func() error {
			local := workerResult{score: math.Inf(-1), rank: -1, newStates: -1}
			for t := range ch {
				maxStates := 0
				if local.counts > 0 && !math.IsInf(local.score, -1) {
					maxStates = int(math.Ceil((t.hyp.Gain-local.score)/w)) + 1
				}
				ns := pred.Count(t.hyp.Position, t.hyp.Question, t.hyp.Model.Referents(), maxStates)
				local.counts++
				if ns == InvalidCount {
					continue
				}
				score := t.hyp.Gain - w*float64(ns)
				if score > local.score || (score == local.score && t.rank < local.rank) {
					local.score = score
					local.hyp = t.hyp
					local.rank = t.rank
					local.newStates = ns
				}
			}
			results[i] = local
			return nil
		})
	}
	for _, t := range tasks {
		ch <- t
	}
	close(ch)
	_ = g.Wait()

	counts := 0
	for _, r := range results {
		counts += r.counts
		if r.hyp == nil {
			continue
		}
		if r.score > best || (bestHyp != nil && r.score == best && r.rank < bestRank) {
			best = r.score
			bestHyp = r.hyp
			bestRank = r.rank
			bestNew = r.newStates
		}
	}
	if bestHyp != nil {
		d.log.Debug("best split",
			zap.Int("num_hyps", d.hyps.Len()),
			zap.Int("num_counts", counts),
			zap.Float64("score", best),
			zap.Float64("gain", bestHyp.Gain),
			zap.Int("new_states", bestNew),
			zap.Int("position", bestHyp.Position),
			zap.String("question", bestHyp.Question.Name),
			zap.Int("rank", bestRank))
	}
	return bestHyp
}

// findReplaySplit reads the next recorded split and locates the
// matching open hypothesis. Returns (nil, nil) when the recording is
// exhausted.
func (d *Driver) findReplaySplit() (*SplitHypothesis, error) {
	def, err := d.replay.ReadSplit()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i := 0; i < d.hyps.Len(); i++ {
		h := d.hyps.At(i)
		if h.Position == def.Position && h.QuestionIndex == def.QuestionIndex &&
			def.Model.Matches(h.Model) {
			return h, nil
		}
	}
	return nil, fmt.Errorf("%w: position %d question %d", ErrReplayMismatch,
		def.Position, def.QuestionIndex)
}

// applySplit commits the winning hypothesis to the inventory, rewrites
// the transducer, drops the sibling hypotheses of the retired model and
// expands hypotheses for the two new models.
func (d *Driver) applySplit(h *SplitHypothesis) {
	if d.dataMu != nil {
		d.dataMu.Lock()
		defer d.dataMu.Unlock()
	}
	phoneSplits := d.inv.SplitAllophones(h.Split)
	a, b := d.inv.Commit(h.Split, phoneSplits)
	d.splitter.Apply(d.trans, h.Split, phoneSplits)
	d.hyps.RemoveModel(h.Model)

	for _, nm := range []*AllophoneStateModel{a, b} {
		if nm == nil {
			continue
		}
		for _, nh := range d.gen.Generate(nm, d.centerOnly(nm)) {
			d.hyps.Insert(nh)
		}
	}
}
