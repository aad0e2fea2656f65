package cdtrans

import "go.uber.org/zap"

// TransducerCheck validates the constructional transducer between
// mutations: output determinism per state, model/state compatibility
// and history nesting along every arc. Violations are logged as
// warnings; the check never aborts, so a damaged transducer can still
// be written out and diagnosed.
type TransducerCheck struct {
	t    *Transducer
	info PhoneInfo
	l, r int
	log  *zap.Logger
}

// NewTransducerCheck returns a validator for t over the window [-l,+r].
// A nil logger disables logging.
func NewTransducerCheck(t *Transducer, info PhoneInfo, l, r int, logger *zap.Logger) *TransducerCheck {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransducerCheck{t: t, info: info, l: l, r: r, log: logger}
}

// IsValid runs every check for every state and arc and reports whether
// all of them passed.
func (c *TransducerCheck) IsValid() bool {
	ok := true
	for _, s := range c.t.States() {
		ok = c.checkDeterministicOutput(s) && ok
		for _, a := range s.OutArcs() {
			ok = c.checkPhoneModel(s, a) && ok
			ok = c.checkStateModels(s, a) && ok
			ok = c.checkTargetState(s, a) && ok
		}
	}
	return ok
}

// checkDeterministicOutput verifies no output label occurs on more than
// one arc of the state.
func (c *TransducerCheck) checkDeterministicOutput(s *State) bool {
	ok := true
	seen := make(map[int]struct{})
	for _, a := range s.OutArcs() {
		if _, dup := seen[a.Output]; dup {
			c.log.Warn("output label occurs more than once",
				zap.Int("state", s.ID()), zap.Int("output", a.Output))
			ok = false
		}
		seen[a.Output] = struct{}{}
	}
	return ok
}

// checkPhoneModel verifies the state's center lies within the center
// context of every state model of the arc's input.
func (c *TransducerCheck) checkPhoneModel(s *State, a *Arc) bool {
	for _, sm := range a.Input.States {
		if !s.Context.Center().Subset(sm.Context.Center()) {
			c.log.Warn("state does not match the model's phone",
				zap.Int("state", s.ID()))
			return false
		}
	}
	return true
}

// checkStateModels verifies the arc's output lies in each state model's
// +1 context and the state's history nests inside each state model's
// left contexts.
func (c *TransducerCheck) checkStateModels(s *State, a *Arc) bool {
	ok := true
	phone := a.Input.Phones[0]
	if c.info.CI[phone] {
		return true
	}
	for _, sm := range a.Input.States {
		if c.r > 0 && !sm.Context.At(1).Test(a.Output) {
			c.log.Warn("arc output does not match right model context",
				zap.Int("state", s.ID()), zap.Int("output", a.Output))
			ok = false
		}
		for pos := 1; pos <= c.l; pos++ {
			if !s.Context.At(-pos).Subset(sm.Context.At(-pos)) {
				c.log.Warn("state history does not match left model context",
					zap.Int("state", s.ID()), zap.Int("position", -pos))
				ok = false
			}
		}
	}
	return ok
}

func (c *TransducerCheck) isCIState(s *State) bool {
	for _, p := range s.Context.Center().Members() {
		if !c.info.CI[p] {
			return false
		}
	}
	return true
}

// checkTargetState verifies the source's history shifts into the
// target's history and the arc output lies in the target's center.
func (c *TransducerCheck) checkTargetState(s *State, a *Arc) bool {
	ok := true
	target := a.Target()
	targetCI := c.isCIState(target)
	if !targetCI {
		for pos := 2; pos <= c.l; pos++ {
			if !s.Context.At(-(pos - 1)).Subset(target.Context.At(-pos)) {
				c.log.Warn("invalid state sequence: history mismatch",
					zap.Int("state", s.ID()), zap.Int("position", -pos))
				ok = false
			}
		}
	}
	if c.l > 1 || !targetCI {
		if !s.Context.Center().Subset(target.Context.At(-1)) {
			c.log.Warn("invalid state sequence: history mismatch",
				zap.Int("state", s.ID()), zap.Int("position", -1))
			ok = false
		}
	}
	if !target.Context.Center().Test(a.Output) {
		c.log.Warn("arc output is not in the target state's center",
			zap.Int("state", s.ID()), zap.Int("output", a.Output))
		ok = false
	}
	return ok
}
