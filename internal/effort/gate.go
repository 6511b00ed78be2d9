// Package effort implements the hint throttle that opens again after a
// countdown expires or enough code runs are observed.
package effort

import "github.com/dsamentor/mentor/internal/domain"

// Unlock triggers
const (
	TriggerTimer = "timer"
	TriggerRuns  = "runs"
)

// TickResult is the outcome of one countdown tick
type TickResult struct {
	// Stopped means the gate was inactive and the countdown should end.
	Stopped  bool
	TimeLeft int
	Unlocked bool
}

// RunResult is the outcome of a run signal
type RunResult struct {
	Counted  bool
	RunCount int
	Unlocked bool
}

// Gate holds effort gate state. It is not safe for concurrent use; the
// background service serializes access.
type Gate struct {
	policy domain.Policy
	state  domain.EffortState
}

// NewGate returns an inactive gate
func NewGate(policy domain.Policy) *Gate {
	return &Gate{
		policy: policy,
		state:  domain.DefaultEffortState(policy),
	}
}

// Restore loads persisted state. An inactive record is normalized to the
// defaults so stale counters never survive.
func (g *Gate) Restore(s domain.EffortState) {
	if !s.Active {
		g.state = domain.DefaultEffortState(g.policy)
		return
	}
	if s.TimeLeft > g.policy.EffortSeconds {
		s.TimeLeft = g.policy.EffortSeconds
	}
	if s.RunCount < 0 {
		s.RunCount = 0
	}
	g.state = s
}

// Activate arms the gate with fresh counters
func (g *Gate) Activate() {
	g.state = domain.EffortState{
		Active:   true,
		TimeLeft: g.policy.EffortSeconds,
		RunCount: 0,
	}
}

// Tick decrements the countdown and unlocks at zero
func (g *Gate) Tick() TickResult {
	if !g.state.Active {
		return TickResult{Stopped: true, TimeLeft: g.state.TimeLeft}
	}
	g.state.TimeLeft--
	res := TickResult{TimeLeft: g.state.TimeLeft}
	if g.state.TimeLeft <= 0 {
		g.Unlock()
		res.Unlocked = true
	}
	return res
}

// RecordRun counts a code run while active and unlocks at the threshold
func (g *Gate) RecordRun() RunResult {
	if !g.state.Active {
		return RunResult{}
	}
	g.state.RunCount++
	res := RunResult{Counted: true, RunCount: g.state.RunCount}
	if g.state.RunCount >= g.policy.RunsToUnlock {
		g.Unlock()
		res.Unlocked = true
	}
	return res
}

// Unlock deactivates the gate and restores default counters. It is the only
// path that clears Active.
func (g *Gate) Unlock() {
	g.state = domain.DefaultEffortState(g.policy)
}

// Active reports whether hints are currently blocked
func (g *Gate) Active() bool { return g.state.Active }

// State returns a copy of the current state
func (g *Gate) State() domain.EffortState { return g.state }
