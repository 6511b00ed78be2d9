// Package background owns canonical session state. Every signal and command
// is handled to completion, including its persistence write, on a single
// goroutine before the next one starts.
package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/dsamentor/mentor/internal/clock"
	"github.com/dsamentor/mentor/internal/domain"
	"github.com/dsamentor/mentor/internal/effort"
	"github.com/dsamentor/mentor/internal/lifecycle"
	"github.com/dsamentor/mentor/internal/notify"
)

// ErrNotRunning is returned for requests made before Start or after Close
var ErrNotRunning = errors.New("background service not running")

const notifyTimeout = 2 * time.Second

// Config wires the service's collaborators. Only Store is required.
type Config struct {
	Policy    domain.Policy
	Store     StateStore
	Notifier  notify.Notifier
	Clock     clock.Clock
	Lifecycle *lifecycle.Manager
	Recorder  Recorder
}

// Service is the single writer of session and effort gate state
type Service struct {
	policy    domain.Policy
	store     StateStore
	notifier  notify.Notifier
	clock     clock.Clock
	lifecycle *lifecycle.Manager
	recorder  Recorder

	// Owned by the loop goroutine.
	gate   *effort.Gate
	app    domain.AppState
	ticker clock.Ticker

	inbox   chan func()
	running atomic.Bool
	cancel  context.CancelFunc
	stopped chan struct{}
	once    sync.Once
}

// NewService creates a stopped service
func NewService(cfg Config) *Service {
	policy := cfg.Policy.Normalize()
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Lifecycle == nil {
		cfg.Lifecycle = lifecycle.NewManager(policy, cfg.Clock)
	}
	return &Service{
		policy:    policy,
		store:     cfg.Store,
		notifier:  cfg.Notifier,
		clock:     cfg.Clock,
		lifecycle: cfg.Lifecycle,
		recorder:  cfg.Recorder,
		gate:      effort.NewGate(policy),
		app:       domain.DefaultAppState(policy),
		inbox:     make(chan func()),
		stopped:   make(chan struct{}),
	}
}

// Policy returns the limits the service enforces
func (s *Service) Policy() domain.Policy { return s.policy }

// Start loads persisted state and begins processing. If the effort gate was
// left active, its countdown resumes.
func (s *Service) Start(ctx context.Context) error {
	snap, err := s.store.Load(ctx)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		snap = domain.DefaultSnapshot(s.policy)
		slog.Info("no saved state, starting fresh")
	case err != nil:
		return fmt.Errorf("load state: %w", err)
	}

	s.app = snap.App.Clone()
	s.gate.Restore(snap.Effort)
	if s.gate.Active() {
		slog.Info("resuming effort countdown", "time_left", s.gate.State().TimeLeft)
		s.startCountdown()
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.running.Store(true)
	go s.loop(loopCtx)

	slog.Info("background service started",
		"problem", s.app.CurrentProblem,
		"phase", s.app.Phase,
		"gate_active", s.gate.Active(),
	)
	return nil
}

// Close stops processing and waits for the loop to exit
func (s *Service) Close() error {
	s.once.Do(func() {
		if !s.running.Load() {
			close(s.stopped)
			return
		}
		s.running.Store(false)
		s.cancel()
		<-s.stopped
	})
	return nil
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.stopped)
	defer s.stopCountdown()

	for {
		var tick <-chan time.Time
		if s.ticker != nil {
			tick = s.ticker.C()
		}

		select {
		case <-ctx.Done():
			return
		case fn := <-s.inbox:
			fn()
		case <-tick:
			s.onTick(ctx)
		}
	}
}

// do runs fn on the loop goroutine and waits for it to finish
func (s *Service) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !s.running.Load() {
		return ErrNotRunning
	}
	errc := make(chan error, 1)
	work := context.WithoutCancel(ctx)
	req := func() { errc <- fn(work) }

	select {
	case s.inbox <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrNotRunning
	}
	return <-errc
}

// -----------------------------------------------------------------------------
// Inbound signals
// -----------------------------------------------------------------------------

// EditorTyping resumes the effort countdown if the gate is active and idle
func (s *Service) EditorTyping(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		if s.gate.Active() {
			s.startCountdown()
		}
		return nil
	})
}

// RunClick counts a code run toward unlocking the gate
func (s *Service) RunClick(ctx context.Context) (domain.EffortState, error) {
	var out domain.EffortState
	err := s.do(ctx, func(ctx context.Context) error {
		cp := s.checkpoint()
		res := s.gate.RecordRun()
		if !res.Counted {
			out = s.gate.State()
			return nil
		}
		if res.Unlocked {
			s.stopCountdown()
		}
		err := s.commit(ctx, cp)
		out = s.gate.State()
		if err != nil {
			return err
		}

		now := s.clock.Now()
		s.notify(ctx, domain.NewRunCountUpdate(res.RunCount, now))
		if res.Unlocked {
			s.recorder.EffortUnlocked(effort.TriggerRuns)
			slog.Info("effort gate unlocked", "trigger", effort.TriggerRuns)
			s.notify(ctx, domain.NewEffortUnlocked(now))
		}
		return nil
	})
	return out, err
}

// ProblemInfo records scraped metadata for the current problem
func (s *Service) ProblemInfo(ctx context.Context, info domain.ProblemInfo) (domain.AppState, error) {
	var out domain.AppState
	err := s.do(ctx, func(ctx context.Context) error {
		cp := s.checkpoint()
		title := info.Title
		if title == "" {
			title = domain.UnknownProblemTitle
		}
		s.app.ProblemTitle = title
		s.app.ProblemDescription = truncate(info.Description, s.policy.MaxDescriptionLen)
		err := s.commit(ctx, cp)
		out = s.app.Clone()
		return err
	})
	return out, err
}

// CheckProblem applies the lifecycle decision for an observed URL
func (s *Service) CheckProblem(ctx context.Context, url string) (domain.ProblemCheck, error) {
	var out domain.ProblemCheck
	err := s.do(ctx, func(ctx context.Context) error {
		decision := s.lifecycle.Check(url, s.app)
		out = decision.ProblemCheck
		if !decision.Reset {
			return nil
		}

		cp := s.checkpoint()
		s.app = *decision.App
		s.gate.Unlock()
		s.stopCountdown()
		if err := s.commit(ctx, cp); err != nil {
			out = domain.ProblemCheck{}
			return err
		}
		s.recorder.StateReset(decision.Reason)
		slog.Info("session reset",
			"reason", decision.Reason,
			"problem", decision.Problem,
			"days_since", decision.DaysSince,
		)
		return nil
	})
	return out, err
}

// -----------------------------------------------------------------------------
// Front-end commands
// -----------------------------------------------------------------------------

// AppState returns a copy of the session state
func (s *Service) AppState(ctx context.Context) (domain.AppState, error) {
	var out domain.AppState
	err := s.do(ctx, func(context.Context) error {
		out = s.app.Clone()
		return nil
	})
	return out, err
}

// EffortState returns the effort gate state
func (s *Service) EffortState(ctx context.Context) (domain.EffortState, error) {
	var out domain.EffortState
	err := s.do(ctx, func(context.Context) error {
		out = s.gate.State()
		return nil
	})
	return out, err
}

// Snapshot returns both records as last persisted
func (s *Service) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	var out domain.Snapshot
	err := s.do(ctx, func(context.Context) error {
		out = s.snapshot()
		return nil
	})
	return out, err
}

// UpdateAppState applies a whitelisted patch and stamps the attempt time.
// A patch whose preconditions no longer hold is refused with
// domain.ErrSessionChanged.
func (s *Service) UpdateAppState(ctx context.Context, patch domain.AppStatePatch) (domain.AppState, error) {
	if err := patch.Validate(s.policy); err != nil {
		return domain.AppState{}, err
	}
	var out domain.AppState
	err := s.do(ctx, func(ctx context.Context) error {
		if err := patch.Check(s.app); err != nil {
			out = s.app.Clone()
			return err
		}
		cp := s.checkpoint()
		s.app = patch.Apply(s.app)
		s.stamp()
		err := s.commit(ctx, cp)
		out = s.app.Clone()
		return err
	})
	return out, err
}

// StartEffortGate activates the gate with fresh counters and starts its
// countdown unless one is already running
func (s *Service) StartEffortGate(ctx context.Context) (domain.EffortState, error) {
	var out domain.EffortState
	err := s.do(ctx, func(ctx context.Context) error {
		cp := s.checkpoint()
		s.activateGate()
		err := s.commit(ctx, cp)
		out = s.gate.State()
		if err != nil {
			return err
		}
		s.recorder.EffortActivated()
		slog.Info("effort gate activated", "time_left", out.TimeLeft)
		return nil
	})
	return out, err
}

// GrantHint spends one hint against the canonical state: the phase, budget,
// effort gate and category are checked here, then the counters advance and
// the gate is armed in the same write.
func (s *Service) GrantHint(ctx context.Context, g domain.HintGrant) (domain.SessionResult, error) {
	var out domain.SessionResult
	err := s.do(ctx, func(ctx context.Context) error {
		if err := s.app.CheckHintGrant(g, s.gate.Active(), s.policy); err != nil {
			out = s.result()
			return err
		}
		cp := s.checkpoint()
		s.app = s.app.WithHint(g)
		s.activateGate()
		err := s.commit(ctx, cp)
		out = s.result()
		if err != nil {
			return err
		}
		s.recorder.EffortActivated()
		slog.Info("hint granted",
			"problem", s.app.CurrentProblem,
			"category", g.Category,
			"hints_used", s.app.HintsUsed,
			"reward", g.Reward,
		)
		return nil
	})
	return out, err
}

// RecordExplanation appends an evaluated explanation and applies its
// confidence delta. It is refused with domain.ErrSessionChanged when the
// session was reset or moved on while the evaluation ran.
func (s *Service) RecordExplanation(ctx context.Context, r domain.ExplanationRecord) (domain.AppState, error) {
	if err := r.Validate(); err != nil {
		return domain.AppState{}, err
	}
	var out domain.AppState
	err := s.do(ctx, func(ctx context.Context) error {
		if err := s.app.CheckExplanation(r); err != nil {
			out = s.app.Clone()
			return err
		}
		cp := s.checkpoint()
		s.app = s.app.WithExplanation(r)
		s.stamp()
		err := s.commit(ctx, cp)
		out = s.app.Clone()
		return err
	})
	return out, err
}

// AdminReset clears session and gate state for the current problem. It
// bypasses every policy guard; callers must confirm the operator first.
func (s *Service) AdminReset(ctx context.Context) (domain.Snapshot, error) {
	var out domain.Snapshot
	err := s.do(ctx, func(ctx context.Context) error {
		cp := s.checkpoint()
		wasActive := s.gate.Active()
		s.app = s.app.ResetSession(s.policy)
		s.stamp()
		s.gate.Unlock()
		s.stopCountdown()

		err := s.commit(ctx, cp)
		out = s.snapshot()
		if err != nil {
			return err
		}
		s.recorder.StateReset("admin")
		slog.Warn("administrative reset", "problem", s.app.CurrentProblem)
		if wasActive {
			s.notify(ctx, domain.NewEffortUnlocked(s.clock.Now()))
		}
		return nil
	})
	return out, err
}

// -----------------------------------------------------------------------------
// Countdown
// -----------------------------------------------------------------------------

func (s *Service) startCountdown() {
	if s.ticker != nil {
		return
	}
	s.ticker = s.clock.NewTicker(time.Second)
}

func (s *Service) stopCountdown() {
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	s.ticker = nil
}

func (s *Service) onTick(ctx context.Context) {
	res := s.gate.Tick()
	if res.Stopped {
		s.stopCountdown()
		return
	}
	if res.Unlocked {
		s.stopCountdown()
	}
	// Ticks are not rolled back; the next successful write catches up.
	if err := s.persist(ctx); err != nil {
		slog.Error("persist effort tick", "error", err)
	}

	now := s.clock.Now()
	s.notify(ctx, domain.NewEffortTimerUpdate(res.TimeLeft, now))
	if res.Unlocked {
		s.recorder.EffortUnlocked(effort.TriggerTimer)
		slog.Info("effort gate unlocked", "trigger", effort.TriggerTimer)
		s.notify(ctx, domain.NewEffortUnlocked(now))
	}
}

// CountdownRunning reports whether the effort countdown is ticking
func (s *Service) CountdownRunning(ctx context.Context) (bool, error) {
	var out bool
	err := s.do(ctx, func(context.Context) error {
		out = s.ticker != nil
		return nil
	})
	return out, err
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (s *Service) snapshot() domain.Snapshot {
	return domain.Snapshot{Effort: s.gate.State(), App: s.app.Clone()}
}

func (s *Service) result() domain.SessionResult {
	return domain.SessionResult{App: s.app.Clone(), Effort: s.gate.State()}
}

func (s *Service) activateGate() {
	s.gate.Activate()
	s.stamp()
	s.startCountdown()
}

// checkpoint is the state to return to when a write fails
type checkpoint struct {
	snap    domain.Snapshot
	ticking bool
}

func (s *Service) checkpoint() checkpoint {
	return checkpoint{snap: s.snapshot(), ticking: s.ticker != nil}
}

// commit persists the live state. On failure the live state is rolled back
// to cp so memory never runs ahead of the store.
func (s *Service) commit(ctx context.Context, cp checkpoint) error {
	err := s.persist(ctx)
	if err == nil {
		return nil
	}
	s.app = cp.snap.App
	s.gate.Restore(cp.snap.Effort)
	if cp.ticking {
		s.startCountdown()
	} else {
		s.stopCountdown()
	}
	return err
}

func (s *Service) stamp() {
	now := s.clock.Now()
	s.app.LastAttemptAt = &now
}

func (s *Service) persist(ctx context.Context) error {
	if err := s.store.Save(ctx, s.snapshot()); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// notify sends a best-effort push; failures are logged and dropped
func (s *Service) notify(ctx context.Context, event domain.Event) {
	nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := s.notifier.Notify(nctx, event); err != nil {
		if errors.Is(err, notify.ErrNoListeners) {
			return
		}
		slog.Debug("push notification dropped", "type", event.Type, "error", err)
	}
}

func truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
