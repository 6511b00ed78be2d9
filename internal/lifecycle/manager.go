// Package lifecycle decides when session state must be reset because the
// user moved to another problem or came back after too long.
package lifecycle

import (
	"fmt"
	"regexp"
	"time"

	"github.com/dsamentor/mentor/internal/clock"
	"github.com/dsamentor/mentor/internal/domain"
)

// DefaultProblemPattern captures the problem slug from a problem URL
const DefaultProblemPattern = `leetcode\.com/problems/([^/?#]+)`

// Decision is the outcome of Check. App and Effort are nil when nothing
// needs to change.
type Decision struct {
	domain.ProblemCheck
	App    *domain.AppState
	Effort *domain.EffortState
}

// Manager is the sole authority for destructive state resets
type Manager struct {
	policy  domain.Policy
	clock   clock.Clock
	pattern *regexp.Regexp
}

// Option configures a Manager
type Option func(*Manager)

// WithPattern overrides the problem URL pattern. The first capture group
// is the problem identity.
func WithPattern(re *regexp.Regexp) Option {
	return func(m *Manager) { m.pattern = re }
}

// NewManager creates a lifecycle manager
func NewManager(policy domain.Policy, clk clock.Clock, opts ...Option) *Manager {
	m := &Manager{
		policy:  policy,
		clock:   clk,
		pattern: regexp.MustCompile(DefaultProblemPattern),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ProblemSlug extracts the problem identity from a URL
func (m *Manager) ProblemSlug(url string) (string, bool) {
	match := m.pattern.FindStringSubmatch(url)
	if len(match) < 2 || match[1] == "" {
		return "", false
	}
	return match[1], true
}

// Check compares the observed URL against the current session
func (m *Manager) Check(url string, current domain.AppState) Decision {
	slug, ok := m.ProblemSlug(url)
	if !ok {
		return Decision{ProblemCheck: domain.ProblemCheck{Problem: current.CurrentProblem}}
	}

	now := m.clock.Now()

	if slug != current.CurrentProblem {
		app := domain.DefaultAppState(m.policy)
		app.CurrentProblem = slug
		app.LastAttemptAt = &now
		effort := domain.DefaultEffortState(m.policy)
		return Decision{
			ProblemCheck: domain.ProblemCheck{
				Reset:   true,
				Reason:  domain.ResetReasonIdentityChanged,
				Problem: slug,
			},
			App:    &app,
			Effort: &effort,
		}
	}

	stale, days := m.stale(current.LastAttemptAt, now)
	if !stale {
		return Decision{ProblemCheck: domain.ProblemCheck{Problem: slug}}
	}

	app := current.ResetSession(m.policy)
	app.LastAttemptAt = &now
	effort := domain.DefaultEffortState(m.policy)
	return Decision{
		ProblemCheck: domain.ProblemCheck{
			Reset:     true,
			Reason:    domain.ResetReasonStale,
			Problem:   slug,
			DaysSince: days,
		},
		App:    &app,
		Effort: &effort,
	}
}

func (m *Manager) stale(last *time.Time, now time.Time) (bool, string) {
	if last == nil {
		return true, "unknown"
	}
	elapsed := now.Sub(*last)
	days := elapsed.Hours() / 24
	return elapsed >= m.policy.ResetAfter, fmt.Sprintf("%.1f", days)
}
