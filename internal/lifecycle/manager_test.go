package lifecycle

import (
	"regexp"
	"testing"
	"time"

	"github.com/dsamentor/mentor/internal/clock"
	"github.com/dsamentor/mentor/internal/domain"
)

var now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func newTestManager() *Manager {
	return NewManager(domain.DefaultPolicy(), clock.NewFake(now))
}

func busyState(problem string, last time.Time) domain.AppState {
	s := domain.DefaultAppState(domain.DefaultPolicy())
	s.CurrentProblem = problem
	s.ProblemTitle = "Two Sum"
	s.ProblemDescription = "Given an array..."
	s.Phase = domain.PhaseFeedback
	s.Confidence = domain.ConfidenceMedium
	s.HintsUsed = 2
	s.SkipUsed = true
	s.ThinkingTimeLeft = 0
	s.UserExplanation = "hash map"
	s.ExplanationHistory = []string{"hash map"}
	s.UsedHintTypes = []domain.HintCategory{domain.HintStructural, domain.HintComplexity}
	s.LastAttemptAt = &last
	return s
}

func assertFresh(t *testing.T, d Decision) {
	t.Helper()
	if d.App == nil || d.Effort == nil {
		t.Fatal("reset decision should carry new state")
	}
	a := d.App
	if a.Phase != domain.PhaseThinking || a.Confidence != domain.ConfidenceLow {
		t.Errorf("phase/confidence = %s/%s", a.Phase, a.Confidence)
	}
	if a.HintsUsed != 0 || a.SkipUsed || a.ThinkingTimeLeft != 120 || a.UserExplanation != "" {
		t.Errorf("counters not reset: %+v", a)
	}
	if len(a.ExplanationHistory) != 0 || len(a.UsedHintTypes) != 0 {
		t.Errorf("history not cleared: %+v", a)
	}
	if *d.Effort != domain.DefaultEffortState(domain.DefaultPolicy()) {
		t.Errorf("effort = %+v; want defaults", *d.Effort)
	}
	if a.LastAttemptAt == nil || !a.LastAttemptAt.Equal(now) {
		t.Errorf("LastAttemptAt = %v; want %v", a.LastAttemptAt, now)
	}
}

func TestManager_ProblemSlug(t *testing.T) {
	m := newTestManager()
	tests := []struct {
		url  string
		want string
		ok   bool
	}{
		{"https://leetcode.com/problems/two-sum/", "two-sum", true},
		{"https://leetcode.com/problems/two-sum/description/", "two-sum", true},
		{"https://leetcode.com/problems/two-sum?envType=study", "two-sum", true},
		{"https://leetcode.com/problems/two-sum#notes", "two-sum", true},
		{"https://leetcode.com/problemset/", "", false},
		{"https://example.com/problems/two-sum", "", false},
		{"not a url", "", false},
	}
	for _, tt := range tests {
		got, ok := m.ProblemSlug(tt.url)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ProblemSlug(%q) = %q, %v; want %q, %v", tt.url, got, ok, tt.want, tt.ok)
		}
	}
}

func TestManager_Check_IdentityChanged(t *testing.T) {
	m := newTestManager()
	d := m.Check("https://leetcode.com/problems/3sum/", busyState("two-sum", now))

	if !d.Reset || d.Reason != domain.ResetReasonIdentityChanged || d.Problem != "3sum" {
		t.Fatalf("Check() = %+v", d.ProblemCheck)
	}
	assertFresh(t, d)
	if d.App.CurrentProblem != "3sum" {
		t.Errorf("CurrentProblem = %q; want 3sum", d.App.CurrentProblem)
	}
	if d.App.ProblemTitle != "" || d.App.ProblemDescription != "" {
		t.Error("metadata of the old problem should be cleared")
	}
}

func TestManager_Check_FirstProblem(t *testing.T) {
	m := newTestManager()
	d := m.Check("https://leetcode.com/problems/two-sum/", domain.DefaultAppState(domain.DefaultPolicy()))
	if !d.Reset || d.Reason != domain.ResetReasonIdentityChanged {
		t.Errorf("Check() = %+v; want identity-changed for the first problem", d.ProblemCheck)
	}
}

func TestManager_Check_Stale(t *testing.T) {
	m := newTestManager()
	d := m.Check("https://leetcode.com/problems/two-sum/", busyState("two-sum", now.Add(-24*time.Hour)))

	if !d.Reset || d.Reason != domain.ResetReasonStale {
		t.Fatalf("Check() = %+v; want stale reset at exactly 24h", d.ProblemCheck)
	}
	if d.DaysSince != "1.0" {
		t.Errorf("DaysSince = %q; want 1.0", d.DaysSince)
	}
	assertFresh(t, d)
	if d.App.ProblemTitle != "Two Sum" || d.App.ProblemDescription != "Given an array..." {
		t.Error("stale reset should keep the scraped metadata")
	}
	if d.App.CurrentProblem != "two-sum" {
		t.Errorf("CurrentProblem = %q", d.App.CurrentProblem)
	}
}

func TestManager_Check_JustUnderThreshold(t *testing.T) {
	m := newTestManager()
	current := busyState("two-sum", now.Add(-(23*time.Hour + 59*time.Minute)))
	d := m.Check("https://leetcode.com/problems/two-sum/", current)

	if d.Reset {
		t.Fatalf("Check() = %+v; 23h59m should not reset", d.ProblemCheck)
	}
	if d.App != nil || d.Effort != nil {
		t.Error("no-op decision should carry no state")
	}
	if d.Problem != "two-sum" {
		t.Errorf("Problem = %q", d.Problem)
	}
}

func TestManager_Check_MissingTimestampIsStale(t *testing.T) {
	m := newTestManager()
	current := busyState("two-sum", now)
	current.LastAttemptAt = nil

	d := m.Check("https://leetcode.com/problems/two-sum/", current)
	if !d.Reset || d.Reason != domain.ResetReasonStale || d.DaysSince != "unknown" {
		t.Errorf("Check() = %+v", d.ProblemCheck)
	}
}

func TestManager_Check_UnparsableURL(t *testing.T) {
	m := newTestManager()
	current := busyState("two-sum", now.Add(-72*time.Hour))

	d := m.Check("chrome://extensions", current)
	if d.Reset || d.App != nil {
		t.Errorf("unparsable URL should be ignored, got %+v", d.ProblemCheck)
	}
	if d.Problem != "two-sum" {
		t.Errorf("Problem = %q; want current identity", d.Problem)
	}
}

func TestManager_Check_DoesNotMutateInput(t *testing.T) {
	m := newTestManager()
	current := busyState("two-sum", now.Add(-48*time.Hour))

	_ = m.Check("https://leetcode.com/problems/two-sum/", current)
	if current.HintsUsed != 2 || len(current.ExplanationHistory) != 1 {
		t.Error("Check() mutated its input")
	}
}

func TestManager_CustomPattern(t *testing.T) {
	m := NewManager(domain.DefaultPolicy(), clock.NewFake(now),
		WithPattern(regexp.MustCompile(`neetcode\.io/problems/([^/?#]+)`)))

	slug, ok := m.ProblemSlug("https://neetcode.io/problems/duplicate-integer")
	if !ok || slug != "duplicate-integer" {
		t.Errorf("ProblemSlug() = %q, %v", slug, ok)
	}
}

func TestManager_CustomThreshold(t *testing.T) {
	p := domain.DefaultPolicy()
	p.ResetAfter = 7 * 24 * time.Hour
	m := NewManager(p, clock.NewFake(now))

	d := m.Check("https://leetcode.com/problems/two-sum/", busyState("two-sum", now.Add(-6*24*time.Hour)))
	if d.Reset {
		t.Error("six days should not reset with a weekly threshold")
	}
}
