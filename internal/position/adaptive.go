package position

import (
	"strings"
	"time"
)

// FilterState is the adaptive filter's verdict for one scan. ScoreBump
// raises the compositor's buy threshold; SizeMult shrinks position
// sizing; Cooldown blocks buying outright until the streak cools off.
type FilterState struct {
	ScoreBump float64  `json:"score_bump"`
	SizeMult  float64  `json:"size_mult"`
	Cooldown  bool     `json:"cooldown"`
	Reasons   []string `json:"reasons,omitempty"`
}

// Reason joins the active adjustments for logs and the dashboard.
func (f FilterState) Reason() string { return strings.Join(f.Reasons, ", ") }

// AdaptiveFilter layers trade-quality guardrails on top of the
// governor: it never blocks on its own except during the
// consecutive-loss cooldown, it just makes entries harder to earn.
type AdaptiveFilter struct {
	lossCooldown time.Duration
}

// NewAdaptiveFilter builds the filter. lossCooldown is the hard pause
// after two or more consecutive losses.
func NewAdaptiveFilter(lossCooldown time.Duration) *AdaptiveFilter {
	if lossCooldown <= 0 {
		lossCooldown = 30 * time.Minute
	}
	return &AdaptiveFilter{lossCooldown: lossCooldown}
}

// Evaluate computes this scan's filter state. fearGreed < 0 means the
// index is unavailable and its rule is skipped.
func (a *AdaptiveFilter) Evaluate(book *Book, now time.Time, fearGreed int) FilterState {
	st := FilterState{SizeMult: 1.0}

	if h := now.Hour(); h < 6 {
		st.ScoreBump += 0.5
		st.Reasons = append(st.Reasons, "night hours")
	}

	if losses := book.ConsecutiveLosses(); losses >= 2 {
		st.ScoreBump += 0.5
		st.Reasons = append(st.Reasons, "losing streak")
		if last := book.LastLossAt(); !last.IsZero() && now.Sub(last) < a.lossCooldown {
			st.Cooldown = true
			st.Reasons = append(st.Reasons, "loss cooldown")
		}
	}

	if fearGreed >= 0 && fearGreed < 20 {
		st.ScoreBump += 1.0
		st.Reasons = append(st.Reasons, "extreme fear")
	}

	if day := book.Day(); day.Sells >= 5 && day.WinRate() < 0.4 {
		st.SizeMult = 0.5
		st.Reasons = append(st.Reasons, "low win rate")
	}

	return st
}
