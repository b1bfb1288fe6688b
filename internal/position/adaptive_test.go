package position

import (
	"testing"
	"time"
)

func TestAdaptiveFilter(t *testing.T) {
	day := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	night := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	f := NewAdaptiveFilter(30 * time.Minute)

	t.Run("neutral day", func(t *testing.T) {
		st := f.Evaluate(NewBook(), day, 50)
		if st.ScoreBump != 0 || st.SizeMult != 1.0 || st.Cooldown {
			t.Errorf("unexpected adjustments: %+v", st)
		}
	})

	t.Run("night hours bump", func(t *testing.T) {
		if st := f.Evaluate(NewBook(), night, 50); st.ScoreBump != 0.5 {
			t.Errorf("bump = %.1f, want 0.5", st.ScoreBump)
		}
	})

	t.Run("losing streak bump and cooldown", func(t *testing.T) {
		book := NewBook()
		book.RecordSell("KRW-A", day.Add(-5*time.Minute), -1, -100, 1000)
		book.RecordSell("KRW-B", day, -1, -100, 1000)

		st := f.Evaluate(book, day, 50)
		if st.ScoreBump != 0.5 || !st.Cooldown {
			t.Errorf("want bump 0.5 + cooldown, got %+v", st)
		}

		// Cooldown expires 30 minutes after the last loss.
		st = f.Evaluate(book, day.Add(29*time.Minute), 50)
		if !st.Cooldown {
			t.Error("cooldown dropped early")
		}
		st = f.Evaluate(book, day.Add(31*time.Minute), 50)
		if st.Cooldown {
			t.Error("cooldown outlived the window")
		}
	})

	t.Run("extreme fear bump", func(t *testing.T) {
		if st := f.Evaluate(NewBook(), day, 15); st.ScoreBump != 1.0 {
			t.Errorf("bump = %.1f, want 1.0", st.ScoreBump)
		}
	})

	t.Run("low win rate halves size", func(t *testing.T) {
		book := NewBook()
		book.RecordSell("KRW-A", day, 1, 100, 1000)
		for i := 0; i < 4; i++ {
			book.RecordSell("KRW-B", day, -1, -100, 1000)
		}
		// 1 win in 5 sells = 20% < 40%. Fear&Greed unavailable.
		st := f.Evaluate(book, day, -1)
		if st.SizeMult != 0.5 {
			t.Errorf("size mult = %.1f, want 0.5", st.SizeMult)
		}
	})

	t.Run("bumps stack", func(t *testing.T) {
		book := NewBook()
		book.RecordSell("KRW-A", night.Add(-time.Hour), -1, -100, 1000)
		book.RecordSell("KRW-B", night.Add(-time.Hour), -1, -100, 1000)
		st := f.Evaluate(book, night, 10)
		if st.ScoreBump != 2.0 { // 0.5 night + 0.5 streak + 1.0 fear
			t.Errorf("bump = %.1f, want 2.0", st.ScoreBump)
		}
	})
}
