package ledger

import (
	"sync"
	"time"
)

const pnlRetention = 48 * time.Hour

// PnlSample is one 1-minute realized-P&L reading.
type PnlSample struct {
	Ts  int64   `json:"ts"` // minute boundary, unix ms
	Pnl float64 `json:"pnl"`
}

// PnlSeries keeps a rolling 48 hours of 1-minute cumulative daily P&L
// samples for the dashboard chart.
type PnlSeries struct {
	mu      sync.Mutex
	samples []PnlSample
}

// NewPnlSeries creates an empty series.
func NewPnlSeries() *PnlSeries {
	return &PnlSeries{}
}

// Add records the current daily P&L at t, collapsing repeated samples
// inside the same minute to the latest value.
func (s *PnlSeries) Add(t time.Time, pnl float64) {
	minute := t.Truncate(time.Minute).UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.samples); n > 0 && s.samples[n-1].Ts == minute {
		s.samples[n-1].Pnl = pnl
	} else {
		s.samples = append(s.samples, PnlSample{Ts: minute, Pnl: pnl})
	}
	s.prune(t)
}

// prune drops samples past the retention window. Callers hold the lock.
func (s *PnlSeries) prune(now time.Time) {
	cutoff := now.Add(-pnlRetention).UnixMilli()
	i := 0
	for ; i < len(s.samples); i++ {
		if s.samples[i].Ts >= cutoff {
			break
		}
	}
	s.samples = s.samples[i:]
}

// Samples copies the raw series.
func (s *PnlSeries) Samples() []PnlSample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PnlSample(nil), s.samples...)
}

// Restore replaces the series from a persisted snapshot.
func (s *PnlSeries) Restore(samples []PnlSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append([]PnlSample(nil), samples...)
}

// bucketFor maps a dashboard timeframe name to a bucket width.
func bucketFor(tf string) time.Duration {
	switch tf {
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "4h":
		return 4 * time.Hour
	case "1d":
		return 24 * time.Hour
	}
	return time.Hour
}

// Bucketed downsamples the series into tf-wide buckets, keeping the
// last sample of each bucket.
func (s *PnlSeries) Bucketed(tf string) []PnlSample {
	width := bucketFor(tf).Milliseconds()
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []PnlSample
	for _, sm := range s.samples {
		bucket := sm.Ts / width * width
		if n := len(out); n > 0 && out[n-1].Ts == bucket {
			out[n-1].Pnl = sm.Pnl
		} else {
			out = append(out, PnlSample{Ts: bucket, Pnl: sm.Pnl})
		}
	}
	return out
}

// BackfillFromJournal rebuilds a bucketed series out of journal exits
// when the live series is empty: cumulative pnl_amount per bucket.
func BackfillFromJournal(entries []Entry, tf string) []PnlSample {
	width := bucketFor(tf).Milliseconds()
	var out []PnlSample
	var cum float64
	for _, e := range entries {
		if !e.IsExit() || e.PnlAmount == nil {
			continue
		}
		cum += *e.PnlAmount
		bucket := e.Ts / width * width
		if n := len(out); n > 0 && out[n-1].Ts == bucket {
			out[n-1].Pnl = cum
		} else {
			out = append(out, PnlSample{Ts: bucket, Pnl: cum})
		}
	}
	return out
}
