package logging

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func entryLine(msg string) string {
	return `{"level":"info","time":"2026-01-02T15:04:05Z","message":"` + msg + `"}`
}

func TestRecorderRingWrap(t *testing.T) {
	rec := NewRecorder(3)
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		if _, err := rec.Write([]byte(entryLine(msg))); err != nil {
			t.Fatalf("Write(%q) error: %v", msg, err)
		}
	}

	got := rec.Recent(10)
	want := []string{"c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("Recent returned %d entries, want %d", len(got), len(want))
	}
	for i, e := range got {
		if e.Message != want[i] {
			t.Errorf("Recent[%d].Message = %q, want %q", i, e.Message, want[i])
		}
	}
}

func TestRecorderRecentLimit(t *testing.T) {
	rec := NewRecorder(10)
	for _, msg := range []string{"a", "b", "c"} {
		rec.Write([]byte(entryLine(msg)))
	}

	tests := []struct {
		name string
		n    int
		want []string
	}{
		{"all when n exceeds size", 99, []string{"a", "b", "c"}},
		{"all when n zero", 0, []string{"a", "b", "c"}},
		{"tail when n smaller", 2, []string{"b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rec.Recent(tt.n)
			if len(got) != len(tt.want) {
				t.Fatalf("Recent(%d) returned %d entries, want %d", tt.n, len(got), len(tt.want))
			}
			for i, e := range got {
				if e.Message != tt.want[i] {
					t.Errorf("Recent(%d)[%d] = %q, want %q", tt.n, i, e.Message, tt.want[i])
				}
			}
		})
	}
}

func TestRecorderIgnoresNonJSON(t *testing.T) {
	rec := NewRecorder(4)
	n, err := rec.Write([]byte("plain text line"))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != len("plain text line") {
		t.Errorf("Write returned %d, want full length", n)
	}
	if got := rec.Recent(0); len(got) != 0 {
		t.Errorf("non-JSON input was recorded: %+v", got)
	}
}

func TestRecorderSubscribe(t *testing.T) {
	rec := NewRecorder(4)
	ch, cancel := rec.Subscribe(1)

	rec.Write([]byte(entryLine("hello")))

	select {
	case e := <-ch:
		if e.Message != "hello" {
			t.Errorf("subscriber got %q, want %q", e.Message, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive entry")
	}

	cancel()
	// writes after cancel must not panic on the closed channel
	rec.Write([]byte(entryLine("after")))
}

func TestRecorderCapturesZerologFields(t *testing.T) {
	zerolog.TimeFieldFormat = time.RFC3339
	rec := NewRecorder(4)
	logger := zerolog.New(rec).With().Timestamp().Str("tenant", "alice").Logger()

	logger.Info().Str("component", "loop").Str("symbol", "KRW-BTC").Msg("scan done")

	got := rec.Recent(1)
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	e := got[0]
	if e.Tenant != "alice" || e.Component != "loop" || e.Symbol != "KRW-BTC" {
		t.Errorf("entry fields = %+v, want tenant/component/symbol populated", e)
	}
	if e.Level != "info" {
		t.Errorf("entry level = %q, want info", e.Level)
	}
	if e.Message != "scan done" {
		t.Errorf("entry message = %q", e.Message)
	}
}
