package jobstore

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 8 * time.Minute},
		{6, 15 * time.Minute}, // 16m capped
		{10, 15 * time.Minute},
		{0, 30 * time.Second},  // clamped to one attempt
		{-3, 30 * time.Second},
		{64, 15 * time.Minute}, // shift overflow still caps
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempts); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestParsePattern(t *testing.T) {
	valid := []string{"0 * * * *", "*/15 * * * *", "30 3 * * *", "0 5 * * 1"}
	for _, p := range valid {
		if _, err := ParsePattern(p); err != nil {
			t.Errorf("ParsePattern(%q): %v", p, err)
		}
	}

	invalid := []string{"", "not cron", "0 * * *", "0 * * * * *", "61 * * * *"}
	for _, p := range invalid {
		if _, err := ParsePattern(p); err == nil {
			t.Errorf("ParsePattern(%q): expected error", p)
		}
	}
}

func TestParsePatternNextFire(t *testing.T) {
	sched, err := ParsePattern("0 * * * *")
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2026, 3, 10, 14, 25, 0, 0, time.UTC)
	next := sched.Next(at)
	want := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next fire %v, want %v", next, want)
	}
}

func TestKeyLayout(t *testing.T) {
	// key prefixes are part of the on-wire contract with operational
	// tooling; changing them silently orphans live data
	tests := []struct{ got, want string }{
		{queueKey("video"), "queue:video"},
		{delayKey("video"), "delay:video"},
		{leasedKey("video"), "leased:video"},
		{deadKey("video"), "dead:video"},
		{jobKey("j1"), "job:j1"},
		{lockKey("j1"), "lock:j1"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %q, want %q", tt.got, tt.want)
		}
	}
}
