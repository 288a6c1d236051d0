package backoff_test

import (
	"testing"
	"time"

	"github.com/polarsource/polar-sub002/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponential_DoublesAndCaps(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{50, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBounded_StaysWithinHalfJitter(t *testing.T) {
	b := backoff.NewBounded(2*time.Second, time.Minute)
	for attempt := 1; attempt <= 12; attempt++ {
		ceiling := 2 * time.Second << (attempt - 1)
		if ceiling > time.Minute {
			ceiling = time.Minute
		}
		for range 50 {
			got := b.Delay(attempt)
			if got < ceiling/2 || got > ceiling {
				t.Fatalf("Delay(%d) = %v, want within [%v, %v]", attempt, got, ceiling/2, ceiling)
			}
		}
	}
}

func TestBounded_ZeroAttemptTreatedAsFirst(t *testing.T) {
	b := backoff.NewBounded(time.Second, time.Minute)
	got := b.Delay(0)
	if got < 500*time.Millisecond || got > time.Second {
		t.Errorf("Delay(0) = %v, want within [500ms, 1s]", got)
	}
}

func TestDefaultStrategy(t *testing.T) {
	s := backoff.DefaultStrategy()
	if _, ok := s.(*backoff.Bounded); !ok {
		t.Fatalf("DefaultStrategy() = %T, want *backoff.Bounded", s)
	}
}
