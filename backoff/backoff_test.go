package backoff_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/docket/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := backoff.NewExponential(time.Second, time.Hour)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second}, // clamped to attempt 1
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)

	if got := e.Delay(5); got != 10*time.Second {
		t.Errorf("Delay(5) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
	if got := e.Delay(200); got != 10*time.Second {
		t.Errorf("Delay(200) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
}

func TestExponentialWithJitter_WithinBounds(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, 10*time.Second)

	for attempt := 1; attempt <= 6; attempt++ {
		for range 100 {
			got := e.Delay(attempt)
			if got < 0 || got > 10*time.Second {
				t.Fatalf("Delay(%d) = %v, want within [0, 10s]", attempt, got)
			}
		}
	}
}

func TestExponentialWithJitter_ProducesVariance(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, time.Minute)

	seen := make(map[time.Duration]bool)
	for range 100 {
		seen[e.Delay(3)] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected variance in jitter, got only %d distinct values", len(seen))
	}
}

func TestDefaultStrategy_Bounds(t *testing.T) {
	s := backoff.DefaultStrategy()
	if d := s.Delay(1); d < 0 || d > 500*time.Millisecond {
		t.Errorf("DefaultStrategy().Delay(1) = %v, want within [0, 500ms]", d)
	}
	if d := s.Delay(50); d > 30*time.Second {
		t.Errorf("DefaultStrategy().Delay(50) = %v, want <= 30s", d)
	}
}

func TestTracker(t *testing.T) {
	tr := backoff.NewTracker(backoff.NewExponential(time.Second, time.Minute))

	if got := tr.Failure(); got != time.Second {
		t.Errorf("first Failure = %v, want 1s", got)
	}
	if got := tr.Failure(); got != 2*time.Second {
		t.Errorf("second Failure = %v, want 2s", got)
	}
	if tr.Failures() != 2 {
		t.Errorf("Failures = %d, want 2", tr.Failures())
	}

	tr.Success()
	if tr.Failures() != 0 {
		t.Errorf("Failures after Success = %d, want 0", tr.Failures())
	}
	if got := tr.Failure(); got != time.Second {
		t.Errorf("Failure after reset = %v, want 1s", got)
	}
}

func TestSleep(t *testing.T) {
	if !backoff.Sleep(context.Background(), nil, time.Millisecond) {
		t.Error("Sleep should report a completed delay")
	}

	stop := make(chan struct{})
	close(stop)
	if backoff.Sleep(context.Background(), stop, time.Hour) {
		t.Error("Sleep should return early when stop is closed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if backoff.Sleep(ctx, nil, time.Hour) {
		t.Error("Sleep should return early when ctx is done")
	}
}
