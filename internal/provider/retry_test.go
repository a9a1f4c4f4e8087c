package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	p := DefaultRetryPolicy
	for attempt, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		if got := p.Backoff(attempt); got != want {
			t.Errorf("Backoff(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{Attempts: 3, Base: time.Second, MaxWait: time.Minute}

	tests := []struct {
		name    string
		attempt int
		hint    time.Duration
		want    time.Duration
	}{
		{"no hint", 2, 0, 4 * time.Second},
		{"hint", 0, 7 * time.Second, 7 * time.Second},
		{"hint capped", 0, time.Hour, time.Minute},
		{"negative hint", 1, -time.Second, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Delay(tt.attempt, tt.hint); got != tt.want {
				t.Errorf("Delay(%d, %v) = %v, want %v", tt.attempt, tt.hint, got, tt.want)
			}
		})
	}

	uncapped := RetryPolicy{Base: time.Second}
	if got := uncapped.Delay(0, time.Hour); got != time.Hour {
		t.Errorf("uncapped Delay = %v, want 1h", got)
	}
}

func TestSleep(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() on cancelled context = %v, want context.Canceled", err)
	}
}
