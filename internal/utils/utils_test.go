package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTruncateForLog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		limit  int
		expect string
	}{
		{
			name:   "returns empty when limit non-positive",
			input:  "hello world",
			limit:  0,
			expect: "",
		},
		{
			name:   "shorter than limit",
			input:  "hello",
			limit:  10,
			expect: "hello",
		},
		{
			name:   "truncates and adds ellipsis",
			input:  "hello world",
			limit:  5,
			expect: "hello...",
		},
		{
			name:   "folds line breaks",
			input:  "Laptop - Rs. 1,50,000\n\nPrinter  Rs 15000",
			limit:  100,
			expect: "Laptop - Rs. 1,50,000 Printer Rs 15000",
		},
		{
			name:   "cuts on rune boundary",
			input:  "₹₹₹₹ paid",
			limit:  3,
			expect: "₹₹₹...",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := TruncateForLog(tt.input, tt.limit); got != tt.expect {
				t.Fatalf("expected %q, got %q", tt.expect, got)
			}
		})
	}
}

func TestRound(t *testing.T) {
	cases := map[float64]float64{
		87.456:  87.46,
		87.454:  87.45,
		-12.346: -12.35,
		100:     100,
	}
	for in, want := range cases {
		if got := Round(in, 2); got != want {
			t.Fatalf("Round(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestPercent(t *testing.T) {
	if got := Percent(1, 4); got != 25 {
		t.Fatalf("expected 25, got %v", got)
	}
	if got := Percent(3, 0); got != 0 {
		t.Fatalf("expected 0 for empty total, got %v", got)
	}
}

func TestWaitForHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := WaitFor(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected immediate return, took %s", elapsed)
	}
}

func TestWaitForElapses(t *testing.T) {
	if err := WaitFor(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWaitForZeroDuration(t *testing.T) {
	if err := WaitFor(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
