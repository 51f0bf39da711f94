package control

import (
	"math"
	"testing"
	"time"
)

func TestClampSpeed(t *testing.T) {
	testCases := []struct {
		in   float64
		want float64
	}{
		{5.0, 1.0},
		{0.01, 0.1},
		{0.5, 0.5},
		{-3, 0.1},
		{math.NaN(), 0.1},
		{math.Inf(1), 1.0},
	}

	for _, tc := range testCases {
		if got := ClampSpeed(tc.in); got != tc.want {
			t.Errorf("ClampSpeed(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestFlushThreshold(t *testing.T) {
	testCases := []struct {
		name     string
		interval time.Duration
		tick     time.Duration
		want     int
	}{
		{"default", 500 * time.Millisecond, 50 * time.Millisecond, 10},
		{"below minimum", 10 * time.Millisecond, 50 * time.Millisecond, 2},
		{"above maximum", 5 * time.Second, 50 * time.Millisecond, 20},
		{"truncated", 125 * time.Millisecond, 50 * time.Millisecond, 2},
		{"tick longer than interval", 100 * time.Millisecond, time.Second, 1},
		{"invalid tick", 500 * time.Millisecond, 0, 10},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FlushThreshold(tc.interval, tc.tick); got != tc.want {
				t.Errorf("FlushThreshold(%s, %s) = %d, want %d", tc.interval, tc.tick, got, tc.want)
			}
		})
	}
}

func TestMillisToDuration(t *testing.T) {
	testCases := []struct {
		in   float64
		want time.Duration
	}{
		{300, 300 * time.Millisecond},
		{50, 100 * time.Millisecond},
		{20000, time.Second},
		{math.NaN(), 100 * time.Millisecond},
	}

	for _, tc := range testCases {
		if got := MillisToDuration(tc.in); got != tc.want {
			t.Errorf("MillisToDuration(%v) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
