package util

import (
	"testing"
)

func TestIntInRange(t *testing.T) {
	tests := []struct {
		name   string
		lo, hi int
	}{
		{name: "quiz number range", lo: 10, hi: 99},
		{name: "random number range", lo: 0, hi: 100},
		{name: "single value", lo: 7, hi: 7},
		{name: "swapped bounds", lo: 5, hi: -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi := tt.lo, tt.hi
			if hi < lo {
				lo, hi = hi, lo
			}
			for i := 0; i < 500; i++ {
				got := IntInRange(tt.lo, tt.hi)
				if got < lo || got > hi {
					t.Fatalf("IntInRange(%d, %d) = %d out of range", tt.lo, tt.hi, got)
				}
			}
		})
	}
}

func TestSampleIndices(t *testing.T) {
	for i := 0; i < 200; i++ {
		got := SampleIndices(11, 5)
		if len(got) != 5 {
			t.Fatalf("expected 5 indices, got %d", len(got))
		}
		seen := make(map[int]bool)
		for _, idx := range got {
			if idx < 0 || idx >= 11 {
				t.Fatalf("index %d out of range", idx)
			}
			if seen[idx] {
				t.Fatalf("duplicate index %d in %v", idx, got)
			}
			seen[idx] = true
		}
	}
}

func TestSampleIndicesClamps(t *testing.T) {
	if got := SampleIndices(3, 10); len(got) != 3 {
		t.Errorf("expected clamp to 3, got %d", len(got))
	}
	if got := SampleIndices(0, 2); got != nil {
		t.Errorf("expected nil for empty population, got %v", got)
	}
	if got := SampleIndices(4, 0); got != nil {
		t.Errorf("expected nil for k=0, got %v", got)
	}
}
