// Package util provides utility functions for the LifeStation application.
package util

import "math/rand"

// IntInRange returns a uniformly distributed integer in the closed interval [lo, hi].
// If hi < lo the bounds are swapped.
func IntInRange(lo, hi int) int {
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo + rand.Intn(hi-lo+1)
}

// SampleIndices returns k distinct indices drawn uniformly from [0, n) without replacement,
// in random order. k is clamped to [0, n].
func SampleIndices(n, k int) []int {
	if n <= 0 || k <= 0 {
		return nil
	}
	if k > n {
		k = n
	}

	// Partial Fisher-Yates over an index permutation
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rand.Intn(n-i)
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm[:k]
}
