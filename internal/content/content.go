// Package content implements the stateless content selector: random picks from fixed,
// named pools of canned strings.
package content

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/BTreeMap/LifeStation/internal/util"
)

// Error variables for content selection
var (
	// ErrEmptyPool is a configuration defect: a referenced category has no entries.
	ErrEmptyPool = errors.New("content pool is empty")
	// ErrUnknownCategory means no pool is registered under the category key.
	ErrUnknownCategory = errors.New("unknown content category")
	// ErrSampleTooLarge means more distinct items were requested than the pool holds.
	ErrSampleTooLarge = errors.New("sample size exceeds pool size")
)

// Selector picks items from immutable content pools. It is safe for concurrent use.
type Selector struct {
	pools map[string][]string
}

// NewSelector builds a Selector over pools. Pools are copied; every pool must be non-empty.
func NewSelector(pools map[string][]string) (*Selector, error) {
	copied := make(map[string][]string, len(pools))
	for category, items := range pools {
		if len(items) == 0 {
			slog.Error("Selector NewSelector empty pool", "category", category)
			return nil, fmt.Errorf("category %q: %w", category, ErrEmptyPool)
		}
		copied[category] = append([]string(nil), items...)
	}
	slog.Debug("Selector created", "categories", len(copied))
	return &Selector{pools: copied}, nil
}

// Has reports whether category names a registered pool.
func (s *Selector) Has(category string) bool {
	_, ok := s.pools[category]
	return ok
}

// Size returns the number of items in category, or 0 if unknown.
func (s *Selector) Size(category string) int {
	return len(s.pools[category])
}

// Categories returns the registered category keys in sorted order.
func (s *Selector) Categories() []string {
	keys := make([]string, 0, len(s.pools))
	for k := range s.pools {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Pick returns one uniformly chosen member of category's pool.
func (s *Selector) Pick(category string) (string, error) {
	items, ok := s.pools[category]
	if !ok {
		return "", fmt.Errorf("category %q: %w", category, ErrUnknownCategory)
	}
	if len(items) == 0 {
		return "", fmt.Errorf("category %q: %w", category, ErrEmptyPool)
	}
	return items[util.IntInRange(0, len(items)-1)], nil
}

// PickMany returns k distinct members of category's pool chosen uniformly without replacement.
func (s *Selector) PickMany(category string, k int) ([]string, error) {
	items, ok := s.pools[category]
	if !ok {
		return nil, fmt.Errorf("category %q: %w", category, ErrUnknownCategory)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("category %q: %w", category, ErrEmptyPool)
	}
	if k > len(items) {
		return nil, fmt.Errorf("category %q: want %d of %d: %w", category, k, len(items), ErrSampleTooLarge)
	}

	idx := util.SampleIndices(len(items), k)
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, items[i])
	}
	return out, nil
}
