package content

import (
	"errors"
	"testing"
)

func testPools() map[string][]string {
	return map[string][]string{
		"day_tip": {"a", "b", "c"},
		"single":  {"only"},
		"emoji":   {"😀", "😆", "😎", "🥳", "🤩", "🤗", "🙌", "🌈", "⭐", "✨", "🍀"},
	}
}

func contains(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}

func TestNewSelectorRejectsEmptyPool(t *testing.T) {
	_, err := NewSelector(map[string][]string{"ok": {"x"}, "broken": {}})
	if !errors.Is(err, ErrEmptyPool) {
		t.Fatalf("expected ErrEmptyPool, got %v", err)
	}
}

func TestPickReturnsPoolMember(t *testing.T) {
	pools := testPools()
	s, err := NewSelector(pools)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for category, items := range pools {
		for i := 0; i < 100; i++ {
			got, err := s.Pick(category)
			if err != nil {
				t.Fatalf("Pick(%q) error: %v", category, err)
			}
			if !contains(items, got) {
				t.Fatalf("Pick(%q) = %q, not a pool member", category, got)
			}
		}
	}
}

func TestPickSingleElementPool(t *testing.T) {
	s, _ := NewSelector(testPools())
	got, err := s.Pick("single")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "only" {
		t.Errorf("expected %q, got %q", "only", got)
	}
}

func TestPickUnknownCategory(t *testing.T) {
	s, _ := NewSelector(testPools())
	if _, err := s.Pick("nope"); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("expected ErrUnknownCategory, got %v", err)
	}
	if _, err := s.PickMany("nope", 1); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestPickManyDistinctMembers(t *testing.T) {
	pools := testPools()
	s, _ := NewSelector(pools)

	for i := 0; i < 100; i++ {
		got, err := s.PickMany("emoji", 5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 5 {
			t.Fatalf("expected 5 items, got %d", len(got))
		}
		seen := make(map[string]bool)
		for _, v := range got {
			if !contains(pools["emoji"], v) {
				t.Fatalf("%q is not a pool member", v)
			}
			if seen[v] {
				t.Fatalf("duplicate item %q in %v", v, got)
			}
			seen[v] = true
		}
	}
}

func TestPickManyTooLarge(t *testing.T) {
	s, _ := NewSelector(testPools())
	if _, err := s.PickMany("day_tip", 4); !errors.Is(err, ErrSampleTooLarge) {
		t.Errorf("expected ErrSampleTooLarge, got %v", err)
	}
}

func TestSelectorCopiesPools(t *testing.T) {
	pools := map[string][]string{"x": {"one"}}
	s, _ := NewSelector(pools)
	pools["x"][0] = "mutated"

	got, _ := s.Pick("x")
	if got != "one" {
		t.Errorf("selector should not observe caller mutation, got %q", got)
	}
	if !s.Has("x") || s.Has("y") || s.Size("x") != 1 {
		t.Error("Has/Size report wrong values")
	}
	if cats := s.Categories(); len(cats) != 1 || cats[0] != "x" {
		t.Errorf("unexpected categories %v", cats)
	}
}
