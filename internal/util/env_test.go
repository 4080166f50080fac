package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("LIFESTATION_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("LIFESTATION_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("LIFESTATION_TEST_DURATION", "45m")
	if got := ParseDurationEnv("LIFESTATION_TEST_DURATION", time.Minute); got != 45*time.Minute {
		t.Errorf("expected 45m, got %v", got)
	}
	t.Setenv("LIFESTATION_TEST_DURATION", "soon")
	if got := ParseDurationEnv("LIFESTATION_TEST_DURATION", time.Minute); got != time.Minute {
		t.Errorf("expected default on invalid value, got %v", got)
	}
	t.Setenv("LIFESTATION_TEST_DURATION", "-5s")
	if got := ParseDurationEnv("LIFESTATION_TEST_DURATION", time.Minute); got != time.Minute {
		t.Errorf("expected default on negative value, got %v", got)
	}
}

func TestParseFloatAndIntEnv(t *testing.T) {
	t.Setenv("LIFESTATION_TEST_FLOAT", "2.5")
	if got := ParseFloatEnv("LIFESTATION_TEST_FLOAT", 1); got != 2.5 {
		t.Errorf("expected 2.5, got %v", got)
	}
	t.Setenv("LIFESTATION_TEST_FLOAT", "x")
	if got := ParseFloatEnv("LIFESTATION_TEST_FLOAT", 1); got != 1 {
		t.Errorf("expected default, got %v", got)
	}
	t.Setenv("LIFESTATION_TEST_INT", "12")
	if got := ParseIntEnv("LIFESTATION_TEST_INT", 3); got != 12 {
		t.Errorf("expected 12, got %v", got)
	}
	t.Setenv("LIFESTATION_TEST_INT", "")
	if got := ParseIntEnv("LIFESTATION_TEST_INT", 3); got != 3 {
		t.Errorf("expected default, got %v", got)
	}
}
