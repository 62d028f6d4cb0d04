package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		name       string
		value      string
		defaultVal bool
		want       bool
	}{
		{"unset uses default", "", true, true},
		{"true", "true", false, true},
		{"one", "1", false, true},
		{"yes uppercase", "YES", false, true},
		{"false", "false", true, false},
		{"off", "off", true, false},
		{"garbage uses default", "maybe", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "LEADFLOW_TEST_BOOL"
			if tt.value == "" {
				t.Setenv(key, "")
			} else {
				t.Setenv(key, tt.value)
			}
			if got := ParseBoolEnv(key, tt.defaultVal); got != tt.want {
				t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.defaultVal, got, tt.want)
			}
		})
	}
}

func TestParseIntEnv(t *testing.T) {
	key := "LEADFLOW_TEST_INT"

	t.Setenv(key, "12")
	if got := ParseIntEnv(key, 8); got != 12 {
		t.Errorf("expected 12, got %d", got)
	}

	t.Setenv(key, "zero")
	if got := ParseIntEnv(key, 8); got != 8 {
		t.Errorf("invalid value should use default, got %d", got)
	}

	t.Setenv(key, "-3")
	if got := ParseIntEnv(key, 8); got != 8 {
		t.Errorf("non-positive value should use default, got %d", got)
	}
}

func TestGenerateRandomID(t *testing.T) {
	id := GenerateRandomID("lead_", 32)
	if len(id) != len("lead_")+32 {
		t.Errorf("unexpected length %d for %q", len(id), id)
	}
	if id2 := GenerateRandomID("lead_", 32); id2 == id {
		t.Error("two generated IDs should differ")
	}

	if got := GenerateRandomHex(0); got != "" {
		t.Errorf("zero length should yield empty string, got %q", got)
	}
}
