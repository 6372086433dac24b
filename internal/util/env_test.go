package util

import (
	"reflect"
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
		{" off ", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("TRIPPIPE_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("TRIPPIPE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 2 * time.Hour},
		{"90m", 90 * time.Minute},
		{"forever", 2 * time.Hour},
		{"-5m", 2 * time.Hour},
	}
	for _, tt := range tests {
		t.Setenv("TRIPPIPE_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("TRIPPIPE_TEST_DURATION", 2*time.Hour); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseFloatEnv(t *testing.T) {
	tests := []struct {
		value string
		want  float64
	}{
		{"", 4.0},
		{"3.5", 3.5},
		{"0", 0},
		{"four", 4.0},
	}
	for _, tt := range tests {
		t.Setenv("TRIPPIPE_TEST_FLOAT", tt.value)
		if got := ParseFloatEnv("TRIPPIPE_TEST_FLOAT", 4.0); got != tt.want {
			t.Errorf("ParseFloatEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", []string{}},
		{"https://a.example.com", []string{"https://a.example.com"}},
		{" https://a.example.com , ,https://b.example.com,https://a.example.com", []string{"https://a.example.com", "https://b.example.com"}},
	}
	for _, tt := range tests {
		got := SplitList(tt.in)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitList(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
