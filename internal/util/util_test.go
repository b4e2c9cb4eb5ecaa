package util

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateRandomHex(t *testing.T) {
	hex := GenerateRandomHex(32)
	if len(hex) != 32 {
		t.Errorf("expected length 32, got %d", len(hex))
	}
	for _, c := range hex {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Errorf("unexpected character %q in hex string", c)
		}
	}
	if GenerateRandomHex(0) != "" {
		t.Error("expected empty string for zero length")
	}
}

func TestGenerateOTPCode(t *testing.T) {
	code := GenerateOTPCode(6)
	if len(code) != 6 {
		t.Errorf("expected length 6, got %d", len(code))
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			t.Errorf("unexpected character %q in OTP code", c)
		}
	}
}

func TestGenerateIDPrefixes(t *testing.T) {
	if !strings.HasPrefix(GenerateDraftID(), "d_") {
		t.Error("draft ID missing d_ prefix")
	}
	if !strings.HasPrefix(GenerateAuditID(), "a_") {
		t.Error("audit ID missing a_ prefix")
	}
}

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("VISITPIPE_TEST_BOOL", "yes")
	if !ParseBoolEnv("VISITPIPE_TEST_BOOL", false) {
		t.Error("expected true for 'yes'")
	}
	t.Setenv("VISITPIPE_TEST_BOOL", "off")
	if ParseBoolEnv("VISITPIPE_TEST_BOOL", true) {
		t.Error("expected false for 'off'")
	}
	t.Setenv("VISITPIPE_TEST_BOOL", "maybe")
	if !ParseBoolEnv("VISITPIPE_TEST_BOOL", true) {
		t.Error("expected default for invalid value")
	}
	if ParseBoolEnv("VISITPIPE_TEST_BOOL_UNSET", false) {
		t.Error("expected default for unset variable")
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("VISITPIPE_TEST_INT", " 42 ")
	if got := ParseIntEnv("VISITPIPE_TEST_INT", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("VISITPIPE_TEST_INT", "not a number")
	if got := ParseIntEnv("VISITPIPE_TEST_INT", 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("VISITPIPE_TEST_DUR", "750ms")
	if got := ParseDurationEnv("VISITPIPE_TEST_DUR", time.Second); got != 750*time.Millisecond {
		t.Errorf("expected 750ms, got %v", got)
	}
	t.Setenv("VISITPIPE_TEST_DUR", "soon")
	if got := ParseDurationEnv("VISITPIPE_TEST_DUR", time.Second); got != time.Second {
		t.Errorf("expected default 1s, got %v", got)
	}
}
