package environment_test

import (
	"testing"
	"time"

	"github.com/bdobrica/Kokoro/common/environment"
)

func TestStringOr(t *testing.T) {
	t.Setenv("KOKORO_TEST_STRING", "  claude-3-haiku  ")
	if got := environment.StringOr("KOKORO_TEST_STRING", "fallback"); got != "claude-3-haiku" {
		t.Errorf("expected trimmed value, got %q", got)
	}
	t.Setenv("KOKORO_TEST_BLANK", "   ")
	if got := environment.StringOr("KOKORO_TEST_BLANK", "fallback"); got != "fallback" {
		t.Errorf("expected fallback for blank value, got %q", got)
	}
	if got := environment.StringOr("KOKORO_TEST_STRING_MISSING", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
}

func TestSecret(t *testing.T) {
	t.Setenv("KOKORO_TEST_SECRET", "sk-abc ")
	if got := environment.Secret("KOKORO_TEST_SECRET"); got != "sk-abc " {
		t.Errorf("secret should be returned verbatim, got %q", got)
	}
	if got := environment.Secret("KOKORO_TEST_SECRET_MISSING"); got != "" {
		t.Errorf("missing secret should be empty, got %q", got)
	}
}

func TestBoolOr(t *testing.T) {
	t.Setenv("KOKORO_TEST_BOOL", "true")
	if !environment.BoolOr("KOKORO_TEST_BOOL", false) {
		t.Error("expected true")
	}
	t.Setenv("KOKORO_TEST_BOOL", "nope")
	if !environment.BoolOr("KOKORO_TEST_BOOL", true) {
		t.Error("expected fallback for unparseable value")
	}
}

func TestIntOr(t *testing.T) {
	t.Setenv("KOKORO_TEST_INT", "1536")
	if got := environment.IntOr("KOKORO_TEST_INT", 0); got != 1536 {
		t.Errorf("expected 1536, got %d", got)
	}
	t.Setenv("KOKORO_TEST_INT", "lots")
	if got := environment.IntOr("KOKORO_TEST_INT", 7); got != 7 {
		t.Errorf("expected fallback 7, got %d", got)
	}
}

func TestFloat64Or(t *testing.T) {
	t.Setenv("KOKORO_TEST_FLOAT", "0.25")
	if got := environment.Float64Or("KOKORO_TEST_FLOAT", 1); got != 0.25 {
		t.Errorf("expected 0.25, got %v", got)
	}
	if got := environment.Float64Or("KOKORO_TEST_FLOAT_MISSING", 0); got != 0 {
		t.Errorf("expected fallback 0, got %v", got)
	}
}

func TestDurationOr(t *testing.T) {
	t.Setenv("KOKORO_TEST_DURATION", "45s")
	if got := environment.DurationOr("KOKORO_TEST_DURATION", time.Second); got != 45*time.Second {
		t.Errorf("expected 45s, got %v", got)
	}
	t.Setenv("KOKORO_TEST_DURATION", "soon")
	if got := environment.DurationOr("KOKORO_TEST_DURATION", time.Second); got != time.Second {
		t.Errorf("expected fallback 1s, got %v", got)
	}
}
