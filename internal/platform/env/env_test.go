package env

import (
	"testing"
	"time"
)

func TestString(t *testing.T) {
	t.Setenv("FEEDLINE_TEST_STRING", "value")
	if got := String("FEEDLINE_TEST_STRING", "def"); got != "value" {
		t.Fatalf("String=%q, want value", got)
	}
	if got := String("FEEDLINE_TEST_STRING_MISSING", "def"); got != "def" {
		t.Fatalf("String=%q, want def", got)
	}
}

func TestInt(t *testing.T) {
	t.Setenv("FEEDLINE_TEST_INT", "42")
	got, err := Int("FEEDLINE_TEST_INT", 7)
	if err != nil || got != 42 {
		t.Fatalf("Int=(%d, %v), want (42, nil)", got, err)
	}

	got, err = Int("FEEDLINE_TEST_INT_MISSING", 7)
	if err != nil || got != 7 {
		t.Fatalf("Int=(%d, %v), want (7, nil)", got, err)
	}

	t.Setenv("FEEDLINE_TEST_INT", "nope")
	if _, err := Int("FEEDLINE_TEST_INT", 7); err == nil {
		t.Fatalf("Int with invalid value did not fail")
	}
}

func TestBool(t *testing.T) {
	t.Setenv("FEEDLINE_TEST_BOOL", "true")
	got, err := Bool("FEEDLINE_TEST_BOOL", false)
	if err != nil || !got {
		t.Fatalf("Bool=(%v, %v), want (true, nil)", got, err)
	}

	t.Setenv("FEEDLINE_TEST_BOOL", "maybe")
	if _, err := Bool("FEEDLINE_TEST_BOOL", false); err == nil {
		t.Fatalf("Bool with invalid value did not fail")
	}
}

func TestDuration(t *testing.T) {
	t.Setenv("FEEDLINE_TEST_DURATION", "90s")
	got, err := Duration("FEEDLINE_TEST_DURATION", time.Second)
	if err != nil || got != 90*time.Second {
		t.Fatalf("Duration=(%v, %v), want (90s, nil)", got, err)
	}

	t.Setenv("FEEDLINE_TEST_DURATION", "soon")
	if _, err := Duration("FEEDLINE_TEST_DURATION", time.Second); err == nil {
		t.Fatalf("Duration with invalid value did not fail")
	}
}
