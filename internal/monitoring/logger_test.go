package monitoring

import "testing"

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...any) { called = true })
	Logf("hello")
	if !called {
		t.Error("replacement logger was not called")
	}

	// nil installs a no-op that must not panic
	SetLogger(nil)
	Logf("dropped")
}

func TestSetDebug(t *testing.T) {
	originalLog := Logf
	originalDebug := Debugf
	defer func() {
		Logf = originalLog
		Debugf = originalDebug
	}()

	var lines int
	SetLogger(func(format string, v ...any) { lines++ })

	SetDebug(false)
	Debugf("invisible")
	if lines != 0 {
		t.Fatalf("expected no debug output while disabled, got %d lines", lines)
	}

	SetDebug(true)
	Debugf("visible")
	if lines != 1 {
		t.Fatalf("expected 1 debug line, got %d", lines)
	}
}
