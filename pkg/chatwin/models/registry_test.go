package models

import "testing"

func TestLookupExact(t *testing.T) {
	r := NewRegistry(nil)

	info := r.Lookup("gpt-4o")
	if info.ContextWindow != 128000 {
		t.Errorf("gpt-4o context window = %d, want 128000", info.ContextWindow)
	}
	if !info.Vision {
		t.Errorf("gpt-4o should support vision")
	}
}

func TestLookupPrefix(t *testing.T) {
	r := NewRegistry(nil)

	// Dated releases resolve through the family prefix.
	info := r.Lookup("claude-sonnet-4-20250514")
	if info.ContextWindow != 200000 {
		t.Errorf("claude-sonnet-4-20250514 context window = %d, want 200000", info.ContextWindow)
	}
}

func TestLookupPrefersLongestPrefix(t *testing.T) {
	r := NewRegistry(nil)

	// "glm-4v-plus" matches both the glm-4 and glm-4v families; the more
	// specific one must win, deterministically.
	for i := 0; i < 10; i++ {
		info := r.Lookup("glm-4v-plus")
		if info.ContextWindow != 8192 || !info.Vision {
			t.Fatalf("glm-4v-plus resolved to %+v, want the glm-4v entry", info)
		}
	}
}

func TestLookupUnknownFallsBackToDefault(t *testing.T) {
	r := NewRegistry(nil)

	info := r.Lookup("some-experimental-model")
	if info != DefaultInfo {
		t.Errorf("unknown model info = %+v, want %+v", info, DefaultInfo)
	}
	if info.ContextWindow != 8192 || info.Vision {
		t.Errorf("default info must be conservative: %+v", info)
	}
	if r.Known("some-experimental-model") {
		t.Errorf("Known() should be false for unregistered model")
	}
}

func TestOverridesWin(t *testing.T) {
	r := NewRegistry(map[string]Info{
		"gpt-4o":   {ContextWindow: 64000, Vision: false},
		"in-house": {ContextWindow: 4096, Vision: false},
	})

	if got := r.Lookup("gpt-4o").ContextWindow; got != 64000 {
		t.Errorf("override context window = %d, want 64000", got)
	}
	if got := r.Lookup("in-house").ContextWindow; got != 4096 {
		t.Errorf("custom entry context window = %d, want 4096", got)
	}
}
