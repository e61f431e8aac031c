package ui

import "testing"

// Tests run without a terminal on stdout, so every helper must pass
// strings through unchanged.
func TestPlainOutputWithoutTerminal(t *testing.T) {
	for _, s := range []string{"completed", "failed", "cancelled", "running", "weird"} {
		if got := StatusBadge(s); got != s {
			t.Errorf("StatusBadge(%q) = %q, want unstyled passthrough", s, got)
		}
	}
	if got := RenderPass("done"); got != "done" {
		t.Errorf("RenderPass = %q, want %q", got, "done")
	}
	if got := RenderHeader("Sessions"); got != "Sessions" {
		t.Errorf("RenderHeader = %q, want %q", got, "Sessions")
	}
}
