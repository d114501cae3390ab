package logging

import "testing"

func TestNewPrefixesNodeID(t *testing.T) {
	logger := New("A")
	if logger.Prefix() != "[A] " {
		t.Fatalf("got prefix %q, want %q", logger.Prefix(), "[A] ")
	}
}
