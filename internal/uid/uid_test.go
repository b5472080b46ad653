package uid

import (
	"encoding/hex"
	"testing"
)

func TestNewIsUniqueHex(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		if len(id) != 32 {
			t.Fatalf("len(New()) = %d, want 32", len(id))
		}
		if _, err := hex.DecodeString(id); err != nil {
			t.Fatalf("New() = %q is not hex", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestRequestIDLength(t *testing.T) {
	if got := len(RequestID()); got != 16 {
		t.Errorf("len(RequestID()) = %d, want 16", got)
	}
}
