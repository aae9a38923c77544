package ids

import "testing"

func TestNew(t *testing.T) {
	a := New()
	b := New()

	if len(a) != 36 {
		t.Fatalf("expected 36-char id, got %d", len(a))
	}
	if a == b {
		t.Fatalf("expected distinct ids, got duplicates")
	}
}

func TestNewLinkCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code := NewLinkCode()
		if !ValidLinkCode(code) {
			t.Fatalf("generated code %q does not match the link code format", code)
		}
		seen[code] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expected distinct codes across 50 draws, got %d", len(seen))
	}
}

func TestValidLinkCode(t *testing.T) {
	valid := []string{"ABC123", "ZZZZZZ", "000000"}
	for _, code := range valid {
		if !ValidLinkCode(code) {
			t.Fatalf("expected %q to be valid", code)
		}
	}

	invalid := []string{"", "abc123", "ABC12", "ABC1234", "ABC-12", "ABC 12"}
	for _, code := range invalid {
		if ValidLinkCode(code) {
			t.Fatalf("expected %q to be invalid", code)
		}
	}
}
