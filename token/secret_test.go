package token

import (
	"strings"
	"testing"
)

func TestHashSecretDeterministic(t *testing.T) {
	raw := "raw-secret-value"

	first := HashSecret(raw)
	second := HashSecret(raw)

	if first != second {
		t.Fatalf("expected identical digests, got %q and %q", first, second)
	}
	if first == raw {
		t.Fatal("digest must not equal the raw secret")
	}
}

func TestHashSecretDistinguishesInputs(t *testing.T) {
	if HashSecret("secret-a") == HashSecret("secret-b") {
		t.Fatal("expected distinct digests for distinct inputs")
	}
	if HashSecret("") == HashSecret("secret-a") {
		t.Fatal("expected empty input digest to differ")
	}
}

func TestHashSecretFixedLength(t *testing.T) {
	// SHA-256 is 32 bytes; base64url without padding renders 43 characters.
	inputs := []string{"", "a", strings.Repeat("x", 4096)}
	for _, in := range inputs {
		if got := len(HashSecret(in)); got != 43 {
			t.Fatalf("expected 43-char digest for input len %d, got %d", len(in), got)
		}
	}
}

func TestNewSecretUniqueAndHashable(t *testing.T) {
	first, err := NewSecret()
	if err != nil {
		t.Fatalf("new secret: %v", err)
	}
	second, err := NewSecret()
	if err != nil {
		t.Fatalf("new secret: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct secrets")
	}
	if !hashEqual(HashSecret(first), HashSecret(first)) {
		t.Fatal("digest of the same secret must compare equal")
	}
	if hashEqual(HashSecret(first), HashSecret(second)) {
		t.Fatal("digests of distinct secrets must not compare equal")
	}
}

func TestNewTokenIDUnique(t *testing.T) {
	seen := make(map[string]struct{}, 64)
	for i := 0; i < 64; i++ {
		id := NewTokenID()
		if id == "" {
			t.Fatal("expected non-empty token ID")
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate token ID %q", id)
		}
		seen[id] = struct{}{}
	}
}
