package password

import (
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHashAndVerify(t *testing.T) {
	b, err := NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcrypt error: %v", err)
	}

	hash, err := b.Hash("hunter22")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$bcrypt-sha256$$2a$04$") {
		t.Fatalf("unexpected encoding: %s", hash)
	}

	if ok, err := b.Verify("hunter22", hash); err != nil || !ok {
		t.Fatalf("Verify failed: ok=%v err=%v", ok, err)
	}
	if ok, err := b.Verify("hunter23", hash); err != nil || ok {
		t.Fatalf("expected mismatch: ok=%v err=%v", ok, err)
	}
}

// Two secrets that share their first 72 bytes must not verify against each
// other; signed tokens routinely do.
func TestBcryptDistinguishesLongSecrets(t *testing.T) {
	b, err := NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcrypt error: %v", err)
	}

	prefix := strings.Repeat("eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.", 3)
	first := prefix + "first-payload"
	second := prefix + "second-payload"

	hash, err := b.Hash(first)
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if ok, _ := b.Verify(second, hash); ok {
		t.Fatal("secrets sharing a 72-byte prefix must not collide")
	}
	if ok, _ := b.Verify(first, hash); !ok {
		t.Fatal("expected original long secret to verify")
	}
}

func TestBcryptVerifiesLegacyHash(t *testing.T) {
	b, err := NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcrypt error: %v", err)
	}
	legacy, err := bcrypt.GenerateFromPassword([]byte("imported"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword error: %v", err)
	}

	if ok, err := b.Verify("imported", string(legacy)); err != nil || !ok {
		t.Fatalf("expected legacy hash to verify: ok=%v err=%v", ok, err)
	}
	if up, err := b.NeedsUpgrade(string(legacy)); err != nil || !up {
		t.Fatalf("expected legacy hash to need upgrade: up=%v err=%v", up, err)
	}
}

func TestBcryptNeedsUpgradeOnCost(t *testing.T) {
	low, _ := NewBcrypt(bcrypt.MinCost)
	high, _ := NewBcrypt(bcrypt.MinCost + 1)

	hash, err := low.Hash("cost-check")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if up, _ := high.NeedsUpgrade(hash); !up {
		t.Fatal("expected lower cost to need upgrade")
	}
	if up, _ := low.NeedsUpgrade(hash); up {
		t.Fatal("expected equal cost not to need upgrade")
	}
}

func TestBcryptRejectsCostOutOfRange(t *testing.T) {
	if _, err := NewBcrypt(bcrypt.MaxCost + 1); err == nil {
		t.Fatal("expected cost above max to be rejected")
	}
	if _, err := NewBcrypt(1); err == nil {
		t.Fatal("expected cost below min to be rejected")
	}
}
