package password

import (
	"strings"
	"testing"
)

func testParams() Argon2Params {
	return Argon2Params{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func TestArgon2HashAndVerify(t *testing.T) {
	a, err := NewArgon2(testParams())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	hash, err := a.Hash("123456")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected PHC prefix: %s", hash)
	}

	ok, err := a.Verify("123456", hash)
	if err != nil || !ok {
		t.Fatalf("Verify failed: ok=%v err=%v", ok, err)
	}
	ok, err = a.Verify("654321", hash)
	if err != nil || ok {
		t.Fatalf("expected mismatch: ok=%v err=%v", ok, err)
	}
}

func TestArgon2RejectsWeakParams(t *testing.T) {
	p := testParams()
	p.Memory = 1024
	if _, err := NewArgon2(p); err == nil {
		t.Fatal("expected low memory to be rejected")
	}
}

func TestArgon2NeedsUpgrade(t *testing.T) {
	old, err := NewArgon2(testParams())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}
	hash, err := old.Hash("upgrade-me")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	stronger := testParams()
	stronger.Time = 2
	cur, err := NewArgon2(stronger)
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	if up, err := cur.NeedsUpgrade(hash); err != nil || !up {
		t.Fatalf("expected upgrade for weaker hash: up=%v err=%v", up, err)
	}
	if up, err := old.NeedsUpgrade(hash); err != nil || up {
		t.Fatalf("expected no upgrade for same params: up=%v err=%v", up, err)
	}
}

func TestArgon2VerifyMalformed(t *testing.T) {
	a, err := NewArgon2(testParams())
	if err != nil {
		t.Fatalf("NewArgon2 error: %v", err)
	}

	hash, err := a.Hash("version-test")
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}

	cases := map[string]string{
		"garbage":       "not-a-phc-hash",
		"wrong version": strings.Replace(hash, "$v=19$", "$v=18$", 1),
		"bad params":    strings.Replace(hash, "m=8192", "m=x", 1),
		"wrong algo":    strings.Replace(hash, "argon2id", "argon2i", 1),
	}
	for name, encoded := range cases {
		if _, err := a.Verify("version-test", encoded); err == nil {
			t.Fatalf("%s: expected verification error", name)
		}
	}
}
