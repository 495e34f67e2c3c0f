package jwt

import (
	"errors"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func testKeys() map[Purpose]Key {
	return map[Purpose]Key{
		PurposeAccess:            {Secret: []byte(strings.Repeat("a", 32)), TTL: 15 * time.Minute},
		PurposeRefresh:           {Secret: []byte(strings.Repeat("r", 32)), TTL: 7 * 24 * time.Hour},
		PurposeEmailVerification: {Secret: []byte(strings.Repeat("v", 32)), TTL: time.Hour},
		PurposePasswordReset:     {Secret: []byte(strings.Repeat("p", 32)), TTL: time.Hour},
	}
}

func newTestSigner(tb testing.TB, now func() time.Time) *Signer {
	tb.Helper()
	s, err := NewSigner(Config{Keys: testKeys(), Issuer: "credcore", Now: now})
	if err != nil {
		tb.Fatalf("NewSigner: %v", err)
	}
	return s
}

func TestSignVerifyRoundTrip(t *testing.T) {
	s := newTestSigner(t, nil)

	id := Identity{UserID: "u1", Email: "a@x.io", Role: "admin", FirstName: "Ada", LastName: "L", SessionID: "s1"}
	token, exp, err := s.Sign(PurposeAccess, id)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if time.Until(exp) <= 14*time.Minute {
		t.Fatalf("unexpected expiry %v", exp)
	}

	claims, err := s.Verify(PurposeAccess, token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "a@x.io" || claims.Role != "admin" || claims.SessionID != "s1" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
	if claims.Purpose != PurposeAccess || claims.ID == "" {
		t.Fatalf("missing typ/jti: %+v", claims)
	}
}

func TestVerifyRejectsOtherPurposes(t *testing.T) {
	s := newTestSigner(t, nil)

	for _, signed := range Purposes {
		token, _, err := s.Sign(signed, Identity{UserID: "u1"})
		if err != nil {
			t.Fatalf("Sign(%s): %v", signed, err)
		}
		for _, verified := range Purposes {
			_, err := s.Verify(verified, token)
			if signed == verified && err != nil {
				t.Fatalf("Verify(%s) of own token: %v", verified, err)
			}
			if signed != verified && !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("%s token verified as %s: %v", signed, verified, err)
			}
		}
	}
}

// The typ check must hold even if two purposes were signed with one secret.
func TestVerifyChecksTypClaim(t *testing.T) {
	s := newTestSigner(t, nil)

	claims := Claims{
		Purpose: PurposeRefresh,
		RegisteredClaims: gjwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "credcore",
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	forged, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString(testKeys()[PurposeAccess].Secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := s.Verify(PurposeAccess, forged); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected typ mismatch rejection, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	issued := time.Now().Add(-2 * time.Hour)
	past := newTestSigner(t, func() time.Time { return issued })
	token, _, err := past.Sign(PurposePasswordReset, Identity{UserID: "u1"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	s := newTestSigner(t, nil)
	if _, err := s.Verify(PurposePasswordReset, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token rejection, got %v", err)
	}
}

func TestExpiredSubject(t *testing.T) {
	issued := time.Now().Add(-2 * time.Hour)
	past := newTestSigner(t, func() time.Time { return issued })
	expired, _, err := past.Sign(PurposePasswordReset, Identity{UserID: "u1"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	otherPurpose, _, err := past.Sign(PurposeEmailVerification, Identity{UserID: "u1"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	s := newTestSigner(t, nil)
	live, _, err := s.Sign(PurposePasswordReset, Identity{UserID: "u2"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	foreign, err := NewSigner(Config{Keys: testKeys(), Issuer: "elsewhere", Now: func() time.Time { return issued }})
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	otherIssuer, _, err := foreign.Sign(PurposePasswordReset, Identity{UserID: "u3"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	tests := []struct {
		name    string
		token   string
		subject string
		ok      bool
	}{
		{name: "expired", token: expired, subject: "u1", ok: true},
		{name: "live", token: live},
		{name: "other purpose", token: otherPurpose},
		{name: "other issuer", token: otherIssuer},
		{name: "tampered", token: expired[:len(expired)-2] + "xx"},
		{name: "garbage", token: "not-a-token"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			subject, ok := s.ExpiredSubject(PurposePasswordReset, tc.token)
			if ok != tc.ok || subject != tc.subject {
				t.Fatalf("ExpiredSubject = (%q, %v), want (%q, %v)", subject, ok, tc.subject, tc.ok)
			}
		})
	}
}

func TestVerifyRejectsTamperedAndNone(t *testing.T) {
	s := newTestSigner(t, nil)
	token, _, err := s.Sign(PurposeAccess, Identity{UserID: "u1"})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	tampered := token[:len(token)-2] + "xx"
	if _, err := s.Verify(PurposeAccess, tampered); err == nil {
		t.Fatal("expected tampered signature to fail")
	}

	unsigned := gjwt.NewWithClaims(gjwt.SigningMethodNone, Claims{
		Purpose:          PurposeAccess,
		RegisteredClaims: gjwt.RegisteredClaims{Subject: "u1", ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute))},
	})
	none, err := unsigned.SignedString(gjwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := s.Verify(PurposeAccess, none); err == nil {
		t.Fatal("expected alg=none to be rejected")
	}
}

func TestSignProducesDistinctTokens(t *testing.T) {
	s := newTestSigner(t, nil)
	id := Identity{UserID: "u1", SessionID: "s1"}

	a, _, _ := s.Sign(PurposeRefresh, id)
	b, _, _ := s.Sign(PurposeRefresh, id)
	if a == b {
		t.Fatal("two tokens for the same identity must differ")
	}
}

func TestNewSignerValidation(t *testing.T) {
	missing := testKeys()
	delete(missing, PurposeRefresh)
	if _, err := NewSigner(Config{Keys: missing}); err == nil {
		t.Fatal("expected missing purpose to fail")
	}

	shared := testKeys()
	shared[PurposeRefresh] = Key{Secret: shared[PurposeAccess].Secret, TTL: time.Hour}
	if _, err := NewSigner(Config{Keys: shared}); err == nil {
		t.Fatal("expected shared secret to fail")
	}

	zeroTTL := testKeys()
	zeroTTL[PurposeAccess] = Key{Secret: zeroTTL[PurposeAccess].Secret}
	if _, err := NewSigner(Config{Keys: zeroTTL}); err == nil {
		t.Fatal("expected zero TTL to fail")
	}
}
