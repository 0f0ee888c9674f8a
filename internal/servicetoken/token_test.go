package servicetoken

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

const testKey = "0123456789abcdef0123456789abcdef"

func newTestPair(t *testing.T, ttl time.Duration) (*Signer, *Verifier) {
	t.Helper()
	signer, err := NewSigner(SignerOptions{Key: testKey, Issuer: "callaudit", TTL: ttl})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	verifier, err := NewVerifier(VerifierOptions{
		Key:            testKey,
		Audience:       Audience,
		AllowedIssuers: []string{"callaudit"},
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return signer, verifier
}

func TestSignAndVerify(t *testing.T) {
	signer, verifier := newTestPair(t, time.Minute)

	token, err := signer.Sign(Audience)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Issuer != "callaudit" || claims.Subject != "callaudit" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatalf("missing jti")
	}
}

func TestVerifyRejectsWrongAudience(t *testing.T) {
	signer, verifier := newTestPair(t, time.Minute)
	token, err := signer.Sign("other-service")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.Verify(token); err == nil {
		t.Fatalf("wrong audience accepted")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	signer, _ := newTestPair(t, time.Minute)
	verifier, err := NewVerifier(VerifierOptions{
		Key:            strings.Repeat("x", 32),
		Audience:       Audience,
		AllowedIssuers: []string{"callaudit"},
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	token, err := signer.Sign(Audience)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.Verify(token); err == nil {
		t.Fatalf("token signed with a different key accepted")
	}
}

func TestVerifyRejectsDisallowedIssuer(t *testing.T) {
	signer, err := NewSigner(SignerOptions{Key: testKey, Issuer: "rogue", TTL: time.Minute})
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	_, verifier := newTestPair(t, time.Minute)
	token, err := signer.Sign(Audience)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.Verify(token); err == nil {
		t.Fatalf("disallowed issuer accepted")
	}
}

func TestBearerToken(t *testing.T) {
	r, _ := http.NewRequest(http.MethodPost, "/", nil)
	if _, ok := BearerToken(r); ok {
		t.Fatalf("missing header should not yield a token")
	}
	r.Header.Set("Authorization", "Bearer  abc123 ")
	token, ok := BearerToken(r)
	if !ok || token != "abc123" {
		t.Fatalf("got %q ok=%v", token, ok)
	}
	r.Header.Set("Authorization", "Basic abc123")
	if _, ok := BearerToken(r); ok {
		t.Fatalf("non-bearer scheme should be rejected")
	}
}
