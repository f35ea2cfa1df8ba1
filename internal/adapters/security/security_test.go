package security

import (
	"context"
	"testing"
	"time"
)

func TestHMACTokenVerifier(t *testing.T) {
	t.Parallel()
	verifier, err := NewHMACTokenVerifier("top-secret", "mesh-auth")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	token, err := SignHS256("top-secret", "mesh-auth", "user-1", "admin", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := verifier.VerifyToken(context.Background(), token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !claims.Valid || claims.UserID != "user-1" || claims.Role != "admin" {
		t.Fatalf("unexpected claims %+v", claims)
	}

	cases := map[string]func() (string, error){
		"wrong secret": func() (string, error) { return SignHS256("other", "mesh-auth", "user-1", "admin", time.Hour) },
		"wrong issuer": func() (string, error) { return SignHS256("top-secret", "elsewhere", "user-1", "admin", time.Hour) },
		"expired":      func() (string, error) { return SignHS256("top-secret", "mesh-auth", "user-1", "admin", -time.Hour) },
	}
	for name, mint := range cases {
		raw, err := mint()
		if err != nil {
			t.Fatalf("%s: sign: %v", name, err)
		}
		if _, err := verifier.VerifyToken(context.Background(), raw); err == nil {
			t.Fatalf("%s: expected rejection", name)
		}
	}
	if _, err := NewHMACTokenVerifier(" ", ""); err == nil {
		t.Fatalf("empty secret should be rejected")
	}
}

func TestBcryptSecretVerifier(t *testing.T) {
	t.Parallel()
	hash, err := HashSecret("cron-secret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	verifier := NewBcryptSecretVerifier(hash)
	if !verifier.VerifySecret("cron-secret") {
		t.Fatalf("expected matching secret to verify")
	}
	if verifier.VerifySecret("guess") || verifier.VerifySecret("") {
		t.Fatalf("mismatched secret must not verify")
	}
	if NewBcryptSecretVerifier("").VerifySecret("cron-secret") {
		t.Fatalf("empty hash must reject everything")
	}
}
