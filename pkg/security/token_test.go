package security

import (
	"encoding/base64"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestJWTRoundTrip(t *testing.T) {
	hash := PasswordHash("admin", "Hutch", "s3cret")
	token, err := CreateToken("admin", hash, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !IsJWT(token) {
		t.Fatal("expected a JWT-shaped token")
	}

	subject, err := TokenSubject(token)
	if err != nil || subject != "admin" {
		t.Errorf("expected subject admin, got %q (%v)", subject, err)
	}

	id, err := VerifyToken(token, hash, time.Time{}, time.Now())
	if err != nil || id != "admin" {
		t.Errorf("expected verification to pass, got %q (%v)", id, err)
	}
}

func TestJWTRejectsWrongKey(t *testing.T) {
	hash := PasswordHash("admin", "Hutch", "s3cret")
	token, err := CreateToken("admin", hash, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	// password change produces a new signing key
	newHash := PasswordHash("admin", "Hutch", "changed")
	_, err = VerifyToken(token, newHash, time.Time{}, time.Now())
	authErr := IsAuthError(err)
	if authErr == nil || authErr.Kind != AuthToken {
		t.Errorf("expected token auth error, got %v", err)
	}
}

func TestJWTRejectsExpired(t *testing.T) {
	hash := PasswordHash("admin", "Hutch", "s3cret")
	token, err := CreateToken("admin", hash, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := VerifyToken(token, hash, time.Time{}, time.Now()); err == nil {
		t.Error("expected expired token to fail")
	}
}

func TestLegacyTokenRoundTrip(t *testing.T) {
	hash := PasswordHash("admin", "Hutch", "s3cret")
	token := CreateLegacyToken("admin", hash, time.Now().Add(time.Hour))
	if IsJWT(token) {
		t.Fatal("expected a legacy-shaped token")
	}

	// Legacy tokens travel as standard base64 over "id:millis:digest".
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		t.Fatalf("expected standard base64 encoding: %v", err)
	}
	if parts := strings.Split(string(raw), ":"); len(parts) != 3 || parts[0] != "admin" {
		t.Errorf("unexpected token layout: %q", raw)
	}

	subject, err := TokenSubject(token)
	if err != nil || subject != "admin" {
		t.Errorf("expected subject admin, got %q (%v)", subject, err)
	}

	id, err := VerifyToken(token, hash, time.Time{}, time.Now())
	if err != nil || id != "admin" {
		t.Errorf("expected verification to pass, got %q (%v)", id, err)
	}
}

func TestLegacyTokenURLSafeAccepted(t *testing.T) {
	hash := PasswordHash("admin", "Hutch", "s3cret")
	millis := strconv.FormatInt(time.Now().Add(time.Hour).UnixMilli(), 10)
	raw := "admin:" + millis + ":" + ChallengeResponse(hash, "admin:"+millis)

	// older clients sent the URL-safe alphabet
	token := base64.URLEncoding.EncodeToString([]byte(raw))
	id, err := VerifyToken(token, hash, time.Time{}, time.Now())
	if err != nil || id != "admin" {
		t.Errorf("expected URL-safe token to verify, got %q (%v)", id, err)
	}
}

func TestLegacyTokenRejects(t *testing.T) {
	hash := PasswordHash("admin", "Hutch", "s3cret")

	expired := CreateLegacyToken("admin", hash, time.Now().Add(-time.Minute))
	if _, err := VerifyToken(expired, hash, time.Time{}, time.Now()); err == nil {
		t.Error("expected expired legacy token to fail")
	}

	forged := CreateLegacyToken("admin", "0000", time.Now().Add(time.Hour))
	if _, err := VerifyToken(forged, hash, time.Time{}, time.Now()); err == nil {
		t.Error("expected forged legacy token to fail")
	}
}

func TestLegacyTokenLenientDecode(t *testing.T) {
	hash := PasswordHash("admin", "Hutch", "s3cret")
	now := time.Now()

	// Malformed tokens decode totally: missing parts become empty,
	// a non-numeric expiry becomes zero, and the expiry or digest
	// check produces the failure.
	tests := []string{
		"!!!not-base64!!!",
		base64.StdEncoding.EncodeToString([]byte("admin")),
		base64.StdEncoding.EncodeToString([]byte("admin:notanumber:digest")),
		base64.StdEncoding.EncodeToString([]byte("admin:" + strconv.FormatInt(now.Add(time.Hour).UnixMilli(), 10))),
	}
	for _, token := range tests {
		_, err := VerifyToken(token, hash, time.Time{}, now)
		authErr := IsAuthError(err)
		if authErr == nil || authErr.Kind != AuthToken {
			t.Errorf("expected token auth error for %q, got %v", token, err)
		}
	}

	// the id still comes through for two-part tokens
	subject, err := TokenSubject(base64.StdEncoding.EncodeToString([]byte("alice:123")))
	if err != nil || subject != "alice" {
		t.Errorf("expected subject alice, got %q (%v)", subject, err)
	}
}

func TestTokenRevocation(t *testing.T) {
	hash := PasswordHash("admin", "Hutch", "s3cret")
	expiry := time.Now().Add(time.Hour)

	jwtToken, err := CreateToken("admin", hash, expiry)
	if err != nil {
		t.Fatal(err)
	}
	for name, token := range map[string]string{
		"legacy": CreateLegacyToken("admin", hash, expiry),
		"jwt":    jwtToken,
	} {
		if _, err := VerifyToken(token, hash, expiry.Add(-time.Minute), time.Now()); err != nil {
			t.Errorf("%s: expected token authorized before expiry to pass: %v", name, err)
		}

		// raising the authorized time past the expiry revokes it
		_, err := VerifyToken(token, hash, expiry.Add(time.Minute), time.Now())
		authErr := IsAuthError(err)
		if authErr == nil || authErr.Kind != AuthToken {
			t.Errorf("%s: expected revoked token to fail, got %v", name, err)
		}
	}
}
