package security

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer is the iss claim on JWT auth tokens.
const TokenIssuer = "hutch"

// DefaultTokenValidity is the lifetime of issued auth tokens unless a
// caller requests another one.
const DefaultTokenValidity = 30 * 24 * time.Hour

// Tokens are signed with the account password hash, so changing the
// password revokes all outstanding tokens for the account.

// CreateToken issues a JWT auth token for a user id.
func CreateToken(id, passwordHash string, expiry time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    TokenIssuer,
		Subject:   id,
		ExpiresAt: jwt.NewNumericDate(expiry),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(passwordHash))
	if err != nil {
		return "", authErrorf(AuthToken, "failed to sign token: %v", err)
	}
	return signed, nil
}

// CreateLegacyToken issues a token in the pre-JWT format still
// accepted from older clients: base64("id:expiry-millis:signature").
func CreateLegacyToken(id, passwordHash string, expiry time.Time) string {
	millis := strconv.FormatInt(expiry.UnixMilli(), 10)
	sig := ChallengeResponse(passwordHash, id+":"+millis)
	raw := id + ":" + millis + ":" + sig
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// IsJWT reports whether a token string looks like a JWT rather than a
// legacy token.
func IsJWT(token string) bool {
	return strings.Count(token, ".") == 2
}

// TokenSubject extracts the user id from a token without verifying
// it. The caller must verify with VerifyToken before trusting the
// identity.
func TokenSubject(token string) (string, error) {
	if IsJWT(token) {
		claims := jwt.RegisteredClaims{}
		parser := jwt.NewParser()
		if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
			return "", authErrorf(AuthToken, "malformed token: %v", err)
		}
		if claims.Subject == "" {
			return "", authErrorf(AuthToken, "token missing subject")
		}
		return claims.Subject, nil
	}
	id, _, _ := splitLegacyToken(token)
	if id == "" {
		return "", authErrorf(AuthToken, "malformed token")
	}
	return id, nil
}

// VerifyToken validates a token against the account password hash and
// returns the user id. Tokens expiring before authorizedTime are
// revoked: raising a user's authorized time invalidates every token
// issued with an earlier expiry.
func VerifyToken(token, passwordHash string, authorizedTime, now time.Time) (string, error) {
	if IsJWT(token) {
		return verifyJWT(token, passwordHash, authorizedTime)
	}
	return verifyLegacyToken(token, passwordHash, authorizedTime, now)
}

func verifyJWT(token, passwordHash string, authorizedTime time.Time) (string, error) {
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) {
			return []byte(passwordHash), nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return "", authErrorf(AuthToken, "invalid token: %v", err)
	}
	if claims.ExpiresAt.Time.Before(authorizedTime) {
		return "", authErrorf(AuthToken, "token revoked")
	}
	return claims.Subject, nil
}

func verifyLegacyToken(token, passwordHash string, authorizedTime, now time.Time) (string, error) {
	id, millis, sig := splitLegacyToken(token)
	expiry := time.UnixMilli(millis)
	if now.After(expiry) {
		return "", authErrorf(AuthToken, "token expired")
	}
	expected := ChallengeResponse(passwordHash, id+":"+strconv.FormatInt(millis, 10))
	if !equalHash(sig, expected) {
		return "", authErrorf(AuthToken, "invalid token signature")
	}
	if expiry.Before(authorizedTime) {
		return "", authErrorf(AuthToken, "token revoked")
	}
	return id, nil
}

// splitLegacyToken decodes a legacy token into its parts. The decode
// is total: missing parts come back as empty strings and a non-numeric
// expiry as 0, leaving the expiry and digest checks to reject the
// token.
func splitLegacyToken(token string) (string, int64, string) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		// Older clients encoded with the URL-safe alphabet.
		raw, err = base64.URLEncoding.DecodeString(token)
	}
	if err != nil {
		raw = nil
	}
	parts := strings.SplitN(string(raw), ":", 3)
	for len(parts) < 3 {
		parts = append(parts, "")
	}
	millis, _ := strconv.ParseInt(parts[1], 10, 64)
	return parts[0], millis, parts[2]
}
