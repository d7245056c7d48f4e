package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource reports the current bearer token. An empty token means the
// caller is a guest.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource fixed for the lifetime of one request.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// SessionID derives a stable identifier for one login from the token. JWT
// claims are read without verifying the signature; the cart API does that.
// Opaque tokens are hashed.
func SessionID(token string) string {
	if token == "" {
		return ""
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if sid, ok := claims["sid"].(string); ok && sid != "" {
			return sid
		}
		if jti, ok := claims["jti"].(string); ok && jti != "" {
			return jti
		}
		sub, _ := claims.GetSubject()
		iat, _ := claims.GetIssuedAt()
		if sub != "" && iat != nil {
			return fmt.Sprintf("%s@%d", sub, iat.Unix())
		}
	}

	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
