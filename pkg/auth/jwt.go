package auth

import (
	"crypto/rand"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// JWTBearer authenticates clients that already hold a bearer token rather
// than a password, verifying it as an HS256 JWT signed with the
// configured secret. The "challenge" here is nominal — the client is
// expected to already possess the token out-of-band — but the shape still
// fits the challenge/response packet flow from spec §4.C.
type JWTBearer struct {
	Issuer string
}

func NewJWTBearer(issuer string) *JWTBearer {
	return &JWTBearer{Issuer: issuer}
}

func (j *JWTBearer) Name() string { return "jwt-bearer" }

func (j *JWTBearer) NewChallenge() (Challenge, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return Challenge{}, fmt.Errorf("auth: generate nonce: %w", err)
	}
	return Challenge{
		Bytes:  nonce,
		Digest: "jwt-hs256",
		Prompt: "bearer token",
	}, nil
}

// Verify parses response as a JWT and checks its signature, issuer, and
// that its "nonce" claim echoes the challenge bytes (binding the token to
// this specific handshake).
func (j *JWTBearer) Verify(ch Challenge, response []byte, secret string) (bool, error) {
	token, err := jwt.Parse(string(response), func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(j.Issuer))
	if err != nil {
		return false, fmt.Errorf("auth: parse jwt: %w", err)
	}
	if !token.Valid {
		return false, nil
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return false, fmt.Errorf("auth: unexpected claims type")
	}
	nonce, _ := claims["nonce"].(string)
	return nonce == string(ch.Bytes), nil
}
