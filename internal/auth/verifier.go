// Package auth resolves bearer tokens to user identities.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carries the authenticated user id as the JWT subject.
type Claims struct {
	UserID int `json:"user_id"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 tokens issued by the identity service.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier for the shared secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// ValidateToken returns the user id carried by token.
func (v *Verifier) ValidateToken(token string) (int, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID := claims.UserID
	if userID == 0 && claims.Subject != "" {
		if id, err := strconv.Atoi(claims.Subject); err == nil {
			userID = id
		}
	}
	if userID <= 0 {
		return 0, fmt.Errorf("%w: missing user id", ErrInvalidToken)
	}
	return userID, nil
}

// Issue signs a token for userID. Used by tooling and tests; production tokens
// come from the identity service.
func (v *Verifier) Issue(userID int, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
