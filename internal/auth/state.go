// ABOUTME: Signed OAuth state parameter for correlating provider callbacks
// ABOUTME: Uses HS256 signing with configurable secret

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// State errors
var (
	ErrInvalidState = errors.New("invalid state")
	ErrExpiredState = errors.New("state expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// stateTTL bounds how long an authorization redirect stays redeemable.
const stateTTL = 10 * time.Minute

// Signer encodes the user id into the OAuth state parameter and recovers it
// from the provider callback. With a signing key the state is an HS256 JWT;
// without one it is the raw user id, which preserves the original forgeable
// behavior as the compatible default.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer. An empty secret selects pass-through mode.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign encodes the user id as the state parameter.
func (s *Signer) Sign(userID string) (string, error) {
	if len(s.secret) == 0 {
		return userID, nil
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(stateTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify recovers the user id from a state parameter.
func (s *Signer) Verify(state string) (userID string, err error) {
	if len(s.secret) == 0 {
		if state == "" {
			return "", ErrInvalidState
		}
		return state, nil
	}

	token, err := jwt.Parse(state, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredState
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidState, err)
	}

	if !token.Valid {
		return "", ErrInvalidState
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidState
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return sub, nil
}
