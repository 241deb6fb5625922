// Package auth verifies Supabase-issued user access tokens.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default leeway for token validation.
const DefaultLeeway = 30 * time.Second

// AudienceAuthenticated is the aud claim Supabase sets on signed-in user tokens.
const AudienceAuthenticated = "authenticated"

var (
	// ErrInvalidToken is returned when token validation fails.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")

	// ErrEmptyUserID is returned when a token has no subject.
	ErrEmptyUserID = errors.New("userID cannot be empty")
)

// Claims are the Supabase access token claims used by the payment API.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// UserID returns the authenticated user's ID (the sub claim).
func (c *Claims) UserID() string {
	return c.Subject
}

// Verifier validates HS256 access tokens.
// Supports dual-key rotation: tokens validate with either the current or the previous secret.
type Verifier struct {
	currentSecret  []byte
	previousSecret []byte
	leeway         time.Duration
}

// NewVerifier creates a Verifier for the given signing secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		currentSecret: []byte(secret),
		leeway:        DefaultLeeway,
	}
}

// NewVerifierWithRotation creates a Verifier that also accepts tokens signed with previousSecret.
// Set previousSecret to empty string if no rotation is in progress.
func NewVerifierWithRotation(currentSecret, previousSecret string, leeway time.Duration) *Verifier {
	v := &Verifier{
		currentSecret: []byte(currentSecret),
		leeway:        leeway,
	}
	if previousSecret != "" {
		v.previousSecret = []byte(previousSecret)
	}
	return v
}

// Verify parses and validates a token, returning its claims.
// The token must be HS256, unexpired, carry the authenticated audience and have a subject.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims, err := v.parse(tokenString, v.currentSecret)
	if err != nil && v.previousSecret != nil && !errors.Is(err, jwt.ErrTokenExpired) {
		claims, err = v.parse(tokenString, v.previousSecret)
	}
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrEmptyUserID
	}
	return claims, nil
}

func (v *Verifier) parse(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(AudienceAuthenticated),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SignToken issues an HS256 token in the Supabase format. Used by tests and local tooling.
func SignToken(secret, userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{AudienceAuthenticated},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: AudienceAuthenticated,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
