package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 44-character base64 string, as produced by `openssl rand -base64 32`
const testSecret = "wJ6Qk8Qn1v9Qw1Zb2l8Qk9J3p6Qk8Qn1v9Qw1Zb2l8Qk="

const testUserID = "3f6c1a52-8c1e-4a55-9d8e-2b7f0c9a1e44"

func TestVerify(t *testing.T) {
	v := NewVerifier(testSecret)

	valid, err := SignToken(testSecret, testUserID, time.Hour)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}
	expired, err := SignToken(testSecret, testUserID, -time.Hour)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}
	wrongSecret, err := SignToken("another-secret", testUserID, time.Hour)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "valid token", token: valid},
		{name: "expired token", token: expired, wantErr: ErrExpiredToken},
		{name: "wrong secret", token: wrongSecret, wantErr: ErrInvalidToken},
		{name: "garbage", token: "not.a.jwt", wantErr: ErrInvalidToken},
		{name: "empty", token: "", wantErr: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.Verify(tt.token)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Verify() unexpected error: %v", err)
			}
			if claims.UserID() != testUserID {
				t.Errorf("UserID() = %q, want %q", claims.UserID(), testUserID)
			}
		})
	}
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   testUserID,
			Audience:  jwt.ClaimStrings{AudienceAuthenticated},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	if _, err := NewVerifier(testSecret).Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerify_RequiresAudience(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   testUserID,
			Audience:  jwt.ClaimStrings{"anon"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	if _, err := NewVerifier(testSecret).Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerify_Rotation(t *testing.T) {
	const previous = "previous-secret-value"

	oldToken, err := SignToken(previous, testUserID, time.Hour)
	if err != nil {
		t.Fatalf("SignToken() error = %v", err)
	}

	if _, err := NewVerifier(testSecret).Verify(oldToken); err == nil {
		t.Error("expected token signed with previous secret to fail without rotation")
	}

	v := NewVerifierWithRotation(testSecret, previous, DefaultLeeway)
	claims, err := v.Verify(oldToken)
	if err != nil {
		t.Fatalf("Verify() with rotation error = %v", err)
	}
	if claims.UserID() != testUserID {
		t.Errorf("UserID() = %q, want %q", claims.UserID(), testUserID)
	}
}

func TestSignToken_EmptyUserID(t *testing.T) {
	if _, err := SignToken(testSecret, "", time.Hour); !errors.Is(err, ErrEmptyUserID) {
		t.Errorf("SignToken() error = %v, want ErrEmptyUserID", err)
	}
}
