package service

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/stemsi/exstem-proctor/internal/config"
)

func newTestAuth(t *testing.T) *AuthService {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("proctor-pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return NewAuthService(&config.Config{
		JWTSecret:           "test-secret",
		JWTExpiry:           time.Hour,
		BcryptCost:          bcrypt.MinCost,
		ProctorPasswordHash: string(hash),
		DeviceID:            "kiosk-1",
	})
}

func TestTokenRoundTrip(t *testing.T) {
	auth := newTestAuth(t)
	token, err := auth.GenerateToken(TokenTypeShell, 0)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.TokenType != TokenTypeShell || claims.DeviceID != "kiosk-1" || claims.Subject != "kiosk-1" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTokenRejected(t *testing.T) {
	auth := newTestAuth(t)
	token, _ := auth.GenerateToken(TokenTypeShell, time.Minute)

	other := newTestAuth(t)
	other.cfg.DeviceID = "kiosk-2"

	expired := newTestAuth(t)
	expired.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	wrongKey := newTestAuth(t)
	wrongKey.cfg.JWTSecret = "another-secret"

	tests := []struct {
		name string
		auth *AuthService
		tok  string
	}{
		{"garbage", auth, "not-a-token"},
		{"other device", other, token},
		{"expired", expired, token},
		{"wrong key", wrongKey, token},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.auth.ValidateToken(tt.tok); err == nil {
				t.Error("token accepted")
			}
		})
	}
}

func TestVerifyProctorOverride(t *testing.T) {
	auth := newTestAuth(t)
	if err := auth.VerifyProctorOverride("proctor-pass"); err != nil {
		t.Errorf("valid password rejected: %v", err)
	}
	if err := auth.VerifyProctorOverride("guess"); !errors.Is(err, ErrInvalidOverride) {
		t.Errorf("wrong password err = %v", err)
	}

	auth.cfg.ProctorPasswordHash = ""
	if err := auth.VerifyProctorOverride("proctor-pass"); !errors.Is(err, ErrOverrideDisabled) {
		t.Errorf("unconfigured override err = %v", err)
	}
}
