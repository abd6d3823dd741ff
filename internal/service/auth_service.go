package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/stemsi/exstem-proctor/internal/config"
)

// TokenType distinguishes the presentation shell from proctor tooling.
type TokenType string

const (
	TokenTypeShell   TokenType = "shell"
	TokenTypeProctor TokenType = "proctor"
)

// Claims extends JWT standard claims with the device the token was issued for.
type Claims struct {
	jwt.RegisteredClaims
	TokenType TokenType `json:"token_type"`
	DeviceID  string    `json:"device_id"`
}

// AuthService issues and validates local API tokens and checks the proctor
// override password.
type AuthService struct {
	cfg *config.Config
	now func() time.Time
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{cfg: cfg, now: time.Now}
}

// HashPassword hashes a password with the configured bcrypt cost.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	return string(hash), err
}

// VerifyProctorOverride checks password against PROCTOR_PASSWORD_HASH.
// Privileged actions are refused outright when no hash is configured.
func (s *AuthService) VerifyProctorOverride(password string) error {
	if s.cfg.ProctorPasswordHash == "" {
		return ErrOverrideDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.ProctorPasswordHash), []byte(password)); err != nil {
		return ErrInvalidOverride
	}
	return nil
}

// GenerateToken creates a JWT of the given type for this device.
func (s *AuthService) GenerateToken(tokenType TokenType, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = s.cfg.JWTExpiry
	}
	now := s.now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   s.cfg.DeviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType: tokenType,
		DeviceID:  s.cfg.DeviceID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a JWT, returning the claims. Tokens
// minted for another device are rejected.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.DeviceID != s.cfg.DeviceID {
		return nil, errors.New("token issued for another device")
	}
	return claims, nil
}
