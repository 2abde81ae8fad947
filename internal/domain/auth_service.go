package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Vovarama1992/fonodesk/internal/ports"
	"github.com/golang-jwt/jwt/v5"
	nanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenIssuer  = "fonodesk"
	tokenSubject = "operator"

	DefaultTokenTTL = 12 * time.Hour
)

var (
	ErrInvalidPassword = errors.New("invalid password")
	ErrSecretTooShort  = errors.New("auth secret must be at least 32 bytes")
)

type authService struct {
	ops    ports.OperatorRepository
	secret []byte
	ttl    time.Duration
}

func NewAuthService(ops ports.OperatorRepository, secret string, ttl time.Duration) (ports.AuthService, error) {
	if len(secret) < 32 {
		return nil, ErrSecretTooShort
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &authService{
		ops:    ops,
		secret: []byte(secret),
		ttl:    ttl,
	}, nil
}

// HashPassword produces the bcrypt hash stored for the operator.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

func (s *authService) Login(ctx context.Context, password string) (string, error) {
	hash, err := s.ops.PasswordHash(ctx)
	if err != nil {
		return "", fmt.Errorf("load operator: %w", err)
	}
	if hash == "" {
		return "", ErrInvalidPassword
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", ErrInvalidPassword
	}

	return s.sign()
}

func (s *authService) ValidateToken(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithSubject(tokenSubject))
	if err != nil {
		return false, nil
	}
	return parsed.Valid, nil
}

func (s *authService) sign() (string, error) {
	id, err := nanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   tokenSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        id,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
