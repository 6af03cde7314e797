// Package auth binds caller identities (EVM-style addresses) to credentials
// and session tokens. The ledger itself never sees credentials, only the
// resolved caller address.
package auth

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/agelabs/escrow/internal/models"
)

// ErrDuplicateAddress is returned when registering an address twice.
var ErrDuplicateAddress = errors.New("address already registered")

// ErrInvalidCredentials is returned for a failed login.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Account links one address to one credential.
type Account struct {
	ID        uuid.UUID
	Address   models.Address
	CreatedAt time.Time
}

// Repo is the account store consumed by the service.
type Repo interface {
	Create(ctx context.Context, address models.Address, secretHash string) (*Account, error)
	GetByAddress(ctx context.Context, address models.Address) (*Account, string, error)
}

type Service interface {
	Register(ctx context.Context, address models.Address, secret string) (*Account, error)
	Login(ctx context.Context, address models.Address, secret string) (string, error)
	ValidateToken(ctx context.Context, token string) (models.Address, error)
}

type service struct {
	repo   Repo
	secret []byte
}

// NewService reads the signing secret from JWT_SECRET, with a dev default.
func NewService(repo Repo) *service {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "escrow-dev-secret"
	}
	return &service{repo: repo, secret: []byte(secret)}
}

var _ Service = (*service)(nil)

func (s *service) Register(ctx context.Context, address models.Address, secret string) (*Account, error) {
	if address.IsZero() {
		return nil, errors.New("address must not be zero")
	}
	if secret == "" {
		return nil, errors.New("secret must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return s.repo.Create(ctx, address, string(hash))
}

func (s *service) Login(ctx context.Context, address models.Address, secret string) (string, error) {
	acc, hash, err := s.repo.GetByAddress(ctx, address)
	if err != nil {
		return "", err
	}
	if acc == nil {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.issueToken(acc.Address)
}

func (s *service) issueToken(address models.Address) (string, error) {
	c := jwt.RegisteredClaims{
		Subject:   address.String(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(_ context.Context, token string) (models.Address, error) {
	tok, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return models.ZeroAddress, err
	}
	c, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || !tok.Valid {
		return models.ZeroAddress, errors.New("invalid token")
	}
	return models.ParseAddress(c.Subject)
}
