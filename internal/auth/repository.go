package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agelabs/escrow/internal/models"
)

// Repository stores accounts in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Repo = (*Repository)(nil)

// Create inserts a new account, failing with ErrDuplicateAddress on a reused
// address.
func (r *Repository) Create(ctx context.Context, address models.Address, secretHash string) (*Account, error) {
	acc := &Account{ID: uuid.New(), Address: address}
	row := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, address, secret_hash)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, acc.ID, address.String(), secretHash)
	if err := row.Scan(&acc.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateAddress
		}
		return nil, err
	}
	return acc, nil
}

// GetByAddress returns the account and secret hash for login. A nil account
// with nil error means not found.
func (r *Repository) GetByAddress(ctx context.Context, address models.Address) (*Account, string, error) {
	var acc Account
	var addr, secretHash string
	row := r.pool.QueryRow(ctx, `
		SELECT id, address, secret_hash, created_at FROM accounts WHERE address = $1
	`, address.String())
	if err := row.Scan(&acc.ID, &addr, &secretHash, &acc.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", nil
		}
		return nil, "", err
	}
	parsed, err := models.ParseAddress(addr)
	if err != nil {
		return nil, "", err
	}
	acc.Address = parsed
	return &acc, secretHash, nil
}
