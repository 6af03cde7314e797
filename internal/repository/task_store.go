// Package repository provides the Postgres-backed stores. EnsureSchema
// creates the tables on startup; River manages its own.
package repository

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agelabs/escrow/internal/escrow"
	"github.com/agelabs/escrow/internal/models"
)

// TaskStore implements escrow.Store on Postgres. Amounts are stored as
// decimal text so token amounts beyond int64 survive the round trip.
type TaskStore struct {
	pool *pgxpool.Pool
}

// NewTaskStore returns a store over the given pool.
func NewTaskStore(pool *pgxpool.Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

var _ escrow.Store = (*TaskStore)(nil)

func (s *TaskStore) Create(ctx context.Context, t *models.Task) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (id, client, worker, attestor, asset_kind, token, amount, deadline, status, funded, work_uri, attestation_uid, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, int64(t.ID), t.Client.String(), t.Worker.String(), t.Attestor.String(), int16(t.Asset.Kind), t.Asset.Token.String(),
		t.Amount.String(), t.Deadline, int16(t.Status), t.Funded, t.WorkURI, t.AttestationUID.String(), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return escrow.ErrTaskExists
		}
		return err
	}
	return nil
}

func (s *TaskStore) Get(ctx context.Context, id uint64) (*models.Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, client, worker, attestor, asset_kind, token, amount, deadline, status, funded, work_uri, attestation_uid, created_at, updated_at
		FROM tasks WHERE id = $1
	`, int64(id))
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, escrow.ErrTaskNotFound
		}
		return nil, err
	}
	return t, nil
}

func (s *TaskStore) Update(ctx context.Context, t *models.Task) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = $2, funded = $3, work_uri = $4, attestation_uid = $5, updated_at = $6
		WHERE id = $1
	`, int64(t.ID), int16(t.Status), t.Funded, t.WorkURI, t.AttestationUID.String(), t.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return escrow.ErrTaskNotFound
	}
	return nil
}

func (s *TaskStore) List(ctx context.Context) ([]*models.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, client, worker, attestor, asset_kind, token, amount, deadline, status, funded, work_uri, attestation_uid, created_at, updated_at
		FROM tasks ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var (
		t                 models.Task
		id                int64
		assetKind, status int16
		client, worker, attestor, token, amount, attUID string
		deadline, createdAt, updatedAt                  time.Time
	)
	if err := row.Scan(&id, &client, &worker, &attestor, &assetKind, &token, &amount, &deadline, &status, &t.Funded, &t.WorkURI, &attUID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	t.ID = uint64(id)
	var err error
	if t.Client, err = models.ParseAddress(client); err != nil {
		return nil, fmt.Errorf("client column: %w", err)
	}
	if t.Worker, err = models.ParseAddress(worker); err != nil {
		return nil, fmt.Errorf("worker column: %w", err)
	}
	if t.Attestor, err = models.ParseAddress(attestor); err != nil {
		return nil, fmt.Errorf("attestor column: %w", err)
	}
	tokenAddr, err := models.ParseAddress(token)
	if err != nil {
		return nil, fmt.Errorf("token column: %w", err)
	}
	if models.AssetKind(assetKind) == models.AssetToken {
		t.Asset = models.TokenAsset(tokenAddr)
	} else {
		t.Asset = models.NativeAsset()
	}
	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, fmt.Errorf("amount column: %q is not a decimal", amount)
	}
	t.Amount = amt
	if t.AttestationUID, err = models.ParseUID(attUID); err != nil {
		return nil, fmt.Errorf("attestation_uid column: %w", err)
	}
	t.Status = models.TaskStatus(status)
	t.Deadline = deadline
	t.CreatedAt = createdAt
	t.UpdatedAt = updatedAt
	return &t, nil
}
