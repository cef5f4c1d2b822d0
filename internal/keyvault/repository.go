package keyvault

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists key records, at most one per owner.
type Repository interface {
	Insert(ctx context.Context, record Record) error
	FindByOwner(ctx context.Context, owner string) (Record, error)
	CountByOwner(ctx context.Context, owner string) (int, error)
}

// PostgresRepository stores key records in the wallet_keys table.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert adds a record. The unique index on owner turns a lost race into ErrOwnerExists.
func (r *PostgresRepository) Insert(ctx context.Context, record Record) error {
	id, err := uuid.Parse(record.ID)
	if err != nil {
		return err
	}
	cmd, err := r.db.Exec(ctx, `INSERT INTO wallet_keys (id, owner, encrypted_key, created_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (owner) DO NOTHING`, id, record.Owner, record.Ciphertext, record.CreatedAt.UTC())
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrOwnerExists
	}
	return nil
}

// FindByOwner fetches the record for owner.
func (r *PostgresRepository) FindByOwner(ctx context.Context, owner string) (Record, error) {
	row := r.db.QueryRow(ctx, `SELECT id, owner, encrypted_key, created_at FROM wallet_keys WHERE owner = $1`, owner)
	var (
		id        uuid.UUID
		createdAt time.Time
		rec       Record
	)
	if err := row.Scan(&id, &rec.Owner, &rec.Ciphertext, &createdAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	rec.ID = id.String()
	rec.CreatedAt = createdAt.UTC()
	return rec, nil
}

// CountByOwner reports how many records exist for owner.
func (r *PostgresRepository) CountByOwner(ctx context.Context, owner string) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM wallet_keys WHERE owner = $1`, owner).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
