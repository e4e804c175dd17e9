package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"smsync/internal/model"
)

type PostgresProfileStore struct {
	pool *pgxpool.Pool
}

var _ ProfileStore = (*PostgresProfileStore)(nil)

const profilesSchema = `
CREATE TABLE IF NOT EXISTS profiles (
	phone_number TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	avatar       TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
`

func NewPostgresProfileStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresProfileStore, error) {
	if _, err := pool.Exec(ctx, profilesSchema); err != nil {
		return nil, fmt.Errorf("create profiles schema: %w", err)
	}
	return &PostgresProfileStore{pool: pool}, nil
}

func (s *PostgresProfileStore) Get(ctx context.Context, phoneNumber string) (model.Profile, error) {
	var p model.Profile
	err := s.pool.QueryRow(ctx, `
		SELECT phone_number, name, avatar, created_at, updated_at
		FROM profiles
		WHERE phone_number = $1
	`, phoneNumber).Scan(&p.PhoneNumber, &p.Name, &p.Avatar, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Profile{}, ErrProfileNotFound
		}
		return model.Profile{}, fmt.Errorf("%w: get profile: %v", ErrUnavailable, err)
	}
	return p, nil
}

func (s *PostgresProfileStore) Create(ctx context.Context, p model.Profile) (model.Profile, error) {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (phone_number, name, avatar, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, p.PhoneNumber, p.Name, p.Avatar, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.Profile{}, ErrProfileExists
		}
		return model.Profile{}, fmt.Errorf("%w: create profile: %v", ErrUnavailable, err)
	}
	return p, nil
}

func (s *PostgresProfileStore) Update(ctx context.Context, phoneNumber string, p model.Profile) (model.Profile, error) {
	var out model.Profile
	err := s.pool.QueryRow(ctx, `
		UPDATE profiles
		SET name = $2, avatar = $3, updated_at = $4
		WHERE phone_number = $1
		RETURNING phone_number, name, avatar, created_at, updated_at
	`, phoneNumber, p.Name, p.Avatar, time.Now().UTC()).
		Scan(&out.PhoneNumber, &out.Name, &out.Avatar, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Profile{}, ErrProfileNotFound
		}
		return model.Profile{}, fmt.Errorf("%w: update profile: %v", ErrUnavailable, err)
	}
	return out, nil
}
