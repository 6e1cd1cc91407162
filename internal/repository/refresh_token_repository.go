package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RefreshTokenRepository interface {
	Create(ctx context.Context, userID int64, token string, expiresAt time.Time) error

	// Rotate swaps the stored token value for a new one in a single
	// conditional UPDATE keyed by the old value. Returns the owning user ID,
	// or ok=false when the old token is unknown, already rotated, or
	// expired — two racing rotations cannot both succeed.
	Rotate(ctx context.Context, oldToken, newToken string, expiresAt time.Time) (userID int64, ok bool, err error)

	DeleteByToken(ctx context.Context, token string) error
	DeleteForUser(ctx context.Context, userID int64) error
	DeleteExpired(ctx context.Context) (int64, error)
}

type refreshTokenRepository struct {
	pool *pgxpool.Pool
}

func NewRefreshTokenRepository(pool *pgxpool.Pool) RefreshTokenRepository {
	return &refreshTokenRepository{pool: pool}
}

func (r *refreshTokenRepository) Create(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	const q = `
		INSERT INTO refresh_tokens (user_id, token, expires_at)
		VALUES ($1, $2, $3)`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, userID, token, expiresAt)
	return err
}

func (r *refreshTokenRepository) Rotate(ctx context.Context, oldToken, newToken string, expiresAt time.Time) (int64, bool, error) {
	const q = `
		UPDATE refresh_tokens
		SET token = $2, expires_at = $3, created_at = now()
		WHERE token = $1 AND expires_at > now()
		RETURNING user_id`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var userID int64
	err := r.pool.QueryRow(ctx, q, oldToken, newToken, expiresAt).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return userID, true, nil
}

func (r *refreshTokenRepository) DeleteByToken(ctx context.Context, token string) error {
	const q = `DELETE FROM refresh_tokens WHERE token = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, token)
	return err
}

func (r *refreshTokenRepository) DeleteForUser(ctx context.Context, userID int64) error {
	const q = `DELETE FROM refresh_tokens WHERE user_id = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, userID)
	return err
}

func (r *refreshTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	const q = `DELETE FROM refresh_tokens WHERE expires_at < now()`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
