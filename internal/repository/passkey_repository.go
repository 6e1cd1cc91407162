package repository

import (
	"context"
	"errors"
	"time"

	"github.com/campusprint/platform/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PasskeyRepository interface {
	Create(ctx context.Context, cred *domain.PasskeyCredential) error
	FindByCredentialID(ctx context.Context, credentialID string) (*domain.PasskeyCredential, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.PasskeyCredential, error)
	CountByUser(ctx context.Context, userID int64) (int, error)

	// AdvanceSignCount persists a new counter value only if it is strictly
	// greater than the stored one. ok=false means the assertion replayed a
	// stale counter.
	AdvanceSignCount(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time) (bool, error)

	// TouchLastUsed records use of a counter-less authenticator.
	TouchLastUsed(ctx context.Context, credentialID string, usedAt time.Time) error

	Delete(ctx context.Context, credentialID string, userID int64) error
}

type passkeyRepository struct {
	pool *pgxpool.Pool
}

func NewPasskeyRepository(pool *pgxpool.Pool) PasskeyRepository {
	return &passkeyRepository{pool: pool}
}

const passkeyCols = `credential_id, user_id, public_key, sign_count, device_type, backed_up, transports, created_at, last_used_at`

func scanPasskey(row pgx.Row) (*domain.PasskeyCredential, error) {
	var c domain.PasskeyCredential
	err := row.Scan(
		&c.CredentialID, &c.UserID, &c.PublicKey, &c.SignCount, &c.DeviceType,
		&c.BackedUp, &c.Transports, &c.CreatedAt, &c.LastUsedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *passkeyRepository) Create(ctx context.Context, cred *domain.PasskeyCredential) error {
	const q = `
		INSERT INTO passkey_credentials (credential_id, user_id, public_key, sign_count, device_type, backed_up, transports)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q,
		cred.CredentialID, cred.UserID, cred.PublicKey, cred.SignCount,
		cred.DeviceType, cred.BackedUp, cred.Transports,
	)
	return err
}

func (r *passkeyRepository) FindByCredentialID(ctx context.Context, credentialID string) (*domain.PasskeyCredential, error) {
	const q = `SELECT ` + passkeyCols + ` FROM passkey_credentials WHERE credential_id = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanPasskey(r.pool.QueryRow(ctx, q, credentialID))
}

func (r *passkeyRepository) ListByUser(ctx context.Context, userID int64) ([]domain.PasskeyCredential, error) {
	const q = `SELECT ` + passkeyCols + ` FROM passkey_credentials WHERE user_id = $1 ORDER BY created_at`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []domain.PasskeyCredential
	for rows.Next() {
		var c domain.PasskeyCredential
		if err := rows.Scan(
			&c.CredentialID, &c.UserID, &c.PublicKey, &c.SignCount, &c.DeviceType,
			&c.BackedUp, &c.Transports, &c.CreatedAt, &c.LastUsedAt,
		); err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

func (r *passkeyRepository) CountByUser(ctx context.Context, userID int64) (int, error) {
	const q = `SELECT count(*) FROM passkey_credentials WHERE user_id = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var n int
	err := r.pool.QueryRow(ctx, q, userID).Scan(&n)
	return n, err
}

func (r *passkeyRepository) AdvanceSignCount(ctx context.Context, credentialID string, signCount uint32, usedAt time.Time) (bool, error) {
	const q = `
		UPDATE passkey_credentials
		SET sign_count = $2, last_used_at = $3
		WHERE credential_id = $1 AND sign_count < $2`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q, credentialID, signCount, usedAt)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func (r *passkeyRepository) TouchLastUsed(ctx context.Context, credentialID string, usedAt time.Time) error {
	const q = `UPDATE passkey_credentials SET last_used_at = $2 WHERE credential_id = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, credentialID, usedAt)
	return err
}

func (r *passkeyRepository) Delete(ctx context.Context, credentialID string, userID int64) error {
	const q = `DELETE FROM passkey_credentials WHERE credential_id = $1 AND user_id = $2`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q, credentialID, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
