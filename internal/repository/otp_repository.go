package repository

import (
	"context"
	"time"

	"github.com/campusprint/platform/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OtpRepository interface {
	// Upsert replaces any live challenge for the target so the last-issued
	// code is the only one that can verify.
	Upsert(ctx context.Context, challenge *domain.OtpChallenge) error

	// VerifyAndConsume atomically flips verified on the matching challenge.
	// The guard (target + exact code + unverified + unexpired + under the
	// attempt cap) runs inside a single conditional UPDATE so two racing
	// calls cannot both succeed.
	VerifyAndConsume(ctx context.Context, target, code string, maxAttempts int) (bool, error)

	// RecordFailedAttempt bumps the attempt counter after a miss.
	RecordFailedAttempt(ctx context.Context, target string) error

	DeleteExpired(ctx context.Context) (int64, error)
}

type otpRepository struct {
	pool *pgxpool.Pool
}

func NewOtpRepository(pool *pgxpool.Pool) OtpRepository {
	return &otpRepository{pool: pool}
}

func (r *otpRepository) Upsert(ctx context.Context, challenge *domain.OtpChallenge) error {
	const q = `
		INSERT INTO otp_challenges (target, code, channel, attempts, verified, expires_at)
		VALUES ($1, $2, $3, 0, false, $4)
		ON CONFLICT (target) DO UPDATE SET
			code = EXCLUDED.code,
			channel = EXCLUDED.channel,
			attempts = 0,
			verified = false,
			expires_at = EXCLUDED.expires_at,
			created_at = now()`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, challenge.Target, challenge.Code, challenge.Channel, challenge.ExpiresAt)
	return err
}

func (r *otpRepository) VerifyAndConsume(ctx context.Context, target, code string, maxAttempts int) (bool, error) {
	const q = `
		UPDATE otp_challenges
		SET verified = true
		WHERE target = $1
		  AND code = $2
		  AND verified = false
		  AND expires_at > now()
		  AND attempts < $3`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q, target, code, maxAttempts)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

func (r *otpRepository) RecordFailedAttempt(ctx context.Context, target string) error {
	const q = `
		UPDATE otp_challenges
		SET attempts = attempts + 1
		WHERE target = $1 AND verified = false`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, target)
	return err
}

func (r *otpRepository) DeleteExpired(ctx context.Context) (int64, error) {
	const q = `DELETE FROM otp_challenges WHERE expires_at < now() - interval '1 day'`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
