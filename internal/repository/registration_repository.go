package repository

import (
	"context"
	"errors"
	"time"

	"github.com/campusprint/platform/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RegistrationRepository interface {
	// CreatePending inserts a fresh pending registration after removing any
	// prior one for the same email or phone (re-initiation supersedes).
	CreatePending(ctx context.Context, pending *domain.PendingPartnerRegistration) error

	FindPendingByPhone(ctx context.Context, phone string) (*domain.PendingPartnerRegistration, error)

	// MarkPhoneVerified flips phoneVerified and attaches the email token in
	// one conditional update on the unexpired, not-yet-verified row.
	MarkPhoneVerified(ctx context.Context, phone, emailToken string) (*domain.PendingPartnerRegistration, error)

	CreateEmailToken(ctx context.Context, token *domain.EmailVerificationToken) error

	// Complete runs the whole completion as one unit of work: consume the
	// email token, load the pending row gated on phone_verified, create the
	// identity and shop, and delete the pending row. Any failure rolls the
	// entire transaction back.
	Complete(ctx context.Context, emailToken string, now time.Time) (*domain.User, *domain.Shop, error)

	DeleteExpiredPending(ctx context.Context) (int64, error)
}

type registrationRepository struct {
	pool *pgxpool.Pool
}

func NewRegistrationRepository(pool *pgxpool.Pool) RegistrationRepository {
	return &registrationRepository{pool: pool}
}

const pendingCols = `id, email, phone, password_hash, owner_name, shop_name, shop_address, shop_latitude, shop_longitude, phone_verified, email_token, expires_at, created_at`

func scanPending(row pgx.Row) (*domain.PendingPartnerRegistration, error) {
	var p domain.PendingPartnerRegistration
	err := row.Scan(
		&p.ID, &p.Email, &p.Phone, &p.PasswordHash, &p.OwnerName,
		&p.Shop.Name, &p.Shop.Address, &p.Shop.Latitude, &p.Shop.Longitude,
		&p.PhoneVerified, &p.EmailToken, &p.ExpiresAt, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *registrationRepository) CreatePending(ctx context.Context, pending *domain.PendingPartnerRegistration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM pending_partner_registrations WHERE email = $1 OR phone = $2`,
		pending.Email, pending.Phone,
	); err != nil {
		return err
	}

	if err := tx.QueryRow(ctx, `
		INSERT INTO pending_partner_registrations
			(email, phone, password_hash, owner_name, shop_name, shop_address, shop_latitude, shop_longitude, phone_verified, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, $9)
		RETURNING id`,
		pending.Email, pending.Phone, pending.PasswordHash, pending.OwnerName,
		pending.Shop.Name, pending.Shop.Address, pending.Shop.Latitude, pending.Shop.Longitude,
		pending.ExpiresAt,
	).Scan(&pending.ID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *registrationRepository) FindPendingByPhone(ctx context.Context, phone string) (*domain.PendingPartnerRegistration, error) {
	const q = `SELECT ` + pendingCols + ` FROM pending_partner_registrations WHERE phone = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanPending(r.pool.QueryRow(ctx, q, phone))
}

func (r *registrationRepository) MarkPhoneVerified(ctx context.Context, phone, emailToken string) (*domain.PendingPartnerRegistration, error) {
	const q = `
		UPDATE pending_partner_registrations
		SET phone_verified = true, email_token = $2
		WHERE phone = $1 AND expires_at > now()
		RETURNING ` + pendingCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanPending(r.pool.QueryRow(ctx, q, phone, emailToken))
}

func (r *registrationRepository) CreateEmailToken(ctx context.Context, token *domain.EmailVerificationToken) error {
	const q = `
		INSERT INTO email_verification_tokens (token, email, purpose, expires_at)
		VALUES ($1, $2, $3, $4)`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, token.Token, token.Email, token.Purpose, token.ExpiresAt)
	return err
}

func (r *registrationRepository) Complete(ctx context.Context, emailToken string, now time.Time) (*domain.User, *domain.Shop, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	// Consume the email token first so it can never complete twice.
	var tokenEmail string
	err = tx.QueryRow(ctx, `
		UPDATE email_verification_tokens
		SET verified = true
		WHERE token = $1 AND verified = false AND expires_at > $2
		RETURNING email`,
		emailToken, now,
	).Scan(&tokenEmail)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, domain.ErrInvalidOrExpiredLink
	}
	if err != nil {
		return nil, nil, err
	}

	// The AND-gate: the pending row matched by this token must carry
	// phone_verified=true, so both factors were proven against the same
	// registration attempt.
	pending, err := scanPending(tx.QueryRow(ctx, `
		SELECT `+pendingCols+`
		FROM pending_partner_registrations
		WHERE email_token = $1 AND phone_verified = true
		FOR UPDATE`,
		emailToken,
	))
	if err != nil {
		return nil, nil, err
	}
	if pending == nil {
		return nil, nil, domain.ErrInvalidOrExpiredLink
	}
	if pending.Expired(now) {
		return nil, nil, domain.ErrRegistrationExpired
	}

	user, err := scanUser(tx.QueryRow(ctx, `
		INSERT INTO users (role, phone, email, password_hash, name, auth_method)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+userCols,
		domain.RoleShop, pending.Phone, pending.Email, pending.PasswordHash,
		pending.OwnerName, domain.AuthMethodPassword,
	))
	if err != nil {
		return nil, nil, err
	}

	var shop domain.Shop
	if err := tx.QueryRow(ctx, `
		INSERT INTO shops (owner_id, name, address, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, owner_id, name, address, latitude, longitude, created_at`,
		user.ID, pending.Shop.Name, pending.Shop.Address, pending.Shop.Latitude, pending.Shop.Longitude,
	).Scan(&shop.ID, &shop.OwnerID, &shop.Name, &shop.Address, &shop.Latitude, &shop.Longitude, &shop.CreatedAt); err != nil {
		return nil, nil, err
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM pending_partner_registrations WHERE id = $1`, pending.ID,
	); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}
	return user, &shop, nil
}

func (r *registrationRepository) DeleteExpiredPending(ctx context.Context) (int64, error) {
	const q = `DELETE FROM pending_partner_registrations WHERE expires_at < now() - interval '1 day'`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
