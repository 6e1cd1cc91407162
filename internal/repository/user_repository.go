package repository

import (
	"context"
	"errors"
	"time"

	"github.com/campusprint/platform/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository interface {
	Create(ctx context.Context, req *domain.CreateUserRequest) (*domain.User, error)
	FindByID(ctx context.Context, id int64) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	FindByPhone(ctx context.Context, phone string) (*domain.User, error)
	SetPassword(ctx context.Context, userID int64, passwordHash string) error
	SetAuthMethod(ctx context.Context, userID int64, method string) error
	UpdateOTPSettings(ctx context.Context, userID int64, settings domain.OTPSettings) error
	LinkGoogle(ctx context.Context, userID int64, googleSub string) error
	FindByGoogleSub(ctx context.Context, googleSub string) (*domain.User, error)
	ReplaceBackupCodes(ctx context.Context, userID int64, codeHashes []string) error
	BackupCodeHashes(ctx context.Context, userID int64) ([]string, error)
	ConsumeBackupCode(ctx context.Context, userID int64, codeHash string) (bool, error)
}

type userRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userCols = `id, role, phone, email, password_hash, name, college, auth_method, otp_enabled, otp_channel, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID, &u.Role, &u.Phone, &u.Email, &u.PasswordHash, &u.Name, &u.College,
		&u.AuthMethod, &u.OTPEnabled, &u.OTPChannel, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *userRepository) Create(ctx context.Context, req *domain.CreateUserRequest) (*domain.User, error) {
	const q = `
		INSERT INTO users (role, phone, email, password_hash, name, college, auth_method)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		RETURNING ` + userCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var passwordHash string
	if req.Password != "" {
		passwordHash = req.Password // already hashed by the service
	}

	u, err := scanUser(r.pool.QueryRow(ctx, q, req.Role, req.Phone, req.Email, passwordHash, req.Name, req.College, req.AuthMethod))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrConflict
		}
		return nil, err
	}
	return u, nil
}

func (r *userRepository) FindByID(ctx context.Context, id int64) (*domain.User, error) {
	const q = `SELECT ` + userCols + ` FROM users WHERE id = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanUser(r.pool.QueryRow(ctx, q, id))
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	const q = `SELECT ` + userCols + ` FROM users WHERE lower(email) = lower($1)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanUser(r.pool.QueryRow(ctx, q, email))
}

func (r *userRepository) FindByPhone(ctx context.Context, phone string) (*domain.User, error) {
	const q = `SELECT ` + userCols + ` FROM users WHERE phone = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanUser(r.pool.QueryRow(ctx, q, phone))
}

func (r *userRepository) SetPassword(ctx context.Context, userID int64, passwordHash string) error {
	const q = `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q, userID, passwordHash)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *userRepository) SetAuthMethod(ctx context.Context, userID int64, method string) error {
	const q = `UPDATE users SET auth_method = $2, updated_at = now() WHERE id = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q, userID, method)
	return err
}

func (r *userRepository) UpdateOTPSettings(ctx context.Context, userID int64, settings domain.OTPSettings) error {
	const q = `UPDATE users SET otp_enabled = $2, otp_channel = $3, updated_at = now() WHERE id = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q, userID, settings.Enabled, settings.Channel)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *userRepository) LinkGoogle(ctx context.Context, userID int64, googleSub string) error {
	const q = `UPDATE users SET google_sub = $2, updated_at = now() WHERE id = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q, userID, googleSub)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrConflict
		}
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *userRepository) FindByGoogleSub(ctx context.Context, googleSub string) (*domain.User, error) {
	const q = `SELECT ` + userCols + ` FROM users WHERE google_sub = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanUser(r.pool.QueryRow(ctx, q, googleSub))
}

func (r *userRepository) ReplaceBackupCodes(ctx context.Context, userID int64, codeHashes []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, hash := range codeHashes {
		if _, err := tx.Exec(ctx, `INSERT INTO backup_codes (user_id, code_hash) VALUES ($1, $2)`, userID, hash); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *userRepository) BackupCodeHashes(ctx context.Context, userID int64) ([]string, error) {
	const q = `SELECT code_hash FROM backup_codes WHERE user_id = $1 AND used_at IS NULL`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

func (r *userRepository) ConsumeBackupCode(ctx context.Context, userID int64, codeHash string) (bool, error) {
	const q = `
		UPDATE backup_codes
		SET used_at = now()
		WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, q, userID, codeHash)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}
