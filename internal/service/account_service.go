package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/campusprint/platform/internal/domain"
	"github.com/campusprint/platform/internal/oauth"
	"github.com/campusprint/platform/internal/repository"
	"github.com/campusprint/platform/pkg/config"
	"github.com/campusprint/platform/pkg/events"
	"github.com/campusprint/platform/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

// LoginResult is the outcome of a first-factor login. When the account has
// OTP enabled the tokens are withheld until the code round-trips.
type LoginResult struct {
	OTPRequired bool                      `json:"otpRequired,omitempty"`
	Channel     string                    `json:"channel,omitempty"`
	Tokens      *domain.TokenPairResponse `json:"tokens,omitempty"`
}

// AccountService covers the fixed set of login variants — phone OTP, email
// OTP, password, Google — plus the account security operations. Each variant
// is its own method, selected once at the HTTP boundary; every successful
// path funnels into TokenService.IssuePair.
type AccountService interface {
	InitiateOTP(ctx context.Context, target, channel string) error
	LoginWithOTP(ctx context.Context, target, channel, code string) (*domain.TokenPairResponse, error)
	SignupWithOTP(ctx context.Context, target, channel, code, name, college string) (*domain.TokenPairResponse, error)
	SignupWithPassword(ctx context.Context, req *PasswordSignupRequest) (*domain.TokenPairResponse, error)
	LoginWithPassword(ctx context.Context, identifier, password string) (*LoginResult, error)
	PartnerLoginWithPassword(ctx context.Context, identifier, password string) (*LoginResult, error)
	LoginWithGoogle(ctx context.Context, idToken string) (*domain.TokenPairResponse, error)
	LinkGoogle(ctx context.Context, userID int64, idToken string) error
	SetPassword(ctx context.Context, userID int64, password string) error
	UpdateOTPSettings(ctx context.Context, userID int64, settings domain.OTPSettings) error
	RegenerateBackupCodes(ctx context.Context, userID int64) ([]string, error)
	BackupCodesRemaining(ctx context.Context, userID int64) (int, error)
}

type PasswordSignupRequest struct {
	Phone    string
	Email    string
	Password string
	Name     string
	College  string
}

type accountService struct {
	userRepo     repository.UserRepository
	otp          OtpManager
	tokenService TokenService
	google       oauth.GoogleVerifier
	eventBus     events.Publisher
	cfg          *config.Config
}

func NewAccountService(
	userRepo repository.UserRepository,
	otp OtpManager,
	tokenService TokenService,
	google oauth.GoogleVerifier,
	eventBus events.Publisher,
	cfg *config.Config,
) AccountService {
	return &accountService{
		userRepo:     userRepo,
		otp:          otp,
		tokenService: tokenService,
		google:       google,
		eventBus:     eventBus,
		cfg:          cfg,
	}
}

func (s *accountService) InitiateOTP(ctx context.Context, target, channel string) error {
	switch channel {
	case domain.ChannelSMS:
		target = domain.NormalizePhone(target)
		if !domain.IsValidPhone(target) {
			return domain.NewError(domain.KindValidation, "invalid phone format")
		}
	case domain.ChannelEmail:
		target = domain.NormalizeEmail(target)
		if !domain.IsValidEmail(target) {
			return domain.NewError(domain.KindValidation, "invalid email format")
		}
	default:
		return domain.NewError(domain.KindValidation, "invalid channel")
	}

	return s.otp.Issue(ctx, target, channel)
}

func (s *accountService) LoginWithOTP(ctx context.Context, target, channel, code string) (*domain.TokenPairResponse, error) {
	target = normalizeTarget(target, channel)

	user, err := s.findByTarget(ctx, target, channel)
	if err != nil {
		return nil, err
	}

	if err := s.otp.Verify(ctx, target, code); err != nil {
		// A backup code stands in for OTP on existing accounts.
		if errors.Is(err, domain.ErrInvalidOrExpiredOTP) && user != nil {
			if s.consumeBackupCode(ctx, user.ID, code) {
				return s.tokenService.IssuePair(ctx, user)
			}
		}
		return nil, err
	}

	if user == nil {
		user, err = s.createIdentityForTarget(ctx, target, channel, "", "")
		if err != nil {
			return nil, err
		}
	}

	return s.tokenService.IssuePair(ctx, user)
}

func (s *accountService) SignupWithOTP(ctx context.Context, target, channel, code, name, college string) (*domain.TokenPairResponse, error) {
	target = normalizeTarget(target, channel)

	existing, err := s.findByTarget(ctx, target, channel)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrConflict
	}

	if err := s.otp.Verify(ctx, target, code); err != nil {
		return nil, err
	}

	user, err := s.createIdentityForTarget(ctx, target, channel, name, college)
	if err != nil {
		return nil, err
	}

	return s.tokenService.IssuePair(ctx, user)
}

func (s *accountService) SignupWithPassword(ctx context.Context, req *PasswordSignupRequest) (*domain.TokenPairResponse, error) {
	if req.Phone == "" && req.Email == "" {
		return nil, domain.NewError(domain.KindValidation, "phone or email is required")
	}
	if err := domain.ValidatePassword(req.Password); err != nil {
		return nil, domain.WrapError(domain.KindValidation, "invalid password", err)
	}

	create := &domain.CreateUserRequest{
		Role:       domain.RoleStudent,
		Name:       req.Name,
		College:    req.College,
		AuthMethod: domain.AuthMethodPassword,
	}
	if req.Phone != "" {
		phone := domain.NormalizePhone(req.Phone)
		if !domain.IsValidPhone(phone) {
			return nil, domain.NewError(domain.KindValidation, "invalid phone format")
		}
		create.Phone = &phone
	}
	if req.Email != "" {
		email := domain.NormalizeEmail(req.Email)
		if !domain.IsValidEmail(email) {
			return nil, domain.NewError(domain.KindValidation, "invalid email format")
		}
		create.Email = &email
	}

	hash, err := argon2id.CreateHash(req.Password, argon2id.DefaultParams)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	create.Password = hash

	user, err := s.userRepo.Create(ctx, create)
	if err != nil {
		return nil, err
	}
	s.publishIdentityCreated(ctx, user)

	return s.tokenService.IssuePair(ctx, user)
}

func (s *accountService) LoginWithPassword(ctx context.Context, identifier, password string) (*LoginResult, error) {
	return s.passwordLogin(ctx, identifier, password, "")
}

// PartnerLoginWithPassword is the shop dashboard login; it rejects accounts
// that are not partners.
func (s *accountService) PartnerLoginWithPassword(ctx context.Context, identifier, password string) (*LoginResult, error) {
	return s.passwordLogin(ctx, identifier, password, domain.RoleShop)
}

func (s *accountService) passwordLogin(ctx context.Context, identifier, password, requiredRole string) (*LoginResult, error) {
	user, err := s.findByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.HasPassword() {
		return nil, domain.ErrUserNotFound
	}
	if requiredRole != "" && user.Role != requiredRole {
		return nil, domain.ErrUserNotFound
	}

	valid, err := argon2id.ComparePasswordAndHash(password, *user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !valid {
		return nil, domain.ErrUserNotFound
	}

	// Second factor: hold the tokens until the code comes back through the
	// OTP login endpoint.
	if user.OTPEnabled {
		target, channel := s.otpTarget(user)
		if target == "" {
			return nil, domain.NewError(domain.KindNotConfigured, "otp channel not available for account")
		}
		if err := s.otp.Issue(ctx, target, channel); err != nil {
			return nil, err
		}
		return &LoginResult{OTPRequired: true, Channel: channel}, nil
	}

	tokens, err := s.tokenService.IssuePair(ctx, user)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Tokens: tokens}, nil
}

func (s *accountService) LoginWithGoogle(ctx context.Context, idToken string) (*domain.TokenPairResponse, error) {
	profile, err := s.google.Verify(ctx, idToken)
	if err != nil {
		return nil, domain.WrapError(domain.KindUnauthorized, "google token rejected", err)
	}

	user, err := s.userRepo.FindByGoogleSub(ctx, profile.Sub)
	if err != nil {
		return nil, fmt.Errorf("failed to look up google account: %w", err)
	}

	// A verified Google email claims the matching local account.
	if user == nil && profile.EmailVerified && profile.Email != "" {
		user, err = s.userRepo.FindByEmail(ctx, profile.Email)
		if err != nil {
			return nil, fmt.Errorf("failed to look up email: %w", err)
		}
		if user != nil {
			if err := s.userRepo.LinkGoogle(ctx, user.ID, profile.Sub); err != nil {
				return nil, err
			}
		}
	}

	if user == nil {
		if !profile.EmailVerified {
			return nil, domain.WrapError(domain.KindUnauthorized, "google email not verified", nil)
		}
		email := domain.NormalizeEmail(profile.Email)
		user, err = s.userRepo.Create(ctx, &domain.CreateUserRequest{
			Role:       domain.RoleStudent,
			Email:      &email,
			Name:       profile.Name,
			AuthMethod: domain.AuthMethodGoogle,
		})
		if err != nil {
			return nil, err
		}
		if err := s.userRepo.LinkGoogle(ctx, user.ID, profile.Sub); err != nil {
			return nil, err
		}
		s.publishIdentityCreated(ctx, user)
	}

	return s.tokenService.IssuePair(ctx, user)
}

func (s *accountService) LinkGoogle(ctx context.Context, userID int64, idToken string) error {
	profile, err := s.google.Verify(ctx, idToken)
	if err != nil {
		return domain.WrapError(domain.KindUnauthorized, "google token rejected", err)
	}

	if existing, err := s.userRepo.FindByGoogleSub(ctx, profile.Sub); err != nil {
		return fmt.Errorf("failed to look up google account: %w", err)
	} else if existing != nil && existing.ID != userID {
		return domain.ErrConflict
	}

	return s.userRepo.LinkGoogle(ctx, userID, profile.Sub)
}

func (s *accountService) SetPassword(ctx context.Context, userID int64, password string) error {
	if err := domain.ValidatePassword(password); err != nil {
		return domain.WrapError(domain.KindValidation, "invalid password", err)
	}

	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	return s.userRepo.SetPassword(ctx, userID, hash)
}

func (s *accountService) UpdateOTPSettings(ctx context.Context, userID int64, settings domain.OTPSettings) error {
	if err := settings.Validate(); err != nil {
		return domain.WrapError(domain.KindValidation, "invalid otp settings", err)
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return domain.ErrUnauthorized
	}
	if settings.Enabled {
		if settings.Channel == domain.ChannelSMS && user.Phone == nil {
			return domain.NewError(domain.KindValidation, "no phone on account for sms otp")
		}
		if settings.Channel == domain.ChannelEmail && user.Email == nil {
			return domain.NewError(domain.KindValidation, "no email on account for email otp")
		}
	}

	return s.userRepo.UpdateOTPSettings(ctx, userID, settings)
}

const backupCodeCount = 10

func (s *accountService) RegenerateBackupCodes(ctx context.Context, userID int64) ([]string, error) {
	codes := make([]string, 0, backupCodeCount)
	hashes := make([]string, 0, backupCodeCount)
	for i := 0; i < backupCodeCount; i++ {
		raw := make([]byte, 5)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		code := hex.EncodeToString(raw)

		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash backup code: %w", err)
		}
		codes = append(codes, code)
		hashes = append(hashes, string(hash))
	}

	if err := s.userRepo.ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, fmt.Errorf("failed to store backup codes: %w", err)
	}

	// Plaintext goes out exactly once; only the hashes survive.
	return codes, nil
}

func (s *accountService) BackupCodesRemaining(ctx context.Context, userID int64) (int, error) {
	hashes, err := s.userRepo.BackupCodeHashes(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to load backup codes: %w", err)
	}
	return len(hashes), nil
}

func (s *accountService) consumeBackupCode(ctx context.Context, userID int64, code string) bool {
	hashes, err := s.userRepo.BackupCodeHashes(ctx, userID)
	if err != nil {
		logger.WarnContext(ctx, "Failed to load backup codes", "error", err, "user_id", userID)
		return false
	}
	for _, hash := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil {
			ok, err := s.userRepo.ConsumeBackupCode(ctx, userID, hash)
			if err != nil {
				logger.WarnContext(ctx, "Failed to consume backup code", "error", err, "user_id", userID)
				return false
			}
			return ok
		}
	}
	return false
}

func (s *accountService) findByTarget(ctx context.Context, target, channel string) (*domain.User, error) {
	if channel == domain.ChannelEmail {
		return s.userRepo.FindByEmail(ctx, target)
	}
	return s.userRepo.FindByPhone(ctx, target)
}

func (s *accountService) findByIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	if domain.IsValidEmail(identifier) {
		return s.userRepo.FindByEmail(ctx, domain.NormalizeEmail(identifier))
	}
	return s.userRepo.FindByPhone(ctx, domain.NormalizePhone(identifier))
}

func (s *accountService) createIdentityForTarget(ctx context.Context, target, channel, name, college string) (*domain.User, error) {
	create := &domain.CreateUserRequest{
		Role:    domain.RoleStudent,
		Name:    name,
		College: college,
	}
	if channel == domain.ChannelEmail {
		create.Email = &target
		create.AuthMethod = domain.AuthMethodEmailOTP
	} else {
		create.Phone = &target
		create.AuthMethod = domain.AuthMethodPhoneOTP
	}

	user, err := s.userRepo.Create(ctx, create)
	if err != nil {
		return nil, err
	}
	s.publishIdentityCreated(ctx, user)
	return user, nil
}

func (s *accountService) otpTarget(user *domain.User) (string, string) {
	switch user.OTPChannel {
	case domain.ChannelEmail:
		if user.Email != nil {
			return *user.Email, domain.ChannelEmail
		}
	case domain.ChannelSMS:
		if user.Phone != nil {
			return *user.Phone, domain.ChannelSMS
		}
	}
	return "", ""
}

func (s *accountService) publishIdentityCreated(ctx context.Context, user *domain.User) {
	if err := s.eventBus.Publish(ctx, events.IdentityCreated, events.IdentityCreatedEvent{
		UserID:     user.ID,
		Role:       user.Role,
		AuthMethod: user.AuthMethod,
		CreatedAt:  time.Now(),
	}); err != nil {
		logger.WarnContext(ctx, "Failed to publish identity.created", "error", err)
	}
}

func normalizeTarget(target, channel string) string {
	if channel == domain.ChannelEmail {
		return domain.NormalizeEmail(target)
	}
	return domain.NormalizePhone(target)
}
