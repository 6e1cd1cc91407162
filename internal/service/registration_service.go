package service

import (
	"context"
	"fmt"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/campusprint/platform/internal/domain"
	"github.com/campusprint/platform/internal/mailer"
	"github.com/campusprint/platform/internal/repository"
	"github.com/campusprint/platform/pkg/config"
	"github.com/campusprint/platform/pkg/events"
	"github.com/campusprint/platform/pkg/logger"
	"github.com/google/uuid"
)

// RegistrationService drives the two-factor partner signup:
// Initiated -> PhoneVerified -> Completed, bounded by a 30 minute outer TTL.
// The identity and shop only come into existence at completion, when both
// the phone OTP and the email link were verified against the same pending
// record. A stale state is never repaired; callers start over at Initiate.
type RegistrationService interface {
	Initiate(ctx context.Context, req *domain.PartnerRegistrationRequest) error
	ConfirmPhone(ctx context.Context, phone, code string) error
	CompleteViaEmailToken(ctx context.Context, token string) (*domain.TokenPairResponse, error)
	Resend(ctx context.Context, phone string) error
}

type registrationService struct {
	regRepo      repository.RegistrationRepository
	userRepo     repository.UserRepository
	otp          OtpManager
	tokenService TokenService
	mailer       mailer.Service
	eventBus     events.Publisher
	cfg          *config.Config
}

func NewRegistrationService(
	regRepo repository.RegistrationRepository,
	userRepo repository.UserRepository,
	otp OtpManager,
	tokenService TokenService,
	mailerSvc mailer.Service,
	eventBus events.Publisher,
	cfg *config.Config,
) RegistrationService {
	return &registrationService{
		regRepo:      regRepo,
		userRepo:     userRepo,
		otp:          otp,
		tokenService: tokenService,
		mailer:       mailerSvc,
		eventBus:     eventBus,
		cfg:          cfg,
	}
}

func (s *registrationService) Initiate(ctx context.Context, req *domain.PartnerRegistrationRequest) error {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return domain.WrapError(domain.KindValidation, "invalid registration request", err)
	}

	// Refuse before any OTP goes out if either contact already belongs to
	// an identity.
	if existing, err := s.userRepo.FindByEmail(ctx, req.Email); err != nil {
		return fmt.Errorf("failed to check email: %w", err)
	} else if existing != nil {
		return domain.ErrConflict
	}
	if existing, err := s.userRepo.FindByPhone(ctx, req.Phone); err != nil {
		return fmt.Errorf("failed to check phone: %w", err)
	} else if existing != nil {
		return domain.ErrConflict
	}

	passwordHash, err := argon2id.CreateHash(req.Password, argon2id.DefaultParams)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	pending := &domain.PendingPartnerRegistration{
		Email:        req.Email,
		Phone:        req.Phone,
		PasswordHash: passwordHash,
		OwnerName:    req.OwnerName,
		Shop:         req.Shop,
		ExpiresAt:    time.Now().Add(s.cfg.Auth.RegistrationTTL),
	}
	if err := s.regRepo.CreatePending(ctx, pending); err != nil {
		return fmt.Errorf("failed to create pending registration: %w", err)
	}

	return s.otp.Issue(ctx, req.Phone, domain.ChannelSMS)
}

func (s *registrationService) ConfirmPhone(ctx context.Context, phone, code string) error {
	phone = domain.NormalizePhone(phone)

	if err := s.otp.Verify(ctx, phone, code); err != nil {
		return err
	}

	emailToken := uuid.NewString()
	pending, err := s.regRepo.MarkPhoneVerified(ctx, phone, emailToken)
	if err != nil {
		return fmt.Errorf("failed to mark phone verified: %w", err)
	}
	if pending == nil {
		// The OTP was valid but the registration window closed underneath
		// it: back to Initiate.
		return domain.ErrRegistrationExpired
	}

	token := &domain.EmailVerificationToken{
		Token:     emailToken,
		Email:     pending.Email,
		Purpose:   domain.PurposePartnerRegistration,
		ExpiresAt: time.Now().Add(s.cfg.Auth.EmailTokenTTL),
	}
	if err := s.regRepo.CreateEmailToken(ctx, token); err != nil {
		return fmt.Errorf("failed to create email token: %w", err)
	}

	link := fmt.Sprintf("%s/partner/verify-email?token=%s", s.cfg.Server.FrontendURL, emailToken)
	if err := s.mailer.SendMagicLinkEmail(pending.Email, pending.OwnerName, link); err != nil {
		logger.ErrorContext(ctx, "Failed to send magic link", "error", err, "email", pending.Email)
		return domain.WrapError(domain.KindNotConfigured, "failed to deliver verification email", err)
	}

	return nil
}

func (s *registrationService) CompleteViaEmailToken(ctx context.Context, token string) (*domain.TokenPairResponse, error) {
	user, shop, err := s.regRepo.Complete(ctx, token, time.Now())
	if err != nil {
		return nil, err
	}

	if err := s.eventBus.Publish(ctx, events.ShopRegistered, events.ShopRegisteredEvent{
		ShopID:       shop.ID,
		OwnerID:      user.ID,
		ShopName:     shop.Name,
		Email:        derefString(user.Email),
		Phone:        derefString(user.Phone),
		RegisteredAt: shop.CreatedAt,
	}); err != nil {
		logger.ErrorContext(ctx, "Failed to publish shop.registered", "error", err, "shop_id", shop.ID)
	}

	return s.tokenService.IssuePair(ctx, user)
}

func (s *registrationService) Resend(ctx context.Context, phone string) error {
	phone = domain.NormalizePhone(phone)

	pending, err := s.regRepo.FindPendingByPhone(ctx, phone)
	if err != nil {
		return fmt.Errorf("failed to load pending registration: %w", err)
	}
	if pending == nil || pending.Expired(time.Now()) {
		return domain.ErrRegistrationExpired
	}
	if pending.PhoneVerified {
		return domain.NewError(domain.KindValidation, "phone already verified")
	}

	return s.otp.Issue(ctx, phone, domain.ChannelSMS)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
