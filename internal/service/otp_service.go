package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/campusprint/platform/internal/domain"
	"github.com/campusprint/platform/internal/mailer"
	"github.com/campusprint/platform/internal/repository"
	"github.com/campusprint/platform/internal/sms"
	"github.com/campusprint/platform/pkg/config"
	"github.com/campusprint/platform/pkg/logger"
)

// OtpManager issues and verifies one-time codes per target. A target has at
// most one live code: issuing again replaces whatever was sent before.
type OtpManager interface {
	Issue(ctx context.Context, target, channel string) error
	Verify(ctx context.Context, target, code string) error
}

type otpManager struct {
	repo   repository.OtpRepository
	sms    sms.Sender
	mailer mailer.Service
	cfg    *config.Config
}

func NewOtpManager(repo repository.OtpRepository, smsSender sms.Sender, mailerSvc mailer.Service, cfg *config.Config) OtpManager {
	return &otpManager{
		repo:   repo,
		sms:    smsSender,
		mailer: mailerSvc,
		cfg:    cfg,
	}
}

func (m *otpManager) Issue(ctx context.Context, target, channel string) error {
	length := domain.SMSCodeLength
	if channel == domain.ChannelEmail {
		length = domain.EmailCodeLength
	}

	code, err := generateNumericCode(length)
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}

	challenge := &domain.OtpChallenge{
		Target:    target,
		Code:      code,
		Channel:   channel,
		ExpiresAt: time.Now().Add(m.cfg.OTP.TTL),
	}

	// Persist before delivery so a delivered code is always verifiable.
	if err := m.repo.Upsert(ctx, challenge); err != nil {
		return fmt.Errorf("failed to store challenge: %w", err)
	}

	switch channel {
	case domain.ChannelSMS:
		err = m.sms.SendOTP(ctx, target, code)
	case domain.ChannelEmail:
		err = m.mailer.SendOTPEmail(target, code)
	default:
		return domain.NewError(domain.KindValidation, fmt.Sprintf("unknown otp channel: %s", channel))
	}
	if err != nil {
		logger.ErrorContext(ctx, "OTP delivery failed", "error", err, "channel", channel)
		return domain.WrapError(domain.KindNotConfigured, "failed to deliver OTP", err)
	}

	return nil
}

func (m *otpManager) Verify(ctx context.Context, target, code string) error {
	ok, err := m.repo.VerifyAndConsume(ctx, target, code, m.cfg.OTP.MaxAttempts)
	if err != nil {
		return fmt.Errorf("failed to verify OTP: %w", err)
	}
	if !ok {
		// Expired, wrong, already used, or over the attempt cap — callers
		// get one indistinct failure.
		if err := m.repo.RecordFailedAttempt(ctx, target); err != nil {
			logger.WarnContext(ctx, "Failed to record OTP attempt", "error", err)
		}
		return domain.ErrInvalidOrExpiredOTP
	}
	return nil
}

func generateNumericCode(length int) (string, error) {
	max := big.NewInt(10)
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}
