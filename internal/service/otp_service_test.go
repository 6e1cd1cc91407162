package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/campusprint/platform/internal/domain"
)

func newTestOtpManager() (OtpManager, *mockOtpRepo, *mockSMS, *mockMailer) {
	repo := newMockOtpRepo()
	sms := &mockSMS{}
	mail := &mockMailer{}
	return NewOtpManager(repo, sms, mail, testConfig()), repo, sms, mail
}

func TestOTP_IssueAndVerify_Success(t *testing.T) {
	manager, repo, sms, _ := newTestOtpManager()
	ctx := context.Background()
	phone := "+919876543210"

	if err := manager.Issue(ctx, phone, domain.ChannelSMS); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if len(sms.sent) != 1 || sms.sent[0] != phone {
		t.Fatalf("Expected one SMS to %s, got %v", phone, sms.sent)
	}
	if len(sms.lastOTP) != domain.SMSCodeLength {
		t.Fatalf("Expected %d digit SMS code, got %q", domain.SMSCodeLength, sms.lastOTP)
	}
	if repo.storedCode(phone) != sms.lastOTP {
		t.Fatal("Delivered code does not match stored code")
	}

	if err := manager.Verify(ctx, phone, sms.lastOTP); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
}

func TestOTP_EmailChannel_UsesMailer(t *testing.T) {
	manager, _, sms, mail := newTestOtpManager()
	ctx := context.Background()
	email := "student@campus.edu"

	if err := manager.Issue(ctx, email, domain.ChannelEmail); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if len(sms.sent) != 0 {
		t.Fatal("Email OTP must not go out over SMS")
	}
	if len(mail.otpEmails) != 1 || mail.otpEmails[0] != email {
		t.Fatalf("Expected one email to %s, got %v", email, mail.otpEmails)
	}
	if len(mail.lastCode) != domain.EmailCodeLength {
		t.Fatalf("Expected %d digit email code, got %q", domain.EmailCodeLength, mail.lastCode)
	}

	if err := manager.Verify(ctx, email, mail.lastCode); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
}

func TestOTP_ReissueInvalidatesPrevious(t *testing.T) {
	manager, _, sms, _ := newTestOtpManager()
	ctx := context.Background()
	phone := "+919876543210"

	if err := manager.Issue(ctx, phone, domain.ChannelSMS); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	first := sms.lastOTP

	// Keep issuing until the fresh code differs, then the old one must
	// be dead.
	second := first
	for i := 0; second == first; i++ {
		if i > 50 {
			t.Fatal("Could not obtain a distinct code")
		}
		if err := manager.Issue(ctx, phone, domain.ChannelSMS); err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		second = sms.lastOTP
	}

	if err := manager.Verify(ctx, phone, first); !errors.Is(err, domain.ErrInvalidOrExpiredOTP) {
		t.Fatalf("Expected superseded code to fail, got %v", err)
	}
	if err := manager.Verify(ctx, phone, second); err != nil {
		t.Fatalf("Latest code must verify: %v", err)
	}
}

func TestOTP_SingleUse(t *testing.T) {
	manager, _, sms, _ := newTestOtpManager()
	ctx := context.Background()
	phone := "+919876543210"

	if err := manager.Issue(ctx, phone, domain.ChannelSMS); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	code := sms.lastOTP

	if err := manager.Verify(ctx, phone, code); err != nil {
		t.Fatalf("First verify failed: %v", err)
	}
	if err := manager.Verify(ctx, phone, code); !errors.Is(err, domain.ErrInvalidOrExpiredOTP) {
		t.Fatalf("Expected consumed code to fail, got %v", err)
	}
}

// mismatchedCode returns a code of the same length guaranteed to differ from
// the issued one.
func mismatchedCode(code string) string {
	if code[0] == '0' {
		return "1" + code[1:]
	}
	return "0" + code[1:]
}

func TestOTP_WrongCode_IndistinctFailure(t *testing.T) {
	manager, _, sms, _ := newTestOtpManager()
	ctx := context.Background()
	phone := "+919876543210"

	if err := manager.Issue(ctx, phone, domain.ChannelSMS); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	wrongErr := manager.Verify(ctx, phone, mismatchedCode(sms.lastOTP))
	missingErr := manager.Verify(ctx, "+918888888888", "1234")

	// Wrong code and unknown target read identically to the caller.
	if !errors.Is(wrongErr, domain.ErrInvalidOrExpiredOTP) || !errors.Is(missingErr, domain.ErrInvalidOrExpiredOTP) {
		t.Fatalf("Expected indistinct failures, got %v and %v", wrongErr, missingErr)
	}
	if wrongErr.Error() != missingErr.Error() {
		t.Fatalf("Failure messages must not leak the cause: %q vs %q", wrongErr, missingErr)
	}

	if err := manager.Verify(ctx, phone, sms.lastOTP); err != nil {
		t.Fatalf("Correct code should still verify: %v", err)
	}
}

func TestOTP_AttemptCapExhaustsCode(t *testing.T) {
	manager, _, sms, _ := newTestOtpManager()
	ctx := context.Background()
	phone := "+919876543210"
	cfg := testConfig()

	if err := manager.Issue(ctx, phone, domain.ChannelSMS); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	for i := 0; i < cfg.OTP.MaxAttempts; i++ {
		if err := manager.Verify(ctx, phone, mismatchedCode(sms.lastOTP)); !errors.Is(err, domain.ErrInvalidOrExpiredOTP) {
			t.Fatalf("Attempt %d: expected failure, got %v", i, err)
		}
	}

	// Even the genuine code is dead once the cap is hit.
	if err := manager.Verify(ctx, phone, sms.lastOTP); !errors.Is(err, domain.ErrInvalidOrExpiredOTP) {
		t.Fatalf("Expected capped code to fail, got %v", err)
	}
}

func TestOTP_DeliveryFailure_SurfacesAsNotConfigured(t *testing.T) {
	repo := newMockOtpRepo()
	sms := &mockSMS{sendErr: fmt.Errorf("gateway down")}
	manager := NewOtpManager(repo, sms, &mockMailer{}, testConfig())

	err := manager.Issue(context.Background(), "+919876543210", domain.ChannelSMS)
	if domain.ErrorKind(err) != domain.KindNotConfigured {
		t.Fatalf("Expected delivery failure kind, got %v", err)
	}
}
