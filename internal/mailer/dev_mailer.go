package mailer

import (
	"github.com/campusprint/platform/pkg/logger"
)

// DevMailer logs email payloads instead of sending them.
type DevMailer struct{}

func NewDevMailer() *DevMailer {
	return &DevMailer{}
}

func (d *DevMailer) SendOTPEmail(toEmail, code string) error {
	logger.Info("[DEV MAIL] OTP email",
		"to", toEmail,
		"code", code,
	)
	return nil
}

func (d *DevMailer) SendMagicLinkEmail(toEmail, toName, link string) error {
	logger.Info("[DEV MAIL] Magic link email",
		"to", toEmail,
		"name", toName,
		"link", link,
	)
	return nil
}
