package mailer

type Service interface {
	SendOTPEmail(toEmail, code string) error
	SendMagicLinkEmail(toEmail, toName, link string) error
}
