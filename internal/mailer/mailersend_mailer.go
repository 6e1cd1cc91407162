package mailer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mailersend/mailersend-go"
)

type MailerSendClient struct {
	client  *mailersend.Mailersend
	from    mailersend.From
	enabled bool
}

func NewMailerSend(apiKey, fromName, fromEmail string) *MailerSendClient {
	m := &MailerSendClient{
		enabled: apiKey != "" && fromEmail != "",
		from: mailersend.From{
			Name:  fromName,
			Email: fromEmail,
		},
	}

	if m.enabled {
		m.client = mailersend.NewMailersend(apiKey)
	}

	return m
}

func (m *MailerSendClient) SendOTPEmail(toEmail, code string) error {
	if !m.enabled {
		return fmt.Errorf("MailerSend not configured")
	}

	subject := "Your CampusPrint verification code"
	html := fmt.Sprintf(`
		<h2>Your CampusPrint Code</h2>
		<p>Your verification code is: <strong style="font-size: 24px;">%s</strong></p>
		<p>This code expires in 5 minutes. If you didn't request it, ignore this email.</p>
	`, code)
	text := fmt.Sprintf("Your CampusPrint verification code is: %s\n\nIt expires in 5 minutes.", code)

	return m.sendEmail(toEmail, "", subject, text, html)
}

func (m *MailerSendClient) SendMagicLinkEmail(toEmail, toName, link string) error {
	if !m.enabled {
		return fmt.Errorf("MailerSend not configured")
	}

	subject := "Confirm your CampusPrint partner registration"
	html := fmt.Sprintf(`
		<h2>Almost there!</h2>
		<p>Hi %s,</p>
		<p>Your phone number is verified. Click below to confirm your email and activate your shop:</p>
		<p><a href="%s" style="background-color: #2563EB; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px;">Confirm Email</a></p>
		<p>This link expires in 15 minutes.</p>
	`, toName, link)
	text := fmt.Sprintf("Confirm your email to activate your shop: %s\n\nThis link expires in 15 minutes.", link)

	return m.sendEmail(toEmail, toName, subject, text, html)
}

func (m *MailerSendClient) sendEmail(toEmail, toName, subject, text, html string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	msg := m.client.Email.NewMessage()
	msg.SetFrom(m.from)
	msg.SetRecipients([]mailersend.Recipient{{Name: toName, Email: toEmail}})
	msg.SetSubject(subject)

	if strings.TrimSpace(text) != "" {
		msg.SetText(text)
	}
	if strings.TrimSpace(html) != "" {
		msg.SetHTML(html)
	}

	_, err := m.client.Email.Send(ctx, msg)
	return err
}
