package sms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/campusprint/platform/pkg/logger"
)

// Sender delivers a one-time code to a phone number. Retries, if any, belong
// to the gateway, not to callers.
type Sender interface {
	SendOTP(ctx context.Context, phone, code string) error
}

// GatewaySender posts to a transactional SMS gateway (MSG91-style HTTP API).
type GatewaySender struct {
	client     *http.Client
	gatewayURL string
	apiKey     string
	senderID   string
}

func NewGatewaySender(gatewayURL, apiKey, senderID string) *GatewaySender {
	return &GatewaySender{
		client:     &http.Client{Timeout: 10 * time.Second},
		gatewayURL: gatewayURL,
		apiKey:     apiKey,
		senderID:   senderID,
	}
}

func (s *GatewaySender) SendOTP(ctx context.Context, phone, code string) error {
	if s.gatewayURL == "" || s.apiKey == "" {
		return fmt.Errorf("SMS gateway not configured")
	}

	form := url.Values{}
	form.Set("to", phone)
	form.Set("sender", s.senderID)
	form.Set("message", fmt.Sprintf("%s is your CampusPrint verification code. Valid for 5 minutes.", code))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("sms gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// DevSender logs codes instead of sending them.
type DevSender struct{}

func NewDevSender() *DevSender {
	return &DevSender{}
}

func (s *DevSender) SendOTP(ctx context.Context, phone, code string) error {
	logger.InfoContext(ctx, "[DEV SMS] OTP",
		"to", phone,
		"code", code,
	)
	return nil
}
