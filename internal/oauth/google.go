package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// GoogleProfile is the subset of ID-token claims the identity core needs.
type GoogleProfile struct {
	Sub           string
	Email         string
	Name          string
	EmailVerified bool
}

// GoogleVerifier validates a Google-issued ID token and returns its profile.
type GoogleVerifier interface {
	Verify(ctx context.Context, idToken string) (*GoogleProfile, error)
}

// TokenInfoVerifier checks ID tokens against Google's tokeninfo endpoint.
// The endpoint performs the signature and expiry checks server-side; the
// audience check against our client ID happens here.
type TokenInfoVerifier struct {
	client   *http.Client
	endpoint string
	clientID string
}

func NewTokenInfoVerifier(clientID string) *TokenInfoVerifier {
	return &TokenInfoVerifier{
		client:   &http.Client{Timeout: 10 * time.Second},
		endpoint: "https://oauth2.googleapis.com/tokeninfo",
		clientID: clientID,
	}
}

func (v *TokenInfoVerifier) Verify(ctx context.Context, idToken string) (*GoogleProfile, error) {
	if v.clientID == "" {
		return nil, fmt.Errorf("google client id not configured")
	}

	u := v.endpoint + "?id_token=" + url.QueryEscape(idToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build tokeninfo request: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call tokeninfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tokeninfo rejected token: status %d", resp.StatusCode)
	}

	var payload struct {
		Aud           string `json:"aud"`
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		Name          string `json:"name"`
		EmailVerified string `json:"email_verified"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode tokeninfo response: %w", err)
	}

	if payload.Aud != v.clientID {
		return nil, fmt.Errorf("token audience mismatch")
	}
	if payload.Sub == "" {
		return nil, fmt.Errorf("token missing subject")
	}

	return &GoogleProfile{
		Sub:           payload.Sub,
		Email:         payload.Email,
		Name:          payload.Name,
		EmailVerified: payload.EmailVerified == "true",
	}, nil
}
