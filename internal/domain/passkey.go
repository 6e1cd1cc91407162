package domain

import "time"

// PasskeyCredential is a stored WebAuthn public-key credential. SignCount is
// monotonic; an assertion that does not advance it is treated as a clone.
type PasskeyCredential struct {
	CredentialID string
	UserID       int64
	PublicKey    []byte
	SignCount    uint32
	DeviceType   string
	BackedUp     bool
	Transports   []string
	CreatedAt    time.Time
	LastUsedAt   *time.Time
}

type PasskeyInfo struct {
	CredentialID string     `json:"credentialId"`
	DeviceType   string     `json:"deviceType"`
	BackedUp     bool       `json:"backedUp"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastUsedAt   *time.Time `json:"lastUsedAt,omitempty"`
}

func (c *PasskeyCredential) ToInfo() *PasskeyInfo {
	return &PasskeyInfo{
		CredentialID: c.CredentialID,
		DeviceType:   c.DeviceType,
		BackedUp:     c.BackedUp,
		CreatedAt:    c.CreatedAt,
		LastUsedAt:   c.LastUsedAt,
	}
}

type RefreshToken struct {
	ID        int64
	UserID    int64
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}
