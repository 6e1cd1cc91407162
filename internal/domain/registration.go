package domain

import (
	"fmt"
	"time"
)

// ShopDraft is the shop profile captured at partner signup, persisted only
// when both contact factors have been verified.
type ShopDraft struct {
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Shop struct {
	ID        int64     `json:"id"`
	OwnerID   int64     `json:"owner_id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	CreatedAt time.Time `json:"created_at"`
}

// PendingPartnerRegistration tracks a partner signup between initiation and
// completion. PhoneVerified flips after OTP confirmation; EmailToken is only
// minted at that point.
type PendingPartnerRegistration struct {
	ID            int64
	Email         string
	Phone         string
	PasswordHash  string
	OwnerName     string
	Shop          ShopDraft
	PhoneVerified bool
	EmailToken    *string
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

func (p *PendingPartnerRegistration) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

type EmailVerificationToken struct {
	Token     string
	Email     string
	Purpose   string
	Verified  bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

const PurposePartnerRegistration = "partner_registration"

type PartnerRegistrationRequest struct {
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Password  string    `json:"password"`
	OwnerName string    `json:"ownerName"`
	Shop      ShopDraft `json:"shop"`
}

func (r *PartnerRegistrationRequest) Normalize() {
	r.Email = NormalizeEmail(r.Email)
	r.Phone = NormalizePhone(r.Phone)
}

func (r *PartnerRegistrationRequest) Validate() error {
	if !IsValidEmail(r.Email) {
		return fmt.Errorf("invalid email format")
	}
	if !IsValidPhone(r.Phone) {
		return fmt.Errorf("invalid phone format")
	}
	if err := ValidatePassword(r.Password); err != nil {
		return err
	}
	if r.OwnerName == "" {
		return fmt.Errorf("owner name is required")
	}
	if r.Shop.Name == "" {
		return fmt.Errorf("shop name is required")
	}
	if r.Shop.Address == "" {
		return fmt.Errorf("shop address is required")
	}
	return nil
}
