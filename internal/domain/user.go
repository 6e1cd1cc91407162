package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type User struct {
	ID           int64     `json:"id"`
	Role         string    `json:"role"`
	Phone        *string   `json:"phone"`
	Email        *string   `json:"email"`
	PasswordHash *string   `json:"-"`
	Name         string    `json:"name"`
	College      string    `json:"college"`
	AuthMethod   string    `json:"auth_method"`
	OTPEnabled   bool      `json:"otp_enabled"`
	OTPChannel   string    `json:"otp_channel"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type UserInfo struct {
	ID      int64  `json:"id"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	College string `json:"college,omitempty"`
}

func (u *User) ToUserInfo() *UserInfo {
	info := &UserInfo{
		ID:      u.ID,
		Name:    u.Name,
		Role:    u.Role,
		College: u.College,
	}
	if u.Phone != nil {
		info.Phone = *u.Phone
	}
	if u.Email != nil {
		info.Email = *u.Email
	}
	return info
}

// HasPassword reports whether a password is set for the account.
func (u *User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

const (
	RoleStudent = "STUDENT"
	RoleShop    = "SHOP"
	RoleAdmin   = "ADMIN"
)

var validRoles = map[string]bool{
	RoleStudent: true,
	RoleShop:    true,
	RoleAdmin:   true,
}

func IsValidRole(role string) bool {
	return validRoles[role]
}

// Auth method tags recorded on the identity.
const (
	AuthMethodPhoneOTP = "phone_otp"
	AuthMethodEmailOTP = "email_otp"
	AuthMethodPassword = "password"
	AuthMethodPasskey  = "passkey"
	AuthMethodGoogle   = "google"
)

// OTP delivery channels.
const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

type CreateUserRequest struct {
	Phone      *string
	Email      *string
	Password   string
	Name       string
	College    string
	Role       string
	AuthMethod string
}

type TokenPairResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	User         *UserInfo `json:"user"`
}

type OTPSettings struct {
	Enabled bool   `json:"enabled"`
	Channel string `json:"channel"`
}

func (s *OTPSettings) Validate() error {
	if !s.Enabled {
		return nil
	}
	if s.Channel != ChannelSMS && s.Channel != ChannelEmail {
		return fmt.Errorf("invalid otp channel: %s", s.Channel)
	}
	return nil
}

var (
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	phoneRegex = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)
)

func IsValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// IsValidPhone expects E.164 format, e.g. +911234567890.
func IsValidPhone(phone string) bool {
	return phoneRegex.MatchString(phone)
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func NormalizePhone(phone string) string {
	return strings.ReplaceAll(strings.TrimSpace(phone), " ", "")
}

func ValidatePassword(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	return nil
}
