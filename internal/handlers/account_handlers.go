package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/campusprint/platform/internal/domain"
	"github.com/campusprint/platform/internal/service"
)

// InitiatePhoneOTP sends a login code over SMS.
func (h *Handlers) InitiatePhoneOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" {
		writeError(w, http.StatusBadRequest, "Phone is required", "INVALID_INPUT")
		return
	}

	if err := h.accountService.InitiateOTP(r.Context(), req.Phone, domain.ChannelSMS); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "OTP sent",
	})
}

// VerifyPhoneOTP exchanges a phone code for a token pair, creating the
// account on first verification.
func (h *Handlers) VerifyPhoneOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "Phone and code are required", "INVALID_INPUT")
		return
	}

	tokens, err := h.accountService.LoginWithOTP(r.Context(), req.Phone, domain.ChannelSMS, req.Code)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// PhoneSignup verifies a phone code and creates a profile in one step.
func (h *Handlers) PhoneSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone   string `json:"phone"`
		Code    string `json:"code"`
		Name    string `json:"name"`
		College string `json:"college"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "Phone and code are required", "INVALID_INPUT")
		return
	}

	tokens, err := h.accountService.SignupWithOTP(r.Context(), req.Phone, domain.ChannelSMS, req.Code, req.Name, req.College)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, tokens)
}

func (h *Handlers) InitiateEmailOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "Email is required", "INVALID_INPUT")
		return
	}

	if err := h.accountService.InitiateOTP(r.Context(), req.Email, domain.ChannelEmail); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "OTP sent",
	})
}

func (h *Handlers) VerifyEmailOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "Email and code are required", "INVALID_INPUT")
		return
	}

	tokens, err := h.accountService.LoginWithOTP(r.Context(), req.Email, domain.ChannelEmail, req.Code)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// PasswordSignup registers a student account with a password on a phone
// or email identifier.
func (h *Handlers) PasswordSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone    string `json:"phone"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
		College  string `json:"college"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format", "INVALID_INPUT")
		return
	}

	tokens, err := h.accountService.SignupWithPassword(r.Context(), &service.PasswordSignupRequest{
		Phone:    req.Phone,
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		College:  req.College,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, tokens)
}

// PasswordLogin authenticates with a password. Accounts with OTP enabled
// get a challenge instead of tokens; the client finishes through the OTP
// verify endpoint.
func (h *Handlers) PasswordLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone    string `json:"phone"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Password is required", "INVALID_INPUT")
		return
	}

	identifier := req.Phone
	if identifier == "" {
		identifier = req.Email
	}
	if identifier == "" {
		writeError(w, http.StatusBadRequest, "Phone or email is required", "INVALID_INPUT")
		return
	}

	result, err := h.accountService.LoginWithPassword(r.Context(), identifier, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeLoginResult(w, result)
}

// GoogleSignIn exchanges a Google ID token for a token pair.
func (h *Handlers) GoogleSignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDToken string `json:"idToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IDToken == "" {
		writeError(w, http.StatusBadRequest, "idToken is required", "INVALID_INPUT")
		return
	}

	tokens, err := h.accountService.LoginWithGoogle(r.Context(), req.IDToken)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// GoogleLink attaches a Google account to the authenticated user.
func (h *Handlers) GoogleLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDToken string `json:"idToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IDToken == "" {
		writeError(w, http.StatusBadRequest, "idToken is required", "INVALID_INPUT")
		return
	}

	if err := h.accountService.LinkGoogle(r.Context(), currentUserID(r), req.IDToken); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Google account linked",
	})
}

// Refresh rotates a refresh token for a fresh pair.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refreshToken is required", "INVALID_INPUT")
		return
	}

	tokens, err := h.tokenService.Rotate(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// Logout revokes the presented refresh token. Always succeeds.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.RefreshToken != "" {
		_ = h.tokenService.Revoke(r.Context(), req.RefreshToken)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Logged out",
	})
}

// UpdateOTPSettings toggles the second factor on the account.
func (h *Handlers) UpdateOTPSettings(w http.ResponseWriter, r *http.Request) {
	var req domain.OTPSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format", "INVALID_INPUT")
		return
	}

	if err := h.accountService.UpdateOTPSettings(r.Context(), currentUserID(r), req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "OTP settings updated",
	})
}

// SetPassword sets or replaces the account password.
func (h *Handlers) SetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Password is required", "INVALID_INPUT")
		return
	}

	if err := h.accountService.SetPassword(r.Context(), currentUserID(r), req.Password); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Password updated",
	})
}

// RegenerateBackupCodes replaces the account's backup codes and returns
// the plaintext once.
func (h *Handlers) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := h.accountService.RegenerateBackupCodes(r.Context(), currentUserID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"codes": codes,
	})
}

// BackupCodeStatus reports how many unused backup codes remain.
func (h *Handlers) BackupCodeStatus(w http.ResponseWriter, r *http.Request) {
	remaining, err := h.accountService.BackupCodesRemaining(r.Context(), currentUserID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"remaining": remaining,
	})
}

func writeLoginResult(w http.ResponseWriter, result *service.LoginResult) {
	if result.OTPRequired {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"otpRequired": true,
			"channel":     result.Channel,
		})
		return
	}
	writeJSON(w, http.StatusOK, result.Tokens)
}
