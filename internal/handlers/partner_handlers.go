package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/campusprint/platform/internal/domain"
)

// PartnerRegisterInitiate starts a shop registration: stages the draft and
// sends the phone OTP.
func (h *Handlers) PartnerRegisterInitiate(w http.ResponseWriter, r *http.Request) {
	var req domain.PartnerRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format", "INVALID_INPUT")
		return
	}

	if err := h.registrationService.Initiate(r.Context(), &req); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "OTP sent to phone",
	})
}

// PartnerRegisterVerifyOTP confirms the phone and emails the verification
// link.
func (h *Handlers) PartnerRegisterVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
		Code  string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "Phone and code are required", "INVALID_INPUT")
		return
	}

	if err := h.registrationService.ConfirmPhone(r.Context(), req.Phone, req.Code); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Phone verified. Check your email for the verification link.",
	})
}

// PartnerRegisterVerifyEmail completes the registration from the emailed
// link: creates the shop account and signs the partner in.
func (h *Handlers) PartnerRegisterVerifyEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		var req struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			token = req.Token
		}
	}
	if token == "" {
		writeError(w, http.StatusBadRequest, "Missing verification token", "INVALID_INPUT")
		return
	}

	tokens, err := h.registrationService.CompleteViaEmailToken(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, tokens)
}

// PartnerRegisterResendOTP re-sends the phone code for a pending
// registration.
func (h *Handlers) PartnerRegisterResendOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" {
		writeError(w, http.StatusBadRequest, "Phone is required", "INVALID_INPUT")
		return
	}

	if err := h.registrationService.Resend(r.Context(), req.Phone); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "OTP re-sent",
	})
}

// PartnerLogin authenticates a shop account with a password.
func (h *Handlers) PartnerLogin(w http.ResponseWriter, r *http.Request) {
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

	result, err := h.accountService.PartnerLoginWithPassword(r.Context(), identifier, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeLoginResult(w, result)
}
