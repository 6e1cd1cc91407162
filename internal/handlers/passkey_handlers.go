package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// PasskeyRegisterOptions starts a passkey registration ceremony for the
// authenticated user.
func (h *Handlers) PasskeyRegisterOptions(w http.ResponseWriter, r *http.Request) {
	options, err := h.passkeyService.BeginRegistration(r.Context(), currentUserID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, options)
}

// PasskeyRegisterVerify finishes the registration ceremony with the
// authenticator's attestation response.
func (h *Handlers) PasskeyRegisterVerify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		writeError(w, http.StatusBadRequest, "Missing attestation response", "INVALID_INPUT")
		return
	}

	info, err := h.passkeyService.FinishRegistration(r.Context(), currentUserID(r), body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, info)
}

// PasskeyLoginOptions starts an authentication ceremony. With a phone it
// scopes the allow-list; without one it starts a discoverable flow.
func (h *Handlers) PasskeyLoginOptions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
	}
	// An empty body means a discoverable login.
	_ = json.NewDecoder(r.Body).Decode(&req)

	options, err := h.passkeyService.BeginAuthentication(r.Context(), req.Phone)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, options)
}

// PasskeyLoginVerify finishes the authentication ceremony and issues a
// token pair.
func (h *Handlers) PasskeyLoginVerify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone    string          `json:"phone"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Response) == 0 {
		writeError(w, http.StatusBadRequest, "Missing assertion response", "INVALID_INPUT")
		return
	}

	tokens, err := h.passkeyService.FinishAuthentication(r.Context(), req.Phone, req.Response)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// ListPasskeys returns the authenticated user's registered credentials.
func (h *Handlers) ListPasskeys(w http.ResponseWriter, r *http.Request) {
	passkeys, err := h.passkeyService.List(r.Context(), currentUserID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"passkeys": passkeys,
	})
}

// RemovePasskey deletes one of the authenticated user's credentials.
func (h *Handlers) RemovePasskey(w http.ResponseWriter, r *http.Request) {
	credentialID := chi.URLParam(r, "id")
	if credentialID == "" {
		writeError(w, http.StatusBadRequest, "Credential ID is required", "INVALID_INPUT")
		return
	}

	if err := h.passkeyService.Remove(r.Context(), currentUserID(r), credentialID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
