package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/campusprint/platform/internal/domain"
	"github.com/campusprint/platform/internal/service"
	"github.com/campusprint/platform/pkg/auth"
	"github.com/campusprint/platform/pkg/config"
	"github.com/campusprint/platform/pkg/logger"
)

type Handlers struct {
	accountService      service.AccountService
	tokenService        service.TokenService
	passkeyService      service.PasskeyService
	registrationService service.RegistrationService
	config              *config.Config
}

func New(
	accountService service.AccountService,
	tokenService service.TokenService,
	passkeyService service.PasskeyService,
	registrationService service.RegistrationService,
	config *config.Config,
) *Handlers {
	return &Handlers{
		accountService:      accountService,
		tokenService:        tokenService,
		passkeyService:      passkeyService,
		registrationService: registrationService,
		config:              config,
	}
}

type claimsKey struct{}

// Middleware for JWT authentication. Only access tokens pass; refresh
// tokens presented here are rejected.
func (h *Handlers) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "Missing or invalid authorization header", "UNAUTHORIZED")
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := auth.Parse(token, h.config.Auth.JWTSecret)
		if err != nil || claims.Type != auth.TokenTypeAccess {
			writeError(w, http.StatusUnauthorized, "Invalid token", "INVALID_TOKEN")
			return
		}

		ctx := context.WithValue(r.Context(), logger.UserIDKey, claims.Sub)
		ctx = context.WithValue(ctx, claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Helper functions

func getClaims(r *http.Request) *auth.Claims {
	if claims, ok := r.Context().Value(claimsKey{}).(*auth.Claims); ok {
		return claims
	}
	return nil
}

func currentUserID(r *http.Request) int64 {
	if claims := getClaims(r); claims != nil {
		return claims.Sub
	}
	return 0
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, message, code string) {
	response := map[string]string{
		"error": message,
		"code":  code,
	}
	writeJSON(w, statusCode, response)
}

// writeServiceError maps a service failure to an HTTP response by its
// domain kind. Unclassified errors stay opaque.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch domain.ErrorKind(err) {
	case domain.KindValidation:
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_INPUT")
	case domain.KindConflict:
		writeError(w, http.StatusConflict, err.Error(), "CONFLICT")
	case domain.KindInvalidOrExpiredOTP:
		writeError(w, http.StatusUnauthorized, err.Error(), "INVALID_OTP")
	case domain.KindChallengeExpired:
		writeError(w, http.StatusUnauthorized, err.Error(), "CHALLENGE_EXPIRED")
	case domain.KindInvalidOrExpiredLink:
		writeError(w, http.StatusUnauthorized, err.Error(), "INVALID_LINK")
	case domain.KindUnauthorized:
		writeError(w, http.StatusUnauthorized, err.Error(), "UNAUTHORIZED")
	case domain.KindReplayDetected:
		writeError(w, http.StatusUnauthorized, err.Error(), "REPLAY_DETECTED")
	case domain.KindCredentialNotFound:
		writeError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case domain.KindRegistrationExpired:
		writeError(w, http.StatusGone, err.Error(), "REGISTRATION_EXPIRED")
	case domain.KindNotConfigured:
		writeError(w, http.StatusServiceUnavailable, err.Error(), "NOT_CONFIGURED")
	default:
		logger.ErrorContext(r.Context(), "Unhandled service error", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error", "INTERNAL_ERROR")
	}
}
