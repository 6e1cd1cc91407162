package service

import (
	"context"
	"errors"
	"testing"

	"github.com/campusprint/platform/internal/domain"
	"github.com/campusprint/platform/pkg/auth"
)

func newTestTokenService(t *testing.T) (TokenService, *mockRefreshRepo, *domain.User) {
	t.Helper()
	users := newMockUserRepo()
	phone := "+919876543210"
	user, err := users.Create(context.Background(), &domain.CreateUserRequest{
		Role:       domain.RoleStudent,
		Phone:      &phone,
		Name:       "Asha",
		AuthMethod: domain.AuthMethodPhoneOTP,
	})
	if err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}
	refreshRepo := newMockRefreshRepo()
	return NewTokenService(refreshRepo, users, testConfig()), refreshRepo, user
}

func TestTokens_IssuePair(t *testing.T) {
	svc, repo, user := newTestTokenService(t)
	cfg := testConfig()

	pair, err := svc.IssuePair(context.Background(), user)
	if err != nil {
		t.Fatalf("IssuePair failed: %v", err)
	}

	claims, err := auth.Parse(pair.AccessToken, cfg.Auth.JWTSecret)
	if err != nil {
		t.Fatalf("Access token must parse: %v", err)
	}
	if claims.Type != auth.TokenTypeAccess || claims.Sub != user.ID || claims.Role != user.Role {
		t.Fatalf("Bad access claims: %+v", claims)
	}

	refreshClaims, err := auth.Parse(pair.RefreshToken, cfg.Auth.JWTSecret)
	if err != nil {
		t.Fatalf("Refresh token must parse: %v", err)
	}
	if refreshClaims.Type != auth.TokenTypeRefresh {
		t.Fatalf("Expected refresh type, got %s", refreshClaims.Type)
	}

	if repo.tokens[pair.RefreshToken] != user.ID {
		t.Fatal("Refresh token was not persisted for the user")
	}
	if pair.User == nil || pair.User.ID != user.ID {
		t.Fatal("Token pair must carry the user profile")
	}
}

func TestTokens_Rotate_SingleUse(t *testing.T) {
	svc, _, user := newTestTokenService(t)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, user)
	if err != nil {
		t.Fatalf("IssuePair failed: %v", err)
	}

	rotated, err := svc.Rotate(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if rotated.RefreshToken == pair.RefreshToken {
		t.Fatal("Rotation must mint a new refresh token")
	}

	// Replaying the consumed token must fail.
	if _, err := svc.Rotate(ctx, pair.RefreshToken); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("Expected replayed token to fail, got %v", err)
	}

	// The token from the successful rotation still works.
	if _, err := svc.Rotate(ctx, rotated.RefreshToken); err != nil {
		t.Fatalf("Fresh token must rotate: %v", err)
	}
}

func TestTokens_Rotate_RejectsAccessToken(t *testing.T) {
	svc, _, user := newTestTokenService(t)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, user)
	if err != nil {
		t.Fatalf("IssuePair failed: %v", err)
	}

	if _, err := svc.Rotate(ctx, pair.AccessToken); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("Access token must not rotate, got %v", err)
	}
}

func TestTokens_Rotate_RejectsGarbage(t *testing.T) {
	svc, _, _ := newTestTokenService(t)

	if _, err := svc.Rotate(context.Background(), "not-a-jwt"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("Expected unauthorized, got %v", err)
	}
}

func TestTokens_Revoke(t *testing.T) {
	svc, _, user := newTestTokenService(t)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, user)
	if err != nil {
		t.Fatalf("IssuePair failed: %v", err)
	}

	if err := svc.Revoke(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, err := svc.Rotate(ctx, pair.RefreshToken); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("Revoked token must not rotate, got %v", err)
	}
}

func TestTokens_VerifyAccess(t *testing.T) {
	svc, _, user := newTestTokenService(t)
	ctx := context.Background()

	pair, err := svc.IssuePair(ctx, user)
	if err != nil {
		t.Fatalf("IssuePair failed: %v", err)
	}

	got, err := svc.VerifyAccess(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess failed: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("Expected user %d, got %d", user.ID, got.ID)
	}

	// A refresh token is not an access token.
	if _, err := svc.VerifyAccess(ctx, pair.RefreshToken); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("Refresh token must not pass access verification, got %v", err)
	}
}
