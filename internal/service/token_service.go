package service

import (
	"context"
	"fmt"
	"time"

	"github.com/campusprint/platform/internal/domain"
	"github.com/campusprint/platform/internal/repository"
	"github.com/campusprint/platform/pkg/auth"
	"github.com/campusprint/platform/pkg/config"
	"github.com/google/uuid"
)

// TokenService issues, rotates, and revokes access/refresh token pairs.
// Refresh tokens are single-use: rotation overwrites the stored value, so a
// leaked token stops working at the legitimate client's next refresh.
type TokenService interface {
	IssuePair(ctx context.Context, user *domain.User) (*domain.TokenPairResponse, error)
	Rotate(ctx context.Context, refreshToken string) (*domain.TokenPairResponse, error)
	Revoke(ctx context.Context, refreshToken string) error
	VerifyAccess(ctx context.Context, accessToken string) (*domain.User, error)
}

type tokenService struct {
	refreshRepo repository.RefreshTokenRepository
	userRepo    repository.UserRepository
	cfg         *config.Config
}

func NewTokenService(refreshRepo repository.RefreshTokenRepository, userRepo repository.UserRepository, cfg *config.Config) TokenService {
	return &tokenService{
		refreshRepo: refreshRepo,
		userRepo:    userRepo,
		cfg:         cfg,
	}
}

func (s *tokenService) IssuePair(ctx context.Context, user *domain.User) (*domain.TokenPairResponse, error) {
	accessToken, refreshToken, expiresAt, err := s.signPair(user)
	if err != nil {
		return nil, err
	}

	if err := s.refreshRepo.Create(ctx, user.ID, refreshToken, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to persist refresh token: %w", err)
	}

	return &domain.TokenPairResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user.ToUserInfo(),
	}, nil
}

func (s *tokenService) Rotate(ctx context.Context, refreshToken string) (*domain.TokenPairResponse, error) {
	claims, err := auth.Parse(refreshToken, s.cfg.Auth.JWTSecret)
	if err != nil {
		return nil, domain.ErrUnauthorized
	}
	if claims.Type != auth.TokenTypeRefresh {
		return nil, domain.ErrUnauthorized
	}

	user, err := s.userRepo.FindByID(ctx, claims.Sub)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, domain.ErrUnauthorized
	}

	accessToken, newRefreshToken, expiresAt, err := s.signPair(user)
	if err != nil {
		return nil, err
	}

	// Single conditional swap keyed by the old value: the first rotation
	// wins, a replayed token finds no row.
	userID, ok, err := s.refreshRepo.Rotate(ctx, refreshToken, newRefreshToken, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	if !ok || userID != user.ID {
		return nil, domain.ErrUnauthorized
	}

	return &domain.TokenPairResponse{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		User:         user.ToUserInfo(),
	}, nil
}

func (s *tokenService) Revoke(ctx context.Context, refreshToken string) error {
	return s.refreshRepo.DeleteByToken(ctx, refreshToken)
}

func (s *tokenService) VerifyAccess(ctx context.Context, accessToken string) (*domain.User, error) {
	claims, err := auth.Parse(accessToken, s.cfg.Auth.JWTSecret)
	if err != nil {
		return nil, domain.ErrUnauthorized
	}
	if claims.Type != auth.TokenTypeAccess {
		return nil, domain.ErrUnauthorized
	}

	user, err := s.userRepo.FindByID(ctx, claims.Sub)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, domain.ErrUnauthorized
	}
	return user, nil
}

func (s *tokenService) signPair(user *domain.User) (access, refresh string, refreshExpiry time.Time, err error) {
	access, err = auth.NewToken(user.ID, auth.TokenTypeAccess, user.Role, "", s.cfg.Auth.JWTSecret, s.cfg.Auth.AccessTokenTTL)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	// A fresh jti makes every refresh token string unique even within the
	// same second.
	refresh, err = auth.NewToken(user.ID, auth.TokenTypeRefresh, "", uuid.NewString(), s.cfg.Auth.JWTSecret, s.cfg.Auth.RefreshTokenTTL)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return access, refresh, time.Now().Add(s.cfg.Auth.RefreshTokenTTL), nil
}
