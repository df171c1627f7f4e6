package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/growth-entitlements/internal/auth"
	"github.com/spec-kit/growth-entitlements/internal/config"
	"github.com/spec-kit/growth-entitlements/internal/domain"
	apperrors "github.com/spec-kit/growth-entitlements/pkg/util/errorutil"
)

// AuthService signs operators into the admin surface.
type AuthService struct {
	tokenMgr     *auth.TokenManager
	passwordHash string
	logger       *zap.Logger
}

// NewAuthService builds the service. A plaintext admin password is hashed at startup
// when no hash is configured.
func NewAuthService(cfg config.AuthConfig, tokens *auth.TokenManager, logger *zap.Logger) (*AuthService, error) {
	hash := cfg.AdminPasswordHash
	if hash == "" && cfg.AdminPassword != "" {
		hashed, err := auth.HashPassword(cfg.AdminPassword, cfg.BcryptCost)
		if err != nil {
			return nil, err
		}
		hash = hashed
	}
	logger = loggerOrNop(logger)
	if hash == "" {
		logger.Warn("no admin password configured, admin login disabled")
	}
	return &AuthService{tokenMgr: tokens, passwordHash: hash, logger: logger}, nil
}

// Login verifies the admin password and issues an operator session.
func (s *AuthService) Login(_ context.Context, actor, password string) (string, domain.AdminSession, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = "admin"
	}
	if err := auth.ComparePassword(s.passwordHash, password); err != nil {
		s.logger.Warn("admin login rejected", zap.String("actor", actor))
		return "", domain.AdminSession{}, apperrors.NewUnauthorized("invalid credentials")
	}
	token, session, err := s.tokenMgr.GenerateToken(actor, domain.AdminRoleOperator)
	if err != nil {
		return "", domain.AdminSession{}, apperrors.NewInternalError(err)
	}
	s.logger.Info("admin login", zap.String("actor", actor))
	return token, session, nil
}
