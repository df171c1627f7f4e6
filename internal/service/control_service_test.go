package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/spec-kit/growth-entitlements/internal/auth"
	"github.com/spec-kit/growth-entitlements/internal/config"
	apperrors "github.com/spec-kit/growth-entitlements/pkg/util/errorutil"
)

func TestGlobalSwitchFallsBackToLastKnown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var notified []bool
	f.control.Subscribe(func(_ context.Context, enabled bool) {
		notified = append(notified, enabled)
	})

	require.NoError(t, f.control.SetGlobalSwitch(ctx, false, "ops"))
	assert.False(t, f.control.GlobalSwitch(ctx))
	assert.Equal(t, []bool{false}, notified)

	f.store.down.Store(true)
	assert.False(t, f.control.GlobalSwitch(ctx))

	f.store.down.Store(false)
	require.NoError(t, f.control.SetGlobalSwitch(ctx, true, "ops"))
	assert.True(t, f.control.GlobalSwitch(ctx))
	assert.Equal(t, []bool{false, true}, notified)
}

func TestAdminLogin(t *testing.T) {
	ctx := context.Background()
	tokens := auth.NewTokenManager("secret", time.Hour)
	svc, err := NewAuthService(config.AuthConfig{AdminPassword: "letmein", BcryptCost: bcrypt.MinCost}, tokens, nil)
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "ops", "wrong")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))

	token, session, err := svc.Login(ctx, "ops", "letmein")
	require.NoError(t, err)
	assert.Equal(t, "ops", session.Actor)

	parsed, err := tokens.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, session.Role, parsed.Role)
}

func TestAdminLoginDisabledWithoutPassword(t *testing.T) {
	svc, err := NewAuthService(config.AuthConfig{}, auth.NewTokenManager("secret", time.Hour), nil)
	require.NoError(t, err)

	_, _, err = svc.Login(context.Background(), "ops", "")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnauthorized))
}
