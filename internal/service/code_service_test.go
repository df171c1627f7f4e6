package service

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/spec-kit/growth-entitlements/pkg/util/errorutil"
)

func TestGenerateRandomCode(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Z0-9]{12}$`)
	seen := map[string]struct{}{}
	for i := 0; i < 50; i++ {
		code, err := GenerateRandomCode(12)
		require.NoError(t, err)
		assert.Regexp(t, pattern, code)
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 45)

	code, err := GenerateRandomCode(0)
	require.NoError(t, err)
	assert.Len(t, code, 8)
}

func TestCreateCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	generated, err := f.codes.Create(ctx, CodeCreateInput{MaxUsage: 5, Description: "  launch  "})
	require.NoError(t, err)
	assert.Len(t, generated.Code, 8)
	assert.True(t, generated.IsActive)
	assert.Equal(t, "launch", generated.Description)

	_, err = f.codes.Create(ctx, CodeCreateInput{Code: "spring", MaxUsage: 1})
	require.NoError(t, err)
	_, err = f.codes.Create(ctx, CodeCreateInput{Code: "SPRING", MaxUsage: 1})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))

	_, err = f.codes.Create(ctx, CodeCreateInput{Code: "has space", MaxUsage: 1})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalid))

	_, err = f.codes.Create(ctx, CodeCreateInput{Code: "ZERO", MaxUsage: 0})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalid))
}

func TestUpdateAndDeleteCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	code := f.createCode(t, "EDIT", 3)

	_, err := f.redemption.Redeem(ctx, caller("a@x.com", "dev-1"), RedeemInput{Input: "EDIT"})
	require.NoError(t, err)
	_, err = f.redemption.Redeem(ctx, caller("b@x.com", "dev-2"), RedeemInput{Input: "EDIT"})
	require.NoError(t, err)

	tooLow := 1
	_, err = f.codes.Update(ctx, code.ID, CodeUpdateInput{MaxUsage: &tooLow})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalid))

	raised := 10
	description := "raised"
	updated, err := f.codes.Update(ctx, code.ID, CodeUpdateInput{MaxUsage: &raised, Description: &description})
	require.NoError(t, err)
	assert.Equal(t, 10, updated.MaxUsage)
	assert.Equal(t, 2, updated.CurrentUsage)

	history, err := f.codes.UsageHistory(ctx, &code.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	stats, err := f.codes.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalCodes)
	assert.Equal(t, 2, stats.TotalCurrentUsage)

	require.NoError(t, f.codes.Delete(ctx, code.ID))
	_, err = f.codes.Get(ctx, code.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	resolved, err := f.resolver.Resolve(ctx, caller("a@x.com", "dev-1"))
	require.NoError(t, err)
	assert.False(t, resolved.CanUse, "grants of a deleted code stop contributing")
}
