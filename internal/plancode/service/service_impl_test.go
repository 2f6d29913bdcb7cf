package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/billingly/internal/clock"
	codedomain "github.com/smallbiznis/billingly/internal/plancode/domain"
	"github.com/smallbiznis/billingly/internal/testutil"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestGenerateForPlanIssuesValidUniqueCodes(t *testing.T) {
	env := testutil.NewEnv(t, clock.NewFakeClock(t0))
	planID := env.GenID.Generate()

	bonus := decimal.RequireFromString("9.99")
	codes, err := env.Codes.GenerateForPlan(context.Background(), planID, 25, &bonus)
	require.NoError(t, err)
	require.Len(t, codes, 25)

	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		assert.True(t, codedomain.ValidEAN13(code.Code), "code %s", code.Code)
		assert.False(t, seen[code.Code], "duplicate code %s", code.Code)
		seen[code.Code] = true
		require.NotNil(t, code.BonusAmount)
		assert.True(t, code.BonusAmount.Equal(bonus))
	}

	unredeemed, err := env.Codes.ListUnredeemed(context.Background(), planID)
	require.NoError(t, err)
	assert.Len(t, unredeemed, 25)
}

func TestGenerateForPlanRejectsBadQuantity(t *testing.T) {
	env := testutil.NewEnv(t, clock.NewFakeClock(t0))
	_, err := env.Codes.GenerateForPlan(context.Background(), env.GenID.Generate(), 0, nil)
	assert.ErrorIs(t, err, codedomain.ErrInvalidQuantity)
}

func TestMarkRedeemedSpendsACodeOnce(t *testing.T) {
	env := testutil.NewEnv(t, clock.NewFakeClock(t0))
	planID := env.GenID.Generate()
	customerID := env.GenID.Generate()

	codes, err := env.Codes.GenerateForPlan(context.Background(), planID, 1, nil)
	require.NoError(t, err)

	require.NoError(t, env.Codes.MarkRedeemed(context.Background(), env.DB, codes[0].ID, customerID))
	err = env.Codes.MarkRedeemed(context.Background(), env.DB, codes[0].ID, customerID)
	assert.ErrorIs(t, err, codedomain.ErrCodeRedeemed)

	_, err = env.Codes.FindByCode(context.Background(), codes[0].Code)
	assert.ErrorIs(t, err, codedomain.ErrCodeRedeemed)

	unredeemed, err := env.Codes.ListUnredeemed(context.Background(), planID)
	require.NoError(t, err)
	assert.Empty(t, unredeemed)
}

func TestFindByCodeUnknown(t *testing.T) {
	env := testutil.NewEnv(t, clock.NewFakeClock(t0))
	_, err := env.Codes.FindByCode(context.Background(), "4006381333931")
	assert.ErrorIs(t, err, codedomain.ErrCodeNotFound)
}
