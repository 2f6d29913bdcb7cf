package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/billingly/internal/clock"
	plandomain "github.com/smallbiznis/billingly/internal/plan/domain"
	"github.com/smallbiznis/billingly/internal/testutil"
)

func TestCreatePlanValidation(t *testing.T) {
	env := testutil.NewEnv(t, clock.NewFakeClock(time.Now()))
	ctx := context.Background()

	base := plandomain.CreatePlanRequest{
		Name:        "pro",
		Periodicity: "monthly",
		Amount:      decimal.RequireFromString("9.99"),
		GracePeriod: 10 * 24 * time.Hour,
	}

	_, err := env.Plans.Create(ctx, base)
	require.NoError(t, err)

	noName := base
	noName.Name = "  "
	_, err = env.Plans.Create(ctx, noName)
	assert.ErrorIs(t, err, plandomain.ErrInvalidName)

	badPeriod := base
	badPeriod.Periodicity = "fortnightly"
	_, err = env.Plans.Create(ctx, badPeriod)
	assert.ErrorIs(t, err, plandomain.ErrInvalidPeriodicity)

	negative := base
	negative.Amount = decimal.RequireFromString("-1")
	_, err = env.Plans.Create(ctx, negative)
	assert.ErrorIs(t, err, plandomain.ErrInvalidAmount)

	noGrace := base
	noGrace.GracePeriod = 0
	_, err = env.Plans.Create(ctx, noGrace)
	assert.ErrorIs(t, err, plandomain.ErrInvalidGracePeriod)
}

func TestListExcludesHiddenPlans(t *testing.T) {
	env := testutil.NewEnv(t, clock.NewFakeClock(time.Now()))
	ctx := context.Background()

	_, err := env.Plans.Create(ctx, plandomain.CreatePlanRequest{
		Name:        "public",
		Periodicity: "monthly",
		Amount:      decimal.RequireFromString("9.99"),
		GracePeriod: 24 * time.Hour,
	})
	require.NoError(t, err)

	_, err = env.Plans.Create(ctx, plandomain.CreatePlanRequest{
		Name:        "secret-deal",
		Periodicity: "yearly",
		Amount:      decimal.RequireFromString("50.00"),
		GracePeriod: 24 * time.Hour,
		Hidden:      true,
	})
	require.NoError(t, err)

	plans, err := env.Plans.List(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "public", plans[0].Name)
}

func TestPeriodicityCalendarMath(t *testing.T) {
	start := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	// Jan 31 + 1 month normalizes past February's end.
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), plandomain.Monthly.AddTo(start).In(time.UTC))
	assert.Equal(t, time.Date(2027, 1, 31, 0, 0, 0, 0, time.UTC), plandomain.Yearly.AddTo(start).In(time.UTC))

	ninety, err := plandomain.ParsePeriodicity("90d")
	require.NoError(t, err)
	assert.Equal(t, start.AddDate(0, 0, 90), ninety.AddTo(start))
}
