package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/billingly/internal/clock"
	ledgerdomain "github.com/smallbiznis/billingly/internal/ledger/domain"
	"github.com/smallbiznis/billingly/internal/testutil"
)

func TestRecordValidation(t *testing.T) {
	env := testutil.NewEnv(t, clock.NewFakeClock(time.Now()))
	ctx := context.Background()

	err := env.Ledger.Record(ctx, env.DB, 0, decimal.NewFromInt(10),
		[]ledgerdomain.Account{ledgerdomain.AccountCash}, ledgerdomain.Links{})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidCustomer)

	err = env.Ledger.Record(ctx, env.DB, 1, decimal.NewFromInt(10), nil, ledgerdomain.Links{})
	assert.ErrorIs(t, err, ledgerdomain.ErrNoAccounts)

	err = env.Ledger.Record(ctx, env.DB, 1, decimal.NewFromInt(10),
		[]ledgerdomain.Account{"gold_bars"}, ledgerdomain.Links{})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAccount)
}

func TestRecordAppendsOneEntryPerAccount(t *testing.T) {
	env := testutil.NewEnv(t, clock.NewFakeClock(time.Now()))
	ctx := context.Background()
	customerID := env.GenID.Generate()

	amount := decimal.RequireFromString("99.99")
	accounts := []ledgerdomain.Account{
		ledgerdomain.AccountIOweYou,
		ledgerdomain.AccountServicesToProvide,
	}
	require.NoError(t, env.Ledger.Record(ctx, env.DB, customerID, amount, accounts, ledgerdomain.Links{}))

	entries, err := env.Ledger.History(ctx, customerID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.True(t, entry.Amount.Equal(amount))
	}
}

func TestRecordStampsEntriesFromTheClock(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	env := testutil.NewEnv(t, clock.NewFakeClock(t0))
	ctx := context.Background()
	customerID := env.GenID.Generate()

	record := func(amount string) {
		require.NoError(t, env.Ledger.Record(ctx, env.DB, customerID,
			decimal.RequireFromString(amount),
			[]ledgerdomain.Account{ledgerdomain.AccountCash}, ledgerdomain.Links{}))
	}

	record("10.00")
	env.Clock.Advance(48 * time.Hour)
	record("20.00")

	entries, err := env.Ledger.History(ctx, customerID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].CreatedAt.Equal(t0), "created_at %s", entries[0].CreatedAt)
	assert.True(t, entries[1].CreatedAt.Equal(t0.Add(48*time.Hour)), "created_at %s", entries[1].CreatedAt)
	assert.True(t, entries[0].Amount.Equal(decimal.RequireFromString("10.00")))
}

func TestBalanceFoldsExactly(t *testing.T) {
	env := testutil.NewEnv(t, clock.NewFakeClock(time.Now()))
	ctx := context.Background()
	customerID := env.GenID.Generate()

	// Many small decimal postings must fold without float drift.
	cent := decimal.RequireFromString("0.01")
	for i := 0; i < 100; i++ {
		require.NoError(t, env.Ledger.Record(ctx, env.DB, customerID, cent,
			[]ledgerdomain.Account{ledgerdomain.AccountCash}, ledgerdomain.Links{}))
	}
	require.NoError(t, env.Ledger.Record(ctx, env.DB, customerID, decimal.RequireFromString("-0.50"),
		[]ledgerdomain.Account{ledgerdomain.AccountCash}, ledgerdomain.Links{}))

	balance, err := env.Ledger.Balance(ctx, customerID)
	require.NoError(t, err)
	assert.True(t, balance.Get(ledgerdomain.AccountCash).Equal(decimal.RequireFromString("0.50")),
		"got %s", balance.Get(ledgerdomain.AccountCash))
	assert.True(t, balance.Get(ledgerdomain.AccountDebt).IsZero())
}
