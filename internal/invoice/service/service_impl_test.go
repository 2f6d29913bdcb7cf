package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/smallbiznis/billingly/internal/clock"
	customerdomain "github.com/smallbiznis/billingly/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/billingly/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/billingly/internal/ledger/domain"
	"github.com/smallbiznis/billingly/internal/testutil"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newCustomer(t *testing.T, env *testutil.Env) customerdomain.Customer {
	t.Helper()
	customer, err := env.Customers.Create(context.Background(), customerdomain.CreateCustomerRequest{
		Name:  "Ada",
		Email: "ada@example.com",
	})
	require.NoError(t, err)
	return customer
}

func credit(t *testing.T, env *testutil.Env, customerID snowflake.ID, amount string) {
	t.Helper()
	require.NoError(t, env.DB.Transaction(func(tx *gorm.DB) error {
		_, err := env.Payments.CreditFor(context.Background(), tx, customerID, decimal.RequireFromString(amount))
		return err
	}))
}

func openInvoice(t *testing.T, env *testutil.Env, invoice *invoicedomain.Invoice) {
	t.Helper()
	require.NoError(t, env.DB.Transaction(func(tx *gorm.DB) error {
		return env.Invoices.Open(context.Background(), tx, invoice)
	}))
}

func reload(t *testing.T, env *testutil.Env, id snowflake.ID) invoicedomain.Invoice {
	t.Helper()
	var invoice invoicedomain.Invoice
	require.NoError(t, env.DB.First(&invoice, "id = ?", id).Error)
	return invoice
}

func balance(t *testing.T, env *testutil.Env, customerID snowflake.ID) ledgerdomain.Balance {
	t.Helper()
	b, err := env.Ledger.Balance(context.Background(), customerID)
	require.NoError(t, err)
	return b
}

func assertBalance(t *testing.T, b ledgerdomain.Balance, account ledgerdomain.Account, want string) {
	t.Helper()
	assert.True(t, b.Get(account).Equal(decimal.RequireFromString(want)),
		"account %s: want %s, got %s", account, want, b.Get(account))
}

func TestOpenSettlesUpfrontInvoiceFromBalance(t *testing.T) {
	env := testutil.NewEnv(t, clock.NewFakeClock(t0))
	customer := newCustomer(t, env)
	credit(t, env, customer.ID, "500.00")

	invoice := invoicedomain.Invoice{
		CustomerID:     customer.ID,
		SubscriptionID: env.GenID.Generate(),
		Amount:         decimal.RequireFromString("99.99"),
		PayableUpfront: true,
		DueOn:          t0.AddDate(0, 0, 10),
		PeriodStart:    t0,
		PeriodEnd:      t0.AddDate(1, 0, 0),
	}
	openInvoice(t, env, &invoice)

	got := reload(t, env, invoice.ID)
	require.True(t, got.Paid())
	require.NotNil(t, got.ReceiptID)

	var receipt invoicedomain.Receipt
	require.NoError(t, env.DB.First(&receipt, "invoice_id = ?", invoice.ID).Error)
	assert.Equal(t, customer.ID, receipt.CustomerID)

	b := balance(t, env, customer.ID)
	assertBalance(t, b, ledgerdomain.AccountCash, "400.01")
	assertBalance(t, b, ledgerdomain.AccountPaidUpfront, "99.99")
	assertBalance(t, b, ledgerdomain.AccountIOweYou, "0")
	assertBalance(t, b, ledgerdomain.AccountServicesToProvide, "0")
}

func TestOpenLeavesDueMonthInvoicePendingWithoutBalance(t *testing.T) {
	env := testutil.NewEnv(t, clock.NewFakeClock(t0))
	customer := newCustomer(t, env)

	invoice := invoicedomain.Invoice{
		CustomerID:     customer.ID,
		SubscriptionID: env.GenID.Generate(),
		Amount:         decimal.RequireFromString("100.00"),
		DueOn:          t0.AddDate(0, 1, 10),
		PeriodStart:    t0,
		PeriodEnd:      t0.AddDate(0, 1, 0),
	}
	openInvoice(t, env, &invoice)

	got := reload(t, env, invoice.ID)
	assert.False(t, got.Paid())

	b := balance(t, env, customer.ID)
	assertBalance(t, b, ledgerdomain.AccountExpenses, "100.00")
	assertBalance(t, b, ledgerdomain.AccountDebt, "100.00")
	assertBalance(t, b, ledgerdomain.AccountCash, "0")
}

func TestChargeSettlesDueMonthInvoice(t *testing.T) {
	env := testutil.NewEnv(t, clock.NewFakeClock(t0))
	customer := newCustomer(t, env)

	invoice := invoicedomain.Invoice{
		CustomerID:     customer.ID,
		SubscriptionID: env.GenID.Generate(),
		Amount:         decimal.RequireFromString("100.00"),
		DueOn:          t0.AddDate(0, 1, 10),
		PeriodStart:    t0,
		PeriodEnd:      t0.AddDate(0, 1, 0),
	}
	openInvoice(t, env, &invoice)
	credit(t, env, customer.ID, "150.00")

	var charged bool
	require.NoError(t, env.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		charged, err = env.Invoices.Charge(context.Background(), tx, invoice.ID)
		return err
	}))
	require.True(t, charged)

	b := balance(t, env, customer.ID)
	assertBalance(t, b, ledgerdomain.AccountCash, "50.00")
	assertBalance(t, b, ledgerdomain.AccountDebt, "0")
	assertBalance(t, b, ledgerdomain.AccountSpent, "100.00")

	// Settling twice never moves money twice.
	require.NoError(t, env.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		charged, err = env.Invoices.Charge(context.Background(), tx, invoice.ID)
		return err
	}))
	assert.False(t, charged)
	assertBalance(t, balance(t, env, customer.ID), ledgerdomain.AccountCash, "50.00")
}

func TestChargeSkipsFuturePeriods(t *testing.T) {
	env := testutil.NewEnv(t, clock.NewFakeClock(t0))
	customer := newCustomer(t, env)
	credit(t, env, customer.ID, "500.00")

	invoice := invoicedomain.Invoice{
		CustomerID:     customer.ID,
		SubscriptionID: env.GenID.Generate(),
		Amount:         decimal.RequireFromString("10.00"),
		DueOn:          t0.AddDate(0, 0, 12),
		PeriodStart:    t0.AddDate(0, 0, 2),
		PeriodEnd:      t0.AddDate(0, 1, 2),
	}
	openInvoice(t, env, &invoice)
	assert.False(t, reload(t, env, invoice.ID).Paid())

	// Once the period starts the same invoice settles.
	env.Clock.Advance(48 * time.Hour)
	var charged bool
	require.NoError(t, env.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		charged, err = env.Invoices.Charge(context.Background(), tx, invoice.ID)
		return err
	}))
	assert.True(t, charged)
}

func TestTruncatePaidInvoiceReimbursesUnusedTail(t *testing.T) {
	env := testutil.NewEnv(t, clock.NewFakeClock(t0))
	customer := newCustomer(t, env)
	credit(t, env, customer.ID, "99.99")

	invoice := invoicedomain.Invoice{
		CustomerID:     customer.ID,
		SubscriptionID: env.GenID.Generate(),
		Amount:         decimal.RequireFromString("99.99"),
		PayableUpfront: true,
		DueOn:          t0.AddDate(0, 0, 10),
		PeriodStart:    t0,
		PeriodEnd:      t0.Add(2000 * time.Hour),
	}
	openInvoice(t, env, &invoice)
	require.True(t, reload(t, env, invoice.ID).Paid())

	// Exactly half the period elapses. 99.99 / 2 rounds half-up to 50.00
	// while the reimbursement is 99.99 - 50.00 = 49.99; the cent of drift
	// between the two is expected.
	env.Clock.Advance(1000 * time.Hour)
	require.NoError(t, env.DB.Transaction(func(tx *gorm.DB) error {
		return env.Invoices.Truncate(context.Background(), tx, invoice.ID)
	}))

	got := reload(t, env, invoice.ID)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("50.00")), "amount %s", got.Amount)
	assert.True(t, got.PeriodEnd.Equal(env.Clock.Now()), "period_end %s", got.PeriodEnd)
	assert.Nil(t, got.DeletedOn)

	b := balance(t, env, customer.ID)
	assertBalance(t, b, ledgerdomain.AccountCash, "49.99")
	assertBalance(t, b, ledgerdomain.AccountSpent, "-49.99")
}

func TestTruncateUnstartedInvoiceForfeits(t *testing.T) {
	env := testutil.NewEnv(t, clock.NewFakeClock(t0))
	customer := newCustomer(t, env)

	invoice := invoicedomain.Invoice{
		CustomerID:     customer.ID,
		SubscriptionID: env.GenID.Generate(),
		Amount:         decimal.RequireFromString("100.00"),
		DueOn:          t0.AddDate(0, 1, 10),
		PeriodStart:    t0.AddDate(0, 0, 3),
		PeriodEnd:      t0.AddDate(0, 1, 3),
	}
	openInvoice(t, env, &invoice)

	require.NoError(t, env.DB.Transaction(func(tx *gorm.DB) error {
		return env.Invoices.Truncate(context.Background(), tx, invoice.ID)
	}))

	got := reload(t, env, invoice.ID)
	assert.True(t, got.Amount.IsZero())
	require.NotNil(t, got.DeletedOn)

	// The generation-time pair is fully unwound.
	b := balance(t, env, customer.ID)
	assertBalance(t, b, ledgerdomain.AccountExpenses, "0")
	assertBalance(t, b, ledgerdomain.AccountDebt, "0")
}

func TestTruncateLeavesFinishedPeriodsAlone(t *testing.T) {
	env := testutil.NewEnv(t, clock.NewFakeClock(t0))
	customer := newCustomer(t, env)

	invoice := invoicedomain.Invoice{
		CustomerID:     customer.ID,
		SubscriptionID: env.GenID.Generate(),
		Amount:         decimal.RequireFromString("100.00"),
		DueOn:          t0.AddDate(0, 1, 10),
		PeriodStart:    t0,
		PeriodEnd:      t0.AddDate(0, 1, 0),
	}
	openInvoice(t, env, &invoice)

	env.Clock.Set(t0.AddDate(0, 2, 0))
	require.NoError(t, env.DB.Transaction(func(tx *gorm.DB) error {
		return env.Invoices.Truncate(context.Background(), tx, invoice.ID)
	}))

	got := reload(t, env, invoice.ID)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("100.00")))
	assert.Nil(t, got.DeletedOn)
}

func TestChargePendingSettlesOldestFirst(t *testing.T) {
	env := testutil.NewEnv(t, clock.NewFakeClock(t0))
	customer := newCustomer(t, env)

	older := invoicedomain.Invoice{
		CustomerID:     customer.ID,
		SubscriptionID: env.GenID.Generate(),
		Amount:         decimal.RequireFromString("100.00"),
		DueOn:          t0.AddDate(0, 0, -5),
		PeriodStart:    t0.AddDate(0, 0, -40),
		PeriodEnd:      t0.AddDate(0, 0, -10),
	}
	openInvoice(t, env, &older)

	newer := invoicedomain.Invoice{
		CustomerID:     customer.ID,
		SubscriptionID: older.SubscriptionID,
		Amount:         decimal.RequireFromString("50.00"),
		DueOn:          t0.AddDate(0, 0, 25),
		PeriodStart:    t0.AddDate(0, 0, -10),
		PeriodEnd:      t0.AddDate(0, 0, 20),
	}
	openInvoice(t, env, &newer)

	require.NoError(t, env.DB.Transaction(func(tx *gorm.DB) error {
		ctx := context.Background()
		if _, err := env.Payments.CreditFor(ctx, tx, customer.ID, decimal.RequireFromString("120.00")); err != nil {
			return err
		}
		return env.Invoices.ChargePending(ctx, tx, customer.ID)
	}))

	assert.True(t, reload(t, env, older.ID).Paid())
	assert.False(t, reload(t, env, newer.ID).Paid(),
		"the newer invoice must wait until the older one is paid")
	assertBalance(t, balance(t, env, customer.ID), ledgerdomain.AccountCash, "20.00")
}

func TestChargeAllHoldsBackYoungerInvoicesOfTheSameCustomer(t *testing.T) {
	env := testutil.NewEnv(t, clock.NewFakeClock(t0))
	customer := newCustomer(t, env)

	older := invoicedomain.Invoice{
		CustomerID:     customer.ID,
		SubscriptionID: env.GenID.Generate(),
		Amount:         decimal.RequireFromString("100.00"),
		DueOn:          t0.AddDate(0, 0, -5),
		PeriodStart:    t0.AddDate(0, 0, -40),
		PeriodEnd:      t0.AddDate(0, 0, -10),
	}
	openInvoice(t, env, &older)

	newer := invoicedomain.Invoice{
		CustomerID:     customer.ID,
		SubscriptionID: older.SubscriptionID,
		Amount:         decimal.RequireFromString("50.00"),
		DueOn:          t0.AddDate(0, 0, 25),
		PeriodStart:    t0.AddDate(0, 0, -10),
		PeriodEnd:      t0.AddDate(0, 0, 20),
	}
	openInvoice(t, env, &newer)

	// Enough for the newer invoice alone, not for the older one.
	credit(t, env, customer.ID, "50.00")

	ok, failed, err := env.Invoices.ChargeAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, ok)
	assert.Equal(t, 0, failed)

	assert.False(t, reload(t, env, older.ID).Paid())
	assert.False(t, reload(t, env, newer.ID).Paid(),
		"the newer invoice must not be paid ahead of the older unpaid one")
	assertBalance(t, balance(t, env, customer.ID), ledgerdomain.AccountCash, "50.00")

	// Other customers still settle in the same pass.
	other, err := env.Customers.Create(context.Background(), customerdomain.CreateCustomerRequest{
		Name:  "Grace",
		Email: "grace@example.com",
	})
	require.NoError(t, err)
	theirs := invoicedomain.Invoice{
		CustomerID:     other.ID,
		SubscriptionID: env.GenID.Generate(),
		Amount:         decimal.RequireFromString("30.00"),
		DueOn:          t0.AddDate(0, 0, 25),
		PeriodStart:    t0.AddDate(0, 0, -10),
		PeriodEnd:      t0.AddDate(0, 0, 20),
	}
	openInvoice(t, env, &theirs)
	credit(t, env, other.ID, "30.00")

	_, _, err = env.Invoices.ChargeAll(context.Background())
	require.NoError(t, err)
	assert.True(t, reload(t, env, theirs.ID).Paid())
	assert.False(t, reload(t, env, newer.ID).Paid())
}

func TestAcknowledgeExpense(t *testing.T) {
	env := testutil.NewEnv(t, clock.NewFakeClock(t0))
	customer := newCustomer(t, env)
	credit(t, env, customer.ID, "99.99")

	invoice := invoicedomain.Invoice{
		CustomerID:     customer.ID,
		SubscriptionID: env.GenID.Generate(),
		Amount:         decimal.RequireFromString("99.99"),
		PayableUpfront: true,
		DueOn:          t0.AddDate(0, 0, 10),
		PeriodStart:    t0,
		PeriodEnd:      t0.AddDate(1, 0, 0),
	}
	openInvoice(t, env, &invoice)
	require.True(t, reload(t, env, invoice.ID).Paid())

	// The covered period is still running.
	env.Clock.Set(t0.AddDate(0, 6, 0))
	var done bool
	require.NoError(t, env.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		done, err = env.Invoices.AcknowledgeExpense(context.Background(), tx, invoice.ID)
		return err
	}))
	assert.False(t, done)

	env.Clock.Set(t0.AddDate(1, 0, 1))
	require.NoError(t, env.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		done, err = env.Invoices.AcknowledgeExpense(context.Background(), tx, invoice.ID)
		return err
	}))
	require.True(t, done)

	b := balance(t, env, customer.ID)
	assertBalance(t, b, ledgerdomain.AccountPaidUpfront, "0")
	assertBalance(t, b, ledgerdomain.AccountExpenses, "99.99")

	// Never twice.
	require.NoError(t, env.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		done, err = env.Invoices.AcknowledgeExpense(context.Background(), tx, invoice.ID)
		return err
	}))
	assert.False(t, done)
	assertBalance(t, balance(t, env, customer.ID), ledgerdomain.AccountExpenses, "99.99")
}

func TestAcknowledgeExpenseIgnoresDueMonthInvoices(t *testing.T) {
	env := testutil.NewEnv(t, clock.NewFakeClock(t0))
	customer := newCustomer(t, env)
	credit(t, env, customer.ID, "100.00")

	invoice := invoicedomain.Invoice{
		CustomerID:     customer.ID,
		SubscriptionID: env.GenID.Generate(),
		Amount:         decimal.RequireFromString("100.00"),
		DueOn:          t0.AddDate(0, 1, 10),
		PeriodStart:    t0,
		PeriodEnd:      t0.AddDate(0, 1, 0),
	}
	openInvoice(t, env, &invoice)

	env.Clock.Set(t0.AddDate(0, 2, 0))
	var done bool
	require.NoError(t, env.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		done, err = env.Invoices.AcknowledgeExpense(context.Background(), tx, invoice.ID)
		return err
	}))
	assert.False(t, done)
}
