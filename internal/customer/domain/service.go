package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	subdomain "github.com/smallbiznis/billingly/internal/subscription/domain"
)

var (
	ErrCustomerNotFound = errors.New("customer_not_found")
	ErrNotDeactivated   = errors.New("customer_not_deactivated")
	ErrStillDebtor      = errors.New("customer_still_debtor")
	ErrNoSubscription   = errors.New("customer_has_no_subscription")
)

type CreateCustomerRequest struct {
	Name       string
	Email      string
	DoNotEmail bool
}

// Service is the single entry point for customer lifecycle mutations. Each
// method opens its own transaction and takes the customer's row lock, so
// payment crediting, invoicing and deactivation never interleave for one
// customer.
type Service interface {
	Create(ctx context.Context, req CreateCustomerRequest) (Customer, error)
	GetByID(ctx context.Context, customerID snowflake.ID) (Customer, error)

	// SubscribeToPlan terminates the current subscription, snapshots the
	// plan into a new one, clears any deactivation and generates the first
	// invoice. trialExpiry, when set, makes the subscription a free trial.
	SubscribeToPlan(ctx context.Context, customerID snowflake.ID, planID snowflake.ID, trialExpiry *time.Time) (subdomain.Subscription, error)

	// CreditPayment records money received, settles pending invoices oldest
	// first, and reactivates customers who were cut off for debt.
	CreditPayment(ctx context.Context, customerID snowflake.ID, amount decimal.Decimal) error

	// Deactivate cuts service, terminating the live subscription for the
	// same reason. Already-deactivated customers are left alone.
	Deactivate(ctx context.Context, customerID snowflake.ID, reason DeactivationReason) error

	// Reactivate resumes service on the terms of the latest subscription.
	// Debtors are refused until their invoices are settled.
	Reactivate(ctx context.Context, customerID snowflake.ID) error

	// RedeemSpecialPlanCode credits the code's bonus, subscribes the
	// customer to the code's plan and spends the code, atomically.
	RedeemSpecialPlanCode(ctx context.Context, customerID snowflake.ID, code string) error

	// IsDebtor reports whether the customer has an overdue unpaid invoice.
	IsDebtor(ctx context.Context, customerID snowflake.ID) (bool, error)

	// CanSubscribeTo is the default subscription policy: no debtors, and no
	// re-subscribing to the current plan except to leave a trial.
	CanSubscribeTo(ctx context.Context, customerID snowflake.ID, planID snowflake.ID) (bool, error)

	// TrialDaysLeft reports whole days until the current trial expires.
	// ok is false when the customer is not on a trial.
	TrialDaysLeft(ctx context.Context, customerID snowflake.ID) (days int, ok bool, err error)

	// Batch sweeps, one transaction per customer.
	DeactivateAllDebtors(ctx context.Context) (ok, failed int, err error)
	DeactivateAllExpiredTrials(ctx context.Context) (ok, failed int, err error)
}
