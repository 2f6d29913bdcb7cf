package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrSubscriptionNotFound     = errors.New("subscription_not_found")
	ErrInvalidPeriodicity       = errors.New("invalid_subscription_periodicity")
	ErrInvalidAmount            = errors.New("invalid_subscription_amount")
	ErrInvalidTerminationReason = errors.New("invalid_termination_reason")
)

type Service interface {
	// Create inserts a subscription already shaped by FromPlan or a bespoke
	// template. Callers own the surrounding customer transaction.
	Create(ctx context.Context, tx *gorm.DB, subscription *Subscription) error

	// GenerateNextInvoice opens the next period's invoice when its start is
	// within the generate-ahead window. Idempotent: terminated and trial
	// subscriptions, and periods already invoiced, produce nothing.
	GenerateNextInvoice(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID) error

	// Terminate closes the subscription and truncates its latest invoice.
	// Already-terminated subscriptions are left alone.
	Terminate(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID, reason TerminationReason) error

	GetByID(ctx context.Context, subscriptionID snowflake.ID) (Subscription, error)
	ListForCustomer(ctx context.Context, customerID snowflake.ID) ([]Subscription, error)

	// Batch sweeps, one transaction per subscription.
	GenerateNextInvoices(ctx context.Context) (ok, failed int, err error)
	NotifyAllTrialsExpired(ctx context.Context) (ok, failed int, err error)
}
