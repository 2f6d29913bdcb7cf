package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvoiceNotFound = errors.New("invoice_not_found")
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidPeriod   = errors.New("invalid_period")
)

// Service owns settlement. The tx-scoped methods run inside the caller's
// transaction so subscription and customer flows compose with them
// atomically; the batch sweeps open their own transaction per invoice.
type Service interface {
	// Open inserts the invoice and posts its generation-time accounting
	// pair, then immediately attempts to charge it from existing balance.
	Open(ctx context.Context, tx *gorm.DB, invoice *Invoice) error

	// Charge settles the invoice when possible. It reports false without
	// error when the invoice is already paid, deleted, its period has not
	// started, or the customer's cash balance does not cover it.
	Charge(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (bool, error)

	// Truncate ends the invoice's period early. Periods already over are
	// left alone. Unstarted invoices are zeroed and soft-deleted; started
	// ones are prorated by elapsed time. Paid invoices get a cash
	// reimbursement for the difference. Charge is re-attempted afterwards.
	Truncate(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) error

	// ChargePending settles the customer's open invoices oldest first and
	// stops at the first one the balance cannot cover.
	ChargePending(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) error

	// AcknowledgeExpense recognizes the expense of a paid-upfront invoice
	// whose covered period has ended. Reports false when not applicable.
	AcknowledgeExpense(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (bool, error)

	ListForCustomer(ctx context.Context, customerID snowflake.ID) ([]Invoice, error)

	// Batch sweeps, one transaction per invoice. The error joins per-item
	// failures; the sweep never stops on one.
	ChargeAll(ctx context.Context) (ok, failed int, err error)
	AcknowledgeExpenses(ctx context.Context) (ok, failed int, err error)
	NotifyAllPending(ctx context.Context) (ok, failed int, err error)
	NotifyAllOverdue(ctx context.Context) (ok, failed int, err error)
	NotifyAllPaid(ctx context.Context) (ok, failed int, err error)
}
