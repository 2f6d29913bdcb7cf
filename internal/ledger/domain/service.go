package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrInvalidCustomer = errors.New("invalid_customer")
	ErrInvalidAccount  = errors.New("invalid_account")
	ErrNoAccounts      = errors.New("no_accounts")
)

// Service appends to and folds the customer ledger.
//
// Record takes the caller's transaction: ledger postings are always a side
// effect of a larger accounting mutation and must commit or roll back with it.
type Service interface {
	// Record appends one entry per account, all for the same signed amount
	// and the same links. Either every entry is created or none.
	Record(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, amount decimal.Decimal, accounts []Account, links Links) error

	// Balance folds every entry for the customer grouped by account.
	Balance(ctx context.Context, customerID snowflake.ID) (Balance, error)

	// BalanceIn is Balance inside an open transaction, so settlement logic
	// reads the same snapshot it writes.
	BalanceIn(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) (Balance, error)

	// History lists a customer's entries oldest first, for audit surfaces.
	History(ctx context.Context, customerID snowflake.ID) ([]Entry, error)
}
