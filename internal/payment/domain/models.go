package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrInvalidAmount = errors.New("invalid_payment_amount")

// Payment is an append-only record of money received. Payments are credited
// through the customer service, which settles pending invoices right after.
type Payment struct {
	ID         snowflake.ID    `gorm:"primaryKey"`
	CustomerID snowflake.ID    `gorm:"not null;index"`
	Amount     decimal.Decimal `gorm:"type:decimal(11,2);not null"`
	CreatedAt  time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

type Service interface {
	// CreditFor records the payment and posts it as cash and income, inside
	// the caller's transaction.
	CreditFor(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, amount decimal.Decimal) (Payment, error)

	ListForCustomer(ctx context.Context, customerID snowflake.ID) ([]Payment, error)
}
