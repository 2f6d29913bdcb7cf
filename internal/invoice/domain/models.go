package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Invoice is one billing period's obligation. Invoices are soft-deleted only:
// a forfeited invoice keeps its row with deleted_on set.
type Invoice struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	CustomerID     snowflake.ID    `gorm:"not null;index"`
	SubscriptionID snowflake.ID    `gorm:"not null;index"`
	Amount         decimal.Decimal `gorm:"type:decimal(11,2);not null"`
	// PayableUpfront is denormalized from the subscription so settlement
	// picks the right accounting treatment without a join.
	PayableUpfront bool      `gorm:"not null;default:false"`
	DueOn          time.Time `gorm:"not null;index"`
	PeriodStart    time.Time `gorm:"not null"`
	PeriodEnd      time.Time `gorm:"not null"`
	PaidOn         *time.Time
	DeletedOn      *time.Time
	ReceiptID      *snowflake.ID `gorm:"index"`
	// ExpenseAcknowledgedOn marks that a paid-upfront invoice's covered
	// period ended and the expense was moved out of paid_upfront.
	ExpenseAcknowledgedOn *time.Time
	NotifiedPendingOn     *time.Time
	NotifiedOverdueOn     *time.Time
	NotifiedPaidOn        *time.Time
	CreatedAt             time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

func (i Invoice) Paid() bool    { return i.PaidOn != nil }
func (i Invoice) Deleted() bool { return i.DeletedOn != nil }

// Receipt proves settlement of one invoice.
type Receipt struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	CustomerID snowflake.ID `gorm:"not null;index"`
	InvoiceID  snowflake.ID `gorm:"not null;uniqueIndex"`
	PaidOn     time.Time    `gorm:"not null"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Receipt) TableName() string { return "receipts" }
