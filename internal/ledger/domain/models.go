package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Account names one of the balance-sheet buckets money moves between.
// The set is closed; free-form account strings are rejected at posting time.
type Account string

const (
	// Cash the customer has paid in and not yet consumed.
	AccountCash Account = "cash"
	// Money the customer owes for service periods already rendered.
	AccountDebt Account = "debt"
	// Payments received, from our own point of view.
	AccountIncome Account = "income"
	// Cost of service periods already rendered.
	AccountExpenses Account = "expenses"
	// Cash consumed settling due-month invoices.
	AccountSpent Account = "spent"
	// Cash consumed settling upfront invoices, pending expense recognition.
	AccountPaidUpfront Account = "paid_upfront"
	// The customer's pending obligation on an upfront invoice.
	AccountIOweYou Account = "ioweyou"
	// Our pending obligation to render the upfront-invoiced period.
	AccountServicesToProvide Account = "services_to_provide"
)

func ValidAccount(a Account) bool {
	switch a {
	case AccountCash, AccountDebt, AccountIncome, AccountExpenses,
		AccountSpent, AccountPaidUpfront, AccountIOweYou, AccountServicesToProvide:
		return true
	default:
		return false
	}
}

// Entry is one signed money movement. Entries are immutable and append-only;
// balances are always derived by folding them, never stored.
type Entry struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	CustomerID     snowflake.ID    `gorm:"not null;index"`
	Account        Account         `gorm:"type:text;not null;index"`
	Amount         decimal.Decimal `gorm:"type:decimal(11,2);not null"`
	InvoiceID      *snowflake.ID   `gorm:"index"`
	PaymentID      *snowflake.ID   `gorm:"index"`
	ReceiptID      *snowflake.ID   `gorm:"index"`
	SubscriptionID *snowflake.ID   `gorm:"index"`
	CreatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "ledger_entries" }

// Links carries the optional audit references attached to every entry of a
// posting.
type Links struct {
	InvoiceID      *snowflake.ID
	PaymentID      *snowflake.ID
	ReceiptID      *snowflake.ID
	SubscriptionID *snowflake.ID
}

// Balance maps account names to their folded totals. Unseen accounts read as
// zero.
type Balance map[Account]decimal.Decimal

func (b Balance) Get(account Account) decimal.Decimal {
	if v, ok := b[account]; ok {
		return v
	}
	return decimal.Zero
}
