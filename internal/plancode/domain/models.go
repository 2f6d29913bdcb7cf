package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrCodeNotFound    = errors.New("plan_code_not_found")
	ErrCodeRedeemed    = errors.New("plan_code_redeemed")
	ErrInvalidQuantity = errors.New("invalid_code_quantity")
)

// SpecialPlanCode is a single-use EAN-13 voucher granting access to a hidden
// plan, usually bundled with a signup credit.
type SpecialPlanCode struct {
	ID     snowflake.ID `gorm:"primaryKey"`
	PlanID snowflake.ID `gorm:"not null;index"`
	Code   string       `gorm:"type:text;not null;uniqueIndex"`
	// BonusAmount, when set, is credited to the redeeming customer before
	// they are subscribed.
	BonusAmount *decimal.Decimal `gorm:"type:decimal(11,2)"`
	// CustomerID and RedeemedOn are set together when the code is spent.
	CustomerID *snowflake.ID `gorm:"index"`
	RedeemedOn *time.Time
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SpecialPlanCode) TableName() string { return "special_plan_codes" }

func (c SpecialPlanCode) Redeemed() bool { return c.RedeemedOn != nil }

type Service interface {
	// GenerateForPlan issues count fresh codes, skipping collisions with
	// codes already stored. bonus, when set, is credited on redemption.
	GenerateForPlan(ctx context.Context, planID snowflake.ID, count int, bonus *decimal.Decimal) ([]SpecialPlanCode, error)

	// FindByCode looks a code up for redemption. Spent codes return
	// ErrCodeRedeemed.
	FindByCode(ctx context.Context, code string) (SpecialPlanCode, error)

	// MarkRedeemed stamps the code inside the caller's transaction.
	MarkRedeemed(ctx context.Context, tx *gorm.DB, codeID snowflake.ID, customerID snowflake.ID) error

	ListUnredeemed(ctx context.Context, planID snowflake.ID) ([]SpecialPlanCode, error)
}
