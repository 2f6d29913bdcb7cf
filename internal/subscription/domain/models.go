package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	plandomain "github.com/smallbiznis/billingly/internal/plan/domain"
)

// TerminationReason records why a subscription ended. Terminated
// subscriptions never reopen; a new one is created instead.
type TerminationReason string

const (
	TerminatedTrialExpired        TerminationReason = "trial_expired"
	TerminatedDebtor              TerminationReason = "debtor"
	TerminatedChangedSubscription TerminationReason = "changed_subscription"
	TerminatedLeftVoluntarily     TerminationReason = "left_voluntarily"
)

func ValidTerminationReason(r TerminationReason) bool {
	switch r {
	case TerminatedTrialExpired, TerminatedDebtor, TerminatedChangedSubscription, TerminatedLeftVoluntarily:
		return true
	default:
		return false
	}
}

// Subscription snapshots every billing term at creation time. The plan
// reference is kept for audit only; changing a plan never changes what
// existing subscribers pay.
type Subscription struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	CustomerID snowflake.ID `gorm:"not null;index"`
	// PlanID is nil for subscriptions created from a bespoke template.
	PlanID         *snowflake.ID          `gorm:"index"`
	Description    string                 `gorm:"type:text;not null"`
	Periodicity    plandomain.Periodicity `gorm:"type:text;not null"`
	Amount         decimal.Decimal        `gorm:"type:decimal(11,2);not null"`
	PayableUpfront bool                   `gorm:"not null;default:false"`
	GracePeriod    time.Duration          `gorm:"not null"`
	SignupPrice    *decimal.Decimal       `gorm:"type:decimal(11,2)"`
	SubscribedOn   time.Time              `gorm:"not null"`
	// IsTrialExpiringOn marks the subscription as a free trial. Trials are
	// never invoiced; the customer must subscribe to a paying plan before
	// this date.
	IsTrialExpiringOn      *time.Time
	UnsubscribedOn         *time.Time
	UnsubscribedBecause    *TerminationReason `gorm:"type:text"`
	NotifiedTrialExpiredOn *time.Time
	CreatedAt              time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

func (s Subscription) Trial() bool      { return s.IsTrialExpiringOn != nil }
func (s Subscription) Terminated() bool { return s.UnsubscribedOn != nil }

// FromPlan builds the denormalized subscription a customer gets when
// subscribing to a plan. trialExpiry, when set, makes it a free trial.
func FromPlan(plan plandomain.Plan, customerID snowflake.ID, subscribedOn time.Time, trialExpiry *time.Time) Subscription {
	return Subscription{
		CustomerID:        customerID,
		PlanID:            &plan.ID,
		Description:       plan.Description,
		Periodicity:       plan.Periodicity,
		Amount:            plan.Amount,
		PayableUpfront:    plan.PayableUpfront,
		GracePeriod:       plan.GracePeriod,
		SignupPrice:       plan.SignupPrice,
		SubscribedOn:      subscribedOn,
		IsTrialExpiringOn: trialExpiry,
	}
}
