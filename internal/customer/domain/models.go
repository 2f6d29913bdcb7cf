package domain

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// DeactivationReason records why service was cut. The set is closed so
// reactivation policy can branch on it.
type DeactivationReason string

const (
	DeactivatedTrialExpired    DeactivationReason = "trial_expired"
	DeactivatedDebtor          DeactivationReason = "debtor"
	DeactivatedLeftVoluntarily DeactivationReason = "left_voluntarily"
)

func ValidDeactivationReason(r DeactivationReason) bool {
	switch r {
	case DeactivatedTrialExpired, DeactivatedDebtor, DeactivatedLeftVoluntarily:
		return true
	default:
		return false
	}
}

var (
	ErrInvalidEmail              = errors.New("invalid_email")
	ErrInvalidDeactivationReason = errors.New("invalid_deactivation_reason")
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

func ValidateEmail(email string) error {
	if !emailPattern.MatchString(strings.TrimSpace(email)) {
		return ErrInvalidEmail
	}
	return nil
}

// Customer is the billing counterpart. DeactivatedSince and
// DeactivationReason are set and cleared together; the pair being nil means
// service is on.
type Customer struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	Name       string       `gorm:"type:text;not null"`
	Email      string       `gorm:"type:text;not null;index"`
	DoNotEmail bool         `gorm:"not null;default:false"`
	// CurrentSubscriptionID points at the one live subscription, nil when
	// the customer has none. Only the customer service moves it.
	CurrentSubscriptionID *snowflake.ID       `gorm:"index"`
	DeactivatedSince      *time.Time          `gorm:""`
	DeactivationReason    *DeactivationReason `gorm:"type:text"`
	CreatedAt             time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Customer) TableName() string { return "customers" }

func (c Customer) Deactivated() bool { return c.DeactivatedSince != nil }
