package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Periodicity says how often a subscription is invoiced. The common cases are
// calendar-aware ("monthly", "yearly"); an arbitrary day count ("90d") is
// accepted for special deals.
type Periodicity string

const (
	Monthly Periodicity = "monthly"
	Yearly  Periodicity = "yearly"
)

var ErrInvalidPeriodicity = errors.New("invalid_periodicity")

func ParsePeriodicity(value string) (Periodicity, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case string(Monthly), string(Yearly):
		return Periodicity(normalized), nil
	}
	if days, ok := parseDays(normalized); ok && days > 0 {
		return Periodicity(fmt.Sprintf("%dd", days)), nil
	}
	return "", ErrInvalidPeriodicity
}

// AddTo advances t by one billing period. Calendar periodicities use calendar
// arithmetic so a monthly plan billed on the 31st lands where AddDate puts it.
func (p Periodicity) AddTo(t time.Time) time.Time {
	switch p {
	case Monthly:
		return t.AddDate(0, 1, 0)
	case Yearly:
		return t.AddDate(1, 0, 0)
	}
	if days, ok := parseDays(string(p)); ok {
		return t.AddDate(0, 0, days)
	}
	return t
}

func (p Periodicity) Valid() bool {
	switch p {
	case Monthly, Yearly:
		return true
	}
	days, ok := parseDays(string(p))
	return ok && days > 0
}

func parseDays(value string) (int, bool) {
	if !strings.HasSuffix(value, "d") {
		return 0, false
	}
	days, err := strconv.Atoi(strings.TrimSuffix(value, "d"))
	if err != nil {
		return 0, false
	}
	return days, true
}

// Plan is an immutable template from which subscriptions are created. Its
// fields are denormalized into every subscription, so editing a plan never
// retroactively changes what existing subscribers are charged.
type Plan struct {
	ID          snowflake.ID    `gorm:"primaryKey"`
	Name        string          `gorm:"type:text;not null"`
	Description string          `gorm:"type:text;not null"`
	Periodicity Periodicity     `gorm:"type:text;not null"`
	Amount      decimal.Decimal `gorm:"type:decimal(11,2);not null"`
	// PayableUpfront decides the accounting treatment: upfront plans owe at
	// period start, due-month plans owe at period end.
	PayableUpfront bool          `gorm:"not null;default:false"`
	GracePeriod    time.Duration `gorm:"not null"`
	// SignupPrice, when set, replaces Amount on the very first invoice only.
	SignupPrice *decimal.Decimal `gorm:"type:decimal(11,2)"`
	// Hidden plans are excluded from public listings; customers reach them
	// through special plan codes.
	Hidden bool `gorm:"not null;default:false"`
	// AwesomenessLevel ranks plans for the host application's
	// upgrade/downgrade policy. Higher is better.
	AwesomenessLevel *int      `gorm:""`
	CreatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }
