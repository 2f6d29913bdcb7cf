package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidName        = errors.New("invalid_name")
	ErrInvalidAmount      = errors.New("invalid_amount")
	ErrInvalidGracePeriod = errors.New("invalid_grace_period")
	ErrPlanNotFound       = errors.New("plan_not_found")
)

type CreatePlanRequest struct {
	Name             string
	Description      string
	Periodicity      string
	Amount           decimal.Decimal
	PayableUpfront   bool
	GracePeriod      time.Duration
	SignupPrice      *decimal.Decimal
	Hidden           bool
	AwesomenessLevel *int
}

type Service interface {
	Create(ctx context.Context, req CreatePlanRequest) (Plan, error)
	GetByID(ctx context.Context, id string) (Plan, error)
	// List returns the publicly offered plans; hidden plans are excluded.
	List(ctx context.Context) ([]Plan, error)
}
