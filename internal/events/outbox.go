package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/billingly/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventType is a closed set of domain events the engine emits. External
// handlers (mailers, webhooks, analytics) consume them from the outbox table;
// the core never calls host code directly.
type EventType string

const (
	EventSubscriptionCreated EventType = "subscription.created"
	EventCustomerDeactivated EventType = "customer.deactivated"
	EventCustomerReactivated EventType = "customer.reactivated"
	EventInvoicePaid         EventType = "invoice.paid"
	EventPromoCodeRedeemed   EventType = "promo_code.redeemed"
)

var (
	ErrInvalidEventType = errors.New("invalid_event_type")
	ErrInvalidDedupeKey = errors.New("invalid_dedupe_key")
)

type Event struct {
	CustomerID snowflake.ID
	Type       EventType
	Payload    map[string]any
	// DedupeKey makes republishing the same logical event a no-op.
	DedupeKey string
}

// OutboxEvent is the persisted row.
type OutboxEvent struct {
	ID          string            `gorm:"primaryKey;type:text"`
	CustomerID  snowflake.ID      `gorm:"not null;index"`
	Type        EventType         `gorm:"type:text;not null;index"`
	Payload     datatypes.JSONMap `gorm:"not null"`
	DedupeKey   string            `gorm:"type:text;not null;uniqueIndex:ux_outbox_dedupe"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	PublishedAt *time.Time        `gorm:""`
}

// TableName sets the database table name.
func (OutboxEvent) TableName() string { return "outbox_events" }

type Outbox struct {
	log   *zap.Logger
	clock clock.Clock
}

func NewOutbox(log *zap.Logger, clk clock.Clock) *Outbox {
	return &Outbox{log: log.Named("events.outbox"), clock: clk}
}

// PublishTx appends the event inside the caller's transaction so it commits
// or rolls back together with the state change it describes. Duplicate dedupe
// keys are silently skipped.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, event Event) error {
	if event.Type == "" {
		return ErrInvalidEventType
	}
	dedupeKey := strings.TrimSpace(event.DedupeKey)
	if dedupeKey == "" {
		return ErrInvalidDedupeKey
	}

	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	result := tx.WithContext(ctx).Exec(
		`INSERT INTO outbox_events (id, customer_id, type, payload, dedupe_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		uuid.NewString(),
		event.CustomerID,
		string(event.Type),
		datatypes.JSONMap(payload),
		dedupeKey,
		o.clock.Now(),
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		o.log.Debug("outbox event deduplicated", zap.String("dedupe_key", dedupeKey))
	}
	return nil
}

// Pending lists unpublished events oldest first for the host's dispatcher.
func (o *Outbox) Pending(ctx context.Context, db *gorm.DB, limit int) ([]OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []OutboxEvent
	if err := db.WithContext(ctx).
		Where("published_at IS NULL").
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// MarkPublished stamps events after the host dispatched them.
func (o *Outbox) MarkPublished(ctx context.Context, db *gorm.DB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`UPDATE outbox_events SET published_at = ? WHERE id IN ? AND published_at IS NULL`,
		o.clock.Now(),
		ids,
	).Error
}

var Module = fx.Module("events",
	fx.Provide(NewOutbox),
)
