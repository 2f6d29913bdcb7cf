package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingly/internal/clock"
	"github.com/smallbiznis/billingly/internal/config"
	invoicedomain "github.com/smallbiznis/billingly/internal/invoice/domain"
	"github.com/smallbiznis/billingly/internal/notifier"
	subdomain "github.com/smallbiznis/billingly/internal/subscription/domain"
	pkgdb "github.com/smallbiznis/billingly/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Billing  *config.BillingConfigHolder
	Invoices invoicedomain.Service
	Notifier notifier.Notifier
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	billing  *config.BillingConfigHolder
	invoices invoicedomain.Service
	notifier notifier.Notifier
}

func NewService(p Params) subdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("subscription.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		billing:  p.Billing,
		invoices: p.Invoices,
		notifier: p.Notifier,
	}
}

func (s *Service) Create(ctx context.Context, tx *gorm.DB, subscription *subdomain.Subscription) error {
	if !subscription.Periodicity.Valid() {
		return subdomain.ErrInvalidPeriodicity
	}
	if subscription.Amount.IsNegative() {
		return subdomain.ErrInvalidAmount
	}
	if subscription.ID == 0 {
		subscription.ID = s.genID.Generate()
	}
	if subscription.SubscribedOn.IsZero() {
		subscription.SubscribedOn = s.clock.Now()
	}

	if err := tx.WithContext(ctx).Create(subscription).Error; err != nil {
		return err
	}

	s.log.Info("subscription.created",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("customer_id", subscription.CustomerID.String()),
		zap.Bool("trial", subscription.Trial()),
	)
	return nil
}

func (s *Service) GenerateNextInvoice(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID) error {
	subscription, err := s.load(ctx, tx, subscriptionID)
	if err != nil {
		return err
	}
	if subscription.Terminated() || subscription.Trial() {
		return nil
	}

	// The next period starts where the last invoice ended, or at signup.
	last, err := s.latestInvoice(ctx, tx, subscriptionID)
	if err != nil {
		return err
	}
	from := subscription.SubscribedOn
	first := true
	if last != nil {
		from = last.PeriodEnd
		first = false
	}
	to := subscription.Periodicity.AddTo(from)

	// Invoices are opened a few days before their period starts so the
	// customer has a chance to pay first.
	now := s.clock.Now()
	if now.Add(s.billing.Get().GenerateAhead()).Before(from) {
		return nil
	}

	grace := subscription.GracePeriod
	if grace <= 0 {
		grace = s.billing.Get().GracePeriod()
	}
	dueOn := to.Add(grace)
	if subscription.PayableUpfront {
		dueOn = from.Add(grace)
	}

	amount := subscription.Amount
	if first && subscription.SignupPrice != nil {
		amount = *subscription.SignupPrice
	}

	invoice := invoicedomain.Invoice{
		CustomerID:     subscription.CustomerID,
		SubscriptionID: subscription.ID,
		Amount:         amount,
		PayableUpfront: subscription.PayableUpfront,
		DueOn:          dueOn,
		PeriodStart:    from,
		PeriodEnd:      to,
	}
	return s.invoices.Open(ctx, tx, &invoice)
}

func (s *Service) Terminate(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID, reason subdomain.TerminationReason) error {
	if !subdomain.ValidTerminationReason(reason) {
		return subdomain.ErrInvalidTerminationReason
	}

	subscription, err := s.load(ctx, tx, subscriptionID)
	if err != nil {
		return err
	}
	if subscription.Terminated() {
		return nil
	}

	now := s.clock.Now()
	if err := tx.WithContext(ctx).Exec(
		`UPDATE subscriptions SET unsubscribed_on = ?, unsubscribed_because = ? WHERE id = ?`,
		now, string(reason), subscription.ID,
	).Error; err != nil {
		return err
	}

	// Trials have no invoices; everything else hands back the unused tail
	// of the current period.
	if !subscription.Trial() {
		last, err := s.latestInvoice(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if last != nil {
			if err := s.invoices.Truncate(ctx, tx, last.ID); err != nil {
				return err
			}
		}
	}

	s.log.Info("subscription.terminated",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("customer_id", subscription.CustomerID.String()),
		zap.String("reason", string(reason)),
	)
	return nil
}

func (s *Service) GetByID(ctx context.Context, subscriptionID snowflake.ID) (subdomain.Subscription, error) {
	subscription, err := s.load(ctx, s.db, subscriptionID)
	if err != nil {
		return subdomain.Subscription{}, err
	}
	return *subscription, nil
}

func (s *Service) ListForCustomer(ctx context.Context, customerID snowflake.ID) ([]subdomain.Subscription, error) {
	var subscriptions []subdomain.Subscription
	err := s.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("subscribed_on ASC, id ASC").
		Find(&subscriptions).Error
	return subscriptions, err
}

func (s *Service) GenerateNextInvoices(ctx context.Context) (int, int, error) {
	var rows []struct {
		ID         snowflake.ID
		CustomerID snowflake.ID
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id, customer_id FROM subscriptions
		 WHERE unsubscribed_on IS NULL AND is_trial_expiring_on IS NULL
		 ORDER BY id ASC`,
	).Scan(&rows).Error; err != nil {
		return 0, 0, err
	}

	var ok, failed int
	var errs []error
	for _, row := range rows {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := pkgdb.LockCustomer(ctx, tx, row.CustomerID); err != nil {
				return err
			}
			return s.GenerateNextInvoice(ctx, tx, row.ID)
		})
		if err != nil {
			failed++
			errs = append(errs, fmt.Errorf("generate invoice for subscription %s: %w", row.ID, err))
			continue
		}
		ok++
	}
	return ok, failed, errors.Join(errs...)
}

func (s *Service) NotifyAllTrialsExpired(ctx context.Context) (int, int, error) {
	var candidates []subdomain.Subscription
	if err := s.db.WithContext(ctx).
		Where("is_trial_expiring_on IS NOT NULL AND unsubscribed_because = ? AND notified_trial_expired_on IS NULL",
			string(subdomain.TerminatedTrialExpired)).
		Order("id ASC").
		Find(&candidates).Error; err != nil {
		return 0, 0, err
	}

	var ok, failed int
	var errs []error
	for _, subscription := range candidates {
		if err := s.notifyTrialExpired(ctx, subscription); err != nil {
			failed++
			errs = append(errs, fmt.Errorf("notify trial expired for subscription %s: %w", subscription.ID, err))
			continue
		}
		ok++
	}
	return ok, failed, errors.Join(errs...)
}

func (s *Service) notifyTrialExpired(ctx context.Context, subscription subdomain.Subscription) error {
	var gate struct {
		Email      string
		DoNotEmail bool
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT email, do_not_email FROM customers WHERE id = ?`,
		subscription.CustomerID,
	).Scan(&gate).Error; err != nil {
		return err
	}
	if gate.DoNotEmail || gate.Email == "" {
		return nil
	}

	if err := s.notifier.Notify(ctx, notifier.Notification{
		Kind:       notifier.KindTrialExpired,
		CustomerID: subscription.CustomerID,
		Summary:    fmt.Sprintf("trial expired on %s", subscription.IsTrialExpiringOn.Format(time.DateOnly)),
	}); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET notified_trial_expired_on = ? WHERE id = ?`,
		s.clock.Now(), subscription.ID,
	).Error
}

func (s *Service) latestInvoice(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := tx.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("period_start DESC, id DESC").
		First(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (s *Service) load(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID) (*subdomain.Subscription, error) {
	var subscription subdomain.Subscription
	if err := tx.WithContext(ctx).First(&subscription, "id = ?", subscriptionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, subdomain.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return &subscription, nil
}
