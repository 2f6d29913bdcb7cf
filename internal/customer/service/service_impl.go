package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingly/internal/clock"
	customerdomain "github.com/smallbiznis/billingly/internal/customer/domain"
	"github.com/smallbiznis/billingly/internal/events"
	invoicedomain "github.com/smallbiznis/billingly/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/billingly/internal/payment/domain"
	plandomain "github.com/smallbiznis/billingly/internal/plan/domain"
	codedomain "github.com/smallbiznis/billingly/internal/plancode/domain"
	subdomain "github.com/smallbiznis/billingly/internal/subscription/domain"
	pkgdb "github.com/smallbiznis/billingly/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Plans         plandomain.Service
	Subscriptions subdomain.Service
	Invoices      invoicedomain.Service
	Payments      paymentdomain.Service
	Codes         codedomain.Service
	Outbox        *events.Outbox
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	plans         plandomain.Service
	subscriptions subdomain.Service
	invoices      invoicedomain.Service
	payments      paymentdomain.Service
	codes         codedomain.Service
	outbox        *events.Outbox
}

func NewService(p Params) customerdomain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("customer.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		plans:         p.Plans,
		subscriptions: p.Subscriptions,
		invoices:      p.Invoices,
		payments:      p.Payments,
		codes:         p.Codes,
		outbox:        p.Outbox,
	}
}

func (s *Service) Create(ctx context.Context, req customerdomain.CreateCustomerRequest) (customerdomain.Customer, error) {
	if err := customerdomain.ValidateEmail(req.Email); err != nil {
		return customerdomain.Customer{}, err
	}

	customer := customerdomain.Customer{
		ID:         s.genID.Generate(),
		Name:       strings.TrimSpace(req.Name),
		Email:      strings.TrimSpace(req.Email),
		DoNotEmail: req.DoNotEmail,
	}
	if err := s.db.WithContext(ctx).Create(&customer).Error; err != nil {
		return customerdomain.Customer{}, err
	}

	s.log.Info("customer.created",
		zap.String("customer_id", customer.ID.String()),
		zap.String("email", customer.Email),
	)
	return customer, nil
}

func (s *Service) GetByID(ctx context.Context, customerID snowflake.ID) (customerdomain.Customer, error) {
	customer, err := s.load(ctx, s.db, customerID)
	if err != nil {
		return customerdomain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) SubscribeToPlan(ctx context.Context, customerID snowflake.ID, planID snowflake.ID, trialExpiry *time.Time) (subdomain.Subscription, error) {
	plan, err := s.plans.GetByID(ctx, planID.String())
	if err != nil {
		return subdomain.Subscription{}, err
	}

	var subscription subdomain.Subscription
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := pkgdb.LockCustomer(ctx, tx, customerID); err != nil {
			return err
		}
		customer, err := s.load(ctx, tx, customerID)
		if err != nil {
			return err
		}
		template := subdomain.FromPlan(plan, customerID, s.clock.Now(), trialExpiry)
		subscription, err = s.subscribeLocked(ctx, tx, customer, template)
		return err
	})
	return subscription, err
}

// subscribeLocked replaces the current subscription with one built from the
// template and brings the customer back into good standing. Callers hold the
// customer lock.
func (s *Service) subscribeLocked(ctx context.Context, tx *gorm.DB, customer *customerdomain.Customer, template subdomain.Subscription) (subdomain.Subscription, error) {
	if customer.CurrentSubscriptionID != nil {
		if err := s.subscriptions.Terminate(ctx, tx, *customer.CurrentSubscriptionID, subdomain.TerminatedChangedSubscription); err != nil {
			return subdomain.Subscription{}, err
		}
	}

	template.ID = 0
	template.CustomerID = customer.ID
	template.UnsubscribedOn = nil
	template.UnsubscribedBecause = nil
	template.NotifiedTrialExpiredOn = nil
	if template.SubscribedOn.IsZero() {
		template.SubscribedOn = s.clock.Now()
	}
	if err := s.subscriptions.Create(ctx, tx, &template); err != nil {
		return subdomain.Subscription{}, err
	}

	if err := tx.WithContext(ctx).Exec(
		`UPDATE customers SET current_subscription_id = ?, deactivated_since = NULL, deactivation_reason = NULL WHERE id = ?`,
		template.ID, customer.ID,
	).Error; err != nil {
		return subdomain.Subscription{}, err
	}
	customer.CurrentSubscriptionID = &template.ID
	customer.DeactivatedSince = nil
	customer.DeactivationReason = nil

	if err := s.subscriptions.GenerateNextInvoice(ctx, tx, template.ID); err != nil {
		return subdomain.Subscription{}, err
	}

	if err := s.outbox.PublishTx(ctx, tx, events.Event{
		CustomerID: customer.ID,
		Type:       events.EventSubscriptionCreated,
		Payload: map[string]any{
			"subscription_id": template.ID.String(),
			"trial":           template.Trial(),
		},
		DedupeKey: fmt.Sprintf("subscription.created:%s", template.ID),
	}); err != nil {
		return subdomain.Subscription{}, err
	}
	return template, nil
}

func (s *Service) CreditPayment(ctx context.Context, customerID snowflake.ID, amount decimal.Decimal) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := pkgdb.LockCustomer(ctx, tx, customerID); err != nil {
			return err
		}
		customer, err := s.load(ctx, tx, customerID)
		if err != nil {
			return err
		}

		if _, err := s.payments.CreditFor(ctx, tx, customerID, amount); err != nil {
			return err
		}
		if err := s.invoices.ChargePending(ctx, tx, customerID); err != nil {
			return err
		}

		// Paying off the debt brings the account back automatically.
		if customer.Deactivated() && customer.DeactivationReason != nil &&
			*customer.DeactivationReason == customerdomain.DeactivatedDebtor {
			debtor, err := s.debtorLocked(ctx, tx, customerID)
			if err != nil {
				return err
			}
			if !debtor {
				if err := s.reactivateLocked(ctx, tx, customer); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *Service) Deactivate(ctx context.Context, customerID snowflake.ID, reason customerdomain.DeactivationReason) error {
	if !customerdomain.ValidDeactivationReason(reason) {
		return customerdomain.ErrInvalidDeactivationReason
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := pkgdb.LockCustomer(ctx, tx, customerID); err != nil {
			return err
		}
		customer, err := s.load(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if customer.Deactivated() {
			return nil
		}
		return s.deactivateLocked(ctx, tx, customer, reason)
	})
}

func (s *Service) deactivateLocked(ctx context.Context, tx *gorm.DB, customer *customerdomain.Customer, reason customerdomain.DeactivationReason) error {
	if customer.CurrentSubscriptionID != nil {
		if err := s.subscriptions.Terminate(ctx, tx, *customer.CurrentSubscriptionID, subdomain.TerminationReason(reason)); err != nil {
			return err
		}
	}

	now := s.clock.Now()
	if err := tx.WithContext(ctx).Exec(
		`UPDATE customers SET deactivated_since = ?, deactivation_reason = ? WHERE id = ?`,
		now, string(reason), customer.ID,
	).Error; err != nil {
		return err
	}

	if err := s.outbox.PublishTx(ctx, tx, events.Event{
		CustomerID: customer.ID,
		Type:       events.EventCustomerDeactivated,
		Payload:    map[string]any{"reason": string(reason)},
		DedupeKey:  fmt.Sprintf("customer.deactivated:%s:%d", customer.ID, now.Unix()),
	}); err != nil {
		return err
	}

	s.log.Info("customer.deactivated",
		zap.String("customer_id", customer.ID.String()),
		zap.String("reason", string(reason)),
	)
	return nil
}

func (s *Service) Reactivate(ctx context.Context, customerID snowflake.ID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := pkgdb.LockCustomer(ctx, tx, customerID); err != nil {
			return err
		}
		customer, err := s.load(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if !customer.Deactivated() {
			return customerdomain.ErrNotDeactivated
		}
		debtor, err := s.debtorLocked(ctx, tx, customerID)
		if err != nil {
			return err
		}
		if debtor {
			return customerdomain.ErrStillDebtor
		}
		return s.reactivateLocked(ctx, tx, customer)
	})
}

// reactivateLocked re-subscribes on the terms of the latest subscription.
func (s *Service) reactivateLocked(ctx context.Context, tx *gorm.DB, customer *customerdomain.Customer) error {
	var last subdomain.Subscription
	err := tx.WithContext(ctx).
		Where("customer_id = ?", customer.ID).
		Order("subscribed_on DESC, id DESC").
		First(&last).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return customerdomain.ErrNoSubscription
		}
		return err
	}

	template := last
	// A fresh run, never a resumed trial.
	template.IsTrialExpiringOn = nil
	template.SubscribedOn = s.clock.Now()
	if _, err := s.subscribeLocked(ctx, tx, customer, template); err != nil {
		return err
	}

	if err := s.outbox.PublishTx(ctx, tx, events.Event{
		CustomerID: customer.ID,
		Type:       events.EventCustomerReactivated,
		Payload:    map[string]any{},
		DedupeKey:  fmt.Sprintf("customer.reactivated:%s:%d", customer.ID, s.clock.Now().Unix()),
	}); err != nil {
		return err
	}

	s.log.Info("customer.reactivated", zap.String("customer_id", customer.ID.String()))
	return nil
}

func (s *Service) RedeemSpecialPlanCode(ctx context.Context, customerID snowflake.ID, rawCode string) error {
	code, err := s.codes.FindByCode(ctx, rawCode)
	if err != nil {
		return err
	}
	plan, err := s.plans.GetByID(ctx, code.PlanID.String())
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := pkgdb.LockCustomer(ctx, tx, customerID); err != nil {
			return err
		}
		customer, err := s.load(ctx, tx, customerID)
		if err != nil {
			return err
		}

		if code.BonusAmount != nil && code.BonusAmount.IsPositive() {
			if _, err := s.payments.CreditFor(ctx, tx, customerID, *code.BonusAmount); err != nil {
				return err
			}
		}

		template := subdomain.FromPlan(plan, customerID, s.clock.Now(), nil)
		if _, err := s.subscribeLocked(ctx, tx, customer, template); err != nil {
			return err
		}

		if err := s.codes.MarkRedeemed(ctx, tx, code.ID, customerID); err != nil {
			return err
		}

		return s.outbox.PublishTx(ctx, tx, events.Event{
			CustomerID: customerID,
			Type:       events.EventPromoCodeRedeemed,
			Payload: map[string]any{
				"code":    code.Code,
				"plan_id": code.PlanID.String(),
			},
			DedupeKey: fmt.Sprintf("promo_code.redeemed:%s", code.Code),
		})
	})
}

func (s *Service) IsDebtor(ctx context.Context, customerID snowflake.ID) (bool, error) {
	return s.debtorLocked(ctx, s.db, customerID)
}

// debtorLocked reports an overdue unpaid invoice. It reads through whatever
// handle the caller passes so it sees uncommitted settlement.
func (s *Service) debtorLocked(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM invoices
		 WHERE customer_id = ? AND due_on < ? AND paid_on IS NULL AND deleted_on IS NULL`,
		customerID, s.clock.Now(),
	).Scan(&count).Error
	return count > 0, err
}

func (s *Service) CanSubscribeTo(ctx context.Context, customerID snowflake.ID, planID snowflake.ID) (bool, error) {
	debtor, err := s.IsDebtor(ctx, customerID)
	if err != nil {
		return false, err
	}
	if debtor {
		return false, nil
	}

	customer, err := s.load(ctx, s.db, customerID)
	if err != nil {
		return false, err
	}
	if customer.CurrentSubscriptionID == nil {
		return true, nil
	}
	current, err := s.subscriptions.GetByID(ctx, *customer.CurrentSubscriptionID)
	if err != nil {
		return false, err
	}
	// A terminated subscription no longer claims its plan.
	if current.Terminated() {
		return true, nil
	}
	// Leaving a trial for the same plan is fine; re-buying it is not.
	if !current.Trial() && current.PlanID != nil && *current.PlanID == planID {
		return false, nil
	}
	return true, nil
}

func (s *Service) TrialDaysLeft(ctx context.Context, customerID snowflake.ID) (int, bool, error) {
	customer, err := s.load(ctx, s.db, customerID)
	if err != nil {
		return 0, false, err
	}
	if customer.CurrentSubscriptionID == nil {
		return 0, false, nil
	}
	current, err := s.subscriptions.GetByID(ctx, *customer.CurrentSubscriptionID)
	if err != nil {
		return 0, false, err
	}
	if !current.Trial() || current.Terminated() {
		return 0, false, nil
	}

	now := s.clock.Now()
	expiry := current.IsTrialExpiringOn.UTC()
	days := int(expiry.Truncate(24*time.Hour).Sub(now.Truncate(24*time.Hour)) / (24 * time.Hour))
	return days, true, nil
}

func (s *Service) load(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) (*customerdomain.Customer, error) {
	var customer customerdomain.Customer
	if err := tx.WithContext(ctx).First(&customer, "id = ?", customerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, customerdomain.ErrCustomerNotFound
		}
		return nil, err
	}
	return &customer, nil
}
