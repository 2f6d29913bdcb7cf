package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/smallbiznis/billingly/internal/customer/domain"
	pkgdb "github.com/smallbiznis/billingly/pkg/db"
	"gorm.io/gorm"
)

// DeactivateAllDebtors cuts service for every active customer with an
// overdue unpaid invoice. Debtor status is rechecked under the customer lock
// since a payment may land between the scan and the item's transaction.
func (s *Service) DeactivateAllDebtors(ctx context.Context) (int, int, error) {
	var ids []snowflake.ID
	if err := s.db.WithContext(ctx).Raw(
		`SELECT DISTINCT c.id FROM customers c
		 JOIN invoices i ON i.customer_id = c.id
		 WHERE c.deactivated_since IS NULL
		   AND i.due_on < ? AND i.paid_on IS NULL AND i.deleted_on IS NULL
		 ORDER BY c.id ASC`,
		s.clock.Now(),
	).Scan(&ids).Error; err != nil {
		return 0, 0, err
	}

	var ok, failed int
	var errs []error
	for _, id := range ids {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := pkgdb.LockCustomer(ctx, tx, id); err != nil {
				return err
			}
			customer, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}
			if customer.Deactivated() {
				return nil
			}
			debtor, err := s.debtorLocked(ctx, tx, id)
			if err != nil {
				return err
			}
			if !debtor {
				return nil
			}
			return s.deactivateLocked(ctx, tx, customer, customerdomain.DeactivatedDebtor)
		})
		if err != nil {
			failed++
			errs = append(errs, fmt.Errorf("deactivate debtor %s: %w", id, err))
			continue
		}
		ok++
	}
	return ok, failed, errors.Join(errs...)
}

// DeactivateAllExpiredTrials ends every trial whose expiry has passed.
func (s *Service) DeactivateAllExpiredTrials(ctx context.Context) (int, int, error) {
	var ids []snowflake.ID
	if err := s.db.WithContext(ctx).Raw(
		`SELECT DISTINCT customer_id FROM subscriptions
		 WHERE is_trial_expiring_on IS NOT NULL AND is_trial_expiring_on <= ?
		   AND unsubscribed_on IS NULL
		 ORDER BY customer_id ASC`,
		s.clock.Now(),
	).Scan(&ids).Error; err != nil {
		return 0, 0, err
	}

	var ok, failed int
	var errs []error
	for _, id := range ids {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := pkgdb.LockCustomer(ctx, tx, id); err != nil {
				return err
			}
			customer, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}
			if customer.Deactivated() {
				return nil
			}
			return s.deactivateLocked(ctx, tx, customer, customerdomain.DeactivatedTrialExpired)
		})
		if err != nil {
			failed++
			errs = append(errs, fmt.Errorf("deactivate expired trial for customer %s: %w", id, err))
			continue
		}
		ok++
	}
	return ok, failed, errors.Join(errs...)
}
