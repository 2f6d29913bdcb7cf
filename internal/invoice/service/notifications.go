package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/billingly/internal/invoice/domain"
	"github.com/smallbiznis/billingly/internal/notifier"
	"go.uber.org/zap"
)

// notificationGate is the slice of the customer row the dedupe gates need.
// Read with raw SQL so the invoice package does not depend on the customer
// package.
type notificationGate struct {
	Email            string
	DoNotEmail       bool
	DeactivatedSince *time.Time
}

func (s *Service) customerGate(ctx context.Context, customerID snowflake.ID) (notificationGate, error) {
	var gate notificationGate
	err := s.db.WithContext(ctx).Raw(
		`SELECT email, do_not_email, deactivated_since FROM customers WHERE id = ?`,
		customerID,
	).Scan(&gate).Error
	return gate, err
}

// notifyPending tells the customer an invoice awaits payment. Deactivated and
// opted-out customers are skipped; the flag is only set after delivery
// succeeds, so failures retry on the next sweep.
func (s *Service) notifyPending(ctx context.Context, invoice invoicedomain.Invoice) error {
	if invoice.Paid() || invoice.Deleted() || invoice.NotifiedPendingOn != nil {
		return nil
	}
	gate, err := s.customerGate(ctx, invoice.CustomerID)
	if err != nil {
		return err
	}
	if gate.DoNotEmail || gate.DeactivatedSince != nil || gate.Email == "" {
		return nil
	}

	if err := s.notifier.Notify(ctx, notifier.Notification{
		Kind:       notifier.KindPendingInvoice,
		CustomerID: invoice.CustomerID,
		InvoiceID:  invoice.ID,
		Summary:    fmt.Sprintf("invoice for %s due on %s", invoice.Amount, invoice.DueOn.Format(time.DateOnly)),
	}); err != nil {
		return err
	}
	return s.markNotified(ctx, invoice.ID, "notified_pending_on")
}

func (s *Service) notifyOverdue(ctx context.Context, invoice invoicedomain.Invoice) error {
	if invoice.Paid() || invoice.Deleted() || invoice.NotifiedOverdueOn != nil {
		return nil
	}
	if invoice.DueOn.After(s.clock.Now()) {
		return nil
	}
	gate, err := s.customerGate(ctx, invoice.CustomerID)
	if err != nil {
		return err
	}
	if gate.DoNotEmail || gate.Email == "" {
		return nil
	}

	if err := s.notifier.Notify(ctx, notifier.Notification{
		Kind:       notifier.KindOverdueInvoice,
		CustomerID: invoice.CustomerID,
		InvoiceID:  invoice.ID,
		Summary:    fmt.Sprintf("invoice for %s was due on %s", invoice.Amount, invoice.DueOn.Format(time.DateOnly)),
	}); err != nil {
		return err
	}
	return s.markNotified(ctx, invoice.ID, "notified_overdue_on")
}

func (s *Service) notifyPaid(ctx context.Context, invoice invoicedomain.Invoice) error {
	if !invoice.Paid() || invoice.NotifiedPaidOn != nil {
		return nil
	}
	gate, err := s.customerGate(ctx, invoice.CustomerID)
	if err != nil {
		return err
	}
	if gate.DoNotEmail || gate.Email == "" {
		return nil
	}

	if err := s.notifier.Notify(ctx, notifier.Notification{
		Kind:       notifier.KindPaidInvoice,
		CustomerID: invoice.CustomerID,
		InvoiceID:  invoice.ID,
		Summary:    fmt.Sprintf("payment of %s received", invoice.Amount),
	}); err != nil {
		return err
	}
	return s.markNotified(ctx, invoice.ID, "notified_paid_on")
}

func (s *Service) markNotified(ctx context.Context, invoiceID snowflake.ID, column string) error {
	return s.db.WithContext(ctx).Exec(
		fmt.Sprintf(`UPDATE invoices SET %s = ? WHERE id = ?`, column),
		s.clock.Now(), invoiceID,
	).Error
}

func (s *Service) NotifyAllPending(ctx context.Context) (int, int, error) {
	var candidates []invoicedomain.Invoice
	if err := s.db.WithContext(ctx).
		Where("paid_on IS NULL AND deleted_on IS NULL AND notified_pending_on IS NULL").
		Order("id ASC").
		Find(&candidates).Error; err != nil {
		return 0, 0, err
	}
	return s.sweep(ctx, "pending", candidates, s.notifyPending)
}

func (s *Service) NotifyAllOverdue(ctx context.Context) (int, int, error) {
	var candidates []invoicedomain.Invoice
	if err := s.db.WithContext(ctx).
		Where("paid_on IS NULL AND deleted_on IS NULL AND notified_overdue_on IS NULL AND due_on <= ?", s.clock.Now()).
		Order("id ASC").
		Find(&candidates).Error; err != nil {
		return 0, 0, err
	}
	return s.sweep(ctx, "overdue", candidates, s.notifyOverdue)
}

func (s *Service) NotifyAllPaid(ctx context.Context) (int, int, error) {
	var candidates []invoicedomain.Invoice
	if err := s.db.WithContext(ctx).
		Where("paid_on IS NOT NULL AND notified_paid_on IS NULL").
		Order("id ASC").
		Find(&candidates).Error; err != nil {
		return 0, 0, err
	}
	return s.sweep(ctx, "paid", candidates, s.notifyPaid)
}

func (s *Service) sweep(
	ctx context.Context,
	kind string,
	candidates []invoicedomain.Invoice,
	notify func(context.Context, invoicedomain.Invoice) error,
) (int, int, error) {
	var ok, failed int
	var errs []error
	for _, invoice := range candidates {
		if err := notify(ctx, invoice); err != nil {
			failed++
			errs = append(errs, fmt.Errorf("notify %s invoice %s: %w", kind, invoice.ID, err))
			continue
		}
		ok++
	}
	if failed > 0 {
		s.log.Warn("invoice.notify_sweep_partial",
			zap.String("kind", kind),
			zap.Int("ok", ok),
			zap.Int("failed", failed),
		)
	}
	return ok, failed, errors.Join(errs...)
}
