package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingly/internal/clock"
	"github.com/smallbiznis/billingly/internal/events"
	invoicedomain "github.com/smallbiznis/billingly/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/billingly/internal/ledger/domain"
	"github.com/smallbiznis/billingly/internal/notifier"
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
	Ledger   ledgerdomain.Service
	Notifier notifier.Notifier
	Outbox   *events.Outbox
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	ledger   ledgerdomain.Service
	notifier notifier.Notifier
	outbox   *events.Outbox
}

func NewService(p Params) invoicedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("invoice.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		ledger:   p.Ledger,
		notifier: p.Notifier,
		outbox:   p.Outbox,
	}
}

func (s *Service) Open(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice) error {
	if invoice.Amount.IsNegative() {
		return invoicedomain.ErrInvalidAmount
	}
	if !invoice.PeriodStart.Before(invoice.PeriodEnd) {
		return invoicedomain.ErrInvalidPeriod
	}
	if invoice.ID == 0 {
		invoice.ID = s.genID.Generate()
	}

	if err := tx.WithContext(ctx).Create(invoice).Error; err != nil {
		return err
	}

	links := ledgerdomain.Links{
		InvoiceID:      &invoice.ID,
		SubscriptionID: &invoice.SubscriptionID,
	}
	if err := s.ledger.Record(ctx, tx, invoice.CustomerID, invoice.Amount,
		generationAccounts(invoice.PayableUpfront), links); err != nil {
		return err
	}

	s.log.Info("invoice.opened",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("customer_id", invoice.CustomerID.String()),
		zap.String("amount", invoice.Amount.String()),
		zap.Bool("payable_upfront", invoice.PayableUpfront),
	)

	_, err := s.chargeLoaded(ctx, tx, invoice)
	return err
}

// generationAccounts picks the pending-obligation pair posted when the
// invoice is opened. Upfront plans owe before the period, due-month plans
// consume the period before paying.
func generationAccounts(payableUpfront bool) []ledgerdomain.Account {
	if payableUpfront {
		return []ledgerdomain.Account{ledgerdomain.AccountIOweYou, ledgerdomain.AccountServicesToProvide}
	}
	return []ledgerdomain.Account{ledgerdomain.AccountExpenses, ledgerdomain.AccountDebt}
}

func (s *Service) Charge(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (bool, error) {
	invoice, err := s.load(ctx, tx, invoiceID)
	if err != nil {
		return false, err
	}
	return s.chargeLoaded(ctx, tx, invoice)
}

func (s *Service) chargeLoaded(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice) (bool, error) {
	now := s.clock.Now()
	if invoice.Paid() || invoice.Deleted() || invoice.PeriodStart.After(now) {
		return false, nil
	}

	balance, err := s.ledger.BalanceIn(ctx, tx, invoice.CustomerID)
	if err != nil {
		return false, err
	}
	if balance.Get(ledgerdomain.AccountCash).LessThan(invoice.Amount) {
		return false, nil
	}

	receipt := invoicedomain.Receipt{
		ID:         s.genID.Generate(),
		CustomerID: invoice.CustomerID,
		InvoiceID:  invoice.ID,
		PaidOn:     now,
	}
	if err := tx.WithContext(ctx).Create(&receipt).Error; err != nil {
		return false, err
	}

	if err := tx.WithContext(ctx).Exec(
		`UPDATE invoices SET paid_on = ?, receipt_id = ? WHERE id = ?`,
		now, receipt.ID, invoice.ID,
	).Error; err != nil {
		return false, err
	}
	invoice.PaidOn = &now
	invoice.ReceiptID = &receipt.ID

	links := ledgerdomain.Links{
		InvoiceID:      &invoice.ID,
		ReceiptID:      &receipt.ID,
		SubscriptionID: &invoice.SubscriptionID,
	}
	settled := []ledgerdomain.Account{ledgerdomain.AccountCash, ledgerdomain.AccountDebt}
	credited := []ledgerdomain.Account{ledgerdomain.AccountSpent}
	if invoice.PayableUpfront {
		settled = []ledgerdomain.Account{
			ledgerdomain.AccountCash,
			ledgerdomain.AccountIOweYou,
			ledgerdomain.AccountServicesToProvide,
		}
		credited = []ledgerdomain.Account{ledgerdomain.AccountPaidUpfront}
	}
	if err := s.ledger.Record(ctx, tx, invoice.CustomerID, invoice.Amount.Neg(), settled, links); err != nil {
		return false, err
	}
	if err := s.ledger.Record(ctx, tx, invoice.CustomerID, invoice.Amount, credited, links); err != nil {
		return false, err
	}

	if err := s.outbox.PublishTx(ctx, tx, events.Event{
		CustomerID: invoice.CustomerID,
		Type:       events.EventInvoicePaid,
		Payload: map[string]any{
			"invoice_id": invoice.ID.String(),
			"receipt_id": receipt.ID.String(),
			"amount":     invoice.Amount.String(),
		},
		DedupeKey: fmt.Sprintf("invoice.paid:%s", invoice.ID),
	}); err != nil {
		return false, err
	}

	s.log.Info("invoice.settled",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("customer_id", invoice.CustomerID.String()),
		zap.String("amount", invoice.Amount.String()),
	)
	return true, nil
}

func (s *Service) Truncate(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) error {
	invoice, err := s.load(ctx, tx, invoiceID)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	if invoice.Deleted() || !invoice.PeriodEnd.After(now) {
		return nil
	}

	oldAmount := invoice.Amount
	var deletedOn *time.Time
	var newAmount decimal.Decimal
	periodEnd := invoice.PeriodEnd

	if invoice.PeriodStart.After(now) {
		// Never used: forfeit outright.
		newAmount = decimal.Zero
		deletedOn = &now
	} else {
		elapsed := decimal.NewFromInt(int64(now.Sub(invoice.PeriodStart)))
		total := decimal.NewFromInt(int64(invoice.PeriodEnd.Sub(invoice.PeriodStart)))
		newAmount = oldAmount.Mul(elapsed).Div(total).Round(2)
		periodEnd = now
	}

	if err := tx.WithContext(ctx).Exec(
		`UPDATE invoices SET amount = ?, period_end = ?, deleted_on = ? WHERE id = ?`,
		newAmount, periodEnd, deletedOn, invoice.ID,
	).Error; err != nil {
		return err
	}
	invoice.Amount = newAmount
	invoice.PeriodEnd = periodEnd
	invoice.DeletedOn = deletedOn

	links := ledgerdomain.Links{
		InvoiceID:      &invoice.ID,
		SubscriptionID: &invoice.SubscriptionID,
	}
	if invoice.Paid() {
		// Reimbursement is rounded on its own. A cent of drift against the
		// proration rounding is accepted.
		reimburse := oldAmount.Sub(newAmount).Round(2)
		if reimburse.IsPositive() {
			if err := s.ledger.Record(ctx, tx, invoice.CustomerID, reimburse,
				[]ledgerdomain.Account{ledgerdomain.AccountCash}, links); err != nil {
				return err
			}
			if err := s.ledger.Record(ctx, tx, invoice.CustomerID, reimburse.Neg(),
				[]ledgerdomain.Account{ledgerdomain.AccountSpent}, links); err != nil {
				return err
			}
		}
	} else {
		// Shrink the pending-obligation pair posted at generation so the
		// books match the reduced obligation.
		delta := newAmount.Sub(oldAmount)
		if !delta.IsZero() {
			if err := s.ledger.Record(ctx, tx, invoice.CustomerID, delta,
				generationAccounts(invoice.PayableUpfront), links); err != nil {
				return err
			}
		}
	}

	s.log.Info("invoice.truncated",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("old_amount", oldAmount.String()),
		zap.String("new_amount", newAmount.String()),
		zap.Bool("forfeited", deletedOn != nil),
	)

	// The smaller amount may now fit the customer's balance.
	if !invoice.Paid() && !invoice.Deleted() {
		if _, err := s.chargeLoaded(ctx, tx, invoice); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) ChargePending(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) error {
	var pending []invoicedomain.Invoice
	if err := tx.WithContext(ctx).
		Where("customer_id = ? AND paid_on IS NULL AND deleted_on IS NULL", customerID).
		Order("period_start ASC, id ASC").
		Find(&pending).Error; err != nil {
		return err
	}

	for i := range pending {
		charged, err := s.chargeLoaded(ctx, tx, &pending[i])
		if err != nil {
			return err
		}
		// Oldest first: once one cannot be covered, younger ones wait too.
		if !charged {
			return nil
		}
	}
	return nil
}

func (s *Service) AcknowledgeExpense(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (bool, error) {
	invoice, err := s.load(ctx, tx, invoiceID)
	if err != nil {
		return false, err
	}

	now := s.clock.Now()
	if !invoice.PayableUpfront || !invoice.Paid() || invoice.ExpenseAcknowledgedOn != nil {
		return false, nil
	}
	if invoice.PeriodEnd.After(now) {
		return false, nil
	}

	links := ledgerdomain.Links{
		InvoiceID:      &invoice.ID,
		SubscriptionID: &invoice.SubscriptionID,
	}
	if err := s.ledger.Record(ctx, tx, invoice.CustomerID, invoice.Amount.Neg(),
		[]ledgerdomain.Account{ledgerdomain.AccountPaidUpfront}, links); err != nil {
		return false, err
	}
	if err := s.ledger.Record(ctx, tx, invoice.CustomerID, invoice.Amount,
		[]ledgerdomain.Account{ledgerdomain.AccountExpenses}, links); err != nil {
		return false, err
	}

	if err := tx.WithContext(ctx).Exec(
		`UPDATE invoices SET expense_acknowledged_on = ? WHERE id = ?`,
		now, invoice.ID,
	).Error; err != nil {
		return false, err
	}

	s.log.Info("invoice.expense_acknowledged",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("amount", invoice.Amount.String()),
	)
	return true, nil
}

func (s *Service) ListForCustomer(ctx context.Context, customerID snowflake.ID) ([]invoicedomain.Invoice, error) {
	var invoices []invoicedomain.Invoice
	err := s.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("period_start ASC, id ASC").
		Find(&invoices).Error
	return invoices, err
}

func (s *Service) ChargeAll(ctx context.Context) (int, int, error) {
	now := s.clock.Now()
	var targets []struct {
		ID         snowflake.ID
		CustomerID snowflake.ID
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id, customer_id FROM invoices
		 WHERE paid_on IS NULL AND deleted_on IS NULL AND period_start <= ?
		 ORDER BY customer_id ASC, period_start ASC, id ASC`,
		now,
	).Scan(&targets).Error; err != nil {
		return 0, 0, err
	}

	var ok, failed int
	var errs []error
	var holdBack snowflake.ID
	for _, target := range targets {
		// Oldest first per customer: once one of theirs cannot be
		// covered, their younger ones wait for the next sweep.
		if target.CustomerID == holdBack {
			continue
		}
		var uncovered bool
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			invoice, err := s.load(ctx, tx, target.ID)
			if err != nil {
				return err
			}
			if err := pkgdb.LockCustomer(ctx, tx, invoice.CustomerID); err != nil {
				return err
			}
			charged, err := s.chargeLoaded(ctx, tx, invoice)
			if err != nil {
				return err
			}
			uncovered = !charged && !invoice.Paid() && !invoice.Deleted()
			return nil
		})
		if err != nil {
			failed++
			errs = append(errs, fmt.Errorf("charge invoice %s: %w", target.ID, err))
			holdBack = target.CustomerID
			continue
		}
		if uncovered {
			holdBack = target.CustomerID
		}
		ok++
	}
	return ok, failed, errors.Join(errs...)
}

func (s *Service) AcknowledgeExpenses(ctx context.Context) (int, int, error) {
	now := s.clock.Now()
	var ids []snowflake.ID
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id FROM invoices
		 WHERE payable_upfront AND paid_on IS NOT NULL
		   AND expense_acknowledged_on IS NULL AND period_end <= ?
		 ORDER BY id ASC`,
		now,
	).Scan(&ids).Error; err != nil {
		return 0, 0, err
	}

	var ok, failed int
	var errs []error
	for _, id := range ids {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			invoice, err := s.load(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := pkgdb.LockCustomer(ctx, tx, invoice.CustomerID); err != nil {
				return err
			}
			_, err = s.AcknowledgeExpense(ctx, tx, id)
			return err
		})
		if err != nil {
			failed++
			errs = append(errs, fmt.Errorf("acknowledge expense on invoice %s: %w", id, err))
			continue
		}
		ok++
	}
	return ok, failed, errors.Join(errs...)
}

func (s *Service) load(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	if err := tx.WithContext(ctx).First(&invoice, "id = ?", invoiceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, invoicedomain.ErrInvoiceNotFound
		}
		return nil, err
	}
	return &invoice, nil
}
