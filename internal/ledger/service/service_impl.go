package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingly/internal/clock"
	ledgerdomain "github.com/smallbiznis/billingly/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/billingly/internal/observability/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Record(
	ctx context.Context,
	tx *gorm.DB,
	customerID snowflake.ID,
	amount decimal.Decimal,
	accounts []ledgerdomain.Account,
	links ledgerdomain.Links,
) error {
	if customerID == 0 {
		return ledgerdomain.ErrInvalidCustomer
	}
	if len(accounts) == 0 {
		return ledgerdomain.ErrNoAccounts
	}
	for _, account := range accounts {
		if !ledgerdomain.ValidAccount(account) {
			return ledgerdomain.ErrInvalidAccount
		}
	}

	now := s.clock.Now()
	for _, account := range accounts {
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO ledger_entries (
				id, customer_id, account, amount,
				invoice_id, payment_id, receipt_id, subscription_id, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.genID.Generate(),
			customerID,
			string(account),
			amount,
			links.InvoiceID,
			links.PaymentID,
			links.ReceiptID,
			links.SubscriptionID,
			now,
		).Error; err != nil {
			return err
		}
		obsmetrics.Ledger().IncEntry(string(account))
	}

	s.log.Debug("ledger.recorded",
		zap.String("customer_id", customerID.String()),
		zap.String("amount", amount.String()),
		zap.Int("accounts", len(accounts)),
	)
	return nil
}

func (s *Service) Balance(ctx context.Context, customerID snowflake.ID) (ledgerdomain.Balance, error) {
	return s.BalanceIn(ctx, s.db, customerID)
}

// BalanceIn folds entries in Go using decimal arithmetic. Summing in SQL
// would route the amounts through the driver's float64 on some dialects,
// which drifts over years of small entries.
func (s *Service) BalanceIn(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) (ledgerdomain.Balance, error) {
	if customerID == 0 {
		return nil, ledgerdomain.ErrInvalidCustomer
	}

	var rows []struct {
		Account string
		Amount  decimal.Decimal
	}
	if err := tx.WithContext(ctx).Raw(
		`SELECT account, amount FROM ledger_entries WHERE customer_id = ?`,
		customerID,
	).Scan(&rows).Error; err != nil {
		return nil, err
	}

	balance := make(ledgerdomain.Balance)
	for _, row := range rows {
		account := ledgerdomain.Account(row.Account)
		balance[account] = balance.Get(account).Add(row.Amount)
	}
	return balance, nil
}

func (s *Service) History(ctx context.Context, customerID snowflake.ID) ([]ledgerdomain.Entry, error) {
	if customerID == 0 {
		return nil, ledgerdomain.ErrInvalidCustomer
	}

	var entries []ledgerdomain.Entry
	if err := s.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at ASC, id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
