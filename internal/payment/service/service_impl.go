package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ledgerdomain "github.com/smallbiznis/billingly/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/billingly/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Ledger ledgerdomain.Service
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	ledger ledgerdomain.Service
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("payment.service"),
		genID:  p.GenID,
		ledger: p.Ledger,
	}
}

func (s *Service) CreditFor(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, amount decimal.Decimal) (paymentdomain.Payment, error) {
	if !amount.IsPositive() {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidAmount
	}

	payment := paymentdomain.Payment{
		ID:         s.genID.Generate(),
		CustomerID: customerID,
		Amount:     amount,
	}
	if err := tx.WithContext(ctx).Create(&payment).Error; err != nil {
		return paymentdomain.Payment{}, err
	}

	links := ledgerdomain.Links{PaymentID: &payment.ID}
	accounts := []ledgerdomain.Account{ledgerdomain.AccountCash, ledgerdomain.AccountIncome}
	if err := s.ledger.Record(ctx, tx, customerID, amount, accounts, links); err != nil {
		return paymentdomain.Payment{}, err
	}

	s.log.Info("payment.credited",
		zap.String("payment_id", payment.ID.String()),
		zap.String("customer_id", customerID.String()),
		zap.String("amount", amount.String()),
	)
	return payment, nil
}

func (s *Service) ListForCustomer(ctx context.Context, customerID snowflake.ID) ([]paymentdomain.Payment, error) {
	var payments []paymentdomain.Payment
	err := s.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at ASC, id ASC").
		Find(&payments).Error
	return payments, err
}
