package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingly/internal/clock"
	codedomain "github.com/smallbiznis/billingly/internal/plancode/domain"
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
	rng   *rand.Rand
}

func NewService(p Params) codedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("plancode.service"),
		genID: p.GenID,
		clock: p.Clock,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Service) GenerateForPlan(ctx context.Context, planID snowflake.ID, count int, bonus *decimal.Decimal) ([]codedomain.SpecialPlanCode, error) {
	if count <= 0 {
		return nil, codedomain.ErrInvalidQuantity
	}

	issued := make([]codedomain.SpecialPlanCode, 0, count)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for len(issued) < count {
			code := codedomain.SpecialPlanCode{
				ID:          s.genID.Generate(),
				PlanID:      planID,
				Code:        codedomain.RandomEAN13(s.rng),
				BonusAmount: bonus,
			}
			// Collisions with existing codes are skipped and redrawn.
			result := tx.Exec(
				`INSERT INTO special_plan_codes (id, plan_id, code, bonus_amount, created_at)
				 VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT (code) DO NOTHING`,
				code.ID, code.PlanID, code.Code, code.BonusAmount, s.clock.Now(),
			)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				continue
			}
			issued = append(issued, code)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("plancode.issued",
		zap.String("plan_id", planID.String()),
		zap.Int("count", len(issued)),
	)
	return issued, nil
}

func (s *Service) FindByCode(ctx context.Context, code string) (codedomain.SpecialPlanCode, error) {
	var found codedomain.SpecialPlanCode
	err := s.db.WithContext(ctx).First(&found, "code = ?", code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return codedomain.SpecialPlanCode{}, codedomain.ErrCodeNotFound
		}
		return codedomain.SpecialPlanCode{}, err
	}
	if found.Redeemed() {
		return codedomain.SpecialPlanCode{}, codedomain.ErrCodeRedeemed
	}
	return found, nil
}

func (s *Service) MarkRedeemed(ctx context.Context, tx *gorm.DB, codeID snowflake.ID, customerID snowflake.ID) error {
	result := tx.WithContext(ctx).Exec(
		`UPDATE special_plan_codes SET customer_id = ?, redeemed_on = ?
		 WHERE id = ? AND redeemed_on IS NULL`,
		customerID, s.clock.Now(), codeID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return codedomain.ErrCodeRedeemed
	}
	return nil
}

func (s *Service) ListUnredeemed(ctx context.Context, planID snowflake.ID) ([]codedomain.SpecialPlanCode, error) {
	var codes []codedomain.SpecialPlanCode
	err := s.db.WithContext(ctx).
		Where("plan_id = ? AND redeemed_on IS NULL", planID).
		Order("id ASC").
		Find(&codes).Error
	return codes, err
}
