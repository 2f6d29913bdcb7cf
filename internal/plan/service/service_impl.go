package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingly/internal/clock"
	plandomain "github.com/smallbiznis/billingly/internal/plan/domain"
	"github.com/smallbiznis/billingly/pkg/repository"
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

	planRepo repository.Repository[plandomain.Plan]
}

func NewService(p Params) plandomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("plan.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		planRepo: repository.ProvideStore[plandomain.Plan](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req plandomain.CreatePlanRequest) (plandomain.Plan, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return plandomain.Plan{}, plandomain.ErrInvalidName
	}
	periodicity, err := plandomain.ParsePeriodicity(req.Periodicity)
	if err != nil {
		return plandomain.Plan{}, err
	}
	if req.Amount.IsNegative() {
		return plandomain.Plan{}, plandomain.ErrInvalidAmount
	}
	if req.GracePeriod <= 0 {
		return plandomain.Plan{}, plandomain.ErrInvalidGracePeriod
	}
	if req.SignupPrice != nil && req.SignupPrice.IsNegative() {
		return plandomain.Plan{}, plandomain.ErrInvalidAmount
	}

	plan := plandomain.Plan{
		ID:               s.genID.Generate(),
		Name:             name,
		Description:      strings.TrimSpace(req.Description),
		Periodicity:      periodicity,
		Amount:           req.Amount,
		PayableUpfront:   req.PayableUpfront,
		GracePeriod:      req.GracePeriod,
		SignupPrice:      req.SignupPrice,
		Hidden:           req.Hidden,
		AwesomenessLevel: req.AwesomenessLevel,
		CreatedAt:        s.clock.Now(),
	}
	if err := s.planRepo.Create(ctx, &plan); err != nil {
		return plandomain.Plan{}, err
	}

	s.log.Info("plan.created",
		zap.String("plan_id", plan.ID.String()),
		zap.String("name", plan.Name),
		zap.String("amount", plan.Amount.String()),
	)
	return plan, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (plandomain.Plan, error) {
	planID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || planID == 0 {
		return plandomain.Plan{}, plandomain.ErrPlanNotFound
	}

	plan, err := s.planRepo.FindOne(ctx, &plandomain.Plan{ID: planID})
	if err != nil {
		return plandomain.Plan{}, err
	}
	if plan == nil {
		return plandomain.Plan{}, plandomain.ErrPlanNotFound
	}
	return *plan, nil
}

func (s *Service) List(ctx context.Context) ([]plandomain.Plan, error) {
	var plans []plandomain.Plan
	if err := s.db.WithContext(ctx).
		Where("hidden = ?", false).
		Order("created_at ASC").
		Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}
