package service

import (
	"context"
	"fmt"

	"thriftledger/internal/config"
	"thriftledger/internal/model"
	"thriftledger/internal/repository"
	"thriftledger/pkg/dateutil"
	"thriftledger/pkg/idgen"
	"thriftledger/pkg/logger"

	"gorm.io/gorm"
)

// CreateEnrollmentRequest 开通日供计划，金额与日期由上游开通流程校验完成
type CreateEnrollmentRequest struct {
	UserID                  int64  `json:"user_id" binding:"required"`
	PlanCode                string `json:"plan_code" binding:"required"`
	DailyAmount             int64  `json:"daily_amount" binding:"required"`
	TotalContributionTarget int64  `json:"total_contribution_target" binding:"required"`
	SettlementAmount        int64  `json:"settlement_amount" binding:"required"`
	StartDate               string `json:"start_date" binding:"required"`
	MaturityDate            string `json:"maturity_date"`
}

func (r CreateEnrollmentRequest) validate() error {
	if r.UserID <= 0 || r.PlanCode == "" {
		return ErrInvalidEnrollment
	}
	if r.DailyAmount <= 0 || r.TotalContributionTarget <= 0 || r.SettlementAmount <= 0 {
		return ErrInvalidAmount
	}
	if err := dateutil.Validate(r.StartDate); err != nil {
		return err
	}
	if r.MaturityDate != "" {
		if err := dateutil.Validate(r.MaturityDate); err != nil {
			return err
		}
		if r.MaturityDate < r.StartDate {
			return ErrInvalidEnrollment
		}
	}
	return nil
}

type EnrollmentService struct {
	db             *gorm.DB
	cfg            *config.Config
	enrollmentRepo *repository.EnrollmentRepository
	events         *eventWriter
}

func NewEnrollmentService(db *gorm.DB, cfg *config.Config) *EnrollmentService {
	return &EnrollmentService{
		db:             db,
		cfg:            cfg,
		enrollmentRepo: repository.NewEnrollmentRepository(db),
		events:         newEventWriter(db),
	}
}

// Create 创建日供计划，首个扣款日为开始日期
func (s *EnrollmentService) Create(ctx context.Context, req CreateEnrollmentRequest) (*model.ThriftEnrollment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	enrollment := &model.ThriftEnrollment{
		EnrollmentNo:            idgen.GenerateEnrollmentNo(),
		UserID:                  req.UserID,
		PlanCode:                req.PlanCode,
		DailyAmount:             req.DailyAmount,
		TotalContributionTarget: req.TotalContributionTarget,
		SettlementAmount:        req.SettlementAmount,
		Status:                  model.EnrollmentStatusActive,
		StartDate:               req.StartDate,
		MaturityDate:            req.MaturityDate,
		NextContributionDate:    req.StartDate,
	}
	if err := s.enrollmentRepo.Create(ctx, nil, enrollment); err != nil {
		return nil, fmt.Errorf("创建日供计划失败: %w", err)
	}

	logger.Infof("创建日供计划: enrollment=%s, userID=%d, plan=%s, daily=%d",
		enrollment.EnrollmentNo, enrollment.UserID, enrollment.PlanCode, enrollment.DailyAmount)
	return enrollment, nil
}

func (s *EnrollmentService) Get(ctx context.Context, enrollmentID int64) (*model.ThriftEnrollment, error) {
	return s.enrollmentRepo.GetByID(ctx, enrollmentID)
}

func (s *EnrollmentService) ListByUser(ctx context.Context, userID int64) ([]*model.ThriftEnrollment, error) {
	return s.enrollmentRepo.ListByUserID(ctx, userID)
}

// Cancel 取消计划，已产生的违约仍需结清
func (s *EnrollmentService) Cancel(ctx context.Context, enrollmentID int64) (*model.ThriftEnrollment, error) {
	var enrollment *model.ThriftEnrollment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := s.enrollmentRepo.GetByIDForUpdate(ctx, tx, enrollmentID)
		if err != nil {
			return err
		}
		if !model.CanEnrollmentTransitionTo(e.Status, model.EnrollmentStatusCancelled) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, e.Status, model.EnrollmentStatusCancelled)
		}

		if err := s.enrollmentRepo.UpdateStatus(ctx, tx, e.ID, e.Status, model.EnrollmentStatusCancelled); err != nil {
			return err
		}
		if err := s.events.write(ctx, tx, s.cfg.Kafka.Topic.ThriftEvent, model.EventEnrollmentCancelled, e.EnrollmentNo, e.UserID, map[string]interface{}{
			"total_contributed": e.TotalContributed,
			"days_contributed":  e.DaysContributed,
			"days_defaulted":    e.DaysDefaulted,
		}); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}

		enrollment, err = s.enrollmentRepo.GetByIDForUpdate(ctx, tx, e.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Infof("取消日供计划: enrollment=%s", enrollment.EnrollmentNo)
	return enrollment, nil
}
