package service

import (
	"context"
	"errors"
	"fmt"

	"thriftledger/internal/config"
	"thriftledger/internal/infrastructure/metrics"
	"thriftledger/internal/model"
	"thriftledger/internal/repository"
	"thriftledger/pkg/idgen"
	"thriftledger/pkg/logger"

	"gorm.io/gorm"
)

// DefaultSummary 用户当前欠款汇总
type DefaultSummary struct {
	Count                  int   `json:"count"`
	TotalAmountDue         int64 `json:"total_amount_due"`
	TotalContributionsOwed int64 `json:"total_contributions_owed"`
	TotalPenaltiesOwed     int64 `json:"total_penalties_owed"`
}

// DefaultService 违约与罚金记录
type DefaultService struct {
	db          *gorm.DB
	cfg         *config.Config
	defaultRepo *repository.DefaultRepository
	events      *eventWriter
}

func NewDefaultService(db *gorm.DB, cfg *config.Config) *DefaultService {
	return &DefaultService{
		db:          db,
		cfg:         cfg,
		defaultRepo: repository.NewDefaultRepository(db),
		events:      newEventWriter(db),
	}
}

// RecordDefault 在调用方事务内记录一天的违约
// 罚金为欠缴金额的 100%，同一计划同一天重复记录时返回已有记录
func (s *DefaultService) RecordDefault(ctx context.Context, tx *gorm.DB, enrollment *model.ThriftEnrollment, contributionAmount int64, date string) (*model.DefaultRecord, error) {
	if contributionAmount <= 0 {
		return nil, ErrInvalidAmount
	}

	existing, err := s.defaultRepo.GetByEnrollmentAndDate(ctx, tx, enrollment.ID, date)
	if err != nil {
		return nil, fmt.Errorf("查询违约记录失败: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	penalty := contributionAmount * model.PenaltyRate
	record := &model.DefaultRecord{
		DefaultNo:             idgen.GenerateDefaultNo(),
		EnrollmentID:          enrollment.ID,
		UserID:                enrollment.UserID,
		ContributionAmountDue: contributionAmount,
		PenaltyAmount:         penalty,
		TotalAmountDue:        contributionAmount + penalty,
		DefaultDate:           date,
		Status:                model.DefaultStatusPending,
	}
	if err := s.defaultRepo.Create(ctx, tx, record); err != nil {
		return nil, fmt.Errorf("创建违约记录失败: %w", err)
	}

	if err := s.events.write(ctx, tx, s.cfg.Kafka.Topic.ThriftEvent, model.EventContributionDefault, record.DefaultNo, record.UserID, map[string]interface{}{
		"enrollment_no":    enrollment.EnrollmentNo,
		"default_date":     date,
		"total_amount_due": record.TotalAmountDue,
	}); err != nil {
		return nil, fmt.Errorf("写入消息失败: %w", err)
	}

	metrics.DefaultsCreated.Inc()
	logger.Infof("记录违约: enrollment=%s, date=%s, due=%d", enrollment.EnrollmentNo, date, record.TotalAmountDue)
	return record, nil
}

// PendingFor 用户待结清违约（最早的在前）及汇总
func (s *DefaultService) PendingFor(ctx context.Context, userID int64) ([]*model.DefaultRecord, *DefaultSummary, error) {
	records, err := s.defaultRepo.ListPendingByUserID(ctx, nil, userID)
	if err != nil {
		return nil, nil, err
	}
	return records, summarize(records), nil
}

func summarize(records []*model.DefaultRecord) *DefaultSummary {
	summary := &DefaultSummary{Count: len(records)}
	for _, r := range records {
		summary.TotalAmountDue += r.TotalAmountDue
		summary.TotalContributionsOwed += r.ContributionAmountDue
		summary.TotalPenaltiesOwed += r.PenaltyAmount
	}
	return summary
}

// MarkSettled PENDING -> SETTLED，已结清时返回 ErrAlreadySettled，settled_date 保持不变
func (s *DefaultService) MarkSettled(ctx context.Context, tx *gorm.DB, defaultID int64, settledDate, transactionNo string) error {
	err := s.defaultRepo.MarkSettled(ctx, tx, defaultID, settledDate, transactionNo)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrStatusConflict) {
		return err
	}

	// 区分"已结清"和"记录不存在"
	if _, getErr := s.defaultRepo.GetByID(ctx, tx, defaultID); getErr != nil {
		return getErr
	}
	return ErrAlreadySettled
}

func (s *DefaultService) ListForEnrollment(ctx context.Context, enrollmentID int64) ([]*model.DefaultRecord, error) {
	return s.defaultRepo.ListByEnrollmentID(ctx, enrollmentID)
}
