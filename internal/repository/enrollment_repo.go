package repository

import (
	"context"
	"errors"
	"time"

	"thriftledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EnrollmentRepository struct {
	db *gorm.DB
}

func NewEnrollmentRepository(db *gorm.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

func (r *EnrollmentRepository) Create(ctx context.Context, tx *gorm.DB, enrollment *model.ThriftEnrollment) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(enrollment).Error
}

func (r *EnrollmentRepository) GetByID(ctx context.Context, id int64) (*model.ThriftEnrollment, error) {
	var enrollment model.ThriftEnrollment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&enrollment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, err
	}
	return &enrollment, nil
}

func (r *EnrollmentRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.ThriftEnrollment, error) {
	var enrollment model.ThriftEnrollment
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&enrollment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, err
	}
	return &enrollment, nil
}

func (r *EnrollmentRepository) ListByUserID(ctx context.Context, userID int64) ([]*model.ThriftEnrollment, error) {
	var enrollments []*model.ThriftEnrollment
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Find(&enrollments).Error
	return enrollments, err
}

// ListDue 按 id 游标分页查询当天应扣款的日供计划
func (r *EnrollmentRepository) ListDue(ctx context.Context, date string, afterID int64, limit int) ([]*model.ThriftEnrollment, error) {
	var enrollments []*model.ThriftEnrollment
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_contribution_date <= ? AND last_processed_date < ? AND id > ?",
			model.EnrollmentStatusActive, date, date, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&enrollments).Error
	return enrollments, err
}

// SaveProgress 写回一次日供处理后的进度，只允许在 ACTIVE 状态下推进
func (r *EnrollmentRepository) SaveProgress(ctx context.Context, tx *gorm.DB, enrollment *model.ThriftEnrollment, fromDate string) error {
	result := tx.WithContext(ctx).
		Model(&model.ThriftEnrollment{}).
		Where("id = ? AND status = ? AND next_contribution_date = ?", enrollment.ID, model.EnrollmentStatusActive, fromDate).
		Updates(map[string]interface{}{
			"status":                 enrollment.Status,
			"next_contribution_date": enrollment.NextContributionDate,
			"last_processed_date":    enrollment.LastProcessedDate,
			"total_contributed":      enrollment.TotalContributed,
			"current_balance":        enrollment.CurrentBalance,
			"days_contributed":       enrollment.DaysContributed,
			"days_defaulted":         enrollment.DaysDefaulted,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id int64, fromStatus, toStatus string) error {
	if tx == nil {
		tx = r.db
	}

	updates := map[string]interface{}{
		"status": toStatus,
	}
	if toStatus == model.EnrollmentStatusCancelled {
		now := time.Now()
		updates["cancelled_at"] = &now
	}

	result := tx.WithContext(ctx).
		Model(&model.ThriftEnrollment{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}
