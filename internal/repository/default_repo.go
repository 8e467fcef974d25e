package repository

import (
	"context"
	"errors"

	"thriftledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DefaultRepository struct {
	db *gorm.DB
}

func NewDefaultRepository(db *gorm.DB) *DefaultRepository {
	return &DefaultRepository{db: db}
}

func (r *DefaultRepository) Create(ctx context.Context, tx *gorm.DB, record *model.DefaultRecord) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(record).Error
}

// GetByEnrollmentAndDate 某计划某天的违约记录，不存在返回 nil
func (r *DefaultRepository) GetByEnrollmentAndDate(ctx context.Context, tx *gorm.DB, enrollmentID int64, date string) (*model.DefaultRecord, error) {
	if tx == nil {
		tx = r.db
	}
	var record model.DefaultRecord
	err := tx.WithContext(ctx).
		Where("enrollment_id = ? AND default_date = ?", enrollmentID, date).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *DefaultRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.DefaultRecord, error) {
	if tx == nil {
		tx = r.db
	}
	var record model.DefaultRecord
	err := tx.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDefaultNotFound
		}
		return nil, err
	}
	return &record, nil
}

func (r *DefaultRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.DefaultRecord, error) {
	var record model.DefaultRecord
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDefaultNotFound
		}
		return nil, err
	}
	return &record, nil
}

// ListPendingByUserID 用户待结清违约，最早的违约排在最前
func (r *DefaultRepository) ListPendingByUserID(ctx context.Context, tx *gorm.DB, userID int64) ([]*model.DefaultRecord, error) {
	if tx == nil {
		tx = r.db
	}
	var records []*model.DefaultRecord
	err := tx.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.DefaultStatusPending).
		Order("default_date ASC, id ASC").
		Find(&records).Error
	return records, err
}

func (r *DefaultRepository) ListByEnrollmentID(ctx context.Context, enrollmentID int64) ([]*model.DefaultRecord, error) {
	var records []*model.DefaultRecord
	err := r.db.WithContext(ctx).
		Where("enrollment_id = ?", enrollmentID).
		Order("default_date ASC, id ASC").
		Find(&records).Error
	return records, err
}

// MarkSettled PENDING -> SETTLED，只会成功一次
func (r *DefaultRepository) MarkSettled(ctx context.Context, tx *gorm.DB, id int64, settledDate, transactionNo string) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.DefaultRecord{}).
		Where("id = ? AND status = ?", id, model.DefaultStatusPending).
		Updates(map[string]interface{}{
			"status":                    model.DefaultStatusSettled,
			"settled_date":              settledDate,
			"settlement_transaction_no": transactionNo,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// ListUserIDsWithPending 有待结清违约的用户，按用户ID游标分页
func (r *DefaultRepository) ListUserIDsWithPending(ctx context.Context, afterUserID int64, limit int) ([]int64, error) {
	var userIDs []int64
	err := r.db.WithContext(ctx).
		Model(&model.DefaultRecord{}).
		Distinct("user_id").
		Where("status = ? AND user_id > ?", model.DefaultStatusPending, afterUserID).
		Order("user_id ASC").
		Limit(limit).
		Pluck("user_id", &userIDs).Error
	return userIDs, err
}
