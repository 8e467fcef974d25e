package repository

import (
	"context"
	"errors"
	"time"

	"thriftledger/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.WalletTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

// GetByReference 按 (user_id, reference) 查询流水，不存在返回 nil
func (r *TransactionRepository) GetByReference(ctx context.Context, tx *gorm.DB, userID int64, reference string) (*model.WalletTransaction, error) {
	if tx == nil {
		tx = r.db
	}
	var trans model.WalletTransaction
	err := tx.WithContext(ctx).
		Where("user_id = ? AND reference = ?", userID, reference).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) GetByTransactionNo(ctx context.Context, transactionNo string) (*model.WalletTransaction, error) {
	var trans model.WalletTransaction
	err := r.db.WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// CompletePending PENDING 流水完成入账，同时写入交易前后余额
func (r *TransactionRepository) CompletePending(ctx context.Context, tx *gorm.DB, id int64, balanceBefore, balanceAfter int64) error {
	result := tx.WithContext(ctx).
		Model(&model.WalletTransaction{}).
		Where("id = ? AND status = ?", id, model.TransactionStatusPending).
		Updates(map[string]interface{}{
			"status":         model.TransactionStatusCompleted,
			"balance_before": balanceBefore,
			"balance_after":  balanceAfter,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// FailPending PENDING 流水置为失败，不影响余额
func (r *TransactionRepository) FailPending(ctx context.Context, tx *gorm.DB, id int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.WalletTransaction{}).
		Where("id = ? AND status = ?", id, model.TransactionStatusPending).
		Update("status", model.TransactionStatusFailed)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	var transactions []*model.WalletTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.WalletTransaction{}).Where("user_id = ?", userID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// SumCompleted 汇总用户已完成流水的入账与出账总额，用于余额核对
func (r *TransactionRepository) SumCompleted(ctx context.Context, userID int64) (credits int64, debits int64, err error) {
	type row struct {
		Direction string
		Total     int64
	}
	var rows []row
	err = r.db.WithContext(ctx).
		Model(&model.WalletTransaction{}).
		Select("direction, COALESCE(SUM(amount), 0) AS total").
		Where("user_id = ? AND status = ?", userID, model.TransactionStatusCompleted).
		Group("direction").
		Scan(&rows).Error
	if err != nil {
		return 0, 0, err
	}
	for _, item := range rows {
		switch item.Direction {
		case model.DirectionCredit:
			credits = item.Total
		case model.DirectionDebit:
			debits = item.Total
		}
	}
	return credits, debits, nil
}

// GetStalePending 查询创建时间早于 before 仍未完成的入账流水
func (r *TransactionRepository) GetStalePending(ctx context.Context, before time.Time, limit int) ([]*model.WalletTransaction, error) {
	var transactions []*model.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND direction = ? AND created_at < ?", model.TransactionStatusPending, model.DirectionCredit, before).
		Order("id ASC").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}
