package repository

import (
	"context"

	"thriftledger/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(msg).Error
}

// GetPendingMessages 按写入顺序取待投递消息
func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *OutboxRepository) MarkSent(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ? AND status = ?", id, model.OutboxStatusPending).
		Update("status", model.OutboxStatusSent).Error
}

// RecordFailure 累加重试次数，达到上限后置为 FAILED 不再投递
func (r *OutboxRepository) RecordFailure(ctx context.Context, id int64, maxRetry int) (bool, error) {
	var msg model.OutboxMessage
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.OutboxMessage{}).
			Where("id = ?", id).
			UpdateColumn("retry_count", gorm.Expr("retry_count + 1")).Error; err != nil {
			return err
		}
		if err := tx.Where("id = ?", id).First(&msg).Error; err != nil {
			return err
		}
		if msg.RetryCount >= maxRetry {
			return tx.Model(&model.OutboxMessage{}).
				Where("id = ?", id).
				Update("status", model.OutboxStatusFailed).Error
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return msg.RetryCount >= maxRetry, nil
}

func (r *OutboxRepository) ListByAggregate(ctx context.Context, aggregateNo string) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("aggregate_no = ?", aggregateNo).
		Order("id ASC").
		Find(&messages).Error
	return messages, err
}
