package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 账本事件类型
const (
	EventWalletCredited      = "WALLET_CREDITED"
	EventWalletDebited       = "WALLET_DEBITED"
	EventCreditFailed        = "CREDIT_FAILED"
	EventContributionPaid    = "CONTRIBUTION_PAID"
	EventContributionDefault = "CONTRIBUTION_DEFAULTED"
	EventDefaultSettled      = "DEFAULT_SETTLED"
	EventEnrollmentFinished  = "ENROLLMENT_FINISHED"
	EventEnrollmentCancelled = "ENROLLMENT_CANCELLED"
)

// OutboxMessage 账本事件发件箱
// 与业务数据在同一个事务中写入，由 OutboxSender 异步投递到 Kafka
type OutboxMessage struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EventType   string    `gorm:"type:varchar(32);not null" json:"event_type"`
	AggregateNo string    `gorm:"type:varchar(64);index;not null" json:"aggregate_no"` // 流水号 / 计划号 / 违约单号
	MessageKey  string    `gorm:"type:varchar(64);not null" json:"message_key"`        // 分区键，取用户ID，保证同一用户事件有序
	Topic       string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload     string    `gorm:"type:text;not null" json:"payload"`
	Status      string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount  int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "ledger_outbox"
}
