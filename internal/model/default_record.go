package model

import (
	"time"
)

const (
	DefaultStatusPending = "PENDING"
	DefaultStatusSettled = "SETTLED"
)

// PenaltyRate 违约罚金比例（100%，即罚金等于欠缴金额）
const PenaltyRate = 1

// DefaultRecord 日供违约记录
//
// 创建后除 PENDING -> SETTLED 外不可修改，且该转换只发生一次。
// user_id 冗余自 enrollment，便于按用户查询待结清违约。
type DefaultRecord struct {
	ID                      int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	DefaultNo               string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"default_no"`
	EnrollmentID            int64     `gorm:"uniqueIndex:uk_default_enrollment_date;not null" json:"enrollment_id"`
	UserID                  int64     `gorm:"index:idx_default_user_status;not null" json:"user_id"`
	ContributionAmountDue   int64     `gorm:"not null" json:"contribution_amount_due"`
	PenaltyAmount           int64     `gorm:"not null" json:"penalty_amount"`
	TotalAmountDue          int64     `gorm:"not null" json:"total_amount_due"`
	DefaultDate             string    `gorm:"type:char(10);uniqueIndex:uk_default_enrollment_date;not null" json:"default_date"`
	Status                  string    `gorm:"type:varchar(20);index:idx_default_user_status;not null" json:"status"`
	SettledDate             string    `gorm:"type:char(10)" json:"settled_date,omitempty"`
	SettlementTransactionNo string    `gorm:"type:varchar(64)" json:"settlement_transaction_no,omitempty"`
	CreatedAt               time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DefaultRecord) TableName() string {
	return "thrift_default"
}

// SettlementReference 结清扣款的幂等键
func (d *DefaultRecord) SettlementReference() string {
	return d.DefaultNo + "-settlement"
}
