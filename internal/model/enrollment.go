package model

import (
	"time"
)

const (
	EnrollmentStatusActive    = "ACTIVE"
	EnrollmentStatusCompleted = "COMPLETED"
	EnrollmentStatusMatured   = "MATURED"
	EnrollmentStatusCancelled = "CANCELLED"
)

// 状态只能向前推进，任何状态都不能回到 ACTIVE
var ValidEnrollmentTransitions = map[string][]string{
	EnrollmentStatusActive: {EnrollmentStatusCompleted, EnrollmentStatusMatured, EnrollmentStatusCancelled},
}

func CanEnrollmentTransitionTo(currentStatus, targetStatus string) bool {
	allowedStatuses, exists := ValidEnrollmentTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// ThriftEnrollment 用户参与的一期日供计划
//
// 日期字段统一存 YYYY-MM-DD，按字符串比较即按日期比较。
// next_contribution_date 每处理一天（扣款成功或违约）恰好前进一天。
// last_processed_date 记录最近一次处理时的批处理日期，同一批处理日期内计划至多前进一天。
type ThriftEnrollment struct {
	ID                      int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	EnrollmentNo            string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"enrollment_no"`
	UserID                  int64      `gorm:"index;not null" json:"user_id"`
	PlanCode                string     `gorm:"type:varchar(32);not null" json:"plan_code"`
	DailyAmount             int64      `gorm:"not null" json:"daily_amount"`
	TotalContributionTarget int64      `gorm:"not null" json:"total_contribution_target"`
	SettlementAmount        int64      `gorm:"not null" json:"settlement_amount"`
	Status                  string     `gorm:"type:varchar(20);index:idx_enrollment_due;not null" json:"status"`
	StartDate               string     `gorm:"type:char(10);not null" json:"start_date"`
	MaturityDate            string     `gorm:"type:char(10)" json:"maturity_date,omitempty"`
	NextContributionDate    string     `gorm:"type:char(10);index:idx_enrollment_due;not null" json:"next_contribution_date"`
	LastProcessedDate       string     `gorm:"type:char(10);not null;default:''" json:"last_processed_date,omitempty"`
	TotalContributed        int64      `gorm:"not null;default:0" json:"total_contributed"`
	CurrentBalance          int64      `gorm:"not null;default:0" json:"current_balance"`
	DaysContributed         int        `gorm:"not null;default:0" json:"days_contributed"`
	DaysDefaulted           int        `gorm:"not null;default:0" json:"days_defaulted"`
	CancelledAt             *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt               time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ThriftEnrollment) TableName() string {
	return "thrift_enrollment"
}

// ContributionReference 某一天日供扣款的幂等键
func (e *ThriftEnrollment) ContributionReference(date string) string {
	return e.EnrollmentNo + ":" + date
}
