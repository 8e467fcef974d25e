package model

import (
	"time"
)

const (
	DirectionCredit = "CREDIT"
	DirectionDebit  = "DEBIT"
)

const (
	TransactionStatusPending   = "PENDING"
	TransactionStatusCompleted = "COMPLETED"
	TransactionStatusFailed    = "FAILED"
)

// 流水用途
const (
	CategoryTopUp        = "TOPUP"
	CategoryBankTransfer = "BANK_TRANSFER"
	CategoryCard         = "CARD"
	CategoryContribution = "CONTRIBUTION"
	CategorySettlement   = "SETTLEMENT"
)

// WalletTransaction 钱包流水
//
// 流水只追加。唯一允许的修改是 PENDING -> COMPLETED / FAILED。
// (user_id, reference) 唯一，用于拦截同一外部事件的重复处理。
// PENDING 流水尚未影响余额，balance_before / balance_after 在完成时才写入。
type WalletTransaction struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID        int64     `gorm:"uniqueIndex:uk_wallet_txn_user_ref;index:idx_wallet_txn_user_status;not null" json:"user_id"`
	Direction     string    `gorm:"type:varchar(10);not null" json:"direction"`
	Amount        int64     `gorm:"not null" json:"amount"` // 始终为正数，方向由 direction 决定
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	Reference     string    `gorm:"type:varchar(128);uniqueIndex:uk_wallet_txn_user_ref;not null" json:"reference"`
	Status        string    `gorm:"type:varchar(20);index:idx_wallet_txn_user_status;not null" json:"status"`
	Category      string    `gorm:"type:varchar(20);not null" json:"category"`
	Description   string    `gorm:"type:varchar(256)" json:"description"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WalletTransaction) TableName() string {
	return "wallet_transaction"
}

// Delta 流水对余额的影响，只有已完成的流水才计入
func (t *WalletTransaction) Delta() int64 {
	if t.Status != TransactionStatusCompleted {
		return 0
	}
	if t.Direction == DirectionDebit {
		return -t.Amount
	}
	return t.Amount
}
