package service

import (
	"context"
	"testing"

	"thriftledger/internal/config"
	"thriftledger/internal/model"
	"thriftledger/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testWebhookSecret = "test-webhook-secret"

func newTestServices(t *testing.T) (*Services, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t)
	cfg := config.Default()
	cfg.Gateway.WebhookSecret = testWebhookSecret
	return NewServices(db, cfg), db
}

func fund(t *testing.T, svcs *Services, userID, amount int64, reference string) *model.WalletTransaction {
	t.Helper()
	trans, err := svcs.Ledger.Credit(context.Background(), LedgerEntry{
		UserID:    userID,
		Amount:    amount,
		Reference: reference,
		Category:  model.CategoryTopUp,
	})
	require.NoError(t, err)
	return trans
}

func enroll(t *testing.T, svcs *Services, userID, daily, target int64, start, maturity string) *model.ThriftEnrollment {
	t.Helper()
	e, err := svcs.Enrollment.Create(context.Background(), CreateEnrollmentRequest{
		UserID:                  userID,
		PlanCode:                "DAILY-30",
		DailyAmount:             daily,
		TotalContributionTarget: target,
		SettlementAmount:        target,
		StartDate:               start,
		MaturityDate:            maturity,
	})
	require.NoError(t, err)
	return e
}

// recordDefault 直接写入一条违约，不经过扣款
func recordDefault(t *testing.T, svcs *Services, db *gorm.DB, e *model.ThriftEnrollment, amount int64, date string) *model.DefaultRecord {
	t.Helper()
	record, err := svcs.Defaults.RecordDefault(context.Background(), db, e, amount, date)
	require.NoError(t, err)
	return record
}

func countTransactions(t *testing.T, db *gorm.DB, userID int64) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&model.WalletTransaction{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

func balanceOf(t *testing.T, svcs *Services, userID int64) int64 {
	t.Helper()
	balance, err := svcs.Ledger.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return balance
}

func requireConsistent(t *testing.T, svcs *Services, userID int64) {
	t.Helper()
	check, err := svcs.Ledger.VerifyBalance(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, check.Consistent, "balance=%d computed=%d", check.Balance, check.Computed)
}
