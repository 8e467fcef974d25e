package service

import (
	"context"
	"testing"

	"thriftledger/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettlement_OldestFirstOnCredit(t *testing.T) {
	svcs, db := newTestServices(t)
	e := enroll(t, svcs, 1, 1000, 30000, "2024-01-01", "")

	older := recordDefault(t, svcs, db, e, 1000, "2024-01-01") // 2000
	newer := recordDefault(t, svcs, db, e, 1500, "2024-01-02") // 3000

	fund(t, svcs, 1, 4000, "BT-4000")

	assert.Equal(t, int64(2000), balanceOf(t, svcs, 1))

	records, summary, err := svcs.Defaults.PendingFor(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, newer.ID, records[0].ID)
	assert.Equal(t, int64(3000), summary.TotalAmountDue)

	var settled model.DefaultRecord
	require.NoError(t, db.Where("id = ?", older.ID).First(&settled).Error)
	assert.Equal(t, model.DefaultStatusSettled, settled.Status)
	assert.NotEmpty(t, settled.SettledDate)

	var trans model.WalletTransaction
	require.NoError(t, db.Where("user_id = ? AND reference = ?", 1, older.SettlementReference()).First(&trans).Error)
	assert.Equal(t, model.DirectionDebit, trans.Direction)
	assert.Equal(t, int64(2000), trans.Amount)
	assert.Equal(t, model.CategorySettlement, trans.Category)
	assert.Equal(t, trans.TransactionNo, settled.SettlementTransactionNo)

	requireConsistent(t, svcs, 1)
}

func TestSettlement_ExhaustsBalance(t *testing.T) {
	svcs, db := newTestServices(t)
	e := enroll(t, svcs, 1, 1000, 30000, "2024-01-01", "")

	recordDefault(t, svcs, db, e, 1000, "2024-01-01") // 2000
	recordDefault(t, svcs, db, e, 1500, "2024-01-02") // 3000
	recordDefault(t, svcs, db, e, 2500, "2024-01-03") // 5000

	fund(t, svcs, 1, 10000, "BT-10000")

	assert.Equal(t, int64(0), balanceOf(t, svcs, 1))
	records, _, err := svcs.Defaults.PendingFor(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, records)
	requireConsistent(t, svcs, 1)
}

func TestReconcile_StopsAtFirstUncoveredRecord(t *testing.T) {
	svcs, db := newTestServices(t)
	fund(t, svcs, 1, 2000, "seed")
	e := enroll(t, svcs, 1, 1000, 30000, "2024-01-01", "")

	recordDefault(t, svcs, db, e, 1500, "2024-01-01") // 3000
	recordDefault(t, svcs, db, e, 500, "2024-01-02")  // 1000

	result, err := svcs.Settlement.Reconcile(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, result.Settled)
	assert.Equal(t, StoppedInsufficientBalance, result.StoppedReason)
	assert.Equal(t, 2, result.Remaining)
	assert.Equal(t, int64(4000), result.RemainingAmountDue)
	assert.Equal(t, int64(2000), result.BalanceAfter)
}

func TestReconcile_PartialThenNothingLeftToSettle(t *testing.T) {
	svcs, db := newTestServices(t)
	fund(t, svcs, 1, 2500, "seed")
	e := enroll(t, svcs, 1, 1000, 30000, "2024-01-01", "")

	recordDefault(t, svcs, db, e, 1000, "2024-01-01") // 2000
	recordDefault(t, svcs, db, e, 1000, "2024-01-02") // 2000

	result, err := svcs.Settlement.Reconcile(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, result.Settled, 1)
	assert.Equal(t, int64(2000), result.TotalSettled)
	assert.Equal(t, 1, result.Remaining)
	assert.Equal(t, int64(500), result.BalanceAfter)

	before := countTransactions(t, db, 1)
	again, err := svcs.Settlement.Reconcile(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, again.Settled)
	assert.Equal(t, before, countTransactions(t, db, 1))
}

func TestReconcile_NoPendingDefaults(t *testing.T) {
	svcs, _ := newTestServices(t)
	fund(t, svcs, 1, 700, "seed")

	result, err := svcs.Settlement.Reconcile(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, result.Settled)
	assert.Empty(t, result.StoppedReason)
	assert.Equal(t, int64(700), result.BalanceAfter)
}

func TestSettleOne_AlreadySettledIsNoop(t *testing.T) {
	svcs, db := newTestServices(t)
	fund(t, svcs, 1, 5000, "seed")
	e := enroll(t, svcs, 1, 1000, 30000, "2024-01-01", "")
	record := recordDefault(t, svcs, db, e, 1000, "2024-01-01")

	_, err := svcs.Settlement.settleOne(context.Background(), record.ID, "2024-01-05")
	require.NoError(t, err)

	_, err = svcs.Settlement.settleOne(context.Background(), record.ID, "2024-01-06")
	assert.ErrorIs(t, err, ErrAlreadySettled)
	assert.Equal(t, int64(3000), balanceOf(t, svcs, 1))
}

func TestSettlement_DefaultsOfCancelledEnrollmentStayOwed(t *testing.T) {
	svcs, db := newTestServices(t)
	e := enroll(t, svcs, 1, 1000, 30000, "2024-01-01", "")
	recordDefault(t, svcs, db, e, 1000, "2024-01-01")

	_, err := svcs.Enrollment.Cancel(context.Background(), e.ID)
	require.NoError(t, err)

	fund(t, svcs, 1, 2000, "BT-after-cancel")
	assert.Equal(t, int64(0), balanceOf(t, svcs, 1))
}
