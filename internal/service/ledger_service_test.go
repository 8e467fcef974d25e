package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"thriftledger/internal/model"
	"thriftledger/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredit_DuplicateDeliveryCreditsOnce(t *testing.T) {
	svcs, db := newTestServices(t)
	ctx := context.Background()

	first := fund(t, svcs, 1, 5000, "BT-evt-1")
	second, err := svcs.Ledger.Credit(ctx, LedgerEntry{UserID: 1, Amount: 5000, Reference: "BT-evt-1", Category: model.CategoryTopUp})
	require.NoError(t, err)

	assert.Equal(t, first.TransactionNo, second.TransactionNo)
	assert.Equal(t, int64(5000), balanceOf(t, svcs, 1))
	assert.Equal(t, int64(1), countTransactions(t, db, 1))
	assert.Equal(t, int64(0), first.BalanceBefore)
	assert.Equal(t, int64(5000), first.BalanceAfter)
}

func TestCredit_ReferenceReusedForDifferentIntent(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()

	fund(t, svcs, 1, 5000, "ref-1")

	_, err := svcs.Ledger.Credit(ctx, LedgerEntry{UserID: 1, Amount: 7000, Reference: "ref-1", Category: model.CategoryTopUp})
	assert.ErrorIs(t, err, ErrDuplicateReference)

	_, err = svcs.Ledger.Debit(ctx, LedgerEntry{UserID: 1, Amount: 5000, Reference: "ref-1", Category: model.CategoryTopUp})
	assert.ErrorIs(t, err, ErrDuplicateReference)

	assert.Equal(t, int64(5000), balanceOf(t, svcs, 1))
}

func TestCredit_SameReferenceDifferentUsers(t *testing.T) {
	svcs, _ := newTestServices(t)

	fund(t, svcs, 1, 1000, "shared-ref")
	fund(t, svcs, 2, 2000, "shared-ref")

	assert.Equal(t, int64(1000), balanceOf(t, svcs, 1))
	assert.Equal(t, int64(2000), balanceOf(t, svcs, 2))
}

func TestLedger_RejectsInvalidEntries(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		entry LedgerEntry
		want  error
	}{
		{"missing user", LedgerEntry{Amount: 10, Reference: "r"}, ErrInvalidUserID},
		{"negative user", LedgerEntry{UserID: -7, Amount: 10, Reference: "r"}, ErrInvalidUserID},
		{"zero amount", LedgerEntry{UserID: 1, Amount: 0, Reference: "r"}, ErrInvalidAmount},
		{"negative amount", LedgerEntry{UserID: 1, Amount: -10, Reference: "r"}, ErrInvalidAmount},
		{"empty reference", LedgerEntry{UserID: 1, Amount: 10}, ErrInvalidReference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svcs.Ledger.Credit(ctx, tt.entry)
			assert.ErrorIs(t, err, tt.want)
			_, err = svcs.Ledger.Debit(ctx, tt.entry)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDebit_InsufficientFundsWritesNothing(t *testing.T) {
	svcs, db := newTestServices(t)
	ctx := context.Background()

	fund(t, svcs, 1, 500, "seed")

	_, err := svcs.Ledger.Debit(ctx, LedgerEntry{UserID: 1, Amount: 1000, Reference: "d-1", Category: model.CategoryContribution})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(500), balanceOf(t, svcs, 1))
	assert.Equal(t, int64(1), countTransactions(t, db, 1))

	// 没有流水落库，同一个 reference 之后仍可使用
	fund(t, svcs, 1, 500, "seed-2")
	trans, err := svcs.Ledger.Debit(ctx, LedgerEntry{UserID: 1, Amount: 1000, Reference: "d-1", Category: model.CategoryContribution})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), trans.BalanceBefore)
	assert.Equal(t, int64(0), trans.BalanceAfter)
	requireConsistent(t, svcs, 1)
}

// 测试库为单连接 sqlite，事务实际是串行执行的，FOR UPDATE 行锁只在 MySQL 上生效；
// 这里验证的是并发调用下的余额与流水结果，version 校验见 TestWalletRepository_RejectsStaleVersion
func TestDebit_ConcurrentNeverGoesNegative(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()

	fund(t, svcs, 1, 10000, "seed")

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svcs.Ledger.Debit(ctx, LedgerEntry{
				UserID:    1,
				Amount:    1000,
				Reference: fmt.Sprintf("debit-%d", i),
				Category:  model.CategoryContribution,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case assert.ErrorIs(t, err, ErrInsufficientFunds):
				insufficient++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 10, insufficient)
	assert.Equal(t, int64(0), balanceOf(t, svcs, 1))
	requireConsistent(t, svcs, 1)
}

func TestLedger_CreditListenerRunsOnlyForFreshCredit(t *testing.T) {
	svcs, _ := newTestServices(t)
	listener := &countingListener{}
	svcs.Ledger.RegisterCreditListener(listener)

	fund(t, svcs, 1, 1000, "ref-1")
	fund(t, svcs, 1, 1000, "ref-1")
	fund(t, svcs, 1, 1000, "ref-2")

	assert.Equal(t, 2, listener.calls)
}

func TestLedger_CreditSurvivesListenerFailure(t *testing.T) {
	svcs, _ := newTestServices(t)
	svcs.Ledger.RegisterCreditListener(&countingListener{err: fmt.Errorf("boom")})

	trans := fund(t, svcs, 1, 1000, "ref-1")
	assert.Equal(t, model.TransactionStatusCompleted, trans.Status)
	assert.Equal(t, int64(1000), balanceOf(t, svcs, 1))
}

type countingListener struct {
	calls int
	err   error
}

func (l *countingListener) OnWalletCredited(ctx context.Context, userID int64) error {
	l.calls++
	return l.err
}

func TestPendingCredit_CompleteFlow(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()
	entry := LedgerEntry{UserID: 1, Amount: 3000, Reference: "CARD-1", Category: model.CategoryCard}

	pending, err := svcs.Ledger.RegisterPendingCredit(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusPending, pending.Status)
	assert.Equal(t, int64(0), balanceOf(t, svcs, 1))

	again, err := svcs.Ledger.RegisterPendingCredit(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, pending.TransactionNo, again.TransactionNo)

	_, err = svcs.Ledger.CompletePendingCredit(ctx, 1, "CARD-1", 2999)
	assert.ErrorIs(t, err, ErrAmountMismatch)

	done, err := svcs.Ledger.CompletePendingCredit(ctx, 1, "CARD-1", 3000)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCompleted, done.Status)
	assert.Equal(t, int64(3000), done.BalanceAfter)

	replay, err := svcs.Ledger.CompletePendingCredit(ctx, 1, "CARD-1", 3000)
	require.NoError(t, err)
	assert.Equal(t, done.TransactionNo, replay.TransactionNo)
	assert.Equal(t, int64(3000), balanceOf(t, svcs, 1))

	// 已完成的入账重放时金额不一致同样拒绝
	_, err = svcs.Ledger.CompletePendingCredit(ctx, 1, "CARD-1", 9000)
	assert.ErrorIs(t, err, ErrAmountMismatch)
	assert.Equal(t, int64(3000), balanceOf(t, svcs, 1))

	_, err = svcs.Ledger.FailPendingCredit(ctx, 1, "CARD-1")
	assert.ErrorIs(t, err, ErrDuplicateReference)
	requireConsistent(t, svcs, 1)
}

func TestPendingCredit_FailedReferenceCannotBeCredited(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()

	_, err := svcs.Ledger.RegisterPendingCredit(ctx, LedgerEntry{UserID: 1, Amount: 3000, Reference: "CARD-2", Category: model.CategoryCard})
	require.NoError(t, err)

	failed, err := svcs.Ledger.FailPendingCredit(ctx, 1, "CARD-2")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusFailed, failed.Status)

	_, err = svcs.Ledger.CompletePendingCredit(ctx, 1, "CARD-2", 3000)
	assert.ErrorIs(t, err, ErrDuplicateReference)

	_, err = svcs.Ledger.Credit(ctx, LedgerEntry{UserID: 1, Amount: 3000, Reference: "CARD-2", Category: model.CategoryCard})
	assert.ErrorIs(t, err, ErrDuplicateReference)

	assert.Equal(t, int64(0), balanceOf(t, svcs, 1))
}

func TestPendingCredit_UnknownReference(t *testing.T) {
	svcs, _ := newTestServices(t)
	ctx := context.Background()

	_, err := svcs.Ledger.CompletePendingCredit(ctx, 1, "CARD-missing", 100)
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	fund(t, svcs, 1, 100, "seed")
	_, err = svcs.Ledger.CompletePendingCredit(ctx, 1, "CARD-missing", 100)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestExpireStalePending(t *testing.T) {
	svcs, db := newTestServices(t)
	ctx := context.Background()

	pending, err := svcs.Ledger.RegisterPendingCredit(ctx, LedgerEntry{UserID: 1, Amount: 3000, Reference: "CARD-3", Category: model.CategoryCard})
	require.NoError(t, err)

	expired, err := svcs.Ledger.ExpireStalePending(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)

	expired, err = svcs.Ledger.ExpireStalePending(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	var reloaded model.WalletTransaction
	require.NoError(t, db.Where("id = ?", pending.ID).First(&reloaded).Error)
	assert.Equal(t, model.TransactionStatusFailed, reloaded.Status)
}

func TestGetWallet_MissingWalletIsEmpty(t *testing.T) {
	svcs, _ := newTestServices(t)

	wallet, err := svcs.Ledger.GetWallet(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), wallet.UserID)
	assert.Equal(t, int64(0), wallet.Balance)
}

func TestListTransactions_Paginates(t *testing.T) {
	svcs, _ := newTestServices(t)
	for i := 0; i < 5; i++ {
		fund(t, svcs, 1, 100, fmt.Sprintf("ref-%d", i))
	}

	list, total, err := svcs.Ledger.ListTransactions(context.Background(), 1, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, list, 2)
}

func TestVerifyBalance_DetectsDrift(t *testing.T) {
	svcs, db := newTestServices(t)
	fund(t, svcs, 1, 1000, "seed")

	requireConsistent(t, svcs, 1)

	require.NoError(t, db.Model(&model.Wallet{}).Where("user_id = ?", 1).Update("balance", 999).Error)
	check, err := svcs.Ledger.VerifyBalance(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, check.Consistent)
	assert.Equal(t, int64(1000), check.Computed)
}

func TestWalletRepository_RejectsStaleVersion(t *testing.T) {
	svcs, db := newTestServices(t)
	ctx := context.Background()
	fund(t, svcs, 1, 1000, "seed")

	repo := repository.NewWalletRepository(db)
	wallet, err := repo.GetByUserID(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, repo.UpdateBalance(ctx, db, 1, 2000, wallet.Version))
	err = repo.UpdateBalance(ctx, db, 1, 3000, wallet.Version)
	assert.ErrorIs(t, err, repository.ErrOptimisticLock)
	assert.Equal(t, int64(2000), balanceOf(t, svcs, 1))
}

func TestCredit_ConcurrentCreditsSettleEachDefaultOnce(t *testing.T) {
	svcs, db := newTestServices(t)
	ctx := context.Background()
	e := enroll(t, svcs, 1, 1000, 30000, "2024-01-01", "")
	first := recordDefault(t, svcs, db, e, 1000, "2024-01-01")
	second := recordDefault(t, svcs, db, e, 1000, "2024-01-02")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svcs.Ledger.Credit(ctx, LedgerEntry{
				UserID:    1,
				Amount:    500,
				Reference: fmt.Sprintf("BT-%d", i),
				Category:  model.CategoryBankTransfer,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for _, id := range []int64{first.ID, second.ID} {
		var record model.DefaultRecord
		require.NoError(t, db.Where("id = ?", id).First(&record).Error)
		assert.Equal(t, model.DefaultStatusSettled, record.Status)
	}

	var settlements int64
	require.NoError(t, db.Model(&model.WalletTransaction{}).
		Where("user_id = ? AND category = ?", 1, model.CategorySettlement).
		Count(&settlements).Error)
	assert.Equal(t, int64(2), settlements)
	assert.Equal(t, int64(1000), balanceOf(t, svcs, 1))
	requireConsistent(t, svcs, 1)
}
