package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"thriftledger/internal/config"
	"thriftledger/internal/infrastructure/metrics"
	"thriftledger/internal/model"
	"thriftledger/internal/repository"
	"thriftledger/pkg/idgen"
	"thriftledger/pkg/logger"

	"gorm.io/gorm"
)

const maxReferenceLen = 128

// CreditListener 入账成功（余额增加）并提交后被同步调用
// 返回的错误只记录日志，不会影响已经提交的入账
type CreditListener interface {
	OnWalletCredited(ctx context.Context, userID int64) error
}

// LedgerEntry 入账/扣款请求
type LedgerEntry struct {
	UserID      int64
	Amount      int64
	Reference   string // 调用方提供的幂等键，同一用户内唯一
	Category    string
	Description string
}

func (e LedgerEntry) validate() error {
	if e.UserID <= 0 {
		return ErrInvalidUserID
	}
	if e.Amount <= 0 {
		return ErrInvalidAmount
	}
	if e.Reference == "" || len(e.Reference) > maxReferenceLen {
		return ErrInvalidReference
	}
	return nil
}

// BalanceCheck 余额核对结果
type BalanceCheck struct {
	UserID       int64 `json:"user_id"`
	Balance      int64 `json:"balance"`
	TotalCredits int64 `json:"total_credits"`
	TotalDebits  int64 `json:"total_debits"`
	Computed     int64 `json:"computed"`
	Consistent   bool  `json:"consistent"`
}

// LedgerService 钱包余额变动的唯一入口
//
// 【关键点】
// 1. 每次变动都在一个数据库事务内完成：锁钱包行 -> 校验 reference -> 计算新余额 -> 写流水 -> 写余额 -> 写发件箱
// 2. 钱包行锁（SELECT ... FOR UPDATE）保证同一用户的入账、扣款、结清扣款串行
// 3. (user_id, reference) 唯一，重复投递的同一事件直接返回第一次的结果
type LedgerService struct {
	db              *gorm.DB
	cfg             *config.Config
	walletRepo      *repository.WalletRepository
	transactionRepo *repository.TransactionRepository
	events          *eventWriter
	listeners       []CreditListener
}

func NewLedgerService(db *gorm.DB, cfg *config.Config) *LedgerService {
	return &LedgerService{
		db:              db,
		cfg:             cfg,
		walletRepo:      repository.NewWalletRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		events:          newEventWriter(db),
	}
}

// RegisterCreditListener 注册入账监听，违约结清服务通过它在每次入账后自动触发
func (s *LedgerService) RegisterCreditListener(l CreditListener) {
	s.listeners = append(s.listeners, l)
}

// Credit 入账
//
// 相同 reference、相同金额的已完成入账再次到达时直接返回原流水，不重复加钱，也不再触发结清。
func (s *LedgerService) Credit(ctx context.Context, entry LedgerEntry) (*model.WalletTransaction, error) {
	if err := entry.validate(); err != nil {
		return nil, err
	}

	var trans *model.WalletTransaction
	var applied bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		trans, applied, err = s.apply(ctx, tx, model.DirectionCredit, entry)
		return err
	})
	s.observe(model.DirectionCredit, entry, applied, err)
	if err != nil {
		return nil, err
	}

	if applied {
		logger.Infof("入账成功: userID=%d, amount=%d, reference=%s, txn=%s, balance=%d",
			entry.UserID, entry.Amount, entry.Reference, trans.TransactionNo, trans.BalanceAfter)
		s.notifyCredited(ctx, entry.UserID)
	} else {
		logger.Infof("重复入账请求，返回原流水: userID=%d, reference=%s, txn=%s",
			entry.UserID, entry.Reference, trans.TransactionNo)
	}
	return trans, nil
}

// Debit 扣款，余额不足返回 ErrInsufficientFunds 且不写任何流水
func (s *LedgerService) Debit(ctx context.Context, entry LedgerEntry) (*model.WalletTransaction, error) {
	if err := entry.validate(); err != nil {
		return nil, err
	}

	var trans *model.WalletTransaction
	var applied bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		trans, applied, err = s.apply(ctx, tx, model.DirectionDebit, entry)
		return err
	})
	s.observe(model.DirectionDebit, entry, applied, err)
	if err != nil {
		return nil, err
	}
	return trans, nil
}

// DebitTx 在调用方的事务内扣款
// 日供扣款、违约结清需要把扣款和自己的记账放在同一个事务里。
// 调用方事务结束后调用 ObserveDebit 记录指标，回滚的扣款不计入。
func (s *LedgerService) DebitTx(ctx context.Context, tx *gorm.DB, entry LedgerEntry) (*model.WalletTransaction, error) {
	if err := entry.validate(); err != nil {
		return nil, err
	}
	trans, _, err := s.apply(ctx, tx, model.DirectionDebit, entry)
	return trans, err
}

// ObserveDebit 记录 DebitTx 所在事务的最终结果，err 为 nil 表示扣款已提交
func (s *LedgerService) ObserveDebit(entry LedgerEntry, err error) {
	s.observe(model.DirectionDebit, entry, true, err)
}

// apply 在事务内执行一次余额变动，applied=false 表示命中幂等返回了已有流水
func (s *LedgerService) apply(ctx context.Context, tx *gorm.DB, direction string, entry LedgerEntry) (*model.WalletTransaction, bool, error) {
	if err := s.walletRepo.EnsureExists(ctx, tx, entry.UserID); err != nil {
		return nil, false, fmt.Errorf("初始化钱包失败: %w", err)
	}

	wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, entry.UserID)
	if err != nil {
		return nil, false, fmt.Errorf("锁定钱包失败: %w", err)
	}

	// 持有行锁后再查 reference，避免两个并发请求同时判定为"不存在"
	existing, err := s.transactionRepo.GetByReference(ctx, tx, entry.UserID, entry.Reference)
	if err != nil {
		return nil, false, fmt.Errorf("查询流水失败: %w", err)
	}
	if existing != nil {
		if existing.Status == model.TransactionStatusCompleted &&
			existing.Direction == direction &&
			existing.Amount == entry.Amount {
			return existing, false, nil
		}
		return nil, false, ErrDuplicateReference
	}

	balanceAfter := wallet.Balance + entry.Amount
	if direction == model.DirectionDebit {
		if wallet.Balance < entry.Amount {
			return nil, false, ErrInsufficientFunds
		}
		balanceAfter = wallet.Balance - entry.Amount
	}

	trans := &model.WalletTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        entry.UserID,
		Direction:     direction,
		Amount:        entry.Amount,
		BalanceBefore: wallet.Balance,
		BalanceAfter:  balanceAfter,
		Reference:     entry.Reference,
		Status:        model.TransactionStatusCompleted,
		Category:      entry.Category,
		Description:   entry.Description,
	}
	if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
		return nil, false, fmt.Errorf("记录流水失败: %w", err)
	}

	if err := s.walletRepo.UpdateBalance(ctx, tx, entry.UserID, balanceAfter, wallet.Version); err != nil {
		return nil, false, fmt.Errorf("更新余额失败: %w", err)
	}

	if err := s.writeTransactionEvent(ctx, tx, trans); err != nil {
		return nil, false, fmt.Errorf("写入消息失败: %w", err)
	}

	return trans, true, nil
}

// RegisterPendingCredit 登记一笔待确认的入账（银行卡支付发起后），不影响余额
func (s *LedgerService) RegisterPendingCredit(ctx context.Context, entry LedgerEntry) (*model.WalletTransaction, error) {
	if err := entry.validate(); err != nil {
		return nil, err
	}

	var trans *model.WalletTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.walletRepo.EnsureExists(ctx, tx, entry.UserID); err != nil {
			return fmt.Errorf("初始化钱包失败: %w", err)
		}
		if _, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, entry.UserID); err != nil {
			return fmt.Errorf("锁定钱包失败: %w", err)
		}

		existing, err := s.transactionRepo.GetByReference(ctx, tx, entry.UserID, entry.Reference)
		if err != nil {
			return fmt.Errorf("查询流水失败: %w", err)
		}
		if existing != nil {
			if existing.Status == model.TransactionStatusPending &&
				existing.Direction == model.DirectionCredit &&
				existing.Amount == entry.Amount {
				trans = existing
				return nil
			}
			return ErrDuplicateReference
		}

		trans = &model.WalletTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        entry.UserID,
			Direction:     model.DirectionCredit,
			Amount:        entry.Amount,
			Reference:     entry.Reference,
			Status:        model.TransactionStatusPending,
			Category:      entry.Category,
			Description:   entry.Description,
		}
		return s.transactionRepo.Create(ctx, tx, trans)
	})
	if err != nil {
		return nil, err
	}
	return trans, nil
}

// CompletePendingCredit 待确认入账完成，余额增加并触发违约结清
// amount 为网关回调确认的金额，与登记金额不一致时拒绝
func (s *LedgerService) CompletePendingCredit(ctx context.Context, userID int64, reference string, amount int64) (*model.WalletTransaction, error) {
	var trans *model.WalletTransaction
	var applied bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			if errors.Is(err, repository.ErrWalletNotFound) {
				return ErrTransactionNotFound
			}
			return fmt.Errorf("锁定钱包失败: %w", err)
		}

		existing, err := s.transactionRepo.GetByReference(ctx, tx, userID, reference)
		if err != nil {
			return fmt.Errorf("查询流水失败: %w", err)
		}
		if existing == nil || existing.Direction != model.DirectionCredit {
			return ErrTransactionNotFound
		}

		if existing.Status == model.TransactionStatusFailed {
			return ErrDuplicateReference
		}
		if existing.Amount != amount {
			return ErrAmountMismatch
		}
		if existing.Status == model.TransactionStatusCompleted {
			trans = existing
			return nil
		}

		balanceAfter := wallet.Balance + existing.Amount
		if err := s.transactionRepo.CompletePending(ctx, tx, existing.ID, wallet.Balance, balanceAfter); err != nil {
			return fmt.Errorf("更新流水状态失败: %w", err)
		}
		if err := s.walletRepo.UpdateBalance(ctx, tx, userID, balanceAfter, wallet.Version); err != nil {
			return fmt.Errorf("更新余额失败: %w", err)
		}

		existing.Status = model.TransactionStatusCompleted
		existing.BalanceBefore = wallet.Balance
		existing.BalanceAfter = balanceAfter
		if err := s.writeTransactionEvent(ctx, tx, existing); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}

		trans = existing
		applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if applied {
		metrics.LedgerOperations.WithLabelValues(model.DirectionCredit, trans.Category, "ok").Inc()
		metrics.LedgerAmount.WithLabelValues(model.DirectionCredit, trans.Category).Add(float64(trans.Amount))
		logger.Infof("待确认入账完成: userID=%d, reference=%s, txn=%s, balance=%d",
			userID, reference, trans.TransactionNo, trans.BalanceAfter)
		s.notifyCredited(ctx, userID)
	}
	return trans, nil
}

// FailPendingCredit 待确认入账失败（支付失败或超时），余额不变
func (s *LedgerService) FailPendingCredit(ctx context.Context, userID int64, reference string) (*model.WalletTransaction, error) {
	var trans *model.WalletTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.transactionRepo.GetByReference(ctx, tx, userID, reference)
		if err != nil {
			return fmt.Errorf("查询流水失败: %w", err)
		}
		if existing == nil || existing.Direction != model.DirectionCredit {
			return ErrTransactionNotFound
		}

		switch existing.Status {
		case model.TransactionStatusFailed:
			trans = existing
			return nil
		case model.TransactionStatusCompleted:
			return ErrDuplicateReference
		}

		if err := s.transactionRepo.FailPending(ctx, tx, existing.ID); err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				return ErrDuplicateReference
			}
			return fmt.Errorf("更新流水状态失败: %w", err)
		}
		existing.Status = model.TransactionStatusFailed

		if err := s.events.write(ctx, tx, s.cfg.Kafka.Topic.WalletEvent, model.EventCreditFailed, existing.TransactionNo, userID, map[string]interface{}{
			"reference": existing.Reference,
			"amount":    existing.Amount,
			"category":  existing.Category,
		}); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}

		trans = existing
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trans, nil
}

// GetWallet 查询钱包，不存在时返回零余额钱包（不落库）
func (s *LedgerService) GetWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return &model.Wallet{UserID: userID}, nil
		}
		return nil, err
	}
	return wallet, nil
}

func (s *LedgerService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	wallet, err := s.GetWallet(ctx, userID)
	if err != nil {
		return 0, err
	}
	return wallet.Balance, nil
}

func (s *LedgerService) ListTransactions(ctx context.Context, userID int64, page, pageSize int) ([]*model.WalletTransaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.transactionRepo.ListByUserID(ctx, userID, page, pageSize)
}

// VerifyBalance 用已完成流水重新计算余额，与钱包余额比对
func (s *LedgerService) VerifyBalance(ctx context.Context, userID int64) (*BalanceCheck, error) {
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	credits, debits, err := s.transactionRepo.SumCompleted(ctx, userID)
	if err != nil {
		return nil, err
	}
	check := &BalanceCheck{
		UserID:       userID,
		Balance:      balance,
		TotalCredits: credits,
		TotalDebits:  debits,
		Computed:     credits - debits,
	}
	check.Consistent = check.Computed == balance
	if !check.Consistent {
		logger.Errorf("余额核对不一致: userID=%d, balance=%d, computed=%d", userID, balance, check.Computed)
	}
	return check, nil
}

// ExpireStalePending 超时未确认的待入账流水置为失败
func (s *LedgerService) ExpireStalePending(ctx context.Context, before time.Time, limit int) (int, error) {
	stale, err := s.transactionRepo.GetStalePending(ctx, before, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, trans := range stale {
		if _, err := s.FailPendingCredit(ctx, trans.UserID, trans.Reference); err != nil {
			logger.Errorf("待确认入账置失败出错: txn=%s, err=%v", trans.TransactionNo, err)
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *LedgerService) notifyCredited(ctx context.Context, userID int64) {
	for _, l := range s.listeners {
		if err := l.OnWalletCredited(ctx, userID); err != nil {
			logger.Errorf("入账后处理失败（入账已生效）: userID=%d, err=%v", userID, err)
		}
	}
}

func (s *LedgerService) writeTransactionEvent(ctx context.Context, tx *gorm.DB, trans *model.WalletTransaction) error {
	eventType := model.EventWalletCredited
	if trans.Direction == model.DirectionDebit {
		eventType = model.EventWalletDebited
	}
	return s.events.write(ctx, tx, s.cfg.Kafka.Topic.WalletEvent, eventType, trans.TransactionNo, trans.UserID, map[string]interface{}{
		"reference":      trans.Reference,
		"category":       trans.Category,
		"amount":         trans.Amount,
		"balance_before": trans.BalanceBefore,
		"balance_after":  trans.BalanceAfter,
	})
}

func (s *LedgerService) observe(direction string, entry LedgerEntry, applied bool, err error) {
	result := "ok"
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		result = "insufficient"
	case err != nil:
		result = "error"
	case !applied:
		result = "idempotent"
	}
	metrics.LedgerOperations.WithLabelValues(direction, entry.Category, result).Inc()
	if err == nil && applied {
		metrics.LedgerAmount.WithLabelValues(direction, entry.Category).Add(float64(entry.Amount))
	}
}
