package service

import (
	"context"
	"errors"
	"fmt"

	"thriftledger/internal/config"
	"thriftledger/internal/infrastructure/metrics"
	"thriftledger/internal/model"
	"thriftledger/internal/repository"
	"thriftledger/pkg/dateutil"
	"thriftledger/pkg/logger"

	"gorm.io/gorm"
)

const (
	StoppedInsufficientBalance = "INSUFFICIENT_BALANCE"
	StoppedRaceLost            = "RACE_LOST"
)

// SettlementResult 一次结清的结果
type SettlementResult struct {
	UserID             int64                  `json:"user_id"`
	Settled            []*model.DefaultRecord `json:"settled"`
	TotalSettled       int64                  `json:"total_settled"`
	Remaining          int                    `json:"remaining"`
	RemainingAmountDue int64                  `json:"remaining_amount_due"`
	BalanceAfter       int64                  `json:"balance_after"`
	StoppedReason      string                 `json:"stopped_reason,omitempty"`
}

// SettlementService 用钱包余额按违约日期从早到晚结清违约
//
// 【关键点】
// 1. 每条违约记录单独一个事务：锁违约行 -> 扣款 -> 标记结清 -> 写发件箱
// 2. 单条违约金额不可拆分，余额不够覆盖某一条时本轮停止，之后的记录不再尝试
// 3. 余额快照只用于挑选，钱包行锁内的扣款校验才是最终依据；校验失败说明被并发扣款抢先，本轮直接结束
type SettlementService struct {
	db          *gorm.DB
	cfg         *config.Config
	ledger      *LedgerService
	defaults    *DefaultService
	defaultRepo *repository.DefaultRepository
	events      *eventWriter
}

func NewSettlementService(db *gorm.DB, cfg *config.Config, ledger *LedgerService, defaults *DefaultService) *SettlementService {
	return &SettlementService{
		db:          db,
		cfg:         cfg,
		ledger:      ledger,
		defaults:    defaults,
		defaultRepo: repository.NewDefaultRepository(db),
		events:      newEventWriter(db),
	}
}

// OnWalletCredited 入账后自动触发结清
func (s *SettlementService) OnWalletCredited(ctx context.Context, userID int64) error {
	result, err := s.Reconcile(ctx, userID)
	if err != nil {
		return err
	}
	if len(result.Settled) > 0 {
		logger.Infof("入账后自动结清: userID=%d, settled=%d, amount=%d, remaining=%d",
			userID, len(result.Settled), result.TotalSettled, result.Remaining)
	}
	return nil
}

// Reconcile 对用户执行一轮结清
func (s *SettlementService) Reconcile(ctx context.Context, userID int64) (*SettlementResult, error) {
	records, err := s.defaultRepo.ListPendingByUserID(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("查询待结清违约失败: %w", err)
	}

	result := &SettlementResult{UserID: userID, Settled: []*model.DefaultRecord{}}
	if len(records) == 0 {
		result.BalanceAfter, err = s.ledger.GetBalance(ctx, userID)
		return result, err
	}

	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	settledDate := dateutil.Today(s.cfg.Business.Location())
	var running int64
	for _, record := range records {
		if running+record.TotalAmountDue > balance {
			result.StoppedReason = StoppedInsufficientBalance
			break
		}

		settled, err := s.settleOne(ctx, record.ID, settledDate)
		if err != nil {
			if errors.Is(err, ErrAlreadySettled) {
				continue
			}
			if errors.Is(err, ErrInsufficientFunds) {
				logger.Warnf("结清扣款余额不足，本轮停止: userID=%d, default=%s", userID, record.DefaultNo)
				result.StoppedReason = StoppedRaceLost
				break
			}
			metrics.SettlementPassErrors.Inc()
			return nil, fmt.Errorf("结清违约 %s 失败: %w", record.DefaultNo, err)
		}

		running += settled.TotalAmountDue
		result.Settled = append(result.Settled, settled)
		result.TotalSettled += settled.TotalAmountDue
		metrics.DefaultsSettled.Inc()
	}

	remaining, summary, err := s.defaults.PendingFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	result.Remaining = len(remaining)
	result.RemainingAmountDue = summary.TotalAmountDue

	result.BalanceAfter, err = s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SettlementService) settleOne(ctx context.Context, defaultID int64, settledDate string) (*model.DefaultRecord, error) {
	var (
		settled *model.DefaultRecord
		entry   *LedgerEntry
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.defaultRepo.GetByIDForUpdate(ctx, tx, defaultID)
		if err != nil {
			return err
		}
		if record.Status == model.DefaultStatusSettled {
			return ErrAlreadySettled
		}

		entry = &LedgerEntry{
			UserID:      record.UserID,
			Amount:      record.TotalAmountDue,
			Reference:   record.SettlementReference(),
			Category:    model.CategorySettlement,
			Description: fmt.Sprintf("结清 %s 违约（欠缴+罚金）", record.DefaultDate),
		}
		trans, err := s.ledger.DebitTx(ctx, tx, *entry)
		if err != nil {
			return err
		}

		if err := s.defaults.MarkSettled(ctx, tx, record.ID, settledDate, trans.TransactionNo); err != nil {
			return err
		}
		record.Status = model.DefaultStatusSettled
		record.SettledDate = settledDate
		record.SettlementTransactionNo = trans.TransactionNo

		if err := s.events.write(ctx, tx, s.cfg.Kafka.Topic.ThriftEvent, model.EventDefaultSettled, record.DefaultNo, record.UserID, map[string]interface{}{
			"default_date":     record.DefaultDate,
			"total_amount_due": record.TotalAmountDue,
			"transaction_no":   trans.TransactionNo,
			"settled_date":     settledDate,
		}); err != nil {
			return fmt.Errorf("写入消息失败: %w", err)
		}

		settled = record
		return nil
	})
	if entry != nil {
		s.ledger.ObserveDebit(*entry, err)
	}
	if err != nil {
		return nil, err
	}
	return settled, nil
}
