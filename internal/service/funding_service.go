package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"

	"thriftledger/internal/config"
	"thriftledger/internal/model"
	"thriftledger/pkg/logger"
	"thriftledger/pkg/money"

	"github.com/google/uuid"
)

// 各资金渠道的 reference 前缀，避免不同渠道的外部单号撞车
const (
	BankTransferRefPrefix = "BT-"
	TopUpRefPrefix        = "TOPUP-"
	CardRefPrefix         = "CARD-"
)

const (
	CardStatusSuccess = "SUCCESS"
	CardStatusFailed  = "FAILED"
)

// BankTransferEvent 网关推送的银行转账到账通知，金额为主币单位字符串
type BankTransferEvent struct {
	UserID     int64  `json:"user_id" binding:"required"`
	Amount     string `json:"amount" binding:"required"`
	Reference  string `json:"reference" binding:"required"`
	SenderName string `json:"sender_name"`
	SourceBank string `json:"source_bank"`
}

// CardCallback 银行卡支付结果回调
type CardCallback struct {
	UserID    int64  `json:"user_id" binding:"required"`
	Reference string `json:"reference" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
	Status    string `json:"status" binding:"required"`
}

// FundingService 把网关的到账通知转换为账本入账
type FundingService struct {
	cfg    *config.Config
	ledger *LedgerService
}

func NewFundingService(cfg *config.Config, ledger *LedgerService) *FundingService {
	return &FundingService{cfg: cfg, ledger: ledger}
}

// VerifySignature 校验网关回调签名（HMAC-SHA512，十六进制）
func (s *FundingService) VerifySignature(payload []byte, signature string) error {
	secret := s.cfg.Gateway.WebhookSecret
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(signature))) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign 生成回调签名，供联调与测试使用
func (s *FundingService) Sign(payload []byte) string {
	mac := hmac.New(sha512.New, []byte(s.cfg.Gateway.WebhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// HandleBankTransfer 银行转账到账，同一网关单号重复推送只入账一次
func (s *FundingService) HandleBankTransfer(ctx context.Context, evt BankTransferEvent) (*model.WalletTransaction, error) {
	amount, err := money.ParseMajor(evt.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if evt.Reference == "" {
		return nil, ErrInvalidReference
	}

	description := "银行转账到账"
	if evt.SenderName != "" || evt.SourceBank != "" {
		description = fmt.Sprintf("银行转账到账 %s %s", evt.SenderName, evt.SourceBank)
	}

	return s.ledger.Credit(ctx, LedgerEntry{
		UserID:      evt.UserID,
		Amount:      amount,
		Reference:   BankTransferRefPrefix + evt.Reference,
		Category:    model.CategoryBankTransfer,
		Description: strings.TrimSpace(description),
	})
}

// InitiateCardPayment 发起银行卡充值，生成交给网关的支付单号并登记待确认入账
func (s *FundingService) InitiateCardPayment(ctx context.Context, userID, amount int64) (*model.WalletTransaction, error) {
	reference := CardRefPrefix + uuid.NewString()
	trans, err := s.ledger.RegisterPendingCredit(ctx, LedgerEntry{
		UserID:      userID,
		Amount:      amount,
		Reference:   reference,
		Category:    model.CategoryCard,
		Description: "银行卡充值",
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("发起银行卡充值: userID=%d, amount=%d, reference=%s", userID, amount, reference)
	return trans, nil
}

// HandleCardCallback 银行卡支付结果回调
func (s *FundingService) HandleCardCallback(ctx context.Context, cb CardCallback) (*model.WalletTransaction, error) {
	switch strings.ToUpper(cb.Status) {
	case CardStatusSuccess:
		amount, err := money.ParseMajor(cb.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		return s.ledger.CompletePendingCredit(ctx, cb.UserID, cb.Reference, amount)
	case CardStatusFailed:
		logger.Warnf("银行卡支付失败: userID=%d, reference=%s", cb.UserID, cb.Reference)
		return s.ledger.FailPendingCredit(ctx, cb.UserID, cb.Reference)
	default:
		return nil, fmt.Errorf("未知的支付状态: %s", cb.Status)
	}
}

// ManualTopUp 管理端手工充值，reference 由操作方提供
func (s *FundingService) ManualTopUp(ctx context.Context, userID, amount int64, reference, description string) (*model.WalletTransaction, error) {
	if reference == "" {
		return nil, ErrInvalidReference
	}
	if description == "" {
		description = "手工充值"
	}
	return s.ledger.Credit(ctx, LedgerEntry{
		UserID:      userID,
		Amount:      amount,
		Reference:   TopUpRefPrefix + reference,
		Category:    model.CategoryTopUp,
		Description: description,
	})
}
