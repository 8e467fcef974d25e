package service

import (
	"errors"

	"thriftledger/internal/repository"
	"thriftledger/pkg/dateutil"
)

var (
	// ErrInsufficientFunds 余额不足，属于预期内的业务结果，日供扣款据此生成违约记录
	ErrInsufficientFunds = errors.New("余额不足")
	// ErrDuplicateReference 同一 reference 已被另一笔语义不同的流水占用，调用方需要换新的 reference
	ErrDuplicateReference = errors.New("reference 已被使用")
	// ErrAlreadySettled 违约记录已结清，重试时按成功处理
	ErrAlreadySettled = errors.New("违约记录已结清")
	// ErrEnrollmentNotActive 对非 ACTIVE 计划发起扣款，说明调度有问题，需要告警
	ErrEnrollmentNotActive = errors.New("日供计划不是进行中状态")

	ErrInvalidUserID           = errors.New("用户ID必须大于0")
	ErrInvalidAmount           = errors.New("金额必须大于0")
	ErrInvalidReference        = errors.New("reference 不能为空且不超过128个字符")
	ErrAmountMismatch          = errors.New("回调金额与待入账金额不一致")
	ErrInvalidStatusTransition = errors.New("状态流转不合法")
	ErrInvalidSignature        = errors.New("回调签名校验失败")
	ErrInvalidEnrollment       = errors.New("日供计划参数不合法")
	ErrInvalidDate             = dateutil.ErrInvalidDate

	ErrWalletNotFound      = repository.ErrWalletNotFound
	ErrEnrollmentNotFound  = repository.ErrEnrollmentNotFound
	ErrDefaultNotFound     = repository.ErrDefaultNotFound
	ErrTransactionNotFound = repository.ErrTransactionNotFound
)
