package repository

import "errors"

var (
	ErrWalletNotFound      = errors.New("钱包不存在")
	ErrEnrollmentNotFound  = errors.New("日供计划不存在")
	ErrDefaultNotFound     = errors.New("违约记录不存在")
	ErrTransactionNotFound = errors.New("流水不存在")
	ErrOptimisticLock      = errors.New("乐观锁冲突，请重试")
	ErrStatusConflict      = errors.New("状态已变更")
)
