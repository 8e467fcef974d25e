package job

import (
	"context"
	"time"

	"thriftledger/internal/config"
	"thriftledger/internal/service"
	"thriftledger/pkg/logger"
)

// PendingCreditExpiryJob 银行卡充值发起后迟迟没有回调的待确认入账，超时置为失败
type PendingCreditExpiryJob struct {
	ledger    *service.LedgerService
	cfg       *config.Config
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewPendingCreditExpiryJob(ledger *service.LedgerService, cfg *config.Config) *PendingCreditExpiryJob {
	return &PendingCreditExpiryJob{
		ledger:    ledger,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		interval:  time.Minute,
		batchSize: 100,
	}
}

func (j *PendingCreditExpiryJob) Start(ctx context.Context) {
	logger.Info("[PendingCreditExpiryJob] 待确认入账超时任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[PendingCreditExpiryJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			logger.Info("[PendingCreditExpiryJob] 任务停止")
			return
		case <-ticker.C:
			j.expireStale(ctx)
		}
	}
}

func (j *PendingCreditExpiryJob) Stop() {
	close(j.stopCh)
}

func (j *PendingCreditExpiryJob) expireStale(ctx context.Context) int {
	before := time.Now().Add(-j.cfg.Business.PendingCreditTimeout())
	expired, err := j.ledger.ExpireStalePending(ctx, before, j.batchSize)
	if err != nil {
		logger.Errorf("[PendingCreditExpiryJob] 查询超时待入账失败: %v", err)
		return 0
	}
	if expired > 0 {
		logger.Infof("[PendingCreditExpiryJob] 本次置失败 %d 笔超时待入账", expired)
	}
	return expired
}
