package job

import (
	"context"
	"time"

	"thriftledger/internal/config"
	"thriftledger/internal/repository"
	"thriftledger/internal/service"
	"thriftledger/pkg/logger"

	"gorm.io/gorm"
)

// SettlementSweepJob 结清补偿任务
//
// 正常情况下入账后会立即触发结清。入账已提交但结清失败（进程退出、数据库抖动）时，
// 违约会一直挂着直到下一次入账，这里定期扫描有待结清违约的用户补跑一轮。
type SettlementSweepJob struct {
	defaultRepo *repository.DefaultRepository
	settlement  *service.SettlementService
	stopCh      chan struct{}
	interval    time.Duration
	batchSize   int
}

func NewSettlementSweepJob(db *gorm.DB, cfg *config.Config, settlement *service.SettlementService) *SettlementSweepJob {
	batchSize := cfg.Business.BatchSize
	if batchSize <= 0 {
		batchSize = 200
	}
	return &SettlementSweepJob{
		defaultRepo: repository.NewDefaultRepository(db),
		settlement:  settlement,
		stopCh:      make(chan struct{}),
		interval:    cfg.Business.SweepInterval(),
		batchSize:   batchSize,
	}
}

func (j *SettlementSweepJob) Start(ctx context.Context) {
	logger.Info("[SettlementSweepJob] 结清补偿任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[SettlementSweepJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			logger.Info("[SettlementSweepJob] 任务停止")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *SettlementSweepJob) Stop() {
	close(j.stopCh)
}

// sweep 返回本轮结清的违约条数
func (j *SettlementSweepJob) sweep(ctx context.Context) int {
	settled := 0
	var afterUserID int64
	for {
		userIDs, err := j.defaultRepo.ListUserIDsWithPending(ctx, afterUserID, j.batchSize)
		if err != nil {
			logger.Errorf("[SettlementSweepJob] 查询待结清用户失败: %v", err)
			return settled
		}
		if len(userIDs) == 0 {
			break
		}

		for _, userID := range userIDs {
			afterUserID = userID
			if ctx.Err() != nil {
				return settled
			}

			result, err := j.settlement.Reconcile(ctx, userID)
			if err != nil {
				logger.Errorf("[SettlementSweepJob] 结清失败: userID=%d, err=%v", userID, err)
				continue
			}
			if len(result.Settled) > 0 {
				settled += len(result.Settled)
				logger.Infof("[SettlementSweepJob] 补偿结清: userID=%d, settled=%d, amount=%d, remaining=%d",
					userID, len(result.Settled), result.TotalSettled, result.Remaining)
			}
		}
	}

	if settled > 0 {
		logger.Infof("[SettlementSweepJob] 本轮共结清 %d 条违约", settled)
	}
	return settled
}
