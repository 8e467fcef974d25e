package job

import (
	"context"
	"errors"
	"time"

	"thriftledger/internal/config"
	"thriftledger/internal/infrastructure/lock"
	"thriftledger/internal/service"
	"thriftledger/pkg/dateutil"
	"thriftledger/pkg/idgen"
	"thriftledger/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
)

const contributionJobName = "contribution"

// ErrRunInProgress 同一业务日期已有实例在跑批
var ErrRunInProgress = errors.New("该日期的日供批处理正在其他实例执行")

// RunLocker 批处理运行锁
type RunLocker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// LockFactory 按任务名、业务日期创建运行锁，owner 用于标识持有者
type LockFactory func(job, date, owner string) RunLocker

// RedisLockFactory 基于 Redis SETNX 的运行锁
//
// 锁持有到业务日期结束（业务时区次日零点），不足 minTTL 时取 minTTL，补跑历史日期时同样适用。
func RedisLockFactory(client *redis.Client, loc *time.Location, minTTL time.Duration) LockFactory {
	return func(job, date, owner string) RunLocker {
		return lock.NewRunLock(client, job, date, owner, runLockTTL(date, loc, time.Now(), minTTL))
	}
}

func runLockTTL(date string, loc *time.Location, now time.Time, minTTL time.Duration) time.Duration {
	end, err := dateutil.EndOf(date, loc)
	if err != nil {
		return minTTL
	}
	if ttl := end.Sub(now); ttl > minTTL {
		return ttl
	}
	return minTTL
}

// DailyContributionJob 按 cron 表达式在业务时区每天触发一次日供扣款
type DailyContributionJob struct {
	contribution *service.ContributionService
	cfg          *config.Config
	lockFactory  LockFactory
	stopCh       chan struct{}
}

func NewDailyContributionJob(contribution *service.ContributionService, cfg *config.Config, lockFactory LockFactory) *DailyContributionJob {
	return &DailyContributionJob{
		contribution: contribution,
		cfg:          cfg,
		lockFactory:  lockFactory,
		stopCh:       make(chan struct{}),
	}
}

func (j *DailyContributionJob) Start(ctx context.Context) {
	loc := j.cfg.Business.Location()
	c := cron.New(cron.WithLocation(loc))

	_, err := c.AddFunc(j.cfg.Business.ContributionCron, func() {
		date := dateutil.Today(loc)
		if _, err := j.RunOnce(ctx, date); err != nil {
			if errors.Is(err, ErrRunInProgress) {
				logger.Infof("[DailyContributionJob] %s 已由其他实例执行，跳过", date)
				return
			}
			logger.Errorf("[DailyContributionJob] 日供扣款失败: date=%s, err=%v", date, err)
		}
	})
	if err != nil {
		logger.Errorf("[DailyContributionJob] cron 表达式无效: %s, err=%v", j.cfg.Business.ContributionCron, err)
		return
	}

	logger.Infof("[DailyContributionJob] 日供扣款任务启动: cron=%s, timezone=%s", j.cfg.Business.ContributionCron, loc)
	c.Start()

	select {
	case <-ctx.Done():
		logger.Info("[DailyContributionJob] 收到停止信号，任务退出")
	case <-j.stopCh:
		logger.Info("[DailyContributionJob] 任务停止")
	}

	// 等待正在执行的批处理结束
	<-c.Stop().Done()
}

func (j *DailyContributionJob) Stop() {
	close(j.stopCh)
}

// RunOnce 执行一次指定日期的批处理
//
// 跑批成功后不释放运行锁，同一日期的后续调度直接返回 ErrRunInProgress；失败时释放，允许重试。
// Redis 不可用时仍然执行：锁只用于避免多实例重复跑批，每个计划的行锁和 last_processed_date 校验保证不会重复扣款。
func (j *DailyContributionJob) RunOnce(ctx context.Context, date string) (*service.DailyRunResult, error) {
	var runLock RunLocker
	if j.lockFactory != nil {
		l := j.lockFactory(contributionJobName, date, idgen.GenerateRunNo())
		ok, err := l.TryLock(ctx)
		switch {
		case err != nil:
			logger.Warnf("[DailyContributionJob] 获取运行锁失败，继续执行: date=%s, err=%v", date, err)
		case !ok:
			return nil, ErrRunInProgress
		default:
			runLock = l
		}
	}

	result, err := j.contribution.ProcessDate(ctx, date)
	if err != nil {
		if runLock != nil {
			if unlockErr := runLock.Unlock(context.Background()); unlockErr != nil {
				logger.Warnf("[DailyContributionJob] 释放运行锁失败: date=%s, err=%v", date, unlockErr)
			}
		}
		return result, err
	}

	for _, f := range result.Failures {
		if f.Fatal {
			logger.WithFields(logger.Fields{
				"run_no":        result.RunNo,
				"date":          date,
				"enrollment_no": f.EnrollmentNo,
			}).Error("[DailyContributionJob] 批处理中出现调度异常，需要人工排查")
		}
	}
	return result, nil
}
