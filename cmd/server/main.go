package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"thriftledger/internal/config"
	"thriftledger/internal/handler"
	"thriftledger/internal/infrastructure/cache"
	"thriftledger/internal/infrastructure/database"
	"thriftledger/internal/infrastructure/mq"
	"thriftledger/internal/job"
	"thriftledger/internal/service"
	"thriftledger/pkg/idgen"
	"thriftledger/pkg/logger"
)

// 日供批处理运行锁的最短过期时间，需覆盖一次跑批的最长耗时；通常锁会持有到业务日期结束
const contributionLockTTL = 2 * time.Hour

func main() {
	// 加载配置
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		logger.Fatalf("加载配置失败: %v", err)
	}
	logger.SetLevel(cfg.Server.LogLevel)

	// 初始化 ID 生成器
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		logger.Fatalf("初始化 ID 生成器失败: %v", err)
	}

	// 初始化 MySQL
	db := database.InitMySQL(&cfg.MySQL)

	// 初始化 Redis
	redisClient := cache.InitRedis(&cfg.Redis)
	defer redisClient.Close()

	// 初始化 Kafka
	publisher := mq.InitKafka(&cfg.Kafka)
	defer publisher.Close()

	svcs := service.NewServices(db, cfg)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	outboxSender := job.NewOutboxSender(db, cfg, publisher)
	go outboxSender.Start(ctx)

	contributionJob := job.NewDailyContributionJob(svcs.Contribution, cfg, job.RedisLockFactory(redisClient, cfg.Business.Location(), contributionLockTTL))
	go contributionJob.Start(ctx)

	sweepJob := job.NewSettlementSweepJob(db, cfg, svcs.Settlement)
	go sweepJob.Start(ctx)

	expiryJob := job.NewPendingCreditExpiryJob(svcs.Ledger, cfg)
	go expiryJob.Start(ctx)

	// 设置路由
	router := handler.SetupRouter(svcs, cfg)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// 在 goroutine 中启动服务器
	go func() {
		logger.Infof("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("服务关闭异常: %v", err)
	}

	logger.Info("服务已关闭")
}
