package job

import (
	"context"
	"time"

	"thriftledger/internal/config"
	"thriftledger/internal/infrastructure/metrics"
	"thriftledger/internal/infrastructure/mq"
	"thriftledger/internal/model"
	"thriftledger/internal/repository"
	"thriftledger/pkg/logger"

	"gorm.io/gorm"
)

// OutboxSender 把发件箱中的账本事件投递到 Kafka
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  mq.Publisher
	cfg        *config.Config
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, cfg *config.Config, publisher mq.Publisher) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		cfg:        cfg,
		stopCh:     make(chan struct{}),
		interval:   100 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	logger.Info("[OutboxSender] 消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[OutboxSender] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			logger.Info("[OutboxSender] 任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// processPendingMessages 返回本轮发送成功的条数
func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		logger.Errorf("[OutboxSender] 查询消息失败: %v", err)
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		metrics.OutboxPublished.WithLabelValues("sent").Inc()
		if updateErr := s.outboxRepo.MarkSent(ctx, msg.ID); updateErr != nil {
			logger.Errorf("[OutboxSender] 更新消息状态失败: id=%d, err=%v", msg.ID, updateErr)
		} else {
			logger.Debugf("[OutboxSender] 消息发送成功: id=%d, topic=%s, event=%s", msg.ID, msg.Topic, msg.EventType)
		}
		return true
	}

	metrics.OutboxPublished.WithLabelValues("error").Inc()
	logger.Warnf("[OutboxSender] 消息发送失败: id=%d, err=%v", msg.ID, err)

	failed, err := s.outboxRepo.RecordFailure(ctx, msg.ID, s.cfg.Business.MaxRetryCount)
	if err != nil {
		logger.Errorf("[OutboxSender] 记录重试次数失败: id=%d, err=%v", msg.ID, err)
		return false
	}
	if failed {
		metrics.OutboxPublished.WithLabelValues("failed").Inc()
		logger.Errorf("[OutboxSender] 消息超过最大重试次数，标记为失败: id=%d, event=%s, aggregate=%s",
			msg.ID, msg.EventType, msg.AggregateNo)
	}
	return false
}
