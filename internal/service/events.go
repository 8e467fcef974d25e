package service

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"thriftledger/internal/model"
	"thriftledger/internal/repository"

	"gorm.io/gorm"
)

// eventWriter 在业务事务内写入发件箱
type eventWriter struct {
	outboxRepo *repository.OutboxRepository
}

func newEventWriter(db *gorm.DB) *eventWriter {
	return &eventWriter{outboxRepo: repository.NewOutboxRepository(db)}
}

func (w *eventWriter) write(ctx context.Context, tx *gorm.DB, topic, eventType, aggregateNo string, userID int64, data map[string]interface{}) error {
	payload := map[string]interface{}{
		"event_type":   eventType,
		"aggregate_no": aggregateNo,
		"user_id":      userID,
		"occurred_at":  time.Now().Format(time.RFC3339),
	}
	for k, v := range data {
		payload[k] = v
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return w.outboxRepo.Create(ctx, tx, &model.OutboxMessage{
		EventType:   eventType,
		AggregateNo: aggregateNo,
		MessageKey:  strconv.FormatInt(userID, 10),
		Topic:       topic,
		Payload:     string(payloadBytes),
		Status:      model.OutboxStatusPending,
	})
}
