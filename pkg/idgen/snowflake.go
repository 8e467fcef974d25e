// Package idgen 生成流水号、计划号、违约单号等业务编号
//
// 编号由业务前缀、本地时间（精确到秒）和雪花 ID 低 8 位组成，例如 TXN2024011514305212345678。
// 雪花 ID 布局：41 位毫秒时间戳 | 10 位实例号 | 12 位序列号，实例号来自 server.worker_id，
// 多实例部署时必须互不相同。
package idgen

import (
	"fmt"
	"sync"
	"time"
)

const (
	epochMillis  = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerBits   = 10
	sequenceBits = 12

	maxWorker   = int64(1)<<workerBits - 1
	maxSequence = int64(1)<<sequenceBits - 1
)

// 业务编号前缀
const (
	PrefixTransaction = "TXN"
	PrefixEnrollment  = "THR"
	PrefixDefault     = "DEF"
	PrefixRun         = "RUN"
)

var ErrInvalidWorkerID = fmt.Errorf("workerID 必须在 0-%d 之间", maxWorker)

// Generator 单实例内线程安全
type Generator struct {
	mu       sync.Mutex
	worker   int64
	lastMs   int64
	sequence int64
	now      func() int64
}

func NewGenerator(workerID int64) (*Generator, error) {
	if workerID < 0 || workerID > maxWorker {
		return nil, ErrInvalidWorkerID
	}
	return &Generator{
		worker: workerID,
		now:    func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Next 返回下一个 ID。同一毫秒序列号用完时等到下一毫秒；时钟回拨时等待追上上次的时间。
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now()
	for ms < g.lastMs {
		ms = g.now()
	}

	if ms == g.lastMs {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			for ms <= g.lastMs {
				ms = g.now()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastMs = ms

	return (ms-epochMillis)<<(workerBits+sequenceBits) | g.worker<<sequenceBits | g.sequence
}

var (
	mu        sync.Mutex
	generator *Generator
)

// Init 设置进程级生成器的实例号，需在服务启动时调用一次
func Init(workerID int64) error {
	g, err := NewGenerator(workerID)
	if err != nil {
		return err
	}
	mu.Lock()
	generator = g
	mu.Unlock()
	return nil
}

func current() *Generator {
	mu.Lock()
	defer mu.Unlock()
	if generator == nil {
		// 测试及未初始化的场景使用实例号 1
		generator, _ = NewGenerator(1)
	}
	return generator
}

// NextID 进程级生成器的下一个 ID
func NextID() int64 {
	return current().Next()
}

// Format 把 ID 格式化为业务编号
func Format(prefix string, id int64, at time.Time) string {
	return fmt.Sprintf("%s%s%08d", prefix, at.Format("20060102150405"), id%100000000)
}

func next(prefix string) string {
	return Format(prefix, NextID(), time.Now())
}

func GenerateTransactionNo() string { return next(PrefixTransaction) }

func GenerateEnrollmentNo() string { return next(PrefixEnrollment) }

func GenerateDefaultNo() string { return next(PrefixDefault) }

// GenerateRunNo 批处理运行号，同时用作运行锁的持有者标识
func GenerateRunNo() string { return next(PrefixRun) }
