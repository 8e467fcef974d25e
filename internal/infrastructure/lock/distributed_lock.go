// Package lock 基于 Redis 的批处理运行锁
//
// 同一任务、同一业务日期只允许一个实例持有 thrift:<job>:lock:<date>。
// 锁只保证少跑，正确性由计划行锁和 next_contribution_date 复查保证，锁过期后两台同时跑也不会重复扣款。
// 加锁为 SET NX EX，value 是持有者的运行号；释放用 Lua 脚本比较 value 后再删除，避免删掉别人的锁。
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

var ErrLockNotHeld = errors.New("锁已过期或被他人持有")

var unlockScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock 单次尝试的互斥锁，不续期
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // 持有者标识
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Unlock 释放锁。锁已过期并被其他实例拿到时返回 ErrLockNotHeld，不会误删
func (l *DistributedLock) Unlock(ctx context.Context) error {
	n, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.value).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// RunLockKey 批处理锁 key，按任务名 + 业务日期区分
func RunLockKey(job, date string) string {
	return fmt.Sprintf("thrift:%s:lock:%s", job, date)
}

// NewRunLock 创建批处理运行锁，value 使用本次运行号便于追踪持有者
func NewRunLock(client *redis.Client, job, date, runNo string, expiration time.Duration) *DistributedLock {
	return NewDistributedLock(client, RunLockKey(job, date), runNo, expiration)
}
