package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"verifyflow/storage/redis"
)

// 跨实例的分布式锁，定时任务在多副本部署时只允许一个实例执行
const lockPrefix = "lock"

// 只有持有者才能释放
var unlockScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Lock 已获取的锁
type Lock struct {
	client goredis.UniversalClient
	key    string
	token  string
}

// TryLock 通过 SetNX 抢锁，未抢到时返回 nil, nil
func TryLock(ctx context.Context, client goredis.UniversalClient, key string, ttl time.Duration) (*Lock, error) {
	fullKey := redis.Key(lockPrefix, key)
	token := uuid.NewString()

	ok, err := client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Lock{client: client, key: fullKey, token: token}, nil
}

// Unlock 释放锁；锁已过期被他人持有时什么也不做
func (l *Lock) Unlock(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
