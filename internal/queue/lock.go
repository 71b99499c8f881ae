package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript 仅持有者可释放
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// OrderLock 按订单的短时建议锁。并发修改同一订单时后到者直接失败，
// 网关幂等键仍然兜底，锁只是收窄竞态窗口。
type OrderLock struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewOrderLock(rdb *redis.Client, prefix string, ttl time.Duration) *OrderLock {
	if prefix == "" {
		prefix = "orderlock:"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &OrderLock{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Acquire 尝试获取锁，返回释放函数。锁被占用时 ok=false。
func (l *OrderLock) Acquire(ctx context.Context, orderID string) (release func(), ok bool, err error) {
	key := l.prefix + orderID
	token := uuid.NewString()

	set, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire order lock: %w", err)
	}
	if !set {
		return nil, false, nil
	}

	release = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
	}
	return release, true, nil
}
