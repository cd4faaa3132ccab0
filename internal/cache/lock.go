package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript は自分が保持しているロックのみを解放する。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript は自分が保持しているロックの有効期限のみを延長する。
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Locker はSET NXによるプロセス間の排他ロック。
// 保持中はttlの1/3ごとに有効期限を延長するため、処理がttlより長くかかっても失効しない。
type Locker struct {
	rdb *redis.Client
}

// NewLocker はLockerを生成する。
func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

// Acquire はkeyのロックを取得する。
// 他のプロセスが保持している場合は ok=false を返す。
// 返されたreleaseは延長を止めて取得したロックのみを解放し、複数回呼んでも安全。
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error) {
	token := uuid.NewString()
	ok, err = l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("ロックの取得に失敗しました: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, token, ttl, stop, done)

	var once sync.Once
	release = func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			<-done
		})
		if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("ロックの解放に失敗しました: %w", err)
		}
		return nil
	}
	return release, true, nil
}

// keepAlive はstopが閉じられるか、ロックを失うまで有効期限を延長し続ける。
func (l *Locker) keepAlive(key, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			held, err := refreshScript.Run(ctx, l.rdb, []string{key}, token, ttl.Milliseconds()).Int()
			cancel()
			// 一時的なエラーは次の周期で再試行する
			if err == nil && held == 0 {
				return
			}
		}
	}
}
