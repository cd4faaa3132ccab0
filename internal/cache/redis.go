// Package cache はRedisを利用した問題メタデータのキャッシュと分散ロックを提供する。
package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Connect はREDIS_URL形式のURLからクライアントを生成し、疎通を確認する。
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URL の解析に失敗しました: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("Redisへの接続に失敗しました: %w", err)
	}
	return rdb, nil
}
