package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/leetsync/internal/leetcode"
)

const problemKeyPrefix = "leetsync:problem:"

// DefaultProblemTTL は問題メタデータの既定の保持期間。
const DefaultProblemTTL = 7 * 24 * time.Hour

// ProblemCache は問題メタデータをtitleSlug単位でRedisに保持する。
type ProblemCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewProblemCache はProblemCacheを生成する。ttlが0以下の場合は既定値を使う。
func NewProblemCache(rdb redis.Cmdable, ttl time.Duration) *ProblemCache {
	if ttl <= 0 {
		ttl = DefaultProblemTTL
	}
	return &ProblemCache{rdb: rdb, ttl: ttl}
}

// Get はキャッシュされた問題を返す。未キャッシュの場合は ok=false。
func (c *ProblemCache) Get(ctx context.Context, slug string) (*leetcode.Question, bool, error) {
	raw, err := c.rdb.Get(ctx, problemKeyPrefix+slug).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("問題キャッシュの取得に失敗しました: %w", err)
	}

	var q leetcode.Question
	if err := json.Unmarshal(raw, &q); err != nil {
		// 壊れたエントリは未キャッシュとして扱う
		return nil, false, nil
	}
	return &q, true, nil
}

// Set は問題をキャッシュする。
func (c *ProblemCache) Set(ctx context.Context, slug string, q *leetcode.Question) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("問題のエンコードに失敗しました: %w", err)
	}
	if err := c.rdb.Set(ctx, problemKeyPrefix+slug, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("問題キャッシュの保存に失敗しました: %w", err)
	}
	return nil
}

// QuestionFetcher は問題詳細を取得するインターフェース。
type QuestionFetcher interface {
	QuestionDetail(ctx context.Context, titleSlug string) (*leetcode.Question, error)
}

// QuestionStore は問題メタデータの保存先。
type QuestionStore interface {
	Get(ctx context.Context, slug string) (*leetcode.Question, bool, error)
	Set(ctx context.Context, slug string, q *leetcode.Question) error
}

// CachedQuestions はQuestionFetcherの前段にキャッシュを置く。
// キャッシュの障害はログに記録して上流の取得へ進む。
type CachedQuestions struct {
	next   QuestionFetcher
	store  QuestionStore
	logger *slog.Logger
}

// NewCachedQuestions はCachedQuestionsを生成する。
func NewCachedQuestions(next QuestionFetcher, store QuestionStore, logger *slog.Logger) *CachedQuestions {
	return &CachedQuestions{next: next, store: store, logger: logger.With("component", "problem_cache")}
}

// QuestionDetail はキャッシュにあればそれを返し、なければ上流から取得してキャッシュする。
// 上流が問題を返さなかった場合はキャッシュしない。
func (c *CachedQuestions) QuestionDetail(ctx context.Context, titleSlug string) (*leetcode.Question, error) {
	q, ok, err := c.store.Get(ctx, titleSlug)
	if err != nil {
		c.logger.Warn("問題キャッシュを参照できませんでした",
			slog.String("slug", titleSlug),
			slog.String("error", err.Error()),
		)
	}
	if ok {
		return q, nil
	}

	q, err = c.next.QuestionDetail(ctx, titleSlug)
	if err != nil || q == nil {
		return q, err
	}

	if err := c.store.Set(ctx, titleSlug, q); err != nil {
		c.logger.Warn("問題キャッシュへの保存に失敗しました",
			slog.String("slug", titleSlug),
			slog.String("error", err.Error()),
		)
	}
	return q, nil
}
