package app

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/leetsync/internal/cache"
	"github.com/hitoshi/leetsync/internal/config"
	"github.com/hitoshi/leetsync/internal/credential"
	"github.com/hitoshi/leetsync/internal/leetcode"
	"github.com/hitoshi/leetsync/internal/metrics"
	"github.com/hitoshi/leetsync/internal/repository"
	"github.com/hitoshi/leetsync/internal/solution"
	"github.com/hitoshi/leetsync/internal/tracking"
	"github.com/hitoshi/leetsync/internal/worker/scheduler"
	"github.com/hitoshi/leetsync/internal/worker/syncer"
)

// components はserveとworkerで共有する依存関係。
type components struct {
	registry     *prometheus.Registry
	metrics      *metrics.Collector
	redis        *redis.Client
	trackedUsers *repository.PostgresTrackedUserRepo
	profiles     *repository.PostgresProfileRepo
	solutions    *repository.PostgresSolutionRepo

	tracking    *tracking.Service
	solutionSvc *solution.Service
	syncer      *syncer.Orchestrator
	scheduler   *scheduler.Scheduler
}

// buildComponents は設定に従って全依存関係をワイヤリングする。
// REDIS_URLが未設定、またはRedisに接続できない場合は問題キャッシュと分散ロックを使わない。
func buildComponents(ctx context.Context, cfg *config.Config, db *sql.DB, logger *slog.Logger) *components {
	c := &components{registry: prometheus.NewRegistry()}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.metrics = metrics.NewCollector(c.registry)

	// 1. リポジトリの初期化
	c.trackedUsers = repository.NewPostgresTrackedUserRepo(db)
	c.profiles = repository.NewPostgresProfileRepo(db)
	c.solutions = repository.NewPostgresSolutionRepo(db)

	// 2. 上流クライアントの初期化
	lc := leetcode.NewClient(leetcode.Config{
		Endpoint:     cfg.LeetCodeGraphQLURL,
		Timeout:      cfg.LeetCodeTimeout,
		MaxRetries:   cfg.LeetCodeMaxRetries,
		MaxRetryWait: cfg.LeetCodeMaxRetryWait,
		RatePerSec:   cfg.LeetCodeRatePerSec,
	}, logger, c.metrics)

	// 3. Redis（任意）
	var questions syncer.QuestionFetcher = lc
	var locker scheduler.Locker
	if cfg.RedisURL != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("Redisに接続できないため問題キャッシュと分散ロックを無効にします",
				slog.String("error", err.Error()),
			)
		} else {
			c.redis = rdb
			questions = cache.NewCachedQuestions(lc, cache.NewProblemCache(rdb, cfg.ProblemCacheTTL), logger)
			locker = cache.NewLocker(rdb)
			logger.Info("redis connection established")
		}
	}

	// 4. 認証情報の解決と解答キャッシュ
	resolver := credential.NewResolver(logger,
		credential.NewTrackedOverrideProvider(c.trackedUsers),
		credential.NewStaticProvider(cfg.LeetCodeSession, cfg.LeetCodeCSRFToken),
	)
	solutionCache := solution.NewCache(c.solutions, lc, resolver, c.metrics, logger)
	c.solutionSvc = solution.NewService(solutionCache, c.solutions)

	// 5. 同期
	c.syncer = syncer.NewOrchestrator(syncer.Deps{
		Submissions: lc,
		Questions:   questions,
		Profiles:    lc,
		Store:       c.solutions,
		Codes:       solutionCache,
		Stats:       c.profiles,
		Metrics:     c.metrics,
		Logger:      logger,
	}, syncer.Config{
		SubmissionLimit: cfg.SyncSubmissionLimit,
		ItemDelay:       cfg.SyncItemDelay,
		ProblemDelay:    cfg.SyncProblemDelay,
	})

	schedCfg := scheduler.DefaultConfig()
	schedCfg.DailyAt = cfg.SyncTime()
	schedCfg.ProfileDelay = cfg.SyncProfileDelay
	schedCfg.StaleAfter = cfg.SyncStaleAfter
	c.scheduler = scheduler.New(db, c.profiles, c.syncer, locker, c.metrics, logger, schedCfg)

	// 6. 追跡関係
	c.tracking = tracking.NewService(c.trackedUsers, lc)

	return c
}

// Close はcomponentsが保持する外部接続を閉じる。
func (c *components) Close() {
	if c.redis != nil {
		_ = c.redis.Close()
	}
}
