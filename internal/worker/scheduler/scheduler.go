// Package scheduler は自動同期が有効なプロフィールの日次バッチ同期を提供する。
// 同一プロセス内でバッチが重複しないよう実行中フラグで排他し、
// Redisが設定されている場合はプロセス間でもロックで排他する。
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hitoshi/leetsync/internal/database"
	"github.com/hitoshi/leetsync/internal/metrics"
	"github.com/hitoshi/leetsync/internal/model"
	"github.com/hitoshi/leetsync/internal/worker/daily"
	"github.com/hitoshi/leetsync/internal/worker/syncer"
)

// ErrAlreadyRunning はバッチが既に実行中であることを示す。
var ErrAlreadyRunning = errors.New("バッチ同期は既に実行中です")

const lockKey = "leetsync:lock:batch-sync"

// ProfileStore はバッチ同期で利用するプロフィールの永続化インターフェース。
type ProfileStore interface {
	ListDueForAutoSync(ctx context.Context, cutoff time.Time) ([]*model.Profile, error)
	RecordSyncResult(ctx context.Context, id string, status model.SyncStatus, errMsg string, at time.Time) error
}

// UserSyncer はユーザー単位の同期を実行するインターフェース。
type UserSyncer interface {
	SyncUserSolutions(ctx context.Context, username, authUserID string) (syncer.SyncResult, error)
	RefreshProfile(ctx context.Context, username, authUserID string) error
}

// Locker はプロセス間の排他ロック。
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error)
}

// Config はバッチ同期の動作設定。
type Config struct {
	DailyAt      daily.TimeOfDay
	ProfileDelay time.Duration // プロフィール間の待機時間
	StaleAfter   time.Duration // 最終同期からこの時間を過ぎたプロフィールを対象にする
	LockTTL      time.Duration // 分散ロックの有効期限。保持中はLocker側で延長される
	PingAttempts int
	PingBackoff  time.Duration
}

// DefaultConfig は既定のバッチ設定を返す。
func DefaultConfig() Config {
	return Config{
		DailyAt:      daily.TimeOfDay{Hour: 2},
		ProfileDelay: 5 * time.Second,
		StaleAfter:   23 * time.Hour,
		LockTTL:      2 * time.Hour,
		PingAttempts: 3,
		PingBackoff:  time.Second,
	}
}

// ProfileOutcome はプロフィール1件の同期結果。
type ProfileOutcome struct {
	Username   string             `json:"username"`
	AuthUserID string             `json:"authUserId"`
	Status     model.SyncStatus   `json:"status"`
	Result     *syncer.SyncResult `json:"result,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// BatchReport はバッチ同期の実行結果。
type BatchReport struct {
	StartedAt time.Time        `json:"startedAt"`
	Duration  time.Duration    `json:"duration"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Profiles  []ProfileOutcome `json:"profiles"`
}

// Scheduler は日次バッチ同期を実行する。
type Scheduler struct {
	db       database.Pinger
	profiles ProfileStore
	syncer   UserSyncer
	locker   Locker
	cfg      Config
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	running  atomic.Bool
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// New はSchedulerを生成する。lockerとmcはnilでもよい。
func New(db database.Pinger, profiles ProfileStore, s UserSyncer, locker Locker, mc metrics.MetricsCollector, logger *slog.Logger, cfg Config) *Scheduler {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Scheduler{
		db:       db,
		profiles: profiles,
		syncer:   s,
		locker:   locker,
		cfg:      cfg,
		metrics:  mc,
		logger:   logger.With("component", "batch_sync"),
		sleep:    sleepContext,
		now:      time.Now,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Running はバッチが実行中かを返す。
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Start は毎日cfg.DailyAtにバッチ同期を実行する。コンテキストがキャンセルされるまでブロックする。
func (s *Scheduler) Start(ctx context.Context) {
	daily.Run(ctx, s.cfg.DailyAt, func(ctx context.Context) error {
		_, err := s.RunBatch(ctx)
		if errors.Is(err, ErrAlreadyRunning) {
			return nil
		}
		return err
	}, s.logger, daily.Options{Name: "batch_sync"})
}

// RunBatch は同期対象のプロフィールを順に同期する。
// 既に実行中の場合はデータベースに触れずに ErrAlreadyRunning を返す。
// プロフィール単位の失敗はそのプロフィールに記録し、残りの処理を継続する。
func (s *Scheduler) RunBatch(ctx context.Context) (BatchReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info("バッチ同期が実行中のためスキップします")
		s.metrics.RecordBatchRun("skipped", 0, 0)
		return BatchReport{}, ErrAlreadyRunning
	}
	defer s.running.Store(false)

	report := BatchReport{StartedAt: s.now().UTC(), Profiles: []ProfileOutcome{}}

	if err := database.EnsureConnected(ctx, s.db, s.cfg.PingAttempts, s.cfg.PingBackoff); err != nil {
		s.logger.Error("データベースに接続できないためバッチ同期を中止します", slog.String("error", err.Error()))
		s.metrics.RecordBatchRun("failed", 0, 0)
		return report, fmt.Errorf("バッチ同期を開始できません: %w", err)
	}

	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx, lockKey, s.cfg.LockTTL)
		switch {
		case err != nil:
			// 分散ロックが使えない場合はプロセス内のガードのみで続行する
			s.logger.Warn("バッチ同期のロックを取得できないためロックなしで続行します",
				slog.String("error", err.Error()),
			)
		case !ok:
			s.logger.Info("別のワーカーがバッチ同期を実行中のためスキップします")
			s.metrics.RecordBatchRun("skipped", 0, 0)
			return report, ErrAlreadyRunning
		default:
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					s.logger.Warn("バッチ同期のロック解放に失敗しました", slog.String("error", err.Error()))
				}
			}()
		}
	}

	cutoff := s.now().Add(-s.cfg.StaleAfter)
	profiles, err := s.profiles.ListDueForAutoSync(ctx, cutoff)
	if err != nil {
		s.metrics.RecordBatchRun("failed", 0, 0)
		return report, fmt.Errorf("同期対象プロフィールの取得に失敗しました: %w", err)
	}
	s.logger.Info("バッチ同期を開始します",
		slog.Int("profiles", len(profiles)),
		slog.Time("cutoff", cutoff),
	)

	for i, p := range profiles {
		if i > 0 {
			if err := s.sleep(ctx, s.cfg.ProfileDelay); err != nil {
				return s.finish(report, err)
			}
		}
		report.Profiles = append(report.Profiles, s.syncProfile(ctx, p))
		if report.Profiles[len(report.Profiles)-1].Status == model.SyncStatusSuccess {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}

	return s.finish(report, nil)
}

func (s *Scheduler) syncProfile(ctx context.Context, p *model.Profile) ProfileOutcome {
	log := s.logger.With(
		slog.String("username", p.Username),
		slog.String("auth_user_id", p.AuthUserID),
	)
	out := ProfileOutcome{Username: p.Username, AuthUserID: p.AuthUserID}

	res, err := s.syncer.SyncUserSolutions(ctx, p.Username, p.AuthUserID)
	if err != nil {
		out.Status = model.SyncStatusFailed
		out.Error = err.Error()
		log.Warn("プロフィールの同期に失敗しました", slog.String("error", err.Error()))
	} else {
		out.Status = model.SyncStatusSuccess
		out.Result = &res
		if err := s.syncer.RefreshProfile(ctx, p.Username, p.AuthUserID); err != nil {
			log.Warn("プロフィール統計の更新に失敗しました", slog.String("error", err.Error()))
		}
	}

	if err := s.profiles.RecordSyncResult(context.WithoutCancel(ctx), p.ID, out.Status, out.Error, s.now().UTC()); err != nil {
		log.Error("同期結果の記録に失敗しました", slog.String("error", err.Error()))
	}
	return out
}

func (s *Scheduler) finish(report BatchReport, err error) (BatchReport, error) {
	report.Duration = s.now().Sub(report.StartedAt)
	processed := report.Succeeded + report.Failed
	if err != nil {
		s.metrics.RecordBatchRun("canceled", processed, report.Duration)
		s.logger.Warn("バッチ同期を中断しました",
			slog.Int("processed", processed),
			slog.String("error", err.Error()),
		)
		return report, fmt.Errorf("バッチ同期が中断されました: %w", err)
	}

	s.metrics.RecordBatchRun("success", processed, report.Duration)
	s.logger.Info("バッチ同期が完了しました",
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Float64("duration_ms", float64(report.Duration.Milliseconds())),
	)
	return report, nil
}
