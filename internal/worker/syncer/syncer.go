// Package syncer はLeetCodeのAccepted提出を解答キャッシュへ同期する。
// 提出は上流が返した順に1件ずつ処理し、リクエスト間に待機を挟んでレート制限を避ける。
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/leetsync/internal/leetcode"
	"github.com/hitoshi/leetsync/internal/metrics"
	"github.com/hitoshi/leetsync/internal/model"
	"github.com/hitoshi/leetsync/internal/solution"
)

// SubmissionLister は最近のAccepted提出を取得するインターフェース。
type SubmissionLister interface {
	RecentAcceptedSubmissions(ctx context.Context, username string, limit int) ([]leetcode.RecentSubmission, error)
}

// QuestionFetcher は問題詳細を取得するインターフェース。
type QuestionFetcher interface {
	QuestionDetail(ctx context.Context, titleSlug string) (*leetcode.Question, error)
}

// ProfileFetcher はプロフィール統計を取得するインターフェース。
type ProfileFetcher interface {
	UserProfile(ctx context.Context, username string) (*leetcode.UserProfile, error)
}

// SolutionStore は同期で利用する解答の永続化インターフェース。
type SolutionStore interface {
	FindBySubmission(ctx context.Context, submissionID, authUserID string) (*model.Solution, error)
	Insert(ctx context.Context, s *model.Solution) (bool, error)
}

// CodeFetcher は解答コードを取得するインターフェース。
type CodeFetcher interface {
	FetchSolution(ctx context.Context, submissionID string, opts solution.FetchOptions) (solution.FetchResult, error)
}

// StatsStore はプロフィール統計の保存先。
type StatsStore interface {
	UpdateStats(ctx context.Context, authUserID, normalizedUsername string, stats model.ProfileStats) error
}

// Config は同期の動作設定。
type Config struct {
	SubmissionLimit int           // 1回の同期で取得する提出数
	ItemDelay       time.Duration // 提出間の待機時間
	ProblemDelay    time.Duration // 問題詳細の取得前の待機時間
}

// DefaultConfig は既定の同期設定を返す。
func DefaultConfig() Config {
	return Config{
		SubmissionLimit: 20,
		ItemDelay:       2 * time.Second,
		ProblemDelay:    500 * time.Millisecond,
	}
}

// SyncResult はユーザー単位の同期結果。
type SyncResult struct {
	SavedCount     int `json:"savedCount"`
	SkippedCount   int `json:"skippedCount"`
	TotalProcessed int `json:"totalProcessed"`
}

// Orchestrator はユーザー単位の同期を実行する。
type Orchestrator struct {
	submissions SubmissionLister
	questions   QuestionFetcher
	profiles    ProfileFetcher
	store       SolutionStore
	codes       CodeFetcher
	stats       StatsStore
	cfg         Config
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
}

// Deps はOrchestratorの依存関係。
type Deps struct {
	Submissions SubmissionLister
	Questions   QuestionFetcher
	Profiles    ProfileFetcher
	Store       SolutionStore
	Codes       CodeFetcher
	Stats       StatsStore
	Metrics     metrics.MetricsCollector
	Logger      *slog.Logger
}

// NewOrchestrator はOrchestratorを生成する。
// cfgのゼロ値のフィールドには既定値を使う。
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.SubmissionLimit <= 0 {
		cfg.SubmissionLimit = def.SubmissionLimit
	}
	if cfg.ItemDelay < 0 {
		cfg.ItemDelay = def.ItemDelay
	}
	if cfg.ProblemDelay < 0 {
		cfg.ProblemDelay = def.ProblemDelay
	}
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Orchestrator{
		submissions: deps.Submissions,
		questions:   deps.Questions,
		profiles:    deps.Profiles,
		store:       deps.Store,
		codes:       deps.Codes,
		stats:       deps.Stats,
		cfg:         cfg,
		metrics:     mc,
		logger:      deps.Logger.With("component", "syncer"),
		sleep:       sleepContext,
		now:         time.Now,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SyncUserSolutions はusernameの最近のAccepted提出をauthUserIDの解答キャッシュへ同期する。
// 提出一覧の取得に失敗した場合はエラーを返す。
// 提出ごとの失敗はスキップとして数え、残りの処理を継続する。
// コンテキストがキャンセルされた場合はそこまでの結果とエラーを返す。
func (o *Orchestrator) SyncUserSolutions(ctx context.Context, username, authUserID string) (SyncResult, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return SyncResult{}, model.NewValidationError("ユーザー名を指定してください")
	}

	start := o.now()
	log := o.logger.With(
		slog.String("username", username),
		slog.String("auth_user_id", authUserID),
	)

	subs, err := o.submissions.RecentAcceptedSubmissions(ctx, username, o.cfg.SubmissionLimit)
	if err != nil {
		o.metrics.RecordSyncRun("failed", 0, 0, o.now().Sub(start))
		log.Error("提出一覧の取得に失敗しました", slog.String("error", err.Error()))
		return SyncResult{}, fmt.Errorf("提出一覧の取得に失敗しました: %w", err)
	}
	log.Info("同期を開始します", slog.Int("submissions", len(subs)))

	var result SyncResult
	for i, sub := range subs {
		if i > 0 {
			if err := o.sleep(ctx, o.cfg.ItemDelay); err != nil {
				return o.finish(log, result, start, err)
			}
		}

		saved, err := o.processSubmission(ctx, sub, username, authUserID)
		result.TotalProcessed++
		switch {
		case err != nil:
			result.SkippedCount++
			log.Warn("提出の処理に失敗しました",
				slog.String("submission_id", sub.ID),
				slog.String("error", err.Error()),
			)
		case saved:
			result.SavedCount++
		default:
			result.SkippedCount++
		}

		if ctx.Err() != nil {
			return o.finish(log, result, start, ctx.Err())
		}
	}

	return o.finish(log, result, start, nil)
}

func (o *Orchestrator) finish(log *slog.Logger, result SyncResult, start time.Time, err error) (SyncResult, error) {
	duration := o.now().Sub(start)
	if err != nil {
		o.metrics.RecordSyncRun("canceled", result.SavedCount, result.SkippedCount, duration)
		log.Warn("同期を中断しました",
			slog.Int("saved", result.SavedCount),
			slog.Int("skipped", result.SkippedCount),
			slog.String("error", err.Error()),
		)
		return result, fmt.Errorf("同期が中断されました: %w", err)
	}

	o.metrics.RecordSyncRun("success", result.SavedCount, result.SkippedCount, duration)
	log.Info("同期が完了しました",
		slog.Int("saved", result.SavedCount),
		slog.Int("skipped", result.SkippedCount),
		slog.Int("total", result.TotalProcessed),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return result, nil
}

// processSubmission は提出1件を処理する。新しい行を保存した場合にtrueを返す。
func (o *Orchestrator) processSubmission(ctx context.Context, sub leetcode.RecentSubmission, username, authUserID string) (bool, error) {
	log := o.logger.With(slog.String("submission_id", sub.ID))
	opts := solution.FetchOptions{Username: username, AuthUserID: authUserID}

	existing, err := o.store.FindBySubmission(ctx, sub.ID, authUserID)
	if err != nil {
		return false, fmt.Errorf("既存の解答の確認に失敗しました: %w", err)
	}
	if existing != nil {
		if !existing.HasCode() {
			o.backfill(ctx, log, sub.ID, opts)
		}
		return false, nil
	}

	if err := o.sleep(ctx, o.cfg.ProblemDelay); err != nil {
		return false, err
	}
	q, err := o.questions.QuestionDetail(ctx, sub.TitleSlug)
	if err != nil {
		return false, fmt.Errorf("問題詳細の取得に失敗しました: %w", err)
	}

	s := o.newSolution(sub, username, authUserID, q)
	inserted, err := o.store.Insert(ctx, s)
	if err != nil {
		return false, fmt.Errorf("解答の保存に失敗しました: %w", err)
	}
	if !inserted {
		// 並行する同期が先に保存した
		log.Info("解答は既に保存されています")
		return false, nil
	}

	o.backfill(ctx, log, sub.ID, opts)
	return true, nil
}

// backfill は解答コードの取得を試みる。失敗はログに記録するのみ。
func (o *Orchestrator) backfill(ctx context.Context, log *slog.Logger, submissionID string, opts solution.FetchOptions) {
	res, err := o.codes.FetchSolution(ctx, submissionID, opts)
	if err != nil {
		log.Warn("解答コードの取得に失敗しました", slog.String("error", err.Error()))
		return
	}
	if !res.Success {
		log.Info("解答コードは取得できませんでした",
			slog.String("reason", string(res.Reason)),
			slog.String("message", res.Message),
		)
	}
}

func (o *Orchestrator) newSolution(sub leetcode.RecentSubmission, username, authUserID string, q *leetcode.Question) *model.Solution {
	now := o.now().UTC()
	ts := sub.TimestampUnix()
	submittedAt := time.Unix(ts, 0).UTC()
	if ts == 0 {
		ts = now.Unix()
		submittedAt = now
	}

	s := &model.Solution{
		ID:                 uuid.New().String(),
		SubmissionID:       sub.ID,
		AuthUserID:         authUserID,
		Username:           username,
		NormalizedUsername: model.NormalizeUsername(username),
		ProblemName:        sub.Title,
		ProblemSlug:        sub.TitleSlug,
		ProblemURL:         model.ProblemURLForSlug(sub.TitleSlug),
		Difficulty:         model.DifficultyMedium,
		Language:           sub.Lang,
		Runtime:            sub.Runtime,
		Memory:             sub.Memory,
		Status:             sub.StatusDisplay,
		Timestamp:          ts,
		SubmittedAt:        submittedAt,
		Tags:               []string{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if s.Status == "" {
		s.Status = "Accepted"
	}
	if q != nil {
		s.Difficulty = model.ParseDifficulty(q.Difficulty)
		s.Tags = q.TagNames()
	}
	return s
}

// RefreshProfile はプロフィールの解答統計を上流の値で更新する。
// ユーザーが上流に存在しない場合は何もしない。
func (o *Orchestrator) RefreshProfile(ctx context.Context, username, authUserID string) error {
	if o.profiles == nil || o.stats == nil {
		return nil
	}
	p, err := o.profiles.UserProfile(ctx, username)
	if err != nil {
		return fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	if p == nil {
		o.logger.Info("LeetCodeにユーザーが見つかりません", slog.String("username", username))
		return nil
	}
	if err := o.stats.UpdateStats(ctx, authUserID, model.NormalizeUsername(username), p.Stats()); err != nil {
		return err
	}
	return nil
}
