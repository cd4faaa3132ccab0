// Package solution は提出コードのキャッシュと閲覧を提供する。
// キャッシュにコードがなければLeetCodeから取得し、(提出ID, 所有アカウント) 単位で永続化する。
package solution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/leetsync/internal/credential"
	"github.com/hitoshi/leetsync/internal/leetcode"
	"github.com/hitoshi/leetsync/internal/metrics"
	"github.com/hitoshi/leetsync/internal/model"
	"github.com/hitoshi/leetsync/internal/repository"
)

// State は閲覧者に見せる3つの状態。
type State string

const (
	StateAvailable    State = "available"     // コードあり
	StateMetadataOnly State = "metadata_only" // メタデータのみ
	StateUnavailable  State = "unavailable"   // 取得失敗
)

// Reason は取得失敗の分類。
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonPrivate      Reason = "private"
	ReasonMetadataOnly Reason = "metadata_only"
	ReasonNotFound     Reason = "not_found"
	ReasonRateLimited  Reason = "rate_limited"
	ReasonFailed       Reason = "failed"
)

const (
	msgPrivate      = "提出の詳細を取得できませんでした。非公開の提出か、別の認証情報が必要な可能性があります。"
	msgMetadataOnly = "提出のメタデータのみ取得できました。コードは提出者本人の認証情報でのみ閲覧できます。"
	msgNotFound     = "提出が見つかりません。"
	msgRateLimited  = "LeetCodeのレート制限に達しました。しばらく待ってから再度お試しください。"
	msgFailed       = "解答の取得に失敗しました: %s"
)

// Store は解答キャッシュの永続化インターフェース。
type Store interface {
	FindBySubmission(ctx context.Context, submissionID, authUserID string) (*model.Solution, error)
	UpdateCode(ctx context.Context, s *model.Solution) error
	Upsert(ctx context.Context, s *model.Solution) error
	List(ctx context.Context, filter repository.SolutionFilter) ([]*model.Solution, error)
}

// DetailFetcher は提出詳細を取得するインターフェース。
type DetailFetcher interface {
	SubmissionDetail(ctx context.Context, submissionID string, opts leetcode.RequestOptions) (*leetcode.SubmissionDetail, error)
}

// CredentialResolver は認証情報を解決するインターフェース。
type CredentialResolver interface {
	Resolve(ctx context.Context, username string) credential.Credentials
}

// FetchOptions はFetchSolutionの呼び出しオプション。
type FetchOptions struct {
	Username   string // 提出者と推定されるユーザー名（任意）
	AuthUserID string // 所有アカウント（必須）
}

// FetchResult はFetchSolutionの結果。
// Success=false は想定内の失敗であり、Messageに閲覧者向けの説明が入る。
// メタデータのみの行が存在する場合、失敗時もSolutionにその行が入る。
type FetchResult struct {
	Success  bool
	State    State
	Reason   Reason
	Solution *model.Solution
	Message  string
}

// Cache は解答キャッシュ。
type Cache struct {
	store    Store
	fetcher  DetailFetcher
	resolver CredentialResolver
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	group    singleflight.Group
	now      func() time.Time
}

// NewCache はCacheを生成する。mcがnilの場合はメトリクスを記録しない。
func NewCache(store Store, fetcher DetailFetcher, resolver CredentialResolver, mc metrics.MetricsCollector, logger *slog.Logger) *Cache {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Cache{
		store:    store,
		fetcher:  fetcher,
		resolver: resolver,
		metrics:  mc,
		logger:   logger.With("component", "solution_cache"),
		now:      time.Now,
	}
}

// FetchSolution は提出のコードを返す。
// キャッシュにコードがあればそれを返し、なければLeetCodeから取得して保存する。
// 同じキーへの同時呼び出しは1回の取得にまとめる。
// エラーを返すのは永続化層の障害時のみ。
func (c *Cache) FetchSolution(ctx context.Context, submissionID string, opts FetchOptions) (FetchResult, error) {
	key := opts.AuthUserID + ":" + submissionID
	v, err, shared := c.group.Do(key, func() (any, error) {
		return c.fetch(ctx, submissionID, opts)
	})
	if err != nil {
		return FetchResult{}, err
	}
	if shared {
		c.logger.Debug("同時リクエストの取得結果を共有しました", slog.String("submission_id", submissionID))
	}
	return v.(FetchResult), nil
}

func (c *Cache) fetch(ctx context.Context, submissionID string, opts FetchOptions) (FetchResult, error) {
	log := c.logger.With(
		slog.String("submission_id", submissionID),
		slog.String("auth_user_id", opts.AuthUserID),
	)

	// 1. キャッシュ確認
	existing, err := c.store.FindBySubmission(ctx, submissionID, opts.AuthUserID)
	if err != nil {
		return FetchResult{}, fmt.Errorf("解答キャッシュの確認に失敗しました: %w", err)
	}
	if existing != nil && existing.HasCode() {
		log.Debug("解答キャッシュにヒットしました")
		c.metrics.RecordCodeFetch("cache_hit")
		return FetchResult{Success: true, State: StateAvailable, Solution: existing}, nil
	}

	// 2. 認証情報の解決
	username := opts.Username
	if username == "" && existing != nil {
		username = existing.Username
	}
	creds := c.resolver.Resolve(ctx, username)
	log.Info("解答コードを取得します",
		slog.String("username", username),
		slog.String("credential_source", string(creds.Source)),
	)

	// 3. 上流から取得
	detail, err := c.fetcher.SubmissionDetail(ctx, submissionID, leetcode.RequestOptions{
		Referer:   model.SubmissionURL(submissionID),
		Session:   creds.SessionToken,
		CSRFToken: creds.CSRFToken,
	})

	// 4. 結果の解釈
	if err != nil {
		reason, msg := classifyFetchError(err)
		log.Warn("解答コードの取得に失敗しました",
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()),
		)
		c.metrics.RecordCodeFetch(string(reason))
		return failure(existing, reason, msg), nil
	}
	if detail == nil {
		log.Info("提出の詳細が返されませんでした", slog.String("credential_source", string(creds.Source)))
		c.metrics.RecordCodeFetch(string(ReasonPrivate))
		return failure(existing, ReasonPrivate, msgPrivate), nil
	}
	if !detail.HasCode() {
		log.Info("提出の詳細にコードが含まれていません")
		c.metrics.RecordCodeFetch(string(ReasonMetadataOnly))
		return failure(existing, ReasonMetadataOnly, msgMetadataOnly), nil
	}

	// 5. 保存
	saved, err := c.save(ctx, submissionID, opts, username, existing, detail)
	if err != nil {
		return FetchResult{}, err
	}

	log.Info("解答コードを保存しました",
		slog.String("username", saved.NormalizedUsername),
		slog.Bool("updated_in_place", existing != nil),
	)
	c.metrics.RecordCodeFetch("fetched")
	return FetchResult{Success: true, State: StateAvailable, Solution: saved}, nil
}

// save は取得したコードを保存する。
// メタデータのみの既存行があればIDを保持したまま更新し、なければUpsertする。
// 保存するユーザー名は上流が返した提出者を呼び出し元のヒントより優先する。
func (c *Cache) save(ctx context.Context, submissionID string, opts FetchOptions, hint string, existing *model.Solution, d *leetcode.SubmissionDetail) (*model.Solution, error) {
	now := c.now().UTC()
	username := d.OwnerUsername()
	if username == "" {
		username = hint
	}

	if existing != nil {
		existing.Code = *d.Code
		existing.Language = d.LanguageName()
		existing.Runtime = d.RuntimeDisplay
		existing.Memory = d.MemoryDisplay
		if username != "" {
			existing.Username = username
			existing.NormalizedUsername = model.NormalizeUsername(username)
		}
		existing.UpdatedAt = now
		if err := c.store.UpdateCode(ctx, existing); err != nil {
			return nil, fmt.Errorf("解答コードの更新に失敗しました: %w", err)
		}
		return existing, nil
	}

	s := solutionFromDetail(submissionID, opts.AuthUserID, username, d, now)
	if err := c.store.Upsert(ctx, s); err != nil {
		return nil, fmt.Errorf("解答の保存に失敗しました: %w", err)
	}
	return s, nil
}

func solutionFromDetail(submissionID, authUserID, username string, d *leetcode.SubmissionDetail, now time.Time) *model.Solution {
	s := &model.Solution{
		ID:                 uuid.New().String(),
		SubmissionID:       submissionID,
		AuthUserID:         authUserID,
		Username:           username,
		NormalizedUsername: model.NormalizeUsername(username),
		Difficulty:         model.DifficultyMedium,
		Language:           d.LanguageName(),
		Code:               *d.Code,
		Runtime:            d.RuntimeDisplay,
		Memory:             d.MemoryDisplay,
		Status:             "Accepted",
		Timestamp:          d.Timestamp,
		SubmittedAt:        time.Unix(d.Timestamp, 0).UTC(),
		Tags:               []string{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if d.Timestamp == 0 {
		s.Timestamp = now.Unix()
		s.SubmittedAt = now
	}
	if q := d.Question; q != nil {
		s.ProblemName = q.Title
		s.ProblemSlug = q.TitleSlug
		s.ProblemURL = model.ProblemURLForSlug(q.TitleSlug)
		s.Difficulty = model.ParseDifficulty(q.Difficulty)
		s.Tags = q.TagNames()
	}
	return s
}

// classifyFetchError は上流エラーを失敗理由とメッセージに変換する。
func classifyFetchError(err error) (Reason, string) {
	switch {
	case leetcode.IsNotFound(err):
		return ReasonNotFound, msgNotFound
	case leetcode.IsRateLimited(err):
		return ReasonRateLimited, msgRateLimited
	}
	if kind, ok := leetcode.KindOf(err); ok && kind == leetcode.KindGraphQL {
		return ReasonPrivate, msgPrivate
	}
	return ReasonFailed, fmt.Sprintf(msgFailed, err.Error())
}

func failure(existing *model.Solution, reason Reason, msg string) FetchResult {
	state := StateUnavailable
	if existing != nil {
		state = StateMetadataOnly
	}
	return FetchResult{Success: false, State: state, Reason: reason, Solution: existing, Message: msg}
}
