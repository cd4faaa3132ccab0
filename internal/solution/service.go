package solution

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hitoshi/leetsync/internal/model"
	"github.com/hitoshi/leetsync/internal/repository"
)

// Service は解答の閲覧を提供する。
type Service struct {
	cache *Cache
	store Store
}

// NewService はServiceを生成する。
func NewService(cache *Cache, store Store) *Service {
	return &Service{cache: cache, store: store}
}

// Get は提出1件の解答を返す。コードが未取得の場合はキャッシュ経由で取得を試みる。
// 提出IDが数値でない場合は検証エラーを返す。
func (s *Service) Get(ctx context.Context, authUserID, submissionID, usernameHint string) (FetchResult, error) {
	if _, err := strconv.ParseInt(submissionID, 10, 64); err != nil {
		return FetchResult{}, model.NewValidationError(fmt.Sprintf("提出IDは数値で指定してください: %s", submissionID))
	}
	return s.cache.FetchSolution(ctx, submissionID, FetchOptions{
		Username:   usernameHint,
		AuthUserID: authUserID,
	})
}

// List は所有アカウントの解答一覧を返す。
func (s *Service) List(ctx context.Context, filter repository.SolutionFilter) ([]*model.Solution, error) {
	filter.NormalizedUsername = model.NormalizeUsername(filter.NormalizedUsername)
	solutions, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("解答一覧の取得に失敗しました: %w", err)
	}
	return solutions, nil
}
