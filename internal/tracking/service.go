// Package tracking は所有アカウントによるLeetCodeユーザーの追跡関係を管理する。
package tracking

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/leetsync/internal/leetcode"
	"github.com/hitoshi/leetsync/internal/model"
	"github.com/hitoshi/leetsync/internal/repository"
)

// LeetCodeのユーザー名として受け付ける形式
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,40}$`)

// ProfileFetcher は上流のプロフィールを取得するインターフェース。
type ProfileFetcher interface {
	UserProfile(ctx context.Context, username string) (*leetcode.UserProfile, error)
}

// AddInput は追跡開始の入力。
type AddInput struct {
	Username string
	RealName string
	Notes    string
}

// Service は追跡関係のサービス層。
type Service struct {
	users    repository.TrackedUserRepository
	upstream ProfileFetcher
	now      func() time.Time
}

// NewService はServiceを生成する。
// upstreamが指定された場合、追跡開始時にユーザーの存在を確認して統計を取り込む。
func NewService(users repository.TrackedUserRepository, upstream ProfileFetcher) *Service {
	return &Service{users: users, upstream: upstream, now: time.Now}
}

// Add は追跡関係と自動同期が有効なプロフィールを作成する。
// どちらかの書き込みに失敗した場合は何も残さない。
func (s *Service) Add(ctx context.Context, authUserID string, in AddInput) (*model.TrackedUser, error) {
	username := strings.TrimSpace(in.Username)
	if !usernamePattern.MatchString(username) {
		return nil, model.NewValidationError(fmt.Sprintf("ユーザー名の形式が正しくありません: %q", in.Username))
	}
	normalized := model.NormalizeUsername(username)

	existing, err := s.users.FindByAccountAndUsername(ctx, authUserID, normalized)
	if err != nil {
		return nil, fmt.Errorf("追跡関係の確認に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateTrackedUserError(username)
	}

	var upstreamProfile *leetcode.UserProfile
	if s.upstream != nil {
		upstreamProfile, err = s.upstream.UserProfile(ctx, username)
		if err != nil {
			return nil, upstreamError(err)
		}
		if upstreamProfile == nil {
			return nil, model.NewValidationError(fmt.Sprintf("LeetCodeにユーザーが見つかりません: %s", username))
		}
		if upstreamProfile.Username != "" {
			username = upstreamProfile.Username
		}
	}

	now := s.now().UTC()
	tu := &model.TrackedUser{
		ID:                 uuid.New().String(),
		AuthUserID:         authUserID,
		Username:           username,
		NormalizedUsername: normalized,
		RealName:           strings.TrimSpace(in.RealName),
		Notes:              strings.TrimSpace(in.Notes),
		AddedAt:            now,
		UpdatedAt:          now,
	}
	profile := &model.Profile{
		ID:                 uuid.New().String(),
		AuthUserID:         authUserID,
		Username:           username,
		NormalizedUsername: normalized,
		AutoSync:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if upstreamProfile != nil {
		profile.Stats = upstreamProfile.Stats()
	}
	if err := s.users.CreateWithProfile(ctx, tu, profile); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewDuplicateTrackedUserError(username)
		}
		return nil, fmt.Errorf("追跡関係の作成に失敗しました: %w", err)
	}

	return tu, nil
}

// Get は追跡関係を返す。見つからない場合は TRACKED_USER_NOT_FOUND を返す。
func (s *Service) Get(ctx context.Context, authUserID, username string) (*model.TrackedUser, error) {
	tu, err := s.users.FindByAccountAndUsername(ctx, authUserID, model.NormalizeUsername(username))
	if err != nil {
		return nil, fmt.Errorf("追跡関係の取得に失敗しました: %w", err)
	}
	if tu == nil {
		return nil, model.NewTrackedUserNotFoundError(username)
	}
	return tu, nil
}

// List は所有アカウントの追跡関係一覧を返す。
func (s *Service) List(ctx context.Context, authUserID string) ([]*model.TrackedUser, error) {
	users, err := s.users.ListByAccount(ctx, authUserID)
	if err != nil {
		return nil, fmt.Errorf("追跡関係一覧の取得に失敗しました: %w", err)
	}
	return users, nil
}

// Remove は追跡関係と、そのアカウントの当該ユーザーの解答キャッシュ・プロフィールを削除する。
func (s *Service) Remove(ctx context.Context, authUserID, username string) error {
	if _, err := s.Get(ctx, authUserID, username); err != nil {
		return err
	}
	if err := s.users.Delete(ctx, authUserID, model.NormalizeUsername(username)); err != nil {
		return fmt.Errorf("追跡関係の削除に失敗しました: %w", err)
	}
	return nil
}

// UpdateSession は追跡関係にLeetCodeのセッションを保存する。
// 空のセッションを渡すと保存済みのセッションを消去する。
func (s *Service) UpdateSession(ctx context.Context, authUserID, username, session, csrfToken string) error {
	tu, err := s.Get(ctx, authUserID, username)
	if err != nil {
		return err
	}
	session = strings.TrimSpace(session)
	csrfToken = strings.TrimSpace(csrfToken)
	if session != "" && csrfToken == "" {
		return model.NewValidationError("セッションを保存する場合はCSRFトークンも指定してください")
	}
	if err := s.users.UpdateSession(ctx, tu.ID, session, csrfToken, s.now().UTC()); err != nil {
		return fmt.Errorf("セッションの更新に失敗しました: %w", err)
	}
	return nil
}

// Touch は最終閲覧日時を記録する。
func (s *Service) Touch(ctx context.Context, authUserID, username string) error {
	tu, err := s.Get(ctx, authUserID, username)
	if err != nil {
		return err
	}
	if err := s.users.TouchLastViewed(ctx, tu.ID, s.now().UTC()); err != nil {
		return fmt.Errorf("最終閲覧日時の更新に失敗しました: %w", err)
	}
	return nil
}

func upstreamError(err error) error {
	if leetcode.IsRateLimited(err) {
		return model.NewUpstreamRateLimitedError()
	}
	return model.NewUpstreamFailedError(err.Error())
}
