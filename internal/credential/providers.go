package credential

import (
	"context"

	"github.com/hitoshi/leetsync/internal/model"
)

// TrackedUserFinder はセッション付き追跡関係を検索するインターフェース。
type TrackedUserFinder interface {
	FindLatestWithSession(ctx context.Context, normalizedUsername string) (*model.TrackedUser, error)
}

// TrackedOverrideProvider は追跡関係に保存されたセッションを提供する。
// 全アカウントを横断し、最も新しく更新されたセッションを採用する。
type TrackedOverrideProvider struct {
	finder TrackedUserFinder
}

// NewTrackedOverrideProvider はTrackedOverrideProviderを生成する。
func NewTrackedOverrideProvider(finder TrackedUserFinder) *TrackedOverrideProvider {
	return &TrackedOverrideProvider{finder: finder}
}

// Credentials はusernameに紐付くセッションを返す。usernameが空の場合は ok=false。
func (p *TrackedOverrideProvider) Credentials(ctx context.Context, username string) (Credentials, bool, error) {
	normalized := model.NormalizeUsername(username)
	if normalized == "" {
		return Credentials{}, false, nil
	}

	tu, err := p.finder.FindLatestWithSession(ctx, normalized)
	if err != nil {
		return Credentials{}, false, err
	}
	if tu == nil || !tu.HasSession() {
		return Credentials{}, false, nil
	}

	return Credentials{
		SessionToken:     tu.LeetCodeSession,
		CSRFToken:        tu.LeetCodeCSRFToken,
		Source:           SourceTrackedOverride,
		ResolvedUsername: tu.NormalizedUsername,
	}, true, nil
}

// StaticProvider は起動時に設定されたプロセス全体の既定セッションを提供する。
type StaticProvider struct {
	session   string
	csrfToken string
}

// NewStaticProvider はStaticProviderを生成する。
func NewStaticProvider(session, csrfToken string) *StaticProvider {
	return &StaticProvider{session: session, csrfToken: csrfToken}
}

// Credentials は既定セッションを返す。未設定の場合は ok=false。
func (p *StaticProvider) Credentials(ctx context.Context, username string) (Credentials, bool, error) {
	if p.session == "" {
		return Credentials{}, false, nil
	}
	return Credentials{
		SessionToken:     p.session,
		CSRFToken:        p.csrfToken,
		Source:           SourceProcessDefault,
		ResolvedUsername: model.NormalizeUsername(username),
	}, true, nil
}

var (
	_ Provider = (*TrackedOverrideProvider)(nil)
	_ Provider = (*StaticProvider)(nil)
)
