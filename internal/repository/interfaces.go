// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/hitoshi/leetsync/internal/model"
)

// TrackedUserRepository は追跡関係の永続化インターフェース。
type TrackedUserRepository interface {
	// Create は追跡関係を作成する。
	// (auth_user_id, normalized_username) が重複する場合は ErrDuplicate を返す。
	Create(ctx context.Context, tu *model.TrackedUser) error

	// CreateWithProfile は追跡関係とプロフィールを同一トランザクションで作成する。
	// 追跡関係が重複する場合は ErrDuplicate を返し、どちらも作成しない。
	CreateWithProfile(ctx context.Context, tu *model.TrackedUser, p *model.Profile) error

	// FindByAccountAndUsername は所有アカウントと正規化ユーザー名で追跡関係を検索する。
	// 見つからない場合はnilを返す。
	FindByAccountAndUsername(ctx context.Context, authUserID, normalizedUsername string) (*model.TrackedUser, error)

	// ListByAccount は所有アカウントの追跡関係一覧を追加日時順に返す。
	ListByAccount(ctx context.Context, authUserID string) ([]*model.TrackedUser, error)

	// UpdateSession はセッショントークンとCSRFトークンを更新する。
	UpdateSession(ctx context.Context, id, session, csrfToken string, at time.Time) error

	// TouchLastViewed は最終閲覧日時を更新する。
	TouchLastViewed(ctx context.Context, id string, at time.Time) error

	// Delete は追跡関係を削除する。
	// 同一トランザクションで、そのアカウントの当該ユーザーのプロフィールと、
	// 追跡関係のなくなったユーザー名の解答キャッシュを削除する。他のアカウントのデータには触れない。
	Delete(ctx context.Context, authUserID, normalizedUsername string) error

	// FindLatestWithSession は全アカウントを横断して、当該ユーザー名でセッショントークンを持つ
	// 追跡関係のうち最も新しく更新されたものを返す。見つからない場合はnilを返す。
	FindLatestWithSession(ctx context.Context, normalizedUsername string) (*model.TrackedUser, error)
}

// SolutionRepository は解答キャッシュの永続化インターフェース。
type SolutionRepository interface {
	// FindBySubmission は提出IDと所有アカウントで解答を取得する。見つからない場合はnilを返す。
	FindBySubmission(ctx context.Context, submissionID, authUserID string) (*model.Solution, error)

	// Insert は解答を挿入する。
	// 一意キーが既に存在する場合は何もせず false を返す。
	Insert(ctx context.Context, s *model.Solution) (bool, error)

	// UpdateCode は既存行のコードと提出詳細をID指定で更新する。
	UpdateCode(ctx context.Context, s *model.Solution) error

	// Upsert は一意キー (submission_id, auth_user_id) で挿入または更新する。
	// 実行後 s.ID には保存された行のIDが設定される。
	Upsert(ctx context.Context, s *model.Solution) error

	// List はフィルタ条件に一致する解答を提出日時の新しい順に返す。
	List(ctx context.Context, filter SolutionFilter) ([]*model.Solution, error)
}

// SolutionFilter は解答一覧の検索条件。
// ゼロ値のフィールドは条件に含めない。
type SolutionFilter struct {
	AuthUserID         string // 必須
	NormalizedUsername string
	Difficulty         model.Difficulty
	Language           string
	HasCode            *bool
	Limit              uint64
	Offset             uint64
}

// ProfileRepository はプロフィールスナップショットの永続化インターフェース。
type ProfileRepository interface {
	// Upsert は (auth_user_id, normalized_username) でプロフィールを作成または更新する。
	// 既存行の同期状態は保持する。
	Upsert(ctx context.Context, p *model.Profile) error

	// FindByAccountAndUsername はプロフィールを取得する。見つからない場合はnilを返す。
	FindByAccountAndUsername(ctx context.Context, authUserID, normalizedUsername string) (*model.Profile, error)

	// ListDueForAutoSync は自動同期が有効で、最終同期がcutoffより古い（または未同期の）プロフィールを返す。
	ListDueForAutoSync(ctx context.Context, cutoff time.Time) ([]*model.Profile, error)

	// RecordSyncResult は同期結果を記録する。
	// 成功時はerrMsgを空にし、last_sync_errorはNULLになる。
	RecordSyncResult(ctx context.Context, id string, status model.SyncStatus, errMsg string, at time.Time) error

	// UpdateStats は解答統計を更新する。
	UpdateStats(ctx context.Context, authUserID, normalizedUsername string, stats model.ProfileStats) error
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
