package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/leetsync/internal/model"
)

// PostgresTrackedUserRepo はPostgreSQLを使用した追跡関係リポジトリ。
type PostgresTrackedUserRepo struct {
	db *sql.DB
}

// NewPostgresTrackedUserRepo はPostgresTrackedUserRepoを生成する。
func NewPostgresTrackedUserRepo(db *sql.DB) *PostgresTrackedUserRepo {
	return &PostgresTrackedUserRepo{db: db}
}

const trackedUserColumns = `id, auth_user_id, username, normalized_username, real_name, notes,
	leetcode_session, leetcode_csrf_token, session_updated_at, added_at, last_viewed_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrackedUser(row rowScanner) (*model.TrackedUser, error) {
	tu := &model.TrackedUser{}
	var sessionUpdatedAt, lastViewedAt sql.NullTime
	err := row.Scan(
		&tu.ID, &tu.AuthUserID, &tu.Username, &tu.NormalizedUsername, &tu.RealName, &tu.Notes,
		&tu.LeetCodeSession, &tu.LeetCodeCSRFToken, &sessionUpdatedAt, &tu.AddedAt, &lastViewedAt, &tu.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if sessionUpdatedAt.Valid {
		tu.SessionUpdatedAt = &sessionUpdatedAt.Time
	}
	if lastViewedAt.Valid {
		tu.LastViewedAt = &lastViewedAt.Time
	}
	return tu, nil
}

// Create は追跡関係を作成する。
func (r *PostgresTrackedUserRepo) Create(ctx context.Context, tu *model.TrackedUser) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tracked_users (id, auth_user_id, username, normalized_username, real_name, notes, added_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tu.ID, tu.AuthUserID, tu.Username, tu.NormalizedUsername, tu.RealName, tu.Notes, tu.AddedAt, tu.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("追跡関係の作成に失敗しました: %w", err)
	}
	return nil
}

// CreateWithProfile は追跡関係と自動同期用のプロフィールを同一トランザクションで作成する。
// 追跡関係が重複する場合は ErrDuplicate を返し、どちらも作成しない。
// 残存するプロフィールがある場合はpの内容で上書きする。
func (r *PostgresTrackedUserRepo) CreateWithProfile(ctx context.Context, tu *model.TrackedUser, p *model.Profile) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tracked_users (id, auth_user_id, username, normalized_username, real_name, notes, added_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tu.ID, tu.AuthUserID, tu.Username, tu.NormalizedUsername, tu.RealName, tu.Notes, tu.AddedAt, tu.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("追跡関係の作成に失敗しました: %w", err)
	}

	err = tx.QueryRowContext(ctx,
		`INSERT INTO profiles (id, auth_user_id, username, normalized_username,
			total_solved, easy_solved, medium_solved, hard_solved, total_submissions, acceptance_rate,
			auto_sync, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (auth_user_id, normalized_username) DO UPDATE SET
			username = EXCLUDED.username,
			total_solved = EXCLUDED.total_solved,
			easy_solved = EXCLUDED.easy_solved,
			medium_solved = EXCLUDED.medium_solved,
			hard_solved = EXCLUDED.hard_solved,
			total_submissions = EXCLUDED.total_submissions,
			acceptance_rate = EXCLUDED.acceptance_rate,
			auto_sync = EXCLUDED.auto_sync,
			updated_at = EXCLUDED.updated_at
		 RETURNING id`,
		p.ID, p.AuthUserID, p.Username, p.NormalizedUsername,
		p.Stats.TotalSolved, p.Stats.EasySolved, p.Stats.MediumSolved, p.Stats.HardSolved,
		p.Stats.TotalSubmissions, p.Stats.AcceptanceRate,
		p.AutoSync, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("プロフィールの作成に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FindByAccountAndUsername は所有アカウントと正規化ユーザー名で追跡関係を検索する。見つからない場合はnilを返す。
func (r *PostgresTrackedUserRepo) FindByAccountAndUsername(ctx context.Context, authUserID, normalizedUsername string) (*model.TrackedUser, error) {
	tu, err := scanTrackedUser(r.db.QueryRowContext(ctx,
		`SELECT `+trackedUserColumns+`
		 FROM tracked_users WHERE auth_user_id = $1 AND normalized_username = $2`,
		authUserID, normalizedUsername,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("追跡関係の取得に失敗しました: %w", err)
	}
	return tu, nil
}

// ListByAccount は所有アカウントの追跡関係一覧を返す。
func (r *PostgresTrackedUserRepo) ListByAccount(ctx context.Context, authUserID string) ([]*model.TrackedUser, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+trackedUserColumns+`
		 FROM tracked_users WHERE auth_user_id = $1 ORDER BY added_at ASC`,
		authUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("追跡関係一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var users []*model.TrackedUser
	for rows.Next() {
		tu, err := scanTrackedUser(rows)
		if err != nil {
			return nil, fmt.Errorf("追跡関係行の読み取りに失敗しました: %w", err)
		}
		users = append(users, tu)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("追跡関係一覧の走査に失敗しました: %w", err)
	}
	return users, nil
}

// UpdateSession はセッショントークンとCSRFトークンを更新する。
func (r *PostgresTrackedUserRepo) UpdateSession(ctx context.Context, id, session, csrfToken string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE tracked_users
		 SET leetcode_session = $2, leetcode_csrf_token = $3, session_updated_at = $4, updated_at = $4
		 WHERE id = $1`,
		id, session, csrfToken, at,
	)
	if err != nil {
		return fmt.Errorf("セッションの更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("追跡関係が見つかりません: %s", id)
	}
	return nil
}

// TouchLastViewed は最終閲覧日時を更新する。
func (r *PostgresTrackedUserRepo) TouchLastViewed(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tracked_users SET last_viewed_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("最終閲覧日時の更新に失敗しました: %w", err)
	}
	return nil
}

// Delete は追跡関係と当該ユーザーのプロフィール、追跡されなくなったユーザー名の解答を削除する。
func (r *PostgresTrackedUserRepo) Delete(ctx context.Context, authUserID, normalizedUsername string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM tracked_users WHERE auth_user_id = $1 AND normalized_username = $2`,
		authUserID, normalizedUsername,
	)
	if err != nil {
		return fmt.Errorf("追跡関係の削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("追跡関係が見つかりません: %s", normalizedUsername)
	}

	// 提出の所有者名で保存された行も残さないよう、追跡していないユーザー名の行をまとめて消す
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM solutions s
		 WHERE s.auth_user_id = $1
			AND NOT EXISTS (
				SELECT 1 FROM tracked_users t
				WHERE t.auth_user_id = s.auth_user_id AND t.normalized_username = s.normalized_username
			)`,
		authUserID,
	); err != nil {
		return fmt.Errorf("解答キャッシュの削除に失敗しました: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM profiles WHERE auth_user_id = $1 AND normalized_username = $2`,
		authUserID, normalizedUsername,
	); err != nil {
		return fmt.Errorf("プロフィールの削除に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FindLatestWithSession はセッショントークンを持つ追跡関係のうち最も新しく更新されたものを返す。
// 見つからない場合はnilを返す。
func (r *PostgresTrackedUserRepo) FindLatestWithSession(ctx context.Context, normalizedUsername string) (*model.TrackedUser, error) {
	tu, err := scanTrackedUser(r.db.QueryRowContext(ctx,
		`SELECT `+trackedUserColumns+`
		 FROM tracked_users
		 WHERE normalized_username = $1 AND leetcode_session <> ''
		 ORDER BY session_updated_at DESC NULLS LAST, updated_at DESC
		 LIMIT 1`,
		normalizedUsername,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("セッション付き追跡関係の検索に失敗しました: %w", err)
	}
	return tu, nil
}

var _ TrackedUserRepository = (*PostgresTrackedUserRepo)(nil)
