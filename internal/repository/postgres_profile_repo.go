package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/hitoshi/leetsync/internal/model"
)

const profileColumns = `id, auth_user_id, username, normalized_username,
	total_solved, easy_solved, medium_solved, hard_solved, total_submissions, acceptance_rate,
	last_sync, auto_sync, last_sync_status, last_sync_error, created_at, updated_at`

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

func scanProfile(row rowScanner) (*model.Profile, error) {
	p := &model.Profile{}
	var lastSync sql.NullTime
	var status, syncErr sql.NullString
	err := row.Scan(
		&p.ID, &p.AuthUserID, &p.Username, &p.NormalizedUsername,
		&p.Stats.TotalSolved, &p.Stats.EasySolved, &p.Stats.MediumSolved, &p.Stats.HardSolved,
		&p.Stats.TotalSubmissions, &p.Stats.AcceptanceRate,
		&lastSync, &p.AutoSync, &status, &syncErr, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastSync.Valid {
		p.LastSync = &lastSync.Time
	}
	p.LastSyncStatus = model.SyncStatus(status.String)
	p.LastSyncError = syncErr.String
	return p, nil
}

// Upsert はプロフィールを作成または更新する。既存行の同期状態と統計は保持する。
func (r *PostgresProfileRepo) Upsert(ctx context.Context, p *model.Profile) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO profiles (id, auth_user_id, username, normalized_username, auto_sync, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (auth_user_id, normalized_username) DO UPDATE SET
			username = EXCLUDED.username,
			auto_sync = EXCLUDED.auto_sync,
			updated_at = EXCLUDED.updated_at
		 RETURNING id`,
		p.ID, p.AuthUserID, p.Username, p.NormalizedUsername, p.AutoSync, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("プロフィールのUpsertに失敗しました: %w", err)
	}
	return nil
}

// FindByAccountAndUsername はプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByAccountAndUsername(ctx context.Context, authUserID, normalizedUsername string) (*model.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE auth_user_id = $1 AND normalized_username = $2`,
		authUserID, normalizedUsername,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	return p, nil
}

// ListDueForAutoSync は自動同期の対象となるプロフィールを返す。
func (r *PostgresProfileRepo) ListDueForAutoSync(ctx context.Context, cutoff time.Time) ([]*model.Profile, error) {
	query, args, err := psql.Select(profileColumns).
		From("profiles").
		Where(sq.Eq{"auto_sync": true}).
		Where(sq.Or{sq.Eq{"last_sync": nil}, sq.Lt{"last_sync": cutoff}}).
		OrderBy("last_sync ASC NULLS FIRST").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("同期対象プロフィールの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var profiles []*model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("プロフィール行の読み取りに失敗しました: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("プロフィール一覧の走査に失敗しました: %w", err)
	}
	return profiles, nil
}

// RecordSyncResult は同期結果を記録する。
// last_sync は同期を試行した日時として成否に関わらず更新する。
func (r *PostgresProfileRepo) RecordSyncResult(ctx context.Context, id string, status model.SyncStatus, errMsg string, at time.Time) error {
	var syncErr sql.NullString
	if errMsg != "" {
		syncErr = sql.NullString{String: errMsg, Valid: true}
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE profiles
		 SET last_sync = $2, last_sync_status = $3, last_sync_error = $4, updated_at = $2
		 WHERE id = $1`,
		id, at, string(status), syncErr,
	)
	if err != nil {
		return fmt.Errorf("同期結果の記録に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("プロフィールが見つかりません: %s", id)
	}
	return nil
}

// UpdateStats は解答統計を更新する。
func (r *PostgresProfileRepo) UpdateStats(ctx context.Context, authUserID, normalizedUsername string, stats model.ProfileStats) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET
			total_solved = $3, easy_solved = $4, medium_solved = $5, hard_solved = $6,
			total_submissions = $7, acceptance_rate = $8, updated_at = NOW()
		 WHERE auth_user_id = $1 AND normalized_username = $2`,
		authUserID, normalizedUsername,
		stats.TotalSolved, stats.EasySolved, stats.MediumSolved, stats.HardSolved,
		stats.TotalSubmissions, stats.AcceptanceRate,
	)
	if err != nil {
		return fmt.Errorf("解答統計の更新に失敗しました: %w", err)
	}
	return nil
}

var _ ProfileRepository = (*PostgresProfileRepo)(nil)
