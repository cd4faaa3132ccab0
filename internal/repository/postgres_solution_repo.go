package repository

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/hitoshi/leetsync/internal/model"
)

// psql はPostgreSQLのプレースホルダ形式を使うクエリビルダー。
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var solutionColumns = []string{
	"id", "submission_id", "auth_user_id", "username", "normalized_username",
	"problem_name", "problem_slug", "problem_url", "difficulty", "language", "code",
	"runtime", "memory", "status", "timestamp_epoch", "submitted_at", "notes", "tags",
	"created_at", "updated_at",
}

// PostgresSolutionRepo はPostgreSQLを使用した解答キャッシュリポジトリ。
type PostgresSolutionRepo struct {
	db *sql.DB
}

// NewPostgresSolutionRepo はPostgresSolutionRepoを生成する。
func NewPostgresSolutionRepo(db *sql.DB) *PostgresSolutionRepo {
	return &PostgresSolutionRepo{db: db}
}

func scanSolution(row rowScanner) (*model.Solution, error) {
	s := &model.Solution{}
	var difficulty string
	err := row.Scan(
		&s.ID, &s.SubmissionID, &s.AuthUserID, &s.Username, &s.NormalizedUsername,
		&s.ProblemName, &s.ProblemSlug, &s.ProblemURL, &difficulty, &s.Language, &s.Code,
		&s.Runtime, &s.Memory, &s.Status, &s.Timestamp, &s.SubmittedAt, &s.Notes, pq.Array(&s.Tags),
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Difficulty = model.Difficulty(difficulty)
	return s, nil
}

// FindBySubmission は提出IDと所有アカウントで解答を取得する。見つからない場合はnilを返す。
func (r *PostgresSolutionRepo) FindBySubmission(ctx context.Context, submissionID, authUserID string) (*model.Solution, error) {
	query, args, err := psql.Select(solutionColumns...).
		From("solutions").
		Where(sq.Eq{"submission_id": submissionID, "auth_user_id": authUserID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}

	s, err := scanSolution(r.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("解答の取得に失敗しました: %w", err)
	}
	return s, nil
}

func solutionValues(s *model.Solution) []any {
	tags := s.Tags
	if tags == nil {
		tags = []string{}
	}
	return []any{
		s.ID, s.SubmissionID, s.AuthUserID, s.Username, s.NormalizedUsername,
		s.ProblemName, s.ProblemSlug, s.ProblemURL, string(s.Difficulty), s.Language, s.Code,
		s.Runtime, s.Memory, s.Status, s.Timestamp, s.SubmittedAt, s.Notes, pq.Array(tags),
		s.CreatedAt, s.UpdatedAt,
	}
}

// Insert は解答を挿入する。一意キーが既に存在する場合は false を返す。
func (r *PostgresSolutionRepo) Insert(ctx context.Context, s *model.Solution) (bool, error) {
	query, args, err := psql.Insert("solutions").
		Columns(solutionColumns...).
		Values(solutionValues(s)...).
		Suffix("ON CONFLICT (submission_id, auth_user_id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("解答の挿入に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("挿入結果の取得に失敗しました: %w", err)
	}
	return rowsAffected == 1, nil
}

// UpdateCode は既存行のコードと提出詳細をID指定で更新する。
// 空文字列で渡された言語・実行時間・メモリは既存値を保持する。
func (r *PostgresSolutionRepo) UpdateCode(ctx context.Context, s *model.Solution) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE solutions SET
			code = $2,
			language = COALESCE(NULLIF($3, ''), language),
			runtime = COALESCE(NULLIF($4, ''), runtime),
			memory = COALESCE(NULLIF($5, ''), memory),
			username = $6,
			normalized_username = $7,
			updated_at = $8
		 WHERE id = $1`,
		s.ID, s.Code, s.Language, s.Runtime, s.Memory, s.Username, s.NormalizedUsername, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("解答コードの更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("解答が見つかりません: %s", s.ID)
	}
	return nil
}

// Upsert は一意キーで挿入または更新し、保存された行のIDを s.ID に設定する。
func (r *PostgresSolutionRepo) Upsert(ctx context.Context, s *model.Solution) error {
	query, args, err := psql.Insert("solutions").
		Columns(solutionColumns...).
		Values(solutionValues(s)...).
		Suffix(`ON CONFLICT (submission_id, auth_user_id) DO UPDATE SET
			code = EXCLUDED.code,
			language = EXCLUDED.language,
			runtime = EXCLUDED.runtime,
			memory = EXCLUDED.memory,
			username = EXCLUDED.username,
			normalized_username = EXCLUDED.normalized_username,
			updated_at = EXCLUDED.updated_at
			RETURNING id`).
		ToSql()
	if err != nil {
		return fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}

	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&s.ID); err != nil {
		return fmt.Errorf("解答のUpsertに失敗しました: %w", err)
	}
	return nil
}

// List はフィルタ条件に一致する解答を提出日時の新しい順に返す。
func (r *PostgresSolutionRepo) List(ctx context.Context, filter SolutionFilter) ([]*model.Solution, error) {
	query, args, err := buildSolutionListQuery(filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("クエリの構築に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("解答一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var solutions []*model.Solution
	for rows.Next() {
		s, err := scanSolution(rows)
		if err != nil {
			return nil, fmt.Errorf("解答行の読み取りに失敗しました: %w", err)
		}
		solutions = append(solutions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("解答一覧の走査に失敗しました: %w", err)
	}
	return solutions, nil
}

// buildSolutionListQuery はフィルタから一覧取得クエリを組み立てる。
func buildSolutionListQuery(filter SolutionFilter) sq.SelectBuilder {
	q := psql.Select(solutionColumns...).
		From("solutions").
		Where(sq.Eq{"auth_user_id": filter.AuthUserID})

	if filter.NormalizedUsername != "" {
		q = q.Where(sq.Eq{"normalized_username": filter.NormalizedUsername})
	}
	if filter.Difficulty != "" {
		q = q.Where(sq.Eq{"difficulty": string(filter.Difficulty)})
	}
	if filter.Language != "" {
		q = q.Where(sq.Eq{"language": filter.Language})
	}
	if filter.HasCode != nil {
		if *filter.HasCode {
			q = q.Where(sq.NotEq{"code": ""})
		} else {
			q = q.Where(sq.Eq{"code": ""})
		}
	}

	limit := filter.Limit
	if limit == 0 || limit > 200 {
		limit = 50
	}
	return q.OrderBy("timestamp_epoch DESC", "submission_id DESC").
		Limit(limit).
		Offset(filter.Offset)
}

var _ SolutionRepository = (*PostgresSolutionRepo)(nil)
