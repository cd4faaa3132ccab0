// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, tracking, solution, sync, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeTrackedUserNotFound  = "TRACKED_USER_NOT_FOUND"
	ErrCodeDuplicateTrackedUser = "DUPLICATE_TRACKED_USER"
	ErrCodeSolutionNotFound     = "SOLUTION_NOT_FOUND"
	ErrCodeSolutionUnavailable  = "SOLUTION_UNAVAILABLE"
	ErrCodeUpstreamRateLimited  = "UPSTREAM_RATE_LIMITED"
	ErrCodeUpstreamFailed       = "UPSTREAM_FAILED"
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeManualSyncDisabled   = "MANUAL_SYNC_DISABLED"
	ErrCodeSyncInProgress       = "SYNC_IN_PROGRESS"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
)

// NewTrackedUserNotFoundError は追跡ユーザーが見つからない場合のエラーを生成する。
func NewTrackedUserNotFoundError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeTrackedUserNotFound,
		Message:  fmt.Sprintf("追跡中のユーザーが見つかりません: %s", username),
		Category: "tracking",
		Action:   "追跡ユーザー一覧からユーザー名を確認してください。",
	}
}

// NewDuplicateTrackedUserError は既に追跡中のユーザーを再度登録しようとした場合のエラーを生成する。
func NewDuplicateTrackedUserError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateTrackedUser,
		Message:  fmt.Sprintf("このユーザーは既に追跡しています: %s", username),
		Category: "tracking",
		Action:   "追跡ユーザー一覧から該当ユーザーを確認してください。",
	}
}

// NewSolutionNotFoundError は提出が見つからない場合のエラーを生成する。
func NewSolutionNotFoundError(submissionID string) *APIError {
	return &APIError{
		Code:     ErrCodeSolutionNotFound,
		Message:  fmt.Sprintf("指定された提出が見つかりません: %s", submissionID),
		Category: "solution",
		Action:   "提出IDを確認してください。",
	}
}

// NewSolutionUnavailableError はコードを取得できない場合のエラーを生成する。
func NewSolutionUnavailableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSolutionUnavailable,
		Message:  reason,
		Category: "solution",
		Action:   "提出者本人のLEETCODE_SESSIONを登録すると取得できる場合があります。",
	}
}

// NewUpstreamRateLimitedError はLeetCodeのレート制限に達した場合のエラーを生成する。
func NewUpstreamRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamRateLimited,
		Message:  "LeetCodeのレート制限に達しました。",
		Category: "sync",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUpstreamFailedError はLeetCode APIの呼び出しに失敗した場合のエラーを生成する。
func NewUpstreamFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamFailed,
		Message:  fmt.Sprintf("LeetCode APIの呼び出しに失敗しました: %s", reason),
		Category: "sync",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewValidationError はリクエスト検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewManualSyncDisabledError は本番環境で手動バッチを実行しようとした場合のエラーを生成する。
func NewManualSyncDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeManualSyncDisabled,
		Message:  "本番環境では手動バッチ同期は無効です。",
		Category: "sync",
		Action:   "日次の定期同期をお待ちください。",
	}
}

// NewSyncInProgressError はバッチ同期が既に実行中の場合のエラーを生成する。
func NewSyncInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeSyncInProgress,
		Message:  "バッチ同期は既に実行中です。",
		Category: "sync",
		Action:   "完了してから再度お試しください。",
	}
}

// NewUnauthorizedError は認証が必要な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "有効なアクセストークンを指定してください。",
	}
}

// NewRateLimitExceededError はAPIのレート制限を超過した場合のエラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}
