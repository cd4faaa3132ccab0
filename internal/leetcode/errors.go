package leetcode

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind は上流エラーの分類。
type ErrorKind string

const (
	KindNetwork     ErrorKind = "network"      // 接続リセット・タイムアウト等の通信エラー
	KindRateLimited ErrorKind = "rate_limited" // HTTP 429
	KindHTTPStatus  ErrorKind = "http_status"  // 429以外の非200ステータス
	KindGraphQL     ErrorKind = "graphql"      // レスポンスのerrors配列
	KindMalformed   ErrorKind = "malformed"    // 想定外のレスポンス形状・不正なクエリ
	KindUnavailable ErrorKind = "unavailable"  // サーキットブレーカーが開いている
)

// Error はLeetCode API呼び出しの失敗を表す。
type Error struct {
	Kind       ErrorKind
	Operation  string
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("leetcode %s (%s, status %d): %s", e.Operation, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("leetcode %s (%s): %s", e.Operation, e.Kind, msg)
}

// Unwrap は元のエラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// retryable は再試行の対象かを返す。
func (e *Error) retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindRateLimited
}

// countsAsFailure はサーキットブレーカーの失敗として数えるかを返す。
// GraphQLエラーと4xxは上流の障害ではないため数えない。
func (e *Error) countsAsFailure() bool {
	switch e.Kind {
	case KindGraphQL:
		return false
	case KindHTTPStatus:
		return e.StatusCode >= http.StatusInternalServerError
	default:
		return true
	}
}

// KindOf はerrが上流エラーであればその分類を返す。
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// StatusCode はerrが保持するHTTPステータスを返す。該当しない場合は0。
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// IsRateLimited はerrがレート制限によるものかを返す。
func IsRateLimited(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindRateLimited
}

// IsNotFound はerrがHTTP 404によるものかを返す。
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}
