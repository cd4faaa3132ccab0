// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// TrackedUser は所有アカウントとLeetCodeユーザー名の追跡関係を表す。
// (AuthUserID, NormalizedUsername) の組は一意。
type TrackedUser struct {
	ID                 string
	AuthUserID         string
	Username           string // 表示用（大文字小文字を保持）
	NormalizedUsername string
	RealName           string
	Notes              string
	LeetCodeSession    string // 書き込み専用。APIレスポンスには含めない
	LeetCodeCSRFToken  string
	SessionUpdatedAt   *time.Time
	AddedAt            time.Time
	LastViewedAt       *time.Time
	UpdatedAt          time.Time
}

// HasSession はセッショントークンが保存されているかを返す。
func (t *TrackedUser) HasSession() bool {
	return t.LeetCodeSession != ""
}

// NormalizeUsername はユーザー名を比較用の正規形（前後空白除去・小文字化）に変換する。
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
