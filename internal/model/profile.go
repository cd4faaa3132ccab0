package model

import "time"

// SyncStatus は最終同期の結果を表す。
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusFailed  SyncStatus = "failed"
)

// ProfileStats は外部プロフィールの解答統計。
type ProfileStats struct {
	TotalSolved      int
	EasySolved       int
	MediumSolved     int
	HardSolved       int
	TotalSubmissions int
	AcceptanceRate   float64
}

// Profile は追跡対象ユーザーのプロフィールスナップショットと自動同期の状態を表す。
type Profile struct {
	ID                 string
	AuthUserID         string
	Username           string
	NormalizedUsername string
	Stats              ProfileStats
	LastSync           *time.Time
	AutoSync           bool
	LastSyncStatus     SyncStatus
	LastSyncError      string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
