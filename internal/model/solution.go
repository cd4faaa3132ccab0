package model

import (
	"strings"
	"time"
)

// Difficulty は問題の難易度を表す。
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// ParseDifficulty は上流の難易度文字列を Difficulty に変換する。
// 不明な値は Medium として扱う。
func ParseDifficulty(s string) Difficulty {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy":
		return DifficultyEasy
	case "hard":
		return DifficultyHard
	default:
		return DifficultyMedium
	}
}

// Solution は提出1件のメタデータとコードのキャッシュを表す。
// (SubmissionID, AuthUserID) の組は一意。
type Solution struct {
	ID                 string
	SubmissionID       string
	AuthUserID         string
	Username           string
	NormalizedUsername string
	ProblemName        string
	ProblemSlug        string
	ProblemURL         string
	Difficulty         Difficulty
	Language           string
	Code               string // 未取得の場合は空文字列
	Runtime            string
	Memory             string
	Status             string
	Timestamp          int64 // エポック秒
	SubmittedAt        time.Time
	Notes              string
	Tags               []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasCode はコードが取得済みかを返す。
func (s *Solution) HasCode() bool {
	return s.Code != ""
}

// ProblemURLForSlug は問題スラッグから公開URLを組み立てる。
func ProblemURLForSlug(slug string) string {
	return "https://leetcode.com/problems/" + slug + "/"
}

// SubmissionURL は提出IDから提出詳細ページのURLを組み立てる。
func SubmissionURL(submissionID string) string {
	return "https://leetcode.com/submissions/detail/" + submissionID + "/"
}
