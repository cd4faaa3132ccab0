package leetcode

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hitoshi/leetsync/internal/model"
)

// RecentSubmission は最近のAccepted提出の1件。
type RecentSubmission struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	TitleSlug     string `json:"titleSlug"`
	Timestamp     string `json:"timestamp"` // エポック秒の文字列
	StatusDisplay string `json:"statusDisplay"`
	Lang          string `json:"lang"`
	Runtime       string `json:"runtime"`
	Memory        string `json:"memory"`
}

// TimestampUnix はTimestampをエポック秒として返す。解釈できない場合は0。
func (s RecentSubmission) TimestampUnix() int64 {
	v, err := strconv.ParseInt(s.Timestamp, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// TopicTag は問題のタグ。
type TopicTag struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Question は問題の詳細。
type Question struct {
	QuestionID string     `json:"questionId"`
	Title      string     `json:"title"`
	TitleSlug  string     `json:"titleSlug"`
	Difficulty string     `json:"difficulty"`
	TopicTags  []TopicTag `json:"topicTags"`
}

// TagNames はタグ名の一覧を返す。
func (q *Question) TagNames() []string {
	names := make([]string, 0, len(q.TopicTags))
	for _, t := range q.TopicTags {
		names = append(names, t.Name)
	}
	return names
}

// SubmissionDetail は提出の詳細。
// 提出者本人の認証情報がない場合、LeetCodeは submissionDetails を null で返す。
type SubmissionDetail struct {
	Code           *string `json:"code"`
	Timestamp      int64   `json:"timestamp"`
	StatusCode     int     `json:"statusCode"`
	RuntimeDisplay string  `json:"runtimeDisplay"`
	MemoryDisplay  string  `json:"memoryDisplay"`
	Lang           *struct {
		Name        string `json:"name"`
		VerboseName string `json:"verboseName"`
	} `json:"lang"`
	Question *Question `json:"question"`
	User     *struct {
		Username string `json:"username"`
	} `json:"user"`
}

// HasCode はコードが含まれているかを返す。
func (d *SubmissionDetail) HasCode() bool {
	return d.Code != nil && *d.Code != ""
}

// LanguageName は言語名を返す。
func (d *SubmissionDetail) LanguageName() string {
	if d.Lang == nil {
		return ""
	}
	return d.Lang.Name
}

// OwnerUsername は提出者のユーザー名を返す。
func (d *SubmissionDetail) OwnerUsername() string {
	if d.User == nil {
		return ""
	}
	return d.User.Username
}

// SubmissionCount は難易度別の件数。
type SubmissionCount struct {
	Difficulty  string `json:"difficulty"`
	Count       int    `json:"count"`
	Submissions int    `json:"submissions"`
}

// UserProfile は外部プロフィールの統計。
type UserProfile struct {
	Username          string `json:"username"`
	SubmitStatsGlobal struct {
		AcSubmissionNum    []SubmissionCount `json:"acSubmissionNum"`
		TotalSubmissionNum []SubmissionCount `json:"totalSubmissionNum"`
	} `json:"submitStatsGlobal"`
}

// Stats はプロフィールの統計をドメインモデルに変換する。
func (p *UserProfile) Stats() model.ProfileStats {
	var stats model.ProfileStats
	var acAll, totalAll int
	for _, c := range p.SubmitStatsGlobal.AcSubmissionNum {
		switch strings.ToLower(c.Difficulty) {
		case "all":
			stats.TotalSolved = c.Count
			acAll = c.Submissions
		case "easy":
			stats.EasySolved = c.Count
		case "medium":
			stats.MediumSolved = c.Count
		case "hard":
			stats.HardSolved = c.Count
		}
	}
	for _, c := range p.SubmitStatsGlobal.TotalSubmissionNum {
		if strings.EqualFold(c.Difficulty, "all") {
			totalAll = c.Submissions
		}
	}
	stats.TotalSubmissions = totalAll
	if totalAll > 0 {
		stats.AcceptanceRate = float64(acAll) / float64(totalAll) * 100
	}
	return stats
}

func (c *Client) queryInto(ctx context.Context, query string, variables map[string]any, opts RequestOptions, out any) error {
	data, err := c.Query(ctx, query, variables, opts)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		opName, _ := OperationName(query)
		return &Error{Kind: KindMalformed, Operation: opName, Message: "data のデコードに失敗しました", Err: err}
	}
	return nil
}

// RecentAcceptedSubmissions はユーザーの最近のAccepted提出を新しい順に最大limit件取得する。
func (c *Client) RecentAcceptedSubmissions(ctx context.Context, username string, limit int) ([]RecentSubmission, error) {
	var out struct {
		RecentAcSubmissionList []RecentSubmission `json:"recentAcSubmissionList"`
	}
	err := c.queryInto(ctx, recentAcSubmissionsQuery,
		map[string]any{"username": username, "limit": limit},
		RequestOptions{Referer: "https://leetcode.com/u/" + username + "/"},
		&out,
	)
	if err != nil {
		return nil, err
	}
	return out.RecentAcSubmissionList, nil
}

// QuestionDetail は問題の詳細を取得する。問題が存在しない場合はnilを返す。
func (c *Client) QuestionDetail(ctx context.Context, titleSlug string) (*Question, error) {
	var out struct {
		Question *Question `json:"question"`
	}
	err := c.queryInto(ctx, questionDataQuery,
		map[string]any{"titleSlug": titleSlug},
		RequestOptions{Referer: model.ProblemURLForSlug(titleSlug)},
		&out,
	)
	if err != nil {
		return nil, err
	}
	return out.Question, nil
}

// SubmissionDetail は提出の詳細を取得する。
// 閲覧権限がない等で詳細が返らない場合はnilを返す。
func (c *Client) SubmissionDetail(ctx context.Context, submissionID string, opts RequestOptions) (*SubmissionDetail, error) {
	id, err := strconv.ParseInt(submissionID, 10, 64)
	if err != nil {
		return nil, &Error{
			Kind:      KindMalformed,
			Operation: "submissionDetails",
			Message:   fmt.Sprintf("不正な提出IDです: %q", submissionID),
			Err:       err,
		}
	}

	var out struct {
		SubmissionDetails *SubmissionDetail `json:"submissionDetails"`
	}
	if err := c.queryInto(ctx, submissionDetailsQuery, map[string]any{"submissionId": id}, opts, &out); err != nil {
		return nil, err
	}
	return out.SubmissionDetails, nil
}

// UserProfile はユーザーのプロフィール統計を取得する。ユーザーが存在しない場合はnilを返す。
func (c *Client) UserProfile(ctx context.Context, username string) (*UserProfile, error) {
	var out struct {
		MatchedUser *UserProfile `json:"matchedUser"`
	}
	err := c.queryInto(ctx, userProfileQuery,
		map[string]any{"username": username},
		RequestOptions{Referer: "https://leetcode.com/u/" + username + "/"},
		&out,
	)
	if err != nil {
		return nil, err
	}
	return out.MatchedUser, nil
}
