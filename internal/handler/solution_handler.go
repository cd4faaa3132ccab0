package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/leetsync/internal/middleware"
	"github.com/hitoshi/leetsync/internal/model"
	"github.com/hitoshi/leetsync/internal/repository"
	"github.com/hitoshi/leetsync/internal/solution"
)

const (
	defaultSolutionLimit = 50
	maxSolutionLimit     = 100
)

// SolutionServiceInterface は解答ハンドラーが必要とするサービスインターフェース。
type SolutionServiceInterface interface {
	Get(ctx context.Context, authUserID, submissionID, usernameHint string) (solution.FetchResult, error)
	List(ctx context.Context, filter repository.SolutionFilter) ([]*model.Solution, error)
}

// ViewTracker は追跡ユーザーの最終閲覧日時を記録するインターフェース。
type ViewTracker interface {
	Touch(ctx context.Context, authUserID, username string) error
}

// SolutionHandler は解答閲覧のHTTPハンドラー。
type SolutionHandler struct {
	service SolutionServiceInterface
	views   ViewTracker
}

// NewSolutionHandler はSolutionHandlerを生成する。viewsはnilでもよい。
func NewSolutionHandler(service SolutionServiceInterface, views ViewTracker) *SolutionHandler {
	return &SolutionHandler{service: service, views: views}
}

// listSolutionsQuery は解答一覧のクエリパラメータ。
type listSolutionsQuery struct {
	Username   string `json:"username" validate:"max=40"`
	Difficulty string `json:"difficulty" validate:"omitempty,oneof=Easy Medium Hard"`
	Language   string `json:"language" validate:"max=40"`
	HasCode    *bool  `json:"hasCode"`
	Limit      int    `json:"limit" validate:"gte=1,lte=100"`
	Offset     int    `json:"offset" validate:"gte=0"`
}

// solutionResponse は解答のAPIレスポンス。
type solutionResponse struct {
	ID            string    `json:"id"`
	SubmissionID  string    `json:"submissionId"`
	Username      string    `json:"username"`
	ProblemName   string    `json:"problemName"`
	ProblemSlug   string    `json:"problemSlug"`
	ProblemURL    string    `json:"problemUrl"`
	SubmissionURL string    `json:"submissionUrl"`
	Difficulty    string    `json:"difficulty"`
	Language      string    `json:"language"`
	Code          string    `json:"code,omitempty"`
	HasCode       bool      `json:"hasCode"`
	Runtime       string    `json:"runtime,omitempty"`
	Memory        string    `json:"memory,omitempty"`
	Status        string    `json:"status"`
	Timestamp     int64     `json:"timestamp"`
	SubmittedAt   time.Time `json:"submittedAt"`
	Tags          []string  `json:"tags"`
}

// fetchResponse は解答1件取得のAPIレスポンス。
type fetchResponse struct {
	Success  bool              `json:"success"`
	State    solution.State    `json:"state"`
	Reason   solution.Reason   `json:"reason,omitempty"`
	Message  string            `json:"message,omitempty"`
	Solution *solutionResponse `json:"solution,omitempty"`
}

func toSolutionResponse(s *model.Solution, withCode bool) *solutionResponse {
	resp := &solutionResponse{
		ID:            s.ID,
		SubmissionID:  s.SubmissionID,
		Username:      s.Username,
		ProblemName:   s.ProblemName,
		ProblemSlug:   s.ProblemSlug,
		ProblemURL:    s.ProblemURL,
		SubmissionURL: model.SubmissionURL(s.SubmissionID),
		Difficulty:    string(s.Difficulty),
		Language:      s.Language,
		HasCode:       s.HasCode(),
		Runtime:       s.Runtime,
		Memory:        s.Memory,
		Status:        s.Status,
		Timestamp:     s.Timestamp,
		SubmittedAt:   s.SubmittedAt,
		Tags:          s.Tags,
	}
	if withCode {
		resp.Code = s.Code
	}
	if resp.Tags == nil {
		resp.Tags = []string{}
	}
	return resp
}

// parseListQuery はクエリ文字列を解釈する。数値や真偽値として読めない場合は検証エラーを返す。
func parseListQuery(r *http.Request) (listSolutionsQuery, *model.APIError) {
	q := r.URL.Query()
	query := listSolutionsQuery{
		Username:   q.Get("username"),
		Difficulty: q.Get("difficulty"),
		Language:   q.Get("language"),
		Limit:      defaultSolutionLimit,
	}

	if v := q.Get("hasCode"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return query, model.NewValidationError("hasCodeはtrueまたはfalseで指定してください")
		}
		query.HasCode = &b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return query, model.NewValidationError("limitは数値で指定してください")
		}
		query.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return query, model.NewValidationError("offsetは数値で指定してください")
		}
		query.Offset = n
	}

	if apiErr := validateRequest(&query); apiErr != nil {
		return query, apiErr
	}
	return query, nil
}

// List は解答一覧を返す。コード本文は含めない。
// GET /api/solutions
func (h *SolutionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	query, apiErr := parseListQuery(r)
	if apiErr != nil {
		handleServiceError(w, apiErr)
		return
	}

	solutions, err := h.service.List(r.Context(), repository.SolutionFilter{
		AuthUserID:         userID,
		NormalizedUsername: query.Username,
		Difficulty:         model.Difficulty(query.Difficulty),
		Language:           query.Language,
		HasCode:            query.HasCode,
		Limit:              uint64(query.Limit),
		Offset:             uint64(query.Offset),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if query.Username != "" && h.views != nil {
		if err := h.views.Touch(r.Context(), userID, query.Username); err != nil {
			slog.Debug("最終閲覧日時を記録できませんでした",
				slog.String("username", query.Username),
				slog.String("error", err.Error()),
			)
		}
	}

	resp := make([]*solutionResponse, len(solutions))
	for i, s := range solutions {
		resp[i] = toSolutionResponse(s, false)
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// Get は提出1件の解答を返す。コードが未取得であれば解答キャッシュ経由で取得する。
// 想定内の取得失敗はsuccess=falseと説明メッセージで返す。
// GET /api/solutions/{submissionId}
func (h *SolutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	result, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "submissionId"), r.URL.Query().Get("username"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := fetchResponse{
		Success: result.Success,
		State:   result.State,
		Reason:  result.Reason,
		Message: result.Message,
	}
	if result.Solution != nil {
		resp.Solution = toSolutionResponse(result.Solution, true)
	}
	middleware.WriteJSON(w, fetchStatusCode(result), resp)
}

// fetchStatusCode は取得結果をHTTPステータスに変換する。
// レート制限と提出なし以外の失敗は200で返す。
func fetchStatusCode(result solution.FetchResult) int {
	switch result.Reason {
	case solution.ReasonRateLimited:
		return http.StatusTooManyRequests
	case solution.ReasonNotFound:
		return http.StatusNotFound
	default:
		return http.StatusOK
	}
}
