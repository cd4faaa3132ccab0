package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/leetsync/internal/middleware"
	"github.com/hitoshi/leetsync/internal/model"
	"github.com/hitoshi/leetsync/internal/tracking"
	"github.com/hitoshi/leetsync/internal/worker/syncer"
)

// TrackedUserServiceInterface は追跡ユーザーハンドラーが必要とするサービスインターフェース。
type TrackedUserServiceInterface interface {
	Add(ctx context.Context, authUserID string, in tracking.AddInput) (*model.TrackedUser, error)
	Get(ctx context.Context, authUserID, username string) (*model.TrackedUser, error)
	List(ctx context.Context, authUserID string) ([]*model.TrackedUser, error)
	Remove(ctx context.Context, authUserID, username string) error
	UpdateSession(ctx context.Context, authUserID, username, session, csrfToken string) error
	Touch(ctx context.Context, authUserID, username string) error
}

// UserSyncer はユーザー単位の手動同期を実行するインターフェース。
type UserSyncer interface {
	SyncUserSolutions(ctx context.Context, username, authUserID string) (syncer.SyncResult, error)
	RefreshProfile(ctx context.Context, username, authUserID string) error
}

// TrackedUserHandler は追跡ユーザー管理と手動同期のHTTPハンドラー。
type TrackedUserHandler struct {
	service TrackedUserServiceInterface
	syncer  UserSyncer
}

// NewTrackedUserHandler はTrackedUserHandlerを生成する。
func NewTrackedUserHandler(service TrackedUserServiceInterface, s UserSyncer) *TrackedUserHandler {
	return &TrackedUserHandler{service: service, syncer: s}
}

type addTrackedUserRequest struct {
	Username string `json:"username" validate:"required,max=40"`
	RealName string `json:"realName" validate:"max=100"`
	Notes    string `json:"notes" validate:"max=1000"`
}

type updateSessionRequest struct {
	Session   string `json:"session" validate:"max=4096"`
	CSRFToken string `json:"csrfToken" validate:"max=256"`
}

// trackedUserResponse は追跡ユーザーのAPIレスポンス。セッションの値は含めない。
type trackedUserResponse struct {
	Username         string     `json:"username"`
	RealName         string     `json:"realName,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	HasSession       bool       `json:"hasSession"`
	SessionUpdatedAt *time.Time `json:"sessionUpdatedAt,omitempty"`
	AddedAt          time.Time  `json:"addedAt"`
	LastViewedAt     *time.Time `json:"lastViewedAt,omitempty"`
}

type syncResponse struct {
	Success bool              `json:"success"`
	Result  syncer.SyncResult `json:"result"`
}

func toTrackedUserResponse(tu *model.TrackedUser) trackedUserResponse {
	return trackedUserResponse{
		Username:         tu.Username,
		RealName:         tu.RealName,
		Notes:            tu.Notes,
		HasSession:       tu.HasSession(),
		SessionUpdatedAt: tu.SessionUpdatedAt,
		AddedAt:          tu.AddedAt,
		LastViewedAt:     tu.LastViewedAt,
	}
}

// List は追跡ユーザー一覧を返す。
// GET /api/tracked-users
func (h *TrackedUserHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	users, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]trackedUserResponse, len(users))
	for i, tu := range users {
		resp[i] = toTrackedUserResponse(tu)
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// Add はユーザーの追跡を開始する。
// POST /api/tracked-users
func (h *TrackedUserHandler) Add(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req addTrackedUserRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		handleServiceError(w, apiErr)
		return
	}

	tu, err := h.service.Add(r.Context(), userID, tracking.AddInput{
		Username: req.Username,
		RealName: req.RealName,
		Notes:    req.Notes,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, toTrackedUserResponse(tu))
}

// Remove はユーザーの追跡を解除する。
// DELETE /api/tracked-users/{username}
func (h *TrackedUserHandler) Remove(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Remove(r.Context(), userID, chi.URLParam(r, "username")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateSession は追跡ユーザーのLeetCodeセッションを保存または消去する。
// PUT /api/tracked-users/{username}/session
func (h *TrackedUserHandler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req updateSessionRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		handleServiceError(w, apiErr)
		return
	}

	if err := h.service.UpdateSession(r.Context(), userID, chi.URLParam(r, "username"), req.Session, req.CSRFToken); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sync は追跡ユーザーの手動同期を実行し、集計結果を返す。
// POST /api/tracked-users/{username}/sync
func (h *TrackedUserHandler) Sync(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	tu, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "username"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	result, err := h.syncer.SyncUserSolutions(r.Context(), tu.Username, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.syncer.RefreshProfile(r.Context(), tu.Username, userID); err != nil {
		slog.Warn("プロフィールの更新に失敗しました",
			slog.String("username", tu.Username),
			slog.String("error", err.Error()),
		)
	}
	middleware.WriteJSON(w, http.StatusOK, syncResponse{Success: true, Result: result})
}
