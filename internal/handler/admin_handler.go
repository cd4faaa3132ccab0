package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/leetsync/internal/database"
	"github.com/hitoshi/leetsync/internal/middleware"
	"github.com/hitoshi/leetsync/internal/model"
	"github.com/hitoshi/leetsync/internal/worker/scheduler"
)

// BatchRunner はバッチ同期を実行するインターフェース。
type BatchRunner interface {
	RunBatch(ctx context.Context) (scheduler.BatchReport, error)
}

// AdminHandler は手動バッチ同期のHTTPハンドラー。
type AdminHandler struct {
	runner     BatchRunner
	production bool
}

// NewAdminHandler はAdminHandlerを生成する。productionがtrueの場合は手動バッチを拒否する。
func NewAdminHandler(runner BatchRunner, production bool) *AdminHandler {
	return &AdminHandler{runner: runner, production: production}
}

type batchResponse struct {
	Success    bool                       `json:"success"`
	DurationMs int64                      `json:"durationMs"`
	Succeeded  int                        `json:"succeeded"`
	Failed     int                        `json:"failed"`
	Profiles   []scheduler.ProfileOutcome `json:"profiles"`
}

// RunSync はバッチ同期を即時に実行する。
// クライアントが切断しても開始したバッチは最後まで実行する。
// POST /api/admin/sync/run
func (h *AdminHandler) RunSync(w http.ResponseWriter, r *http.Request) {
	if h.production {
		handleServiceError(w, model.NewManualSyncDisabledError())
		return
	}

	report, err := h.runner.RunBatch(context.WithoutCancel(r.Context()))
	if errors.Is(err, scheduler.ErrAlreadyRunning) {
		handleServiceError(w, model.NewSyncInProgressError())
		return
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	profiles := report.Profiles
	if profiles == nil {
		profiles = []scheduler.ProfileOutcome{}
	}
	middleware.WriteJSON(w, http.StatusOK, batchResponse{
		Success:    true,
		DurationMs: report.Duration.Milliseconds(),
		Succeeded:  report.Succeeded,
		Failed:     report.Failed,
		Profiles:   profiles,
	})
}

// HealthHandler はヘルスチェックを返す。
func HealthHandler(db database.Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			slog.Warn("health check failed", slog.String("error", err.Error()))
			middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
