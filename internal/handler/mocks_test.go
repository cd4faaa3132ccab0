package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/leetsync/internal/middleware"
	"github.com/hitoshi/leetsync/internal/model"
	"github.com/hitoshi/leetsync/internal/repository"
	"github.com/hitoshi/leetsync/internal/solution"
	"github.com/hitoshi/leetsync/internal/tracking"
	"github.com/hitoshi/leetsync/internal/worker/scheduler"
	"github.com/hitoshi/leetsync/internal/worker/syncer"
)

// --- モック定義 ---

type mockTrackedUserService struct {
	addFn           func(ctx context.Context, authUserID string, in tracking.AddInput) (*model.TrackedUser, error)
	getFn           func(ctx context.Context, authUserID, username string) (*model.TrackedUser, error)
	listFn          func(ctx context.Context, authUserID string) ([]*model.TrackedUser, error)
	removeFn        func(ctx context.Context, authUserID, username string) error
	updateSessionFn func(ctx context.Context, authUserID, username, session, csrfToken string) error
	touchFn         func(ctx context.Context, authUserID, username string) error
}

func (m *mockTrackedUserService) Add(ctx context.Context, authUserID string, in tracking.AddInput) (*model.TrackedUser, error) {
	return m.addFn(ctx, authUserID, in)
}

func (m *mockTrackedUserService) Get(ctx context.Context, authUserID, username string) (*model.TrackedUser, error) {
	return m.getFn(ctx, authUserID, username)
}

func (m *mockTrackedUserService) List(ctx context.Context, authUserID string) ([]*model.TrackedUser, error) {
	return m.listFn(ctx, authUserID)
}

func (m *mockTrackedUserService) Remove(ctx context.Context, authUserID, username string) error {
	return m.removeFn(ctx, authUserID, username)
}

func (m *mockTrackedUserService) UpdateSession(ctx context.Context, authUserID, username, session, csrfToken string) error {
	return m.updateSessionFn(ctx, authUserID, username, session, csrfToken)
}

func (m *mockTrackedUserService) Touch(ctx context.Context, authUserID, username string) error {
	if m.touchFn == nil {
		return nil
	}
	return m.touchFn(ctx, authUserID, username)
}

type mockUserSyncer struct {
	syncFn    func(ctx context.Context, username, authUserID string) (syncer.SyncResult, error)
	refreshFn func(ctx context.Context, username, authUserID string) error
}

func (m *mockUserSyncer) SyncUserSolutions(ctx context.Context, username, authUserID string) (syncer.SyncResult, error) {
	return m.syncFn(ctx, username, authUserID)
}

func (m *mockUserSyncer) RefreshProfile(ctx context.Context, username, authUserID string) error {
	if m.refreshFn == nil {
		return nil
	}
	return m.refreshFn(ctx, username, authUserID)
}

type mockSolutionService struct {
	getFn  func(ctx context.Context, authUserID, submissionID, usernameHint string) (solution.FetchResult, error)
	listFn func(ctx context.Context, filter repository.SolutionFilter) ([]*model.Solution, error)
}

func (m *mockSolutionService) Get(ctx context.Context, authUserID, submissionID, usernameHint string) (solution.FetchResult, error) {
	return m.getFn(ctx, authUserID, submissionID, usernameHint)
}

func (m *mockSolutionService) List(ctx context.Context, filter repository.SolutionFilter) ([]*model.Solution, error) {
	return m.listFn(ctx, filter)
}

type mockBatchRunner struct {
	runFn func(ctx context.Context) (scheduler.BatchReport, error)
}

func (m *mockBatchRunner) RunBatch(ctx context.Context) (scheduler.BatchReport, error) {
	return m.runFn(ctx)
}

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}

// --- テストヘルパー ---

var testJWT = middleware.JWTConfig{Secret: []byte("handler-test-secret"), Issuer: "leetsync"}

// testRouterDeps は全依存をモックで埋めたRouterDepsを返す。
// 各テストは必要な関数フィールドだけを差し替える。
func testRouterDeps(t *testing.T) *RouterDeps {
	t.Helper()

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	return &RouterDeps{
		JWT:               testJWT,
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		DB:                &mockPinger{},
		TrackedUsers:      &mockTrackedUserService{},
		Syncer:            &mockUserSyncer{},
		Solutions:         &mockSolutionService{},
		Batch:             &mockBatchRunner{},
	}
}

// doRequest はaccountの署名付きトークンでリクエストを送る。accountが空ならトークンを付けない。
func doRequest(t *testing.T, h http.Handler, method, path, body, account string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if account != "" {
		token, err := middleware.IssueToken(testJWT, account, time.Hour)
		if err != nil {
			t.Fatalf("failed to issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}
