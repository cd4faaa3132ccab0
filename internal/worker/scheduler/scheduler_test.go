package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/leetsync/internal/model"
	"github.com/hitoshi/leetsync/internal/worker/syncer"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

type fakePinger struct {
	calls atomic.Int32
	err   error
}

func (p *fakePinger) PingContext(ctx context.Context) error {
	p.calls.Add(1)
	return p.err
}

type recordedResult struct {
	id     string
	status model.SyncStatus
	errMsg string
}

type mockProfileStore struct {
	mu       sync.Mutex
	profiles []*model.Profile
	listErr  error
	cutoffs  []time.Time
	results  []recordedResult
}

func (m *mockProfileStore) ListDueForAutoSync(ctx context.Context, cutoff time.Time) ([]*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoffs = append(m.cutoffs, cutoff)
	return m.profiles, m.listErr
}

func (m *mockProfileStore) RecordSyncResult(ctx context.Context, id string, status model.SyncStatus, errMsg string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, recordedResult{id: id, status: status, errMsg: errMsg})
	return nil
}

type mockSyncer struct {
	syncFn    func(ctx context.Context, username string) (syncer.SyncResult, error)
	refreshed []string
}

func (m *mockSyncer) SyncUserSolutions(ctx context.Context, username, authUserID string) (syncer.SyncResult, error) {
	if m.syncFn == nil {
		return syncer.SyncResult{SavedCount: 1, TotalProcessed: 1}, nil
	}
	return m.syncFn(ctx, username)
}

func (m *mockSyncer) RefreshProfile(ctx context.Context, username, authUserID string) error {
	m.refreshed = append(m.refreshed, username)
	return nil
}

type mockLocker struct {
	held     bool
	released int
	err      error
}

func (l *mockLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return func(context.Context) error {
		l.held = false
		l.released++
		return nil
	}, true, nil
}

var fixedNow = time.Date(2026, 5, 1, 2, 0, 0, 0, time.UTC)

func newTestScheduler(buf *bytes.Buffer, db *fakePinger, store *mockProfileStore, s *mockSyncer, locker Locker) (*Scheduler, *[]time.Duration) {
	cfg := DefaultConfig()
	cfg.PingBackoff = 0
	var sleeps []time.Duration
	sch := New(db, store, s, locker, nil, newTestLogger(buf), cfg)
	sch.now = func() time.Time { return fixedNow }
	sch.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return sch, &sleeps
}

func profiles(names ...string) []*model.Profile {
	out := make([]*model.Profile, 0, len(names))
	for _, n := range names {
		out = append(out, &model.Profile{ID: "p-" + n, AuthUserID: "acct-1", Username: n, NormalizedUsername: n, AutoSync: true})
	}
	return out
}

func TestRunBatch_SyncsEveryDueProfile(t *testing.T) {
	var buf bytes.Buffer
	store := &mockProfileStore{profiles: profiles("alice", "bob", "carol")}
	s := &mockSyncer{}
	sch, sleeps := newTestScheduler(&buf, &fakePinger{}, store, s, nil)

	report, err := sch.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch がエラーを返した: %v", err)
	}

	if report.Succeeded != 3 || report.Failed != 0 {
		t.Errorf("Succeeded/Failed = %d/%d, want 3/0", report.Succeeded, report.Failed)
	}
	if len(store.results) != 3 {
		t.Fatalf("記録された同期結果 = %d件, want 3", len(store.results))
	}
	for _, r := range store.results {
		if r.status != model.SyncStatusSuccess || r.errMsg != "" {
			t.Errorf("同期結果 = %+v, want success", r)
		}
	}
	if got := *sleeps; len(got) != 2 || got[0] != 5*time.Second {
		t.Errorf("待機 = %v, want [5s 5s]", got)
	}
	if len(s.refreshed) != 3 {
		t.Errorf("統計の更新 = %d件, want 3", len(s.refreshed))
	}

	wantCutoff := fixedNow.Add(-23 * time.Hour)
	if !store.cutoffs[0].Equal(wantCutoff) {
		t.Errorf("cutoff = %v, want %v", store.cutoffs[0], wantCutoff)
	}
	if sch.Running() {
		t.Error("完了後も実行中フラグが残っている")
	}
}

func TestRunBatch_ContinuesAfterProfileFailure(t *testing.T) {
	var buf bytes.Buffer
	store := &mockProfileStore{profiles: profiles("alice", "bob", "carol")}
	s := &mockSyncer{syncFn: func(ctx context.Context, username string) (syncer.SyncResult, error) {
		if username == "bob" {
			return syncer.SyncResult{}, errors.New("upstream exploded")
		}
		return syncer.SyncResult{}, nil
	}}
	sch, _ := newTestScheduler(&buf, &fakePinger{}, store, s, nil)

	report, err := sch.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch がエラーを返した: %v", err)
	}
	if report.Succeeded != 2 || report.Failed != 1 {
		t.Errorf("Succeeded/Failed = %d/%d, want 2/1", report.Succeeded, report.Failed)
	}

	bob := store.results[1]
	if bob.id != "p-bob" || bob.status != model.SyncStatusFailed {
		t.Errorf("bob の同期結果 = %+v, want failed", bob)
	}
	if !strings.Contains(bob.errMsg, "upstream exploded") {
		t.Errorf("errMsg = %q, エラー内容を含むべき", bob.errMsg)
	}
	if report.Profiles[1].Error == "" {
		t.Error("レポートに失敗理由が含まれていない")
	}
}

func TestRunBatch_ReturnsImmediatelyWhenAlreadyRunning(t *testing.T) {
	var buf bytes.Buffer
	db := &fakePinger{}
	store := &mockProfileStore{profiles: profiles("alice")}
	entered := make(chan struct{})
	release := make(chan struct{})
	s := &mockSyncer{syncFn: func(ctx context.Context, username string) (syncer.SyncResult, error) {
		close(entered)
		<-release
		return syncer.SyncResult{}, nil
	}}
	sch, _ := newTestScheduler(&buf, db, store, s, nil)

	done := make(chan error, 1)
	go func() {
		_, err := sch.RunBatch(context.Background())
		done <- err
	}()
	<-entered

	pings := db.calls.Load()
	_, err := sch.RunBatch(context.Background())
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("2回目の RunBatch = %v, want ErrAlreadyRunning", err)
	}
	if db.calls.Load() != pings {
		t.Error("実行中のバッチがある場合はデータベースに触れてはならない")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("1回目の RunBatch がエラーを返した: %v", err)
	}
	if sch.Running() {
		t.Error("完了後も実行中フラグが残っている")
	}
}

func TestRunBatch_DatabaseUnreachable(t *testing.T) {
	var buf bytes.Buffer
	db := &fakePinger{err: errors.New("connection refused")}
	store := &mockProfileStore{profiles: profiles("alice")}
	sch, _ := newTestScheduler(&buf, db, store, &mockSyncer{}, nil)

	_, err := sch.RunBatch(context.Background())
	if err == nil {
		t.Fatal("データベースに接続できない場合はエラーを返すべき")
	}
	if got := db.calls.Load(); got != 3 {
		t.Errorf("Ping回数 = %d, want 3", got)
	}
	if len(store.cutoffs) != 0 {
		t.Error("接続できない場合はプロフィールを取得してはならない")
	}
	if sch.Running() {
		t.Error("失敗後も実行中フラグが残っている")
	}

	// フラグが解除されていれば次回は実行できる
	db.err = nil
	if _, err := sch.RunBatch(context.Background()); err != nil {
		t.Errorf("再実行に失敗: %v", err)
	}
}

func TestRunBatch_ListFailureClearsFlag(t *testing.T) {
	var buf bytes.Buffer
	store := &mockProfileStore{listErr: errors.New("query failed")}
	sch, _ := newTestScheduler(&buf, &fakePinger{}, store, &mockSyncer{}, nil)

	if _, err := sch.RunBatch(context.Background()); err == nil {
		t.Fatal("一覧取得の失敗はエラーとして返すべき")
	}
	if sch.Running() {
		t.Error("失敗後も実行中フラグが残っている")
	}
}

func TestRunBatch_SkipsWhenLockHeldElsewhere(t *testing.T) {
	var buf bytes.Buffer
	store := &mockProfileStore{profiles: profiles("alice")}
	locker := &mockLocker{held: true}
	sch, _ := newTestScheduler(&buf, &fakePinger{}, store, &mockSyncer{}, locker)

	_, err := sch.RunBatch(context.Background())
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("RunBatch = %v, want ErrAlreadyRunning", err)
	}
	if len(store.cutoffs) != 0 {
		t.Error("ロックを取得できない場合はプロフィールを取得してはならない")
	}
}

func TestRunBatch_ReleasesLock(t *testing.T) {
	var buf bytes.Buffer
	store := &mockProfileStore{profiles: profiles("alice")}
	locker := &mockLocker{}
	sch, _ := newTestScheduler(&buf, &fakePinger{}, store, &mockSyncer{}, locker)

	if _, err := sch.RunBatch(context.Background()); err != nil {
		t.Fatalf("RunBatch がエラーを返した: %v", err)
	}
	if locker.held || locker.released != 1 {
		t.Errorf("ロックが解放されていない: held=%v released=%d", locker.held, locker.released)
	}
}

func TestRunBatch_LockErrorContinuesWithoutLock(t *testing.T) {
	var buf bytes.Buffer
	store := &mockProfileStore{profiles: profiles("alice", "bob")}
	locker := &mockLocker{err: errors.New("dial tcp: connection refused")}
	sch, _ := newTestScheduler(&buf, &fakePinger{}, store, &mockSyncer{}, locker)

	report, err := sch.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("ロック取得の失敗でバッチを中止してはならない: %v", err)
	}
	if report.Succeeded != 2 {
		t.Errorf("Succeeded = %d, want 2", report.Succeeded)
	}
	if len(store.results) != 2 {
		t.Errorf("記録件数 = %d, want 2", len(store.results))
	}
	if !strings.Contains(buf.String(), "ロックなしで続行します") {
		t.Errorf("ロック失敗の警告ログが出力されていない: %s", buf.String())
	}
	if sch.Running() {
		t.Error("完了後も実行中フラグが残っている")
	}
}

func TestRunBatch_IndependentInstances(t *testing.T) {
	var buf bytes.Buffer
	a, _ := newTestScheduler(&buf, &fakePinger{}, &mockProfileStore{}, &mockSyncer{}, nil)
	b, _ := newTestScheduler(&buf, &fakePinger{}, &mockProfileStore{}, &mockSyncer{}, nil)

	a.running.Store(true)
	if _, err := b.RunBatch(context.Background()); err != nil {
		t.Errorf("別インスタンスの実行中フラグに影響されてはならない: %v", err)
	}
}
