package database

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestOpen_ReturnsDBForAnyURL はsql.Openは接続を試行しないため、
// 不正なURLでもDBオブジェクトが返ることを検証する。
func TestOpen_ReturnsDBForAnyURL(t *testing.T) {
	db, err := Open("postgres://invalid")
	if err != nil {
		t.Fatalf("Open returned unexpected error: %v", err)
	}
	if db == nil {
		t.Fatal("expected non-nil db")
	}
	defer db.Close()
}

type fakePinger struct {
	failures int
	calls    int
}

func (f *fakePinger) PingContext(ctx context.Context) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection refused")
	}
	return nil
}

func TestEnsureConnected_RetriesUntilSuccess(t *testing.T) {
	p := &fakePinger{failures: 2}

	if err := EnsureConnected(context.Background(), p, 3, time.Millisecond); err != nil {
		t.Fatalf("EnsureConnected returned error: %v", err)
	}
	if p.calls != 3 {
		t.Errorf("ping calls = %d, want 3", p.calls)
	}
}

func TestEnsureConnected_GivesUp(t *testing.T) {
	p := &fakePinger{failures: 10}

	err := EnsureConnected(context.Background(), p, 2, time.Millisecond)
	if err == nil {
		t.Fatal("全試行失敗時はエラーを返すべき")
	}
	if p.calls != 2 {
		t.Errorf("ping calls = %d, want 2", p.calls)
	}
}

func TestEnsureConnected_ContextCanceled(t *testing.T) {
	p := &fakePinger{failures: 10}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := EnsureConnected(ctx, p, 3, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
