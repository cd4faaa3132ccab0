package credential

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hitoshi/leetsync/internal/model"
)

type mockFinder struct {
	findFn func(ctx context.Context, normalizedUsername string) (*model.TrackedUser, error)
	calls  []string
}

func (m *mockFinder) FindLatestWithSession(ctx context.Context, normalizedUsername string) (*model.TrackedUser, error) {
	m.calls = append(m.calls, normalizedUsername)
	return m.findFn(ctx, normalizedUsername)
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func TestResolver_TrackedOverrideWins(t *testing.T) {
	finder := &mockFinder{findFn: func(ctx context.Context, u string) (*model.TrackedUser, error) {
		return &model.TrackedUser{NormalizedUsername: u, LeetCodeSession: "user-sess", LeetCodeCSRFToken: "user-csrf"}, nil
	}}
	var buf bytes.Buffer
	r := NewResolver(newTestLogger(&buf),
		NewTrackedOverrideProvider(finder),
		NewStaticProvider("default-sess", "default-csrf"),
	)

	creds := r.Resolve(context.Background(), "  Alice ")

	assert.Equal(t, SourceTrackedOverride, creds.Source)
	assert.Equal(t, "user-sess", creds.SessionToken)
	assert.Equal(t, "user-csrf", creds.CSRFToken)
	assert.Equal(t, "alice", creds.ResolvedUsername)
	assert.Equal(t, []string{"alice"}, finder.calls, "正規化したユーザー名で検索する")
}

func TestResolver_FallsBackToProcessDefault(t *testing.T) {
	finder := &mockFinder{findFn: func(ctx context.Context, u string) (*model.TrackedUser, error) {
		return nil, nil
	}}
	var buf bytes.Buffer
	r := NewResolver(newTestLogger(&buf),
		NewTrackedOverrideProvider(finder),
		NewStaticProvider("default-sess", "default-csrf"),
	)

	creds := r.Resolve(context.Background(), "bob")

	assert.Equal(t, SourceProcessDefault, creds.Source)
	assert.Equal(t, "default-sess", creds.SessionToken)
}

func TestResolver_NoUsernameSkipsTrackedLookup(t *testing.T) {
	finder := &mockFinder{findFn: func(ctx context.Context, u string) (*model.TrackedUser, error) {
		t.Error("ユーザー名が空の場合は検索してはならない")
		return nil, nil
	}}
	var buf bytes.Buffer
	r := NewResolver(newTestLogger(&buf),
		NewTrackedOverrideProvider(finder),
		NewStaticProvider("default-sess", ""),
	)

	creds := r.Resolve(context.Background(), "")

	assert.Equal(t, SourceProcessDefault, creds.Source)
}

func TestResolver_NoCredentials(t *testing.T) {
	finder := &mockFinder{findFn: func(ctx context.Context, u string) (*model.TrackedUser, error) {
		return &model.TrackedUser{NormalizedUsername: u}, nil
	}}
	var buf bytes.Buffer
	r := NewResolver(newTestLogger(&buf),
		NewTrackedOverrideProvider(finder),
		NewStaticProvider("", ""),
	)

	creds := r.Resolve(context.Background(), "Carol")

	assert.Equal(t, SourceNone, creds.Source)
	assert.Empty(t, creds.SessionToken)
	assert.Equal(t, "carol", creds.ResolvedUsername)
}

func TestResolver_ProviderErrorContinuesChain(t *testing.T) {
	finder := &mockFinder{findFn: func(ctx context.Context, u string) (*model.TrackedUser, error) {
		return nil, errors.New("db down")
	}}
	var buf bytes.Buffer
	r := NewResolver(newTestLogger(&buf),
		NewTrackedOverrideProvider(finder),
		NewStaticProvider("default-sess", "default-csrf"),
	)

	creds := r.Resolve(context.Background(), "dave")

	assert.Equal(t, SourceProcessDefault, creds.Source)
	assert.Contains(t, buf.String(), "db down")
}
