// Package credential はLeetCodeへ提示する認証情報（セッション・CSRFトークン）を解決する。
package credential

import (
	"context"
	"log/slog"

	"github.com/hitoshi/leetsync/internal/model"
)

// Source は認証情報の出所を表す。
type Source string

const (
	SourceTrackedOverride Source = "tracked-override"
	SourceProcessDefault  Source = "process-default"
	SourceNone            Source = "none"
)

// Credentials は解決された認証情報。
// Source が SourceNone の場合は未認証でリクエストする。
type Credentials struct {
	SessionToken     string
	CSRFToken        string
	Source           Source
	ResolvedUsername string
}

// Provider は認証情報の提供元。
// 該当する認証情報がない場合は ok=false を返す。
type Provider interface {
	Credentials(ctx context.Context, username string) (creds Credentials, ok bool, err error)
}

// Resolver は登録順にProviderを評価し、最初に得られた認証情報を返す。
type Resolver struct {
	providers []Provider
	logger    *slog.Logger
}

// NewResolver はResolverを生成する。providersは優先度の高い順に渡す。
func NewResolver(logger *slog.Logger, providers ...Provider) *Resolver {
	return &Resolver{providers: providers, logger: logger}
}

// Resolve はusernameに対して提示する認証情報を決定する。
// どのProviderからも得られない場合は Source=none の結果を返し、エラーにはしない。
// Providerのエラーはログに記録して次のProviderへ進む。
func (r *Resolver) Resolve(ctx context.Context, username string) Credentials {
	for _, p := range r.providers {
		creds, ok, err := p.Credentials(ctx, username)
		if err != nil {
			r.logger.Warn("認証情報の取得に失敗しました",
				slog.String("username", username),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok && creds.SessionToken != "" {
			return creds
		}
	}

	return Credentials{Source: SourceNone, ResolvedUsername: model.NormalizeUsername(username)}
}
