// Package leetcode はLeetCode GraphQL APIのクライアントを提供する。
// 再試行・レート制御・サーキットブレーカーを備え、提出一覧・問題詳細・提出詳細・プロフィールを取得する。
package leetcode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"golang.org/x/time/rate"

	"github.com/hitoshi/leetsync/internal/metrics"
)

const (
	// DefaultEndpoint はLeetCode GraphQL APIのエンドポイント。
	DefaultEndpoint = "https://leetcode.com/graphql"
	// maxResponseSize はレスポンスボディの最大サイズ。
	maxResponseSize = 5 * 1024 * 1024
	// maxRedirects はリダイレクトの最大回数。
	maxRedirects = 5
	// breakerName はサーキットブレーカーの名前。
	breakerName = "leetcode-graphql"

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// Config はClientの設定。
type Config struct {
	Endpoint     string
	Timeout      time.Duration // 1リクエストあたりのタイムアウト
	MaxRetries   int           // 通信エラー・429時の追加再試行回数
	Backoff      time.Duration // 再試行間隔の基準値。n回目の再試行は n*Backoff 待つ
	MaxRetryWait time.Duration // Retry-Afterに従って待つ時間の上限
	RatePerSec   float64       // 0以下の場合は無制限
}

// DefaultConfig はデフォルトの設定を返す。
func DefaultConfig() Config {
	return Config{
		Endpoint:     DefaultEndpoint,
		Timeout:      10 * time.Second,
		MaxRetries:   2,
		Backoff:      time.Second,
		MaxRetryWait: 30 * time.Second,
		RatePerSec:   2,
	}
}

// RequestOptions はリクエスト単位で付与するヘッダー。
type RequestOptions struct {
	Referer   string
	Session   string // LEETCODE_SESSION クッキー
	CSRFToken string
}

// Client はLeetCode GraphQL APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	endpoint   string // テスト用にエンドポイントを差し替え可能
	maxRetries int
	backoff    time.Duration
	maxWait    time.Duration
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[json.RawMessage]
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient はClientの新しいインスタンスを生成する。
// mcがnilの場合はメトリクスを記録しない。
func NewClient(cfg Config, logger *slog.Logger, mc metrics.MetricsCollector) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.MaxRetryWait <= 0 {
		cfg.MaxRetryWait = 30 * time.Second
	}
	if mc == nil {
		mc = metrics.Nop{}
	}

	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}

	logger = logger.With("adapter", "leetcode")

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("リダイレクトが上限（%d回）を超えました", maxRedirects)
				}
				return nil
			},
		},
		logger:     logger,
		metrics:    mc,
		endpoint:   cfg.Endpoint,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		maxWait:    cfg.MaxRetryWait,
		limiter:    rate.NewLimiter(limit, 1),
		sleep:      sleepContext,
	}

	c.breaker = gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var e *Error
			if errors.As(err, &e) {
				return !e.countsAsFailure()
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("サーキットブレーカーの状態が変化しました",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			mc.RecordBreakerState(name, to == gobreaker.StateOpen)
		},
	})

	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type graphQLRequest struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors gqlerror.List   `json:"errors"`
}

// Query はGraphQLクエリを送信し、レスポンスの data オブジェクトを返す。
// 通信エラーとHTTP 429は最大 MaxRetries 回まで再試行する。
// レスポンスに errors 配列が含まれる場合は最初のメッセージを持つ KindGraphQL エラーを返す。
func (c *Client) Query(ctx context.Context, query string, variables map[string]any, opts RequestOptions) (json.RawMessage, error) {
	opName, err := OperationName(query)
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Operation: "unknown", Message: err.Error(), Err: err}
	}

	var lastErr *Error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.retryWait(attempt, lastErr.RetryAfter)
			c.metrics.RecordUpstreamRetry(opName)
			c.logger.Warn("LeetCode APIの呼び出しを再試行します",
				slog.String("operation", opName),
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
				slog.String("reason", string(lastErr.Kind)),
			)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		data, err := c.execute(ctx, opName, query, variables, opts)
		if err == nil {
			return data, nil
		}

		var e *Error
		if !errors.As(err, &e) {
			return nil, err
		}
		lastErr = e
		if !e.retryable() || ctx.Err() != nil {
			break
		}
	}

	return nil, lastErr
}

// retryWait はattempt回目の再試行までの待機時間を返す。
// Retry-Afterが線形バックオフより長い場合はそれに従うが、maxWaitを超えない。
func (c *Client) retryWait(attempt int, retryAfter time.Duration) time.Duration {
	wait := time.Duration(attempt) * c.backoff
	if retryAfter > wait {
		wait = min(retryAfter, max(c.maxWait, wait))
	}
	return wait
}

// execute はレート制御とサーキットブレーカーを通して1回のリクエストを実行する。
func (c *Client) execute(ctx context.Context, opName, query string, variables map[string]any, opts RequestOptions) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	data, err := c.breaker.Execute(func() (json.RawMessage, error) {
		return c.do(ctx, opName, query, variables, opts)
	})
	duration := time.Since(start)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.metrics.RecordUpstreamRequest(opName, string(KindUnavailable), duration)
		return nil, &Error{
			Kind:      KindUnavailable,
			Operation: opName,
			Message:   "サーキットブレーカーが開いているためリクエストを送信しませんでした",
			Err:       err,
		}
	}
	if err != nil {
		outcome := "error"
		if kind, ok := KindOf(err); ok {
			outcome = string(kind)
		}
		c.metrics.RecordUpstreamRequest(opName, outcome, duration)
		return nil, err
	}

	c.metrics.RecordUpstreamRequest(opName, "success", duration)
	return data, nil
}

// do はHTTPリクエストを1回送信し、レスポンスを解釈する。
func (c *Client) do(ctx context.Context, opName, query string, variables map[string]any, opts RequestOptions) (json.RawMessage, error) {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: variables, OperationName: opName})
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Operation: opName, Message: "リクエストのエンコードに失敗しました", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Operation: opName, Message: "HTTPリクエストの作成に失敗しました", Err: err}
	}
	setHeaders(req, opts)

	c.logger.Debug("LeetCode GraphQLリクエストを送信します",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.String("operation", opName),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("LeetCode APIの呼び出しに失敗しました",
			slog.String("operation", opName),
			slog.String("error", err.Error()),
			slog.Any("headers", redactHeaders(req.Header)),
		)
		return nil, &Error{Kind: KindNetwork, Operation: opName, Message: describeNetworkError(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.logger.Warn("LeetCode APIのレート制限に達しました",
			slog.String("operation", opName),
			slog.String("retry_after", resp.Header.Get("Retry-After")),
		)
		return nil, &Error{
			Kind:       KindRateLimited,
			Operation:  opName,
			StatusCode: resp.StatusCode,
			Message:    "レート制限に達しました",
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("LeetCode APIがエラーステータスを返しました",
			slog.String("operation", opName),
			slog.Int("http_status", resp.StatusCode),
			slog.Any("headers", redactHeaders(req.Header)),
		)
		return nil, &Error{
			Kind:       KindHTTPStatus,
			Operation:  opName,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("LeetCode APIがステータス %d を返しました", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Operation: opName, Message: "レスポンスボディの読み取りに失敗しました", Err: err}
	}

	var envelope graphQLResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.logger.Error("LeetCode APIのレスポンスのパースに失敗しました",
			slog.String("operation", opName),
			slog.String("error", err.Error()),
		)
		return nil, &Error{Kind: KindMalformed, Operation: opName, Message: "レスポンスJSONのパースに失敗しました", Err: err}
	}

	if len(envelope.Errors) > 0 {
		first := envelope.Errors[0]
		c.logger.Warn("LeetCode APIがGraphQLエラーを返しました",
			slog.String("operation", opName),
			slog.String("message", first.Message),
			slog.Int("error_count", len(envelope.Errors)),
		)
		return nil, &Error{Kind: KindGraphQL, Operation: opName, Message: first.Message, Err: first}
	}

	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil, &Error{Kind: KindMalformed, Operation: opName, Message: "レスポンスに data が含まれていません"}
	}

	return envelope.Data, nil
}

// setHeaders はブラウザ相当のヘッダーと認証情報を付与する。
func setHeaders(req *http.Request, opts RequestOptions) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://leetcode.com")

	referer := opts.Referer
	if referer == "" {
		referer = "https://leetcode.com/"
	}
	req.Header.Set("Referer", referer)

	var cookies []string
	if opts.Session != "" {
		cookies = append(cookies, "LEETCODE_SESSION="+opts.Session)
	}
	if opts.CSRFToken != "" {
		cookies = append(cookies, "csrftoken="+opts.CSRFToken)
		req.Header.Set("x-csrftoken", opts.CSRFToken)
	}
	if len(cookies) > 0 {
		req.Header.Set("Cookie", strings.Join(cookies, "; "))
	}
}

// redactHeaders はログ出力用に認証情報を伏せたヘッダーを返す。
func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		switch http.CanonicalHeaderKey(k) {
		case "Cookie", "X-Csrftoken", "Authorization":
			out[k] = "[REDACTED]"
		default:
			out[k] = h.Get(k)
		}
	}
	return out
}

// describeNetworkError は通信エラーを短い説明に変換する。
func describeNetworkError(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err.Error()
	}
	return err.Error()
}

// parseRetryAfter はRetry-Afterヘッダー（秒数）を解釈する。解釈できない場合は0。
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
