// Package calil はカーリルAPI連携機能を提供する。
// 位置情報による図書館検索と、セッション継続を伴う蔵書・貸出状況の検索を含む。
package calil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	// defaultEndpoint はカーリルAPIのエンドポイント。
	defaultEndpoint = "https://api.calil.jp"
	// maxResponseSize はレスポンスボディの最大サイズ。
	maxResponseSize = 2 << 20
)

// Config はカーリルAPIクライアントの設定パラメータ。
type Config struct {
	// AppKey はカーリルAPIのアプリケーションキー。
	AppKey string
	// PollInterval は蔵書検索の再問い合わせ間隔（デフォルト: 2秒）。
	PollInterval time.Duration
	// CheckTimeout は1回の蔵書検索全体の制限時間（デフォルト: 40秒）。
	CheckTimeout time.Duration
	// MaxPolls は再問い合わせの最大回数（デフォルト: 15）。
	MaxPolls int
	// RequestsPerSecond はAPI呼び出しの最大レート。0以下の場合は制限しない。
	RequestsPerSecond float64
	// CacheTTL は完了した蔵書検索結果のキャッシュ保持期間（デフォルト: 5分）。
	CacheTTL time.Duration
}

// DefaultConfig はデフォルトのクライアント設定を返す。
func DefaultConfig() Config {
	return Config{
		PollInterval:      2 * time.Second,
		CheckTimeout:      40 * time.Second,
		MaxPolls:          15,
		RequestsPerSecond: 2,
		CacheTTL:          5 * time.Minute,
	}
}

// ResultCache は完了した蔵書検索結果のキャッシュ。
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Client はカーリルAPIのクライアント。
// 図書館検索と蔵書検索で1つのレートリミッターを共有する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	config     Config
	limiter    *rate.Limiter
	cache      ResultCache
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
// cacheがnilの場合は蔵書検索結果をキャッシュしない。
func NewClient(httpClient *http.Client, logger *slog.Logger, config Config, cache ResultCache) *Client {
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}
	if config.MaxPolls <= 0 {
		config.MaxPolls = DefaultConfig().MaxPolls
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = DefaultConfig().CheckTimeout
	}

	return &Client{
		httpClient: httpClient,
		logger:     logger,
		config:     config,
		limiter:    rate.NewLimiter(limit, 1),
		cache:      cache,
		endpoint:   defaultEndpoint,
	}
}

// getJSON はレート制限を守りながらGETリクエストを送信し、JSONをデコードする。
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("レート制限の待機が中断されました: %w", err)
	}

	reqURL := c.endpoint + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", "Libfinder/1.0 LINE Bot")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("カーリルAPIの呼び出しに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("カーリルAPIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("カーリルAPIがエラーステータスを返しました",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("カーリルAPIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	c.logger.Debug("カーリルAPIの応答",
		slog.String("path", path),
		slog.String("body", string(body)),
	)

	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Error("カーリルAPIのレスポンスのパースに失敗しました",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	return nil
}
