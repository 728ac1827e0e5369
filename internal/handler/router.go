package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/libfinder/internal/metrics"
	"github.com/hitoshi/libfinder/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// Webhook
	Webhook     WebhookConfig
	Dispatcher  EventDispatcher
	Metrics     metrics.MetricsCollector
	RateLimiter *middleware.RateLimiter

	// ヘルスチェック
	DB Pinger
	// Cache がnilの場合はキャッシュの状態を返さない
	Cache CachePinger

	// Gatherer がnilの場合は/metricsを公開しない
	Gatherer prometheus.Gatherer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery
//
// /webhook にはさらに接続元アドレスごとのレート制限を適用する。
// X-Forwarded-For などのヘッダーはレート制限のキーに使わない。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))

	webhookHandler := NewWebhookHandler(deps.Webhook, deps.Dispatcher, deps.Metrics, deps.Logger)
	healthHandler := NewHealthHandler(deps.DB, deps.Logger)
	if deps.Cache != nil {
		healthHandler.WithCache(deps.Cache)
	}

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Post("/webhook", webhookHandler.HandleWebhook)
	})

	r.Get("/health", healthHandler.HandleHealth)

	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	return r
}
