package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/libfinder/internal/middleware"
)

// healthCheckTimeout はヘルスチェックでのDB疎通確認の上限時間。
const healthCheckTimeout = 3 * time.Second

// Pinger は疎通確認が可能な依存先（*sql.DBなど）のインターフェース。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// CachePinger は蔵書検索結果キャッシュの疎通確認インターフェース。
type CachePinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
type HealthHandler struct {
	db     Pinger
	cache  CachePinger
	logger *slog.Logger
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(db Pinger, logger *slog.Logger) *HealthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthHandler{db: db, logger: logger}
}

// WithCache はキャッシュの疎通確認を追加する。
// キャッシュは任意の依存のため、接続できなくても503にはしない。
func (h *HealthHandler) WithCache(cache CachePinger) *HealthHandler {
	h.cache = cache
	return h
}

// HandleHealth はDBへの疎通を確認して結果を返す。
// キャッシュが設定されている場合はその状態も"cache"に含める。
// GET /health
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		h.logger.Error("ヘルスチェックに失敗しました",
			slog.String("error", err.Error()),
		)
		middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}

	body := map[string]string{"status": "ok"}
	if h.cache != nil {
		body["cache"] = "ok"
		if err := h.cache.Ping(ctx); err != nil {
			h.logger.Warn("キャッシュに接続できません",
				slog.String("error", err.Error()),
			)
			body["cache"] = "unavailable"
		}
	}

	middleware.WriteJSON(w, http.StatusOK, body)
}
