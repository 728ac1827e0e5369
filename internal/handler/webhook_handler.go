package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/libfinder/internal/line"
	"github.com/hitoshi/libfinder/internal/metrics"
	"github.com/hitoshi/libfinder/internal/middleware"
)

// DefaultMaxBodySize はWebhookリクエストボディの上限（1MiB）。
const DefaultMaxBodySize = 1 << 20

// EventDispatcher はWebhookイベントを1件ずつ処理するインターフェース。
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev line.Event) error
}

// WebhookConfig はWebhookハンドラーの設定。
type WebhookConfig struct {
	ChannelSecret string
	// Timeout は1回の配信を処理する時間の上限。
	// クライアントとの接続が切れても処理は継続し、この時間で打ち切る。
	Timeout     time.Duration
	MaxBodySize int64
}

// WebhookHandler はLINEプラットフォームからのWebhookを受け付けるHTTPハンドラー。
type WebhookHandler struct {
	channelSecret []byte
	timeout       time.Duration
	maxBodySize   int64
	dispatcher    EventDispatcher
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
}

// NewWebhookHandler はWebhookHandlerを生成する。
func NewWebhookHandler(config WebhookConfig, dispatcher EventDispatcher, m metrics.MetricsCollector, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	maxBodySize := config.MaxBodySize
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	return &WebhookHandler{
		channelSecret: []byte(config.ChannelSecret),
		timeout:       config.Timeout,
		maxBodySize:   maxBodySize,
		dispatcher:    dispatcher,
		metrics:       m,
		logger:        logger,
	}
}

// HandleWebhook は署名を検証し、配信に含まれるイベントを順番に処理する。
// POST /webhook
//
// 署名が不正な配信は1件も処理せずに403を返す。
// 個々のイベントの失敗は配信全体の結果に影響せず、200を返す。
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.RequestIDFromContext(r.Context())

	// 署名は受信したバイト列そのものに対して検証する
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.logger.Warn("Webhookボディが上限を超えています",
				slog.Int64("limit", maxErr.Limit),
				slog.String("request_id", requestID),
			)
			h.respond(w, http.StatusRequestEntityTooLarge)
			return
		}
		h.logger.Warn("Webhookボディの読み取りに失敗しました",
			slog.String("error", err.Error()),
			slog.String("request_id", requestID),
		)
		h.respond(w, http.StatusBadRequest)
		return
	}

	if !line.VerifySignature(h.channelSecret, body, r.Header.Get(line.SignatureHeader)) {
		h.logger.Warn("Webhookの署名検証に失敗しました",
			slog.String("request_id", requestID),
		)
		h.respond(w, http.StatusForbidden)
		return
	}

	var payload line.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.logger.Warn("Webhookボディの解析に失敗しました",
			slog.String("error", err.Error()),
			slog.String("request_id", requestID),
		)
		h.respond(w, http.StatusBadRequest)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	failed := 0
	for _, ev := range payload.Events {
		if err := h.dispatcher.Dispatch(ctx, ev); err != nil {
			failed++
		}
	}

	h.logger.Info("Webhookを処理しました",
		slog.Int("events", len(payload.Events)),
		slog.Int("failed", failed),
		slog.String("request_id", requestID),
	)
	h.respond(w, http.StatusOK)
}

func (h *WebhookHandler) respond(w http.ResponseWriter, statusCode int) {
	if h.metrics != nil {
		h.metrics.RecordDelivery(statusCode)
	}
	middleware.WriteEmptyJSON(w, statusCode)
}
