package handler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/libfinder/internal/line"
)

const testChannelSecret = "test-channel-secret"

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// --- モック ---

type mockDispatcher struct {
	mu         sync.Mutex
	events     []line.Event
	dispatchFn func(ctx context.Context, ev line.Event) error
}

func (m *mockDispatcher) Dispatch(ctx context.Context, ev line.Event) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	if m.dispatchFn != nil {
		return m.dispatchFn(ctx, ev)
	}
	return nil
}

func (m *mockDispatcher) dispatched() []line.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]line.Event{}, m.events...)
}

type mockMetrics struct {
	mu         sync.Mutex
	deliveries []int
}

func (m *mockMetrics) RecordDelivery(statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, statusCode)
}
func (m *mockMetrics) RecordEvent(string) {}
func (m *mockMetrics) RecordExternalCall(string, time.Duration, error) {}
func (m *mockMetrics) RecordAvailabilityPolls(int) {}
func (m *mockMetrics) RecordStateConflict() {}
func (m *mockMetrics) RecordCandidatesCleared(int64) {}

// --- テストヘルパー ---

const twoEventsBody = `{"destination":"U0","events":[` +
	`{"type":"follow","replyToken":"r1","source":{"type":"user","userId":"U1"}},` +
	`{"type":"message","replyToken":"r2","source":{"type":"user","userId":"U1"},"message":{"id":"1","type":"text","text":"やめる"}}` +
	`]}`

func newWebhookRequest(body, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(line.SignatureHeader, signature)
	}
	return req
}

func signed(body string) string {
	return line.Sign([]byte(testChannelSecret), []byte(body))
}

func newTestWebhookHandler(d EventDispatcher, m *mockMetrics, logs *bytes.Buffer) *WebhookHandler {
	return NewWebhookHandler(WebhookConfig{
		ChannelSecret: testChannelSecret,
		Timeout:       5 * time.Second,
	}, d, m, newTestLogger(logs))
}

func assertEmptyJSON(t *testing.T, w *httptest.ResponseRecorder, wantStatus int) {
	t.Helper()
	if w.Code != wantStatus {
		t.Errorf("status = %d, want %d", w.Code, wantStatus)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "{}" {
		t.Errorf("body = %q, want {}", body)
	}
}

// --- テスト ---

func TestHandleWebhook_DispatchesEventsInOrder(t *testing.T) {
	d := &mockDispatcher{}
	m := &mockMetrics{}
	h := newTestWebhookHandler(d, m, &bytes.Buffer{})

	w := httptest.NewRecorder()
	h.HandleWebhook(w, newWebhookRequest(twoEventsBody, signed(twoEventsBody)))

	assertEmptyJSON(t, w, http.StatusOK)

	events := d.dispatched()
	if len(events) != 2 {
		t.Fatalf("dispatched = %d, want 2", len(events))
	}
	if events[0].Type != line.EventTypeFollow || events[1].Type != line.EventTypeMessage {
		t.Errorf("イベントの処理順序が不正: %s, %s", events[0].Type, events[1].Type)
	}
	if events[1].Message.Text != "やめる" {
		t.Errorf("message text = %q", events[1].Message.Text)
	}
	if len(m.deliveries) != 1 || m.deliveries[0] != http.StatusOK {
		t.Errorf("deliveries = %v, want [200]", m.deliveries)
	}
}

func TestHandleWebhook_InvalidSignatureRejectsWholeDelivery(t *testing.T) {
	tests := []struct {
		name      string
		signature string
	}{
		{"署名なし", ""},
		{"別の鍵による署名", line.Sign([]byte("other-secret"), []byte(twoEventsBody))},
		{"Base64でない署名", "not base64!"},
		{"改ざん前の署名", signed(strings.Replace(twoEventsBody, "U1", "U2", 1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &mockDispatcher{}
			m := &mockMetrics{}
			var logs bytes.Buffer
			h := newTestWebhookHandler(d, m, &logs)

			w := httptest.NewRecorder()
			h.HandleWebhook(w, newWebhookRequest(twoEventsBody, tt.signature))

			assertEmptyJSON(t, w, http.StatusForbidden)
			if len(d.dispatched()) != 0 {
				t.Error("署名不正の配信はイベントを処理しないこと")
			}
			if len(m.deliveries) != 1 || m.deliveries[0] != http.StatusForbidden {
				t.Errorf("deliveries = %v, want [403]", m.deliveries)
			}
			if !strings.Contains(logs.String(), "署名検証に失敗しました") {
				t.Error("署名検証失敗のログが出力されていない")
			}
		})
	}
}

func TestHandleWebhook_InvalidJSONWithValidSignature(t *testing.T) {
	d := &mockDispatcher{}
	m := &mockMetrics{}
	h := newTestWebhookHandler(d, m, &bytes.Buffer{})

	body := `{"events": [`
	w := httptest.NewRecorder()
	h.HandleWebhook(w, newWebhookRequest(body, signed(body)))

	assertEmptyJSON(t, w, http.StatusBadRequest)
	if len(d.dispatched()) != 0 {
		t.Error("解析できない配信はイベントを処理しないこと")
	}
}

func TestHandleWebhook_EmptyEvents(t *testing.T) {
	d := &mockDispatcher{}
	h := newTestWebhookHandler(d, &mockMetrics{}, &bytes.Buffer{})

	// LINE Developersコンソールからの疎通確認は空のイベント配列で届く
	body := `{"destination":"U0","events":[]}`
	w := httptest.NewRecorder()
	h.HandleWebhook(w, newWebhookRequest(body, signed(body)))

	assertEmptyJSON(t, w, http.StatusOK)
}

func TestHandleWebhook_EventFailureDoesNotAbortDelivery(t *testing.T) {
	d := &mockDispatcher{
		dispatchFn: func(ctx context.Context, ev line.Event) error {
			if ev.Type == line.EventTypeFollow {
				return errors.New("db down")
			}
			return nil
		},
	}
	var logs bytes.Buffer
	h := newTestWebhookHandler(d, &mockMetrics{}, &logs)

	w := httptest.NewRecorder()
	h.HandleWebhook(w, newWebhookRequest(twoEventsBody, signed(twoEventsBody)))

	assertEmptyJSON(t, w, http.StatusOK)
	if len(d.dispatched()) != 2 {
		t.Errorf("後続のイベントも処理されること: %d", len(d.dispatched()))
	}
	if !strings.Contains(logs.String(), `"failed":1`) {
		t.Errorf("失敗件数がログに含まれていない: %s", logs.String())
	}
}

func TestHandleWebhook_ContextOutlivesClientButHasDeadline(t *testing.T) {
	var errAtDispatch error
	var hasDeadline bool
	d := &mockDispatcher{
		dispatchFn: func(ctx context.Context, ev line.Event) error {
			errAtDispatch = ctx.Err()
			_, hasDeadline = ctx.Deadline()
			return nil
		},
	}
	h := newTestWebhookHandler(d, &mockMetrics{}, &bytes.Buffer{})

	body := `{"events":[{"type":"follow","source":{"userId":"U1"}}]}`
	req := newWebhookRequest(body, signed(body))
	clientCtx, cancel := context.WithCancel(req.Context())
	cancel()
	req = req.WithContext(clientCtx)

	w := httptest.NewRecorder()
	h.HandleWebhook(w, req)

	if len(d.dispatched()) != 1 {
		t.Fatal("Dispatch が呼ばれていない")
	}
	if errAtDispatch != nil {
		t.Errorf("クライアントの切断で処理が中断されてはならない: %v", errAtDispatch)
	}
	if !hasDeadline {
		t.Error("処理時間の上限が設定されていない")
	}
}

func TestHandleWebhook_BodyTooLarge(t *testing.T) {
	d := &mockDispatcher{}
	h := NewWebhookHandler(WebhookConfig{
		ChannelSecret: testChannelSecret,
		MaxBodySize:   16,
	}, d, &mockMetrics{}, newTestLogger(&bytes.Buffer{}))

	w := httptest.NewRecorder()
	h.HandleWebhook(w, newWebhookRequest(twoEventsBody, signed(twoEventsBody)))

	assertEmptyJSON(t, w, http.StatusRequestEntityTooLarge)
	if len(d.dispatched()) != 0 {
		t.Error("上限を超えた配信はイベントを処理しないこと")
	}
}

type panicDispatcher struct{}

func (panicDispatcher) Dispatch(ctx context.Context, ev line.Event) error {
	panic("unexpected")
}
