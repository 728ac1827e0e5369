package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/libfinder/internal/calil"
	"github.com/hitoshi/libfinder/internal/favorites"
	"github.com/hitoshi/libfinder/internal/line"
	"github.com/hitoshi/libfinder/internal/metrics"
	"github.com/hitoshi/libfinder/internal/model"
	"github.com/hitoshi/libfinder/internal/repository"
)

// 外部サービス名（メトリクスのラベル）
const (
	serviceLibrarySearch = "calil_library"
	serviceAvailability  = "calil_check"
	serviceContent       = "line_content"
	serviceBarcode       = "barcode"
	serviceReply         = "line_reply"
)

// maxUpdateAttempts は条件付き更新が競合した場合の最大試行回数。
const maxUpdateAttempts = 3

// LibrarySearcher は位置情報による図書館検索のインターフェース。
type LibrarySearcher interface {
	SearchLibraries(ctx context.Context, latitude, longitude string) ([]model.LibraryRecord, error)
}

// AvailabilityChecker は蔵書・貸出状況検索のインターフェース。
type AvailabilityChecker interface {
	Check(ctx context.Context, isbn string, systemIDs []string) (*calil.CheckResult, error)
}

// ContentLoader は画像メッセージのコンテンツ取得のインターフェース。
type ContentLoader interface {
	Load(ctx context.Context, msg *line.EventMessage) ([]byte, error)
}

// BarcodeDecoder は画像からバーコードを読み取るインターフェース。
type BarcodeDecoder interface {
	Decode(data []byte) (bool, []string, error)
}

// Replier は応答メッセージ送信のインターフェース。
type Replier interface {
	Reply(ctx context.Context, replyToken string, messages []line.Message) error
}

// Deps はDispatcherの依存関係。
type Deps struct {
	Store     repository.UserStateRepository
	Searcher  LibrarySearcher
	Checker   AvailabilityChecker
	Content   ContentLoader
	Decoder   BarcodeDecoder
	Replier   Replier
	Sanitizer Sanitizer
	Metrics   metrics.MetricsCollector
	Logger    *slog.Logger
}

// Dispatcher はWebhookイベントを1件ずつ処理する。
// 外部サービスの失敗はイベント単位で捕捉し、汎用の応答を返す。
type Dispatcher struct {
	store    repository.UserStateRepository
	searcher LibrarySearcher
	checker  AvailabilityChecker
	content  ContentLoader
	decoder  BarcodeDecoder
	replier  Replier
	render   renderer
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
func NewDispatcher(deps Deps) *Dispatcher {
	m := deps.Metrics
	if m == nil {
		m = nopMetrics{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		store:    deps.Store,
		searcher: deps.Searcher,
		checker:  deps.Checker,
		content:  deps.Content,
		decoder:  deps.Decoder,
		replier:  deps.Replier,
		render:   renderer{sanitizer: deps.Sanitizer},
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Dispatch は1件のイベントを処理し、必要であれば応答を送信する。
// 処理に失敗した場合も汎用の応答を送信した上でエラーを返す。
func (d *Dispatcher) Dispatch(ctx context.Context, ev line.Event) error {
	userID := ev.UserID()
	if userID == "" {
		d.logger.Warn("送信元ユーザーIDのないイベントを無視しました",
			slog.String("event_type", string(ev.Type)),
		)
		return nil
	}

	start := time.Now()
	decision, messages, err := d.handle(ctx, userID, ev)
	d.metrics.RecordEvent(decision.Mode.String())

	logAttrs := []any{
		slog.String("user_id", userID),
		slog.String("event_type", string(ev.Type)),
		slog.String("mode", decision.Mode.String()),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	}
	if err != nil {
		d.logger.Error("イベントの処理に失敗しました",
			append(logAttrs, slog.String("error", err.Error()))...,
		)
		messages = d.render.tryAgainLater()
	} else {
		d.logger.Info("イベントを処理しました", logAttrs...)
	}

	if replyErr := d.reply(ctx, ev.ReplyToken, messages); replyErr != nil && err == nil {
		err = replyErr
	}

	return err
}

// handle はモードを判定して処理を実行し、応答メッセージを返す。
func (d *Dispatcher) handle(ctx context.Context, userID string, ev line.Event) (Decision, []line.Message, error) {
	switch ev.Type {
	case line.EventTypeFollow:
		decision := Decision{Mode: ModeInitialize}
		if err := d.store.Reset(ctx, userID); err != nil {
			return decision, nil, fmt.Errorf("会話状態の初期化に失敗しました: %w", err)
		}
		return decision, nil, nil
	case line.EventTypeMessage, line.EventTypePostback:
	default:
		// unfollowなどは状態を読まずに無視する
		return Decision{Mode: ModeIgnore}, nil, nil
	}

	state, err := d.loadState(ctx, userID)
	if err != nil {
		return Decision{Mode: ModeIgnore}, nil, err
	}

	decision := Decide(inputFor(ev, state))

	var messages []line.Message
	switch decision.Mode {
	case ModeSearchNearby:
		messages, err = d.searchNearby(ctx, userID, ev.Message)
	case ModeReadBarcode:
		messages, err = d.readBarcode(ctx, ev.Message)
	case ModeCancel:
		messages, err = d.cancel(ctx, userID)
	case ModePromptLocation:
		messages = d.render.askLocation()
	case ModeRequireFavorites:
		messages = d.render.requireFavorites()
	case ModePromptISBN:
		messages = d.render.askISBN(state.Favorites)
	case ModeCheckHoldings:
		messages, err = d.checkHoldings(ctx, decision.ISBN, state.Favorites)
	case ModeEditFavorites:
		messages = d.render.editFavorites(state.Favorites)
	case ModeNoFavorites:
		messages = d.render.noFavorites()
	case ModeClearFavorites:
		messages, err = d.clearFavorites(ctx, userID)
	case ModeAddFavorite:
		messages, err = d.addFavorite(ctx, userID, decision.Number)
	case ModeRemoveFavorite:
		messages, err = d.removeFavorite(ctx, userID, decision.Number)
	}

	return decision, messages, err
}

// inputFor はイベントと会話状態からモード判定の入力を組み立てる。
func inputFor(ev line.Event, state *model.UserState) Input {
	in := Input{
		EventType: ev.Type,
		Favorites: len(state.Favorites),
		Libraries: len(state.Libraries),
	}
	if ev.Message != nil {
		in.MessageType = ev.Message.Type
		in.Text = ev.Message.Text
	}
	if ev.Postback != nil {
		in.PostbackData = ev.Postback.Data
	}
	return in
}

// loadState は会話状態を読み込む。未保存のユーザーは空の状態として扱う。
func (d *Dispatcher) loadState(ctx context.Context, userID string) (*model.UserState, error) {
	state, err := d.store.Find(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("会話状態の取得に失敗しました: %w", err)
	}
	if state == nil {
		return model.NewUserState(userID), nil
	}
	return state, nil
}

// update は会話状態を読み込んでapplyで変更し、条件付きで保存する。
// 競合した場合は最新の状態を読み直してapplyからやり直す。
// applyがfalseを返した場合は保存しない。
func (d *Dispatcher) update(ctx context.Context, userID string, apply func(state *model.UserState) bool) error {
	for attempt := 1; ; attempt++ {
		state, err := d.loadState(ctx, userID)
		if err != nil {
			return err
		}
		if !apply(state) {
			return nil
		}

		err = d.store.Save(ctx, state)
		if err == nil {
			return nil
		}
		if !errors.Is(err, model.ErrStateConflict) {
			return fmt.Errorf("会話状態の保存に失敗しました: %w", err)
		}

		d.metrics.RecordStateConflict()
		d.logger.Warn("会話状態の更新が競合しました",
			slog.String("user_id", userID),
			slog.Int("attempt", attempt),
		)
		if attempt >= maxUpdateAttempts {
			return fmt.Errorf("会話状態の更新が%d回競合しました: %w", attempt, err)
		}
	}
}

func (d *Dispatcher) searchNearby(ctx context.Context, userID string, msg *line.EventMessage) ([]line.Message, error) {
	start := time.Now()
	libs, err := d.searcher.SearchLibraries(ctx, msg.Latitude.String(), msg.Longitude.String())
	d.metrics.RecordExternalCall(serviceLibrarySearch, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("図書館検索に失敗しました: %w", err)
	}

	if len(libs) == 0 {
		return d.render.noLibraries(), nil
	}
	if len(libs) > calil.SearchLimit {
		libs = libs[:calil.SearchLimit]
	}

	err = d.update(ctx, userID, func(state *model.UserState) bool {
		state.Libraries = libs
		state.LibrariesUpdatedAt = d.now()
		return true
	})
	if err != nil {
		return nil, err
	}

	return d.render.librariesFound(libs), nil
}

func (d *Dispatcher) readBarcode(ctx context.Context, msg *line.EventMessage) ([]line.Message, error) {
	start := time.Now()
	data, err := d.content.Load(ctx, msg)
	d.metrics.RecordExternalCall(serviceContent, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("画像の取得に失敗しました: %w", err)
	}

	start = time.Now()
	found, codes, err := d.decoder.Decode(data)
	d.metrics.RecordExternalCall(serviceBarcode, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("バーコードの読み取りに失敗しました: %w", err)
	}

	if !found {
		return d.render.barcodeNotFound(), nil
	}

	readable := make([]string, 0, len(codes))
	for _, code := range codes {
		if code != "" {
			readable = append(readable, code)
		}
	}
	if len(readable) == 0 {
		return d.render.barcodeUnreadable(), nil
	}

	return d.render.barcodesRead(readable), nil
}

func (d *Dispatcher) cancel(ctx context.Context, userID string) ([]line.Message, error) {
	err := d.update(ctx, userID, func(state *model.UserState) bool {
		if len(state.Libraries) == 0 {
			return false
		}
		state.Libraries = []model.LibraryRecord{}
		return true
	})
	if err != nil {
		return nil, err
	}
	return d.render.goodbye(), nil
}

// checkHoldings はお気に入り図書館のシステムに蔵書を問い合わせ、
// 保存済みの館キーに一致する貸出状況を集める。
func (d *Dispatcher) checkHoldings(ctx context.Context, isbn string, favs []model.LibraryRecord) ([]line.Message, error) {
	systemIDs := make([]string, 0, len(favs))
	seen := make(map[string]bool)
	for _, lib := range favs {
		if !seen[lib.SystemID] {
			seen[lib.SystemID] = true
			systemIDs = append(systemIDs, lib.SystemID)
		}
	}

	start := time.Now()
	result, err := d.checker.Check(ctx, isbn, systemIDs)
	d.metrics.RecordExternalCall(serviceAvailability, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("蔵書検索に失敗しました: %w", err)
	}
	if !result.Cached {
		d.metrics.RecordAvailabilityPolls(result.Polls)
	}

	var holdings []holding
	for _, lib := range favs {
		if status, ok := result.Lookup(lib.SystemID, lib.LibKey); ok {
			holdings = append(holdings, holding{library: lib, status: status})
		}
	}

	if len(holdings) == 0 {
		return d.render.noHoldings(), nil
	}
	return d.render.holdingsFound(isbn, holdings), nil
}

func (d *Dispatcher) clearFavorites(ctx context.Context, userID string) ([]line.Message, error) {
	err := d.update(ctx, userID, func(state *model.UserState) bool {
		if len(state.Favorites) == 0 {
			return false
		}
		list := favorites.NewList(state.Favorites, model.MaxFavorites)
		list.Clear()
		state.Favorites = list.Items()
		return true
	})
	if err != nil {
		return nil, err
	}
	return d.render.favoritesCleared(), nil
}

// addFavorite は候補図書館のnumber番目をお気に入りに追加する。
// 結果にかかわらず候補図書館は破棄する。
func (d *Dispatcher) addFavorite(ctx context.Context, userID string, number int) ([]line.Message, error) {
	var messages []line.Message
	err := d.update(ctx, userID, func(state *model.UserState) bool {
		messages = nil
		if number < 1 || number > len(state.Libraries) {
			return false
		}

		candidate := state.Libraries[number-1]
		list := favorites.NewList(state.Favorites, model.MaxFavorites)
		switch err := list.Add(candidate); {
		case errors.Is(err, favorites.ErrDuplicate):
			existing, _ := list.Find(candidate.LibID)
			messages = d.render.favoriteDuplicate(number, existing)
		case errors.Is(err, favorites.ErrFull):
			messages = d.render.favoritesFull()
		default:
			state.Favorites = list.Items()
			messages = d.render.favoriteAdded(number, candidate)
		}
		state.Libraries = []model.LibraryRecord{}
		return true
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// removeFavorite はお気に入りのnumber番目を削除する。
func (d *Dispatcher) removeFavorite(ctx context.Context, userID string, number int) ([]line.Message, error) {
	var messages []line.Message
	err := d.update(ctx, userID, func(state *model.UserState) bool {
		messages = nil
		list := favorites.NewList(state.Favorites, model.MaxFavorites)
		removed, err := list.Remove(number)
		if err != nil {
			return false
		}
		state.Favorites = list.Items()
		messages = d.render.favoriteRemoved(number, removed)
		return true
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// reply は応答メッセージを送信する。送信失敗はログに記録して返す。
func (d *Dispatcher) reply(ctx context.Context, replyToken string, messages []line.Message) error {
	if replyToken == "" || len(messages) == 0 {
		return nil
	}

	start := time.Now()
	err := d.replier.Reply(ctx, replyToken, messages)
	d.metrics.RecordExternalCall(serviceReply, time.Since(start), err)
	if err != nil {
		d.logger.Error("応答メッセージの送信に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("応答メッセージの送信に失敗しました: %w", err)
	}
	return nil
}

// nopMetrics はメトリクスを記録しないMetricsCollector。
type nopMetrics struct{}

func (nopMetrics) RecordDelivery(int) {}
func (nopMetrics) RecordEvent(string) {}
func (nopMetrics) RecordExternalCall(string, time.Duration, error) {}
func (nopMetrics) RecordAvailabilityPolls(int) {}
func (nopMetrics) RecordStateConflict() {}
func (nopMetrics) RecordCandidatesCleared(int64) {}
