package calil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"
)

var (
	// ErrCheckTimeout は蔵書検索が制限時間または再問い合わせ上限までに完了しなかったことを示す。
	ErrCheckTimeout = errors.New("availability check did not complete in time")

	// ErrMissingSession は継続中の応答にセッションIDが含まれていないことを示す。
	ErrMissingSession = errors.New("availability response without session")
)

// SystemStatus は1つの図書館システムにおける蔵書検索結果。
type SystemStatus struct {
	Status     string            `json:"status"`
	ReserveURL string            `json:"reserveurl"`
	LibKey     map[string]string `json:"libkey"`
}

// checkResponse はカーリル蔵書検索APIのレスポンス。
type checkResponse struct {
	Session  string                             `json:"session"`
	Continue int                                `json:"continue"`
	Books    map[string]map[string]SystemStatus `json:"books"`
}

// CheckResult は完了した蔵書検索の結果。
type CheckResult struct {
	ISBN    string
	Systems map[string]SystemStatus
	// Polls はセッション継続による再問い合わせの回数。
	Polls int
	// Cached はキャッシュから取得した結果であればtrue。
	Cached bool
}

// Lookup は指定システム・館キーの貸出状況を返す。
// 結果に含まれない場合はfalseを返す。
func (r *CheckResult) Lookup(systemID, libKey string) (string, bool) {
	if r == nil {
		return "", false
	}
	sys, ok := r.Systems[systemID]
	if !ok {
		return "", false
	}
	status, ok := sys.LibKey[libKey]
	return status, ok
}

// Check は指定ISBNの蔵書・貸出状況を図書館システム群に問い合わせる。
// 応答のcontinueが0になるまで、PollIntervalごとにセッションIDのみで再問い合わせする。
// CheckTimeoutまたはMaxPollsを超えた場合はErrCheckTimeoutを返す。
func (c *Client) Check(ctx context.Context, isbn string, systemIDs []string) (*CheckResult, error) {
	if isbn == "" {
		return nil, fmt.Errorf("ISBNが指定されていません")
	}
	if len(systemIDs) == 0 {
		return nil, fmt.Errorf("図書館システムが指定されていません")
	}

	key := cacheKey(isbn, systemIDs)
	if result := c.loadCached(ctx, key, isbn); result != nil {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.CheckTimeout)
	defer cancel()

	q := url.Values{}
	q.Set("appkey", c.config.AppKey)
	q.Set("isbn", isbn)
	q.Set("systemid", strings.Join(systemIDs, ","))
	q.Set("format", "json")
	q.Set("callback", "no")

	var resp checkResponse
	if err := c.getJSON(ctx, "/check", q, &resp); err != nil {
		return nil, c.checkError(ctx, err)
	}

	polls := 0
	for resp.Continue != 0 {
		if polls >= c.config.MaxPolls {
			c.logger.Warn("蔵書検索が再問い合わせ上限に達しました",
				slog.String("isbn", isbn),
				slog.Int("polls", polls),
			)
			return nil, fmt.Errorf("%w: 再問い合わせが%d回に達しました", ErrCheckTimeout, polls)
		}
		if resp.Session == "" {
			return nil, ErrMissingSession
		}

		select {
		case <-ctx.Done():
			return nil, c.checkError(ctx, ctx.Err())
		case <-time.After(c.config.PollInterval):
		}

		session := resp.Session
		q := url.Values{}
		q.Set("appkey", c.config.AppKey)
		q.Set("session", session)
		q.Set("format", "json")
		q.Set("callback", "no")

		resp = checkResponse{}
		if err := c.getJSON(ctx, "/check", q, &resp); err != nil {
			return nil, c.checkError(ctx, err)
		}
		polls++
	}

	result := &CheckResult{
		ISBN:    isbn,
		Systems: resp.Books[isbn],
		Polls:   polls,
	}
	if result.Systems == nil {
		result.Systems = map[string]SystemStatus{}
	}

	c.storeCached(ctx, key, result.Systems)

	return result, nil
}

// checkError は期限切れをErrCheckTimeoutに変換する。
// 呼び出し元によるキャンセルはそのまま返す。
func (c *Client) checkError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrCheckTimeout, err)
	}
	return err
}

// cacheKey はISBNとソート済みのシステムIDからキャッシュキーを生成する。
func cacheKey(isbn string, systemIDs []string) string {
	ids := append([]string{}, systemIDs...)
	sort.Strings(ids)
	return "calil:check:" + isbn + ":" + strings.Join(ids, ",")
}

func (c *Client) loadCached(ctx context.Context, key, isbn string) *CheckResult {
	if c.cache == nil {
		return nil
	}

	data, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("蔵書検索キャッシュの取得に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !ok {
		return nil
	}

	var systems map[string]SystemStatus
	if err := json.Unmarshal(data, &systems); err != nil {
		c.logger.Warn("蔵書検索キャッシュのデコードに失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil
	}

	return &CheckResult{ISBN: isbn, Systems: systems, Cached: true}
}

func (c *Client) storeCached(ctx context.Context, key string, systems map[string]SystemStatus) {
	if c.cache == nil || c.config.CacheTTL <= 0 {
		return
	}

	data, err := json.Marshal(systems)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, data, c.config.CacheTTL); err != nil {
		c.logger.Warn("蔵書検索キャッシュの保存に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
