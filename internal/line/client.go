package line

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

const (
	// defaultAPIEndpoint はMessaging APIのエンドポイント。
	defaultAPIEndpoint = "https://api.line.me"
	// defaultDataEndpoint はメッセージコンテンツ取得APIのエンドポイント。
	defaultDataEndpoint = "https://api-data.line.me"
)

// Client はLINE Messaging APIのクライアント。
// 応答メッセージの送信とユーザーが送信したコンテンツの取得を行う。
type Client struct {
	httpClient     *http.Client
	logger         *slog.Logger
	accessToken    string
	maxContentSize int64
	apiEndpoint    string // テスト用にエンドポイントを差し替え可能
	dataEndpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger, accessToken string, maxContentSize int64) *Client {
	return &Client{
		httpClient:     httpClient,
		logger:         logger,
		accessToken:    accessToken,
		maxContentSize: maxContentSize,
		apiEndpoint:    defaultAPIEndpoint,
		dataEndpoint:   defaultDataEndpoint,
	}
}

type replyRequest struct {
	ReplyToken string    `json:"replyToken"`
	Messages   []Message `json:"messages"`
}

// Reply は応答トークンを使ってメッセージを送信する。
// 1回の応答で送れるメッセージは5件までのため、超過分は送信しない。
func (c *Client) Reply(ctx context.Context, replyToken string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	if len(messages) > maxMessagesPerReply {
		c.logger.Warn("応答メッセージ数が上限を超えたため切り詰めます",
			slog.Int("message_count", len(messages)),
		)
		messages = messages[:maxMessagesPerReply]
	}

	body, err := json.Marshal(replyRequest{ReplyToken: replyToken, Messages: messages})
	if err != nil {
		return fmt.Errorf("応答メッセージのエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiEndpoint+"/v2/bot/message/reply", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("応答メッセージの送信に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("応答メッセージの送信に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Messaging APIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(respBody)),
		)
		return fmt.Errorf("Messaging APIがステータス %d を返しました", resp.StatusCode)
	}
	if s := string(bytes.TrimSpace(respBody)); s != "" && s != "{}" {
		c.logger.Info("Messaging APIの応答", slog.String("body", s))
	}

	return nil
}

// GetMessageContent はユーザーが送信した画像などのコンテンツを取得する。
// maxContentSizeを超えるコンテンツはエラーとする。
func (c *Client) GetMessageContent(ctx context.Context, messageID string) ([]byte, error) {
	endpoint := c.dataEndpoint + "/v2/bot/message/" + url.PathEscape(messageID) + "/content"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("コンテンツの取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("コンテンツ取得APIがステータス %d を返しました", resp.StatusCode)
	}

	return readLimited(resp.Body, c.maxContentSize)
}

// readLimited は上限サイズまでボディを読み取る。上限を超えた場合はエラーを返す。
func readLimited(r io.Reader, maxSize int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("コンテンツの読み取りに失敗しました: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("コンテンツサイズが上限 %d バイトを超えています", maxSize)
	}
	return data, nil
}
