package line

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrUnsupportedContent は取得できないコンテンツ提供元であることを示す。
var ErrUnsupportedContent = errors.New("unsupported content provider")

// MessageContentGetter はLINEサーバー上のコンテンツ取得のインターフェース。
type MessageContentGetter interface {
	GetMessageContent(ctx context.Context, messageID string) ([]byte, error)
}

// URLValidator は外部URLの安全性検証のインターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// ContentLoader は画像メッセージのバイト列を提供元に応じて取得する。
// 外部提供のコンテンツはSSRF対策済みのHTTPクライアントで取得する。
type ContentLoader struct {
	lineContent    MessageContentGetter
	externalClient *http.Client
	validator      URLValidator
	maxSize        int64
}

// NewContentLoader はContentLoaderの新しいインスタンスを生成する。
// externalClientがnilの場合、外部提供のコンテンツはErrUnsupportedContentとなる。
func NewContentLoader(lineContent MessageContentGetter, externalClient *http.Client, validator URLValidator, maxSize int64) *ContentLoader {
	return &ContentLoader{
		lineContent:    lineContent,
		externalClient: externalClient,
		validator:      validator,
		maxSize:        maxSize,
	}
}

// Load はメッセージのコンテンツを取得する。
func (l *ContentLoader) Load(ctx context.Context, msg *EventMessage) ([]byte, error) {
	if msg == nil {
		return nil, ErrUnsupportedContent
	}

	provider := ContentProviderLINE
	if msg.ContentProvider != nil && msg.ContentProvider.Type != "" {
		provider = msg.ContentProvider.Type
	}

	switch provider {
	case ContentProviderLINE:
		return l.lineContent.GetMessageContent(ctx, msg.ID)
	case ContentProviderExternal:
		if l.externalClient == nil || msg.ContentProvider.OriginalContentURL == "" {
			return nil, ErrUnsupportedContent
		}
		return l.loadExternal(ctx, msg.ContentProvider.OriginalContentURL)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContent, provider)
	}
}

func (l *ContentLoader) loadExternal(ctx context.Context, rawURL string) ([]byte, error) {
	if l.validator != nil {
		if err := l.validator.ValidateURL(rawURL); err != nil {
			return nil, fmt.Errorf("外部コンテンツURLの検証に失敗しました: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}

	resp, err := l.externalClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("外部コンテンツの取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("外部コンテンツがステータス %d を返しました", resp.StatusCode)
	}

	return readLimited(resp.Body, l.maxSize)
}
