package line

import "encoding/json"

// EventType はWebhookイベントの種別。
type EventType string

const (
	EventTypeFollow   EventType = "follow"
	EventTypeUnfollow EventType = "unfollow"
	EventTypeMessage  EventType = "message"
	EventTypePostback EventType = "postback"
)

// MessageType は受信メッセージの種別。
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeLocation MessageType = "location"
)

// ContentProviderType は画像などのコンテンツ提供元。
type ContentProviderType string

const (
	// ContentProviderLINE はLINEサーバー上のコンテンツ。
	ContentProviderLINE ContentProviderType = "line"
	// ContentProviderExternal は外部URLで提供されるコンテンツ。
	ContentProviderExternal ContentProviderType = "external"
)

// WebhookPayload はWebhookリクエストボディ。
type WebhookPayload struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

// Event はWebhookイベント。
type Event struct {
	Type            EventType        `json:"type"`
	WebhookEventID  string           `json:"webhookEventId"`
	Timestamp       int64            `json:"timestamp"`
	Source          Source           `json:"source"`
	ReplyToken      string           `json:"replyToken"`
	Message         *EventMessage    `json:"message,omitempty"`
	Postback        *Postback        `json:"postback,omitempty"`
	DeliveryContext *DeliveryContext `json:"deliveryContext,omitempty"`
}

// DeliveryContext はイベントの再送情報。
type DeliveryContext struct {
	IsRedelivery bool `json:"isRedelivery"`
}

// Source はイベントの送信元。
type Source struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// EventMessage は受信メッセージ本体。
// 位置情報の緯度経度は精度を落とさないようjson.Numberで保持する。
type EventMessage struct {
	ID              string           `json:"id"`
	Type            MessageType      `json:"type"`
	Text            string           `json:"text,omitempty"`
	Latitude        json.Number      `json:"latitude,omitempty"`
	Longitude       json.Number      `json:"longitude,omitempty"`
	Address         string           `json:"address,omitempty"`
	ContentProvider *ContentProvider `json:"contentProvider,omitempty"`
}

// ContentProvider は画像コンテンツの提供元情報。
type ContentProvider struct {
	Type               ContentProviderType `json:"type"`
	OriginalContentURL string              `json:"originalContentUrl,omitempty"`
	PreviewImageURL    string              `json:"previewImageUrl,omitempty"`
}

// Postback はポストバックアクションのデータ。
type Postback struct {
	Data string `json:"data"`
}

// UserID はイベント送信元のユーザーIDを返す。
func (e Event) UserID() string {
	return e.Source.UserID
}
