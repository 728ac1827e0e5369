package line

import "unicode/utf8"

// Messaging APIの上限値
const (
	maxAltTextLength       = 400
	maxCarouselTitleLength = 40
	maxCarouselTextLength  = 120
	maxCarouselColumns     = 10
	maxQuickReplyItems     = 13
	maxMessagesPerReply    = 5
	maxActionLabelLength   = 20
	maxTextMessageLength   = 5000
)

// maxTitledCarouselTextLength はタイトルのある列のテキスト上限。
const maxTitledCarouselTextLength = 60

// Message は応答メッセージ。TextMessage または TemplateMessage。
type Message interface {
	messageType() string
}

// TextMessage はテキストメッセージ。
type TextMessage struct {
	Type       string      `json:"type"`
	Text       string      `json:"text"`
	QuickReply *QuickReply `json:"quickReply,omitempty"`
}

func (TextMessage) messageType() string { return "text" }

// TemplateMessage はテンプレートメッセージ。本サービスではカルーセルのみ使用する。
type TemplateMessage struct {
	Type       string           `json:"type"`
	AltText    string           `json:"altText"`
	Template   CarouselTemplate `json:"template"`
	QuickReply *QuickReply      `json:"quickReply,omitempty"`
}

func (TemplateMessage) messageType() string { return "template" }

// CarouselTemplate はカルーセルテンプレート。
type CarouselTemplate struct {
	Type    string           `json:"type"`
	Columns []CarouselColumn `json:"columns"`
}

// CarouselColumn はカルーセルの1列。
type CarouselColumn struct {
	Title         string   `json:"title,omitempty"`
	Text          string   `json:"text"`
	DefaultAction *Action  `json:"defaultAction,omitempty"`
	Actions       []Action `json:"actions"`
}

// QuickReply はクイックリプライ。
type QuickReply struct {
	Items []QuickReplyItem `json:"items"`
}

// QuickReplyItem はクイックリプライのボタン。
type QuickReplyItem struct {
	Type   string `json:"type"`
	Action Action `json:"action"`
}

// Action はボタンやタップ時のアクション。
type Action struct {
	Type        string `json:"type"`
	Label       string `json:"label,omitempty"`
	Text        string `json:"text,omitempty"`
	Data        string `json:"data,omitempty"`
	DisplayText string `json:"displayText,omitempty"`
	URI         string `json:"uri,omitempty"`
}

// NewTextMessage はテキストメッセージを生成する。
func NewTextMessage(text string, quickReply ...Action) TextMessage {
	return TextMessage{
		Type:       "text",
		Text:       truncate(text, maxTextMessageLength),
		QuickReply: newQuickReply(quickReply),
	}
}

// NewCarouselMessage はカルーセルのテンプレートメッセージを生成する。
// 列数とテキスト長はMessaging APIの上限に切り詰める。
func NewCarouselMessage(altText string, columns []CarouselColumn, quickReply ...Action) TemplateMessage {
	if len(columns) > maxCarouselColumns {
		columns = columns[:maxCarouselColumns]
	}
	cols := make([]CarouselColumn, len(columns))
	for i, c := range columns {
		c.Title = truncate(c.Title, maxCarouselTitleLength)
		textLimit := maxCarouselTextLength
		if c.Title != "" {
			textLimit = maxTitledCarouselTextLength
		}
		c.Text = truncate(c.Text, textLimit)
		cols[i] = c
	}
	return TemplateMessage{
		Type:    "template",
		AltText: truncate(altText, maxAltTextLength),
		Template: CarouselTemplate{
			Type:    "carousel",
			Columns: cols,
		},
		QuickReply: newQuickReply(quickReply),
	}
}

// MessageAction はタップ時にテキストを送信するアクション。
func MessageAction(label, text string) Action {
	return Action{Type: "message", Label: truncate(label, maxActionLabelLength), Text: text}
}

// PostbackDataAction はポストバックを送信するアクション。
func PostbackDataAction(label string, data PostbackData) Action {
	return Action{
		Type:        "postback",
		Label:       truncate(label, maxActionLabelLength),
		Data:        data.Encode(),
		DisplayText: label,
	}
}

// URIAction はURIを開くアクション。
func URIAction(label, uri string) Action {
	return Action{Type: "uri", Label: truncate(label, maxActionLabelLength), URI: uri}
}

// LocationAction は位置情報の送信画面を開くアクション。
func LocationAction(label string) Action {
	return Action{Type: "location", Label: truncate(label, maxActionLabelLength)}
}

// CameraAction はカメラを起動するアクション。
func CameraAction(label string) Action {
	return Action{Type: "camera", Label: truncate(label, maxActionLabelLength)}
}

// CameraRollAction はカメラロールを開くアクション。
func CameraRollAction(label string) Action {
	return Action{Type: "cameraRoll", Label: truncate(label, maxActionLabelLength)}
}

func newQuickReply(actions []Action) *QuickReply {
	if len(actions) == 0 {
		return nil
	}
	if len(actions) > maxQuickReplyItems {
		actions = actions[:maxQuickReplyItems]
	}
	items := make([]QuickReplyItem, len(actions))
	for i, a := range actions {
		items[i] = QuickReplyItem{Type: "action", Action: a}
	}
	return &QuickReply{Items: items}
}

// truncate は文字数（rune数）が上限を超える場合に末尾を切り詰める。
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}
