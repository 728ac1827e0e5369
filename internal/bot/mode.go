// Package bot は会話ディスパッチャーを提供する。
// 会話モードは保存せず、受信イベントと保存済みの候補図書館・お気に入り図書館の件数から都度判定する。
package bot

import (
	"regexp"

	"golang.org/x/text/width"

	"github.com/hitoshi/libfinder/internal/line"
)

// Mode はイベントに対する処理の種類。
type Mode int

const (
	ModeIgnore Mode = iota
	ModeInitialize
	ModeSearchNearby
	ModeReadBarcode
	ModeCancel
	ModePromptLocation
	ModePromptISBN
	ModeRequireFavorites
	ModeCheckHoldings
	ModeEditFavorites
	ModeNoFavorites
	ModeClearFavorites
	ModeAddFavorite
	ModeRemoveFavorite
)

var modeNames = map[Mode]string{
	ModeIgnore:           "ignore",
	ModeInitialize:       "initialize",
	ModeSearchNearby:     "search_nearby",
	ModeReadBarcode:      "read_barcode",
	ModeCancel:           "cancel",
	ModePromptLocation:   "prompt_location",
	ModePromptISBN:       "prompt_isbn",
	ModeRequireFavorites: "require_favorites",
	ModeCheckHoldings:    "check_holdings",
	ModeEditFavorites:    "edit_favorites",
	ModeNoFavorites:      "no_favorites",
	ModeClearFavorites:   "clear_favorites",
	ModeAddFavorite:      "add_favorite",
	ModeRemoveFavorite:   "remove_favorite",
}

// String はログやメトリクスのラベルに使う名前を返す。
func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "unknown"
}

// ユーザーが送信するキーワード。クイックリプライのテキストと一致する。
const (
	KeywordCancel         = "やめる"
	KeywordFindLibraries  = "図書館を探す"
	KeywordSearchHoldings = "蔵書を探す"
	KeywordEdit           = "編集する"
	KeywordClearAll       = "全削除"
)

// isbnPattern は10桁または13桁の数字。
var isbnPattern = regexp.MustCompile(`^(\d{10}|\d{13})$`)

// Input はモード判定の入力。
type Input struct {
	EventType    line.EventType
	MessageType  line.MessageType
	Text         string
	PostbackData string
	Favorites    int
	Libraries    int
}

// Decision はモード判定の結果。
type Decision struct {
	Mode   Mode
	ISBN   string // ModeCheckHoldings のみ
	Number int    // ModeAddFavorite, ModeRemoveFavorite のみ（1始まり）
}

// Decide はイベントと会話状態の件数から処理モードを判定する。副作用を持たない。
// 不正な番号や未知のテキストはModeIgnoreとなる。
func Decide(in Input) Decision {
	switch in.EventType {
	case line.EventTypeFollow:
		return Decision{Mode: ModeInitialize}
	case line.EventTypeMessage:
		return decideMessage(in)
	case line.EventTypePostback:
		return decidePostback(in)
	default:
		return Decision{Mode: ModeIgnore}
	}
}

func decideMessage(in Input) Decision {
	switch in.MessageType {
	case line.MessageTypeLocation:
		return Decision{Mode: ModeSearchNearby}
	case line.MessageTypeImage:
		return Decision{Mode: ModeReadBarcode}
	case line.MessageTypeText:
		return decideText(in)
	default:
		return Decision{Mode: ModeIgnore}
	}
}

func decideText(in Input) Decision {
	switch in.Text {
	case KeywordCancel:
		return Decision{Mode: ModeCancel}
	case KeywordFindLibraries:
		return Decision{Mode: ModePromptLocation}
	case KeywordSearchHoldings:
		if in.Favorites == 0 {
			return Decision{Mode: ModeRequireFavorites}
		}
		return Decision{Mode: ModePromptISBN}
	case KeywordEdit:
		if in.Favorites == 0 {
			return Decision{Mode: ModeNoFavorites}
		}
		return Decision{Mode: ModeEditFavorites}
	case KeywordClearAll:
		return Decision{Mode: ModeClearFavorites}
	}

	if isbn, ok := NormalizeISBN(in.Text); ok {
		if in.Favorites == 0 {
			return Decision{Mode: ModeRequireFavorites}
		}
		return Decision{Mode: ModeCheckHoldings, ISBN: isbn}
	}

	return Decision{Mode: ModeIgnore}
}

func decidePostback(in Input) Decision {
	data, err := line.ParsePostbackData(in.PostbackData)
	if err != nil {
		return Decision{Mode: ModeIgnore}
	}

	switch data.Action {
	case line.PostbackActionAdd:
		if data.Number < 1 || data.Number > in.Libraries {
			return Decision{Mode: ModeIgnore}
		}
		return Decision{Mode: ModeAddFavorite, Number: data.Number}
	case line.PostbackActionRemove:
		if data.Number < 1 || data.Number > in.Favorites {
			return Decision{Mode: ModeIgnore}
		}
		return Decision{Mode: ModeRemoveFavorite, Number: data.Number}
	default:
		return Decision{Mode: ModeIgnore}
	}
}

// NormalizeISBN は全角数字を半角に変換し、10桁または13桁の数字であればその文字列を返す。
func NormalizeISBN(text string) (string, bool) {
	normalized := width.Narrow.String(text)
	if !isbnPattern.MatchString(normalized) {
		return "", false
	}
	return normalized, true
}
