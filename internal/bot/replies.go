package bot

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/hitoshi/libfinder/internal/line"
	"github.com/hitoshi/libfinder/internal/model"
)

const (
	calilLibraryURL = "https://calil.jp/library/"
	calilBookURL    = "https://calil.jp/book/"
	detailLabel     = "詳細を見る"
)

// 固定の応答テキスト
const (
	textGoodbye          = "またね。"
	textNoLibraries      = "近くに図書館は無さそうです。"
	textLibrariesFound   = "近くの図書館をお調べしました。\nお気に入り図書館に登録すると蔵書を検索できます。登録したい図書館の番号を教えて下さい。"
	textAskLocation      = "近くの図書館をお調べします。\n位置情報を教えて下さい。"
	textRequireFavorites = "蔵書を探すにはお気に入り図書館を登録する必要があります。\n近くの図書館を探しますか？"
	textBarcodeNotFound  = "バーコードが見つかりません。"
	textBarcodeUnread    = "バーコードを読み取れません。"
	textNoHoldings       = "お気に入り図書館に蔵書は無さそうです。"
	textHoldingsFound    = "お気に入り図書館の蔵書の有無と貸出状況をお調べしました。"
	textNoFavorites      = "お気に入り図書館はありません。"
	textEditFavorites    = "お気に入り図書館を編集します。\n削除したい図書館の番号を教えて下さい。"
	textFavoritesCleared = "お気に入り図書館を削除しました。"
	textFavoritesFull    = "お気に入り図書館がいっぱいのため、登録できません。\nお気に入り図書館を編集しますか？"
	textTryAgainLater    = "ただいま処理を完了できませんでした。\nしばらく経ってからもう一度お試し下さい。"
	textISBNExample      = "調べたい書籍のISBN(バーコードの画像、もしくは10桁または13桁の数字)を教えて下さい。\n例：9784834000825"
)

// Sanitizer は外部APIが返した文字列を表示用の平文にする。
type Sanitizer interface {
	Sanitize(text string) string
}

// renderer は応答メッセージを組み立てる。
type renderer struct {
	sanitizer Sanitizer
}

func (r renderer) clean(s string) string {
	if r.sanitizer == nil {
		return s
	}
	return r.sanitizer.Sanitize(s)
}

func cancelAction() line.Action {
	return line.MessageAction(KeywordCancel, KeywordCancel)
}

func libraryURL(lib model.LibraryRecord) string {
	return calilLibraryURL + url.PathEscape(lib.LibID) + "/" + url.PathEscape(lib.Formal)
}

// libraryColumn は図書館1件分のカルーセル列を生成する。
func (r renderer) libraryColumn(title string, lib model.LibraryRecord) line.CarouselColumn {
	detail := line.URIAction(detailLabel, libraryURL(lib))
	return line.CarouselColumn{
		Title:         title,
		Text:          r.clean(lib.Formal) + "\n" + r.clean(lib.Address),
		DefaultAction: &detail,
		Actions:       []line.Action{detail},
	}
}

// numberedList は "1. 名前" 形式の一覧を返す。
func (r renderer) numberedList(libs []model.LibraryRecord) string {
	var b strings.Builder
	for i, lib := range libs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.clean(lib.Short))
	}
	return b.String()
}

func (r renderer) goodbye() []line.Message {
	return []line.Message{line.NewTextMessage(textGoodbye)}
}

func (r renderer) noLibraries() []line.Message {
	return []line.Message{line.NewTextMessage(textNoLibraries)}
}

// librariesFound は検索結果の図書館を番号付きで提示し、登録用のポストバックを添える。
func (r renderer) librariesFound(libs []model.LibraryRecord) []line.Message {
	columns := make([]line.CarouselColumn, 0, len(libs))
	actions := []line.Action{cancelAction()}
	for i, lib := range libs {
		n := i + 1
		columns = append(columns, r.libraryColumn(fmt.Sprintf("%d. %s", n, r.clean(lib.Short)), lib))
		actions = append(actions, line.PostbackDataAction(strconv.Itoa(n), line.PostbackData{
			Action: line.PostbackActionAdd,
			Number: n,
		}))
	}

	return []line.Message{
		line.NewTextMessage(textLibrariesFound),
		line.NewCarouselMessage(strings.TrimRight(r.numberedList(libs), "\n"), columns, actions...),
	}
}

func (r renderer) askLocation() []line.Message {
	return []line.Message{line.NewTextMessage(textAskLocation,
		cancelAction(),
		line.LocationAction("位置情報を送る"),
	)}
}

func (r renderer) requireFavorites() []line.Message {
	return []line.Message{line.NewTextMessage(textRequireFavorites,
		cancelAction(),
		line.MessageAction(KeywordFindLibraries, KeywordFindLibraries),
	)}
}

// askISBN はお気に入り図書館の一覧とともにISBNの入力を促す。
func (r renderer) askISBN(favorites []model.LibraryRecord) []line.Message {
	text := "以下のお気に入り図書館の蔵書をお調べします。\n" + r.numberedList(favorites) + "\n" + textISBNExample
	return []line.Message{line.NewTextMessage(text,
		cancelAction(),
		line.CameraAction("カメラを起動する"),
		line.CameraRollAction("カメラロールを開く"),
	)}
}

func (r renderer) barcodeNotFound() []line.Message {
	return []line.Message{line.NewTextMessage(textBarcodeNotFound)}
}

func (r renderer) barcodeUnreadable() []line.Message {
	return []line.Message{line.NewTextMessage(textBarcodeUnread)}
}

// barcodesRead は読み取ったコードを番号付きで提示し、送信用のクイックリプライを添える。
func (r renderer) barcodesRead(codes []string) []line.Message {
	var b strings.Builder
	actions := []line.Action{cancelAction()}
	for i, code := range codes {
		fmt.Fprintf(&b, "%d. %s\n", i+1, code)
		actions = append(actions, line.MessageAction(strconv.Itoa(i+1), code))
	}
	text := "バーコードを読み取りました。\n" + b.String() + "\n調べたい書籍のISBNを教えて下さい。"
	return []line.Message{line.NewTextMessage(text, actions...)}
}

// holding は蔵書が見つかったお気に入り図書館と貸出状況。
type holding struct {
	library model.LibraryRecord
	status  string
}

func (r renderer) noHoldings() []line.Message {
	return []line.Message{line.NewTextMessage(textNoHoldings)}
}

// holdingsFound は図書館ごとの貸出状況カードと、検索した書籍のカードを返す。
func (r renderer) holdingsFound(isbn string, holdings []holding) []line.Message {
	var alt strings.Builder
	columns := make([]line.CarouselColumn, 0, len(holdings)+1)
	for _, h := range holdings {
		short := r.clean(h.library.Short)
		status := r.clean(h.status)
		fmt.Fprintf(&alt, "%s：%s\n", short, status)
		columns = append(columns, r.libraryColumn("【"+status+"】"+short, h.library))
	}

	book := line.URIAction(detailLabel, calilBookURL+isbn)
	columns = append(columns, line.CarouselColumn{
		Title:         "検索した書籍",
		Text:          "ISBN " + isbn,
		DefaultAction: &book,
		Actions:       []line.Action{book},
	})

	return []line.Message{
		line.NewTextMessage(textHoldingsFound),
		line.NewCarouselMessage(strings.TrimRight(alt.String(), "\n"), columns),
	}
}

func (r renderer) noFavorites() []line.Message {
	return []line.Message{line.NewTextMessage(textNoFavorites)}
}

// editFavorites はお気に入り図書館を番号付きで提示し、削除用のポストバックと全削除を添える。
func (r renderer) editFavorites(favorites []model.LibraryRecord) []line.Message {
	columns := make([]line.CarouselColumn, 0, len(favorites))
	actions := []line.Action{
		cancelAction(),
		line.MessageAction(KeywordClearAll, KeywordClearAll),
	}
	for i, lib := range favorites {
		n := i + 1
		columns = append(columns, r.libraryColumn(fmt.Sprintf("%d. %s", n, r.clean(lib.Short)), lib))
		actions = append(actions, line.PostbackDataAction(strconv.Itoa(n), line.PostbackData{
			Action: line.PostbackActionRemove,
			Number: n,
		}))
	}

	return []line.Message{
		line.NewTextMessage(textEditFavorites),
		line.NewCarouselMessage(strings.TrimRight(r.numberedList(favorites), "\n"), columns, actions...),
	}
}

func (r renderer) favoritesCleared() []line.Message {
	return []line.Message{line.NewTextMessage(textFavoritesCleared)}
}

func (r renderer) favoriteAdded(number int, lib model.LibraryRecord) []line.Message {
	return []line.Message{line.NewTextMessage(fmt.Sprintf("%d. %s\nをお気に入りに登録しました。", number, r.clean(lib.Short)))}
}

func (r renderer) favoriteDuplicate(number int, lib model.LibraryRecord) []line.Message {
	return []line.Message{line.NewTextMessage(fmt.Sprintf("%d. %s\nは登録済みです。", number, r.clean(lib.Short)))}
}

func (r renderer) favoritesFull() []line.Message {
	return []line.Message{line.NewTextMessage(textFavoritesFull,
		cancelAction(),
		line.MessageAction(KeywordEdit, KeywordEdit),
	)}
}

func (r renderer) favoriteRemoved(number int, lib model.LibraryRecord) []line.Message {
	return []line.Message{line.NewTextMessage(fmt.Sprintf("%d. %s\nをお気に入りから削除しました。", number, r.clean(lib.Short)))}
}

func (r renderer) tryAgainLater() []line.Message {
	return []line.Message{line.NewTextMessage(textTryAgainLater)}
}
