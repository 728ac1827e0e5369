package line

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// PostbackAction はポストバックで指示される操作。
type PostbackAction string

const (
	// PostbackActionAdd は候補図書館をお気に入りに追加する。
	PostbackActionAdd PostbackAction = "add"
	// PostbackActionRemove はお気に入り図書館を削除する。
	PostbackActionRemove PostbackAction = "remove"
)

// ErrMalformedPostback はポストバックデータが解釈できないことを示す。
var ErrMalformedPostback = errors.New("malformed postback data")

// PostbackData は "action=add&number=1" 形式のポストバックデータを解析した結果。
// Numberは画面に表示した1始まりの番号。
type PostbackData struct {
	Action PostbackAction
	Number int
}

// ParsePostbackData はポストバックデータを解析する。
// actionとnumberは必須で、numberは10進数の整数でなければならない。
func ParsePostbackData(data string) (PostbackData, error) {
	values, err := url.ParseQuery(data)
	if err != nil {
		return PostbackData{}, fmt.Errorf("%w: %v", ErrMalformedPostback, err)
	}

	action := PostbackAction(values.Get("action"))
	switch action {
	case PostbackActionAdd, PostbackActionRemove:
	default:
		return PostbackData{}, fmt.Errorf("%w: unknown action %q", ErrMalformedPostback, action)
	}

	raw := values.Get("number")
	number, err := strconv.Atoi(raw)
	if err != nil {
		return PostbackData{}, fmt.Errorf("%w: invalid number %q", ErrMalformedPostback, raw)
	}

	return PostbackData{Action: action, Number: number}, nil
}

// Encode はポストバックデータを文字列に変換する。
func (d PostbackData) Encode() string {
	return fmt.Sprintf("action=%s&number=%d", d.Action, d.Number)
}
