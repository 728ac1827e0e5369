package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はカーリルAPIが返す図書館名・住所などの文字列から
// マークアップを除去し、LINEのテキストメッセージに埋め込める平文にする。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はタグをすべて除去するポリシーでTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、エスケープされた文字参照を元に戻した平文を返す。
// 同一入力に対して常に同一出力を返す。
func (s *TextSanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	cleaned := s.policy.Sanitize(text)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}
