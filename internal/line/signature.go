// Package line はLINE Messaging APIとの連携機能を提供する。
// Webhookの署名検証とイベント型、応答メッセージの送信、メッセージコンテンツの取得を含む。
package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// SignatureHeader はWebhookリクエストの署名ヘッダー名。
// http.Header.Get は大文字小文字を区別しないため、小文字で送られても取得できる。
const SignatureHeader = "X-Line-Signature"

// VerifySignature は受信したリクエストボディの署名を検証する。
// チャネルシークレットをキーとしたHMAC-SHA256をBase64エンコードし、
// 定数時間比較で署名ヘッダーの値と照合する。
// bodyはJSONとして再エンコードする前の受信バイト列そのものを渡すこと。
func VerifySignature(channelSecret, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	provided, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, channelSecret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}

// Sign はボディに対する署名ヘッダー値を生成する。
// テストやローカルでのWebhook送信に使用する。
func Sign(channelSecret, body []byte) string {
	mac := hmac.New(sha256.New, channelSecret)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
