package middleware

import (
	"encoding/json"
	"net/http"
)

// emptyBody はWebhookの応答として返す空のJSONオブジェクト。
var emptyBody = struct{}{}

// WriteJSON はJSONレスポンスを書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// WriteEmptyJSON は本文が {} のJSONレスポンスを書き込む。
// LINEプラットフォームはステータスコードのみを参照するため、
// エラーの詳細はログにだけ記録する。
func WriteEmptyJSON(w http.ResponseWriter, statusCode int) {
	WriteJSON(w, statusCode, emptyBody)
}

// WriteInternalServerError は内部サーバーエラーのレスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteEmptyJSON(w, http.StatusInternalServerError)
}
