package line

import (
	"net/http"
	"testing"
)

var testSecret = []byte("test-channel-secret")

func TestVerifySignature_ValidSignature(t *testing.T) {
	body := []byte(`{"destination":"U0","events":[]}`)
	sig := Sign(testSecret, body)

	if !VerifySignature(testSecret, body, sig) {
		t.Error("正しい署名が検証に失敗した")
	}
}

func TestVerifySignature_WrongSecret(t *testing.T) {
	body := []byte(`{"events":[]}`)
	sig := Sign([]byte("other-secret"), body)

	if VerifySignature(testSecret, body, sig) {
		t.Error("異なるシークレットの署名が検証に成功してはならない")
	}
}

// ボディの1バイトでも変わると以前の署名は無効になる
func TestVerifySignature_AnyByteChangeInvalidates(t *testing.T) {
	body := []byte(`{"events":[{"type":"follow","source":{"userId":"U1"}}]}`)
	sig := Sign(testSecret, body)

	for i := range body {
		tampered := append([]byte{}, body...)
		tampered[i] ^= 0x01
		if VerifySignature(testSecret, tampered, sig) {
			t.Fatalf("位置 %d を改変したボディの署名検証が成功した", i)
		}
	}
}

// 空白の違いも署名に影響する（再エンコードしたボディでは検証できない）
func TestVerifySignature_WhitespaceMatters(t *testing.T) {
	body := []byte(`{"events": []}`)
	sig := Sign(testSecret, body)

	if VerifySignature(testSecret, []byte(`{"events":[]}`), sig) {
		t.Error("空白の異なるボディで署名検証が成功してはならない")
	}
}

func TestVerifySignature_EmptyOrInvalidSignature(t *testing.T) {
	body := []byte(`{}`)

	cases := []string{"", "not-base64!!", "AAAA"}
	for _, sig := range cases {
		if VerifySignature(testSecret, body, sig) {
			t.Errorf("署名 %q で検証が成功してはならない", sig)
		}
	}
}

func TestSignatureHeader_CaseInsensitiveLookup(t *testing.T) {
	// net/httpのサーバーは受信時にヘッダー名を正規化する
	req, _ := http.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("x-line-signature", "abc")

	if got := req.Header.Get(SignatureHeader); got != "abc" {
		t.Errorf("Header.Get(%q) = %q, want %q", SignatureHeader, got, "abc")
	}
}
