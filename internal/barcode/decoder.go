// Package barcode は画像からの書籍バーコード（EAN-13）読み取りを提供する。
package barcode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
)

// Decoder は画像に含まれるEAN-13バーコードを読み取る。
// 書籍裏表紙は上段にISBN、下段に価格コードが並ぶため、
// 画像全体に加えて上半分と下半分を個別に走査する。
type Decoder struct {
	hints map[gozxing.DecodeHintType]interface{}
}

// NewDecoder はDecoderを生成する。
func NewDecoder() *Decoder {
	return &Decoder{
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

// subImager は部分画像を切り出せる画像。
type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Decode は画像データからバーコードを読み取る。
// foundはバーコードを検出したかどうかを表す。
// 検出したが読み取れなかったバーコードは空文字列としてcodesに含める。
func (d *Decoder) Decode(data []byte) (bool, []string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return false, nil, fmt.Errorf("画像のデコードに失敗しました: %w", err)
	}

	found := false
	codes := []string{}
	seen := make(map[string]bool)

	for _, region := range regions(img) {
		bmp, err := gozxing.NewBinaryBitmapFromImage(region)
		if err != nil {
			return false, nil, fmt.Errorf("画像の二値化に失敗しました: %w", err)
		}

		// EAN13Readerは内部バッファを持つため走査ごとに生成する
		result, err := oned.NewEAN13Reader().Decode(bmp, d.hints)
		if err != nil {
			var notFound gozxing.NotFoundException
			if errors.As(err, &notFound) {
				continue
			}
			// チェックサム不一致などは検出済みだが読み取り不能として扱う
			found = true
			if !seen[""] {
				seen[""] = true
				codes = append(codes, "")
			}
			continue
		}

		found = true
		text := result.GetText()
		if seen[text] {
			continue
		}
		seen[text] = true
		codes = append(codes, text)
	}

	return found, codes, nil
}

// regions は走査対象の領域（全体、上半分、下半分）を返す。
func regions(img image.Image) []image.Image {
	out := []image.Image{img}

	si, ok := img.(subImager)
	if !ok {
		return out
	}
	b := img.Bounds()
	if b.Dy() < 2 {
		return out
	}
	mid := b.Min.Y + b.Dy()/2
	out = append(out,
		si.SubImage(image.Rect(b.Min.X, b.Min.Y, b.Max.X, mid)),
		si.SubImage(image.Rect(b.Min.X, mid, b.Max.X, b.Max.Y)),
	)
	return out
}
