package barcode

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("PNGエンコードに失敗: %v", err)
	}
	return buf.Bytes()
}

// barcodeImage はEAN-13バーコードを描画した画像を生成する。
func barcodeImage(t *testing.T, contents string) image.Image {
	t.Helper()
	matrix, err := oned.NewEAN13Writer().Encode(contents, gozxing.BarcodeFormat_EAN_13, 400, 120, nil)
	if err != nil {
		t.Fatalf("バーコード生成に失敗: %v", err)
	}
	return matrix
}

func TestDecoder_ReadsISBNBarcode(t *testing.T) {
	data := encodePNG(t, barcodeImage(t, "9784334926946"))

	found, codes, err := NewDecoder().Decode(data)
	if err != nil {
		t.Fatalf("Decode がエラーを返した: %v", err)
	}
	if !found {
		t.Fatal("バーコードを検出できなかった")
	}
	if len(codes) != 1 || codes[0] != "9784334926946" {
		t.Errorf("codes = %v, want [9784334926946]", codes)
	}
}

func TestDecoder_ReadsStackedBarcodes(t *testing.T) {
	upper := barcodeImage(t, "9784334926946")
	lower := barcodeImage(t, "1920093016001")

	canvas := image.NewGray(image.Rect(0, 0, 400, 280))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(0, 10, 400, 130), upper, image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(0, 150, 400, 270), lower, image.Point{}, draw.Src)

	found, codes, err := NewDecoder().Decode(encodePNG(t, canvas))
	if err != nil {
		t.Fatalf("Decode がエラーを返した: %v", err)
	}
	if !found {
		t.Fatal("バーコードを検出できなかった")
	}

	got := map[string]bool{}
	for _, c := range codes {
		got[c] = true
	}
	if !got["9784334926946"] || !got["1920093016001"] {
		t.Errorf("codes = %v, want 上下2段のコード", codes)
	}
}

func TestDecoder_BlankImage(t *testing.T) {
	blank := image.NewGray(image.Rect(0, 0, 200, 100))
	draw.Draw(blank, blank.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	found, codes, err := NewDecoder().Decode(encodePNG(t, blank))
	if err != nil {
		t.Fatalf("Decode がエラーを返した: %v", err)
	}
	if found {
		t.Errorf("白紙画像で検出してはならない: codes=%v", codes)
	}
	if len(codes) != 0 {
		t.Errorf("codes = %v, want 空", codes)
	}
}

func TestDecoder_InvalidImageData(t *testing.T) {
	_, _, err := NewDecoder().Decode([]byte("not an image"))
	if err == nil {
		t.Error("画像でないデータはエラーを返すべき")
	}
}

func TestRegions_SplitsHalves(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 10, 10))
	rs := regions(img)
	if len(rs) != 3 {
		t.Fatalf("領域数 = %d, want 3", len(rs))
	}
	if rs[1].Bounds() != image.Rect(0, 0, 10, 5) {
		t.Errorf("上半分 = %v", rs[1].Bounds())
	}
	if rs[2].Bounds() != image.Rect(0, 5, 10, 10) {
		t.Errorf("下半分 = %v", rs[2].Bounds())
	}
}
