package pixfmt

import (
	"fmt"
	"image"
)

// ToImage は変換済みバッファを *image.RGBA に詰め直す
//
// 画像エンコーダ (PNG/JPEG) に渡すための補助。RGBA はコピーのみ、
// RGB24 と BGRX はチャンネルを並べ替えてアルファを255にする。
func ToImage(buf []byte, l Layout, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("pixfmt: 無効な画像サイズ: %dx%d", width, height)
	}
	bpp := l.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLayout, l)
	}
	if want := width * height * bpp; len(buf) != want {
		return nil, &SizeMismatchError{Layout: l, InputLen: width * height * 2, Want: want, Got: len(buf)}
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	switch l {
	case LayoutRGBA:
		copy(img.Pix, buf)
	case LayoutRGB24:
		for i, o := 0, 0; i < len(buf); i, o = i+3, o+4 {
			img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3] = buf[i], buf[i+1], buf[i+2], 0xFF
		}
	case LayoutBGRX:
		for i := 0; i < len(buf); i += 4 {
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = buf[i+2], buf[i+1], buf[i], 0xFF
		}
	}
	return img, nil
}
