package pixfmt

import (
	"errors"
	"fmt"
	"strings"
)

// Layout は変換後のピクセル配置を表す
type Layout int

const (
	LayoutRGBA  Layout = iota // R,G,B,255
	LayoutRGB24               // R,G,B (詰め込み)
	LayoutBGRX                // B,G,R,パディング
)

// GroupSize は入力1グループ (Y1,Cb,Y2,Cr) のバイト数
const GroupSize = 4

var (
	// ErrInvalidInput は入力長が4の正の倍数でない場合のエラー
	ErrInvalidInput = errors.New("pixfmt: 入力長が4の正の倍数ではありません")
	// ErrUnknownLayout は未対応のレイアウト
	ErrUnknownLayout = errors.New("pixfmt: 未対応のレイアウト")
	// ErrSizeMismatch は出力バッファ長が期待値と一致しない場合のエラー
	ErrSizeMismatch = errors.New("pixfmt: 出力バッファ長が一致しません")
)

// SizeMismatchError は出力バッファ長の不一致の詳細
type SizeMismatchError struct {
	Layout   Layout
	InputLen int
	Want     int
	Got      int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("pixfmt: %s の出力バッファ長が一致しません: got %d, want %d (input %d)",
		e.Layout, e.Got, e.Want, e.InputLen)
}

// Is は errors.Is(err, ErrSizeMismatch) を成立させる
func (e *SizeMismatchError) Is(target error) bool {
	return target == ErrSizeMismatch
}

// BytesPerPixel は1ピクセルあたりの出力バイト数を返す
func (l Layout) BytesPerPixel() int {
	switch l {
	case LayoutRGBA, LayoutBGRX:
		return 4
	case LayoutRGB24:
		return 3
	default:
		return 0
	}
}

func (l Layout) String() string {
	switch l {
	case LayoutRGBA:
		return "rgba"
	case LayoutRGB24:
		return "rgb"
	case LayoutBGRX:
		return "bgrx"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

// ParseLayout は設定値の文字列からレイアウトを得る
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rgba", "rgba8":
		return LayoutRGBA, nil
	case "rgb", "rgb24":
		return LayoutRGB24, nil
	case "bgrx", "rgb32":
		return LayoutBGRX, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownLayout, s)
	}
}

// OutputSize は入力長 inLen に対する出力バッファ長を返す
//
// 入力4バイトが2ピクセルになるので、出力長は inLen/2*BytesPerPixel となる。
// RGBA と BGRX は 2L、RGB24 は 1.5L。
func OutputSize(l Layout, inLen int) (int, error) {
	bpp := l.BytesPerPixel()
	if bpp == 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnknownLayout, l)
	}
	if inLen <= 0 || inLen%GroupSize != 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidInput, inLen)
	}
	return inLen / GroupSize * 2 * bpp, nil
}
