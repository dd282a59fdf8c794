package pixfmt

import (
	"math"
	"runtime"
	"sync"
)

// minChunkGroups はゴルーチン1つに割り当てる最小グループ数
// これ未満のフレームは逐次変換する
const minChunkGroups = 4096

// Converter は YUYV (4:2:2) から表示用レイアウトへの変換器
//
// 状態を持たず、複数ゴルーチンから同時に使ってよい。
type Converter struct {
	workers  int
	minChunk int
}

// NewConverter は新しいConverterを作成する
// workers が0以下の場合は GOMAXPROCS を使う
func NewConverter(workers int) *Converter {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Converter{
		workers:  workers,
		minChunk: minChunkGroups,
	}
}

// Workers は並列度の上限を返す
func (c *Converter) Workers() int {
	return c.workers
}

// ConvertNew は出力バッファを確保して変換する
func (c *Converter) ConvertNew(src []byte, l Layout) ([]byte, error) {
	size, err := OutputSize(l, len(src))
	if err != nil {
		return nil, err
	}
	dst := make([]byte, size)
	if err := c.Convert(dst, src, l); err != nil {
		return nil, err
	}
	return dst, nil
}

// Convert は src (Y1,Cb,Y2,Cr の繰り返し) を dst に変換する
//
// dst の長さは OutputSize(l, len(src)) と完全に一致しなければならない。
// 変換は全ワーカーの完了を待ってから返る。
func (c *Converter) Convert(dst, src []byte, l Layout) error {
	want, err := OutputSize(l, len(src))
	if err != nil {
		return err
	}
	if len(dst) != want {
		return &SizeMismatchError{Layout: l, InputLen: len(src), Want: want, Got: len(dst)}
	}

	groups := len(src) / GroupSize
	workers := c.workers
	if n := groups / c.minChunk; n < workers {
		workers = n
	}
	if workers <= 1 {
		convertGroups(dst, src, l)
		return nil
	}

	// グループ単位で連続したチャンクに分割する
	per := (groups + workers - 1) / workers
	outPerGroup := 2 * l.BytesPerPixel()

	var wg sync.WaitGroup
	for start := 0; start < groups; start += per {
		end := start + per
		if end > groups {
			end = groups
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			convertGroups(dst[s*outPerGroup:e*outPerGroup], src[s*GroupSize:e*GroupSize], l)
		}(start, end)
	}
	wg.Wait()

	return nil
}

// convertGroups は長さ検証済みのバッファを逐次変換する
func convertGroups(dst, src []byte, l Layout) {
	switch l {
	case LayoutRGBA:
		for i, o := 0, 0; i < len(src); i, o = i+4, o+8 {
			y1, cb, y2, cr := src[i], src[i+1], src[i+2], src[i+3]
			dst[o], dst[o+1], dst[o+2] = YCbCrToRGB(y1, cb, cr)
			dst[o+3] = 0xFF
			dst[o+4], dst[o+5], dst[o+6] = YCbCrToRGB(y2, cb, cr)
			dst[o+7] = 0xFF
		}
	case LayoutRGB24:
		for i, o := 0, 0; i < len(src); i, o = i+4, o+6 {
			y1, cb, y2, cr := src[i], src[i+1], src[i+2], src[i+3]
			dst[o], dst[o+1], dst[o+2] = YCbCrToRGB(y1, cb, cr)
			dst[o+3], dst[o+4], dst[o+5] = YCbCrToRGB(y2, cb, cr)
		}
	case LayoutBGRX:
		for i, o := 0, 0; i < len(src); i, o = i+4, o+8 {
			y1, cb, y2, cr := src[i], src[i+1], src[i+2], src[i+3]
			r, g, b := YCbCrToRGB(y1, cb, cr)
			dst[o], dst[o+1], dst[o+2], dst[o+3] = b, g, r, 0
			r, g, b = YCbCrToRGB(y2, cb, cr)
			dst[o+4], dst[o+5], dst[o+6], dst[o+7] = b, g, r, 0
		}
	}
}

// YCbCrToRGB は1ピクセルを固定係数の行列で変換する
//
//	R = Y + 45*cr/32
//	G = Y - (11*cb + 23*cr)/32
//	B = Y + 113*cb/64
//
// 分母が2のべき乗なので float64 で誤差なく計算できる。
func YCbCrToRGB(y, cb, cr uint8) (r, g, b uint8) {
	yf := float64(y)
	cbf := float64(cb) - 128
	crf := float64(cr) - 128

	r = clamp(yf + 45*crf/32)
	g = clamp(yf - (11*cbf+23*crf)/32)
	b = clamp(yf + 113*cbf/64)
	return r, g, b
}

// clamp は四捨五入して [0, 255] に飽和させる
func clamp(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return uint8(math.Round(v))
	}
}
