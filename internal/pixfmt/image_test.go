package pixfmt

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToImage_AllLayoutsAgree(t *testing.T) {
	// 4x2 ピクセル = 4グループ
	src := []byte{
		200, 100, 220, 150,
		16, 128, 235, 128,
		90, 240, 90, 110,
		0, 0, 255, 255,
	}
	c := NewConverter(1)

	var ref []uint8
	for _, l := range allLayouts {
		buf, err := c.ConvertNew(src, l)
		require.NoError(t, err)

		img, err := ToImage(buf, l, 4, 2)
		require.NoError(t, err)
		assert.Equal(t, 4, img.Bounds().Dx())
		assert.Equal(t, 2, img.Bounds().Dy())

		if ref == nil {
			ref = img.Pix
			continue
		}
		assert.Equal(t, ref, img.Pix, "layout=%s", l)
	}

	img, err := ToImage(mustConvert(t, src, LayoutBGRX), LayoutBGRX, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 231, G: 194, B: 151, A: 255}, img.RGBAAt(0, 0))
}

func TestToImage_Errors(t *testing.T) {
	_, err := ToImage(make([]byte, 16), LayoutRGBA, 0, 4)
	assert.Error(t, err)

	_, err = ToImage(make([]byte, 15), LayoutRGBA, 2, 2)
	assert.ErrorIs(t, err, ErrSizeMismatch)

	_, err = ToImage(make([]byte, 16), Layout(7), 2, 2)
	assert.ErrorIs(t, err, ErrUnknownLayout)
}

func mustConvert(t *testing.T, src []byte, l Layout) []byte {
	t.Helper()
	out, err := NewConverter(1).ConvertNew(src, l)
	require.NoError(t, err)
	return out
}
