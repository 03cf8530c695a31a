package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillprint/internal/escpos"
)

// halfBlack is w x h with the left half black and the right half white
func halfBlack(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.Set(x, y, color.Black)
			} else {
				img.Set(x, y, color.White)
			}
		}
	}
	return img
}

func TestMonochromeBits(t *testing.T) {
	r := Monochrome(halfBlack(16, 2), 384, DefaultThreshold)

	assert.Equal(t, 2, r.WidthBytes)
	assert.Equal(t, 2, r.Height)
	assert.Equal(t, []byte{0xFF, 0x00, 0xFF, 0x00}, r.Data)
}

func TestMonochromePadsToWholeBytes(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 1))
	for x := 0; x < 10; x++ {
		img.Set(x, 0, color.Black)
	}
	r := Monochrome(img, 384, DefaultThreshold)

	assert.Equal(t, 2, r.WidthBytes)
	assert.Equal(t, []byte{0xFF, 0xC0}, r.Data)
}

func TestMonochromeTransparentIsWhite(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 1))
	r := Monochrome(img, 384, DefaultThreshold)
	assert.Equal(t, []byte{0x00}, r.Data)
}

func TestMonochromeScalesDown(t *testing.T) {
	r := Monochrome(halfBlack(768, 100), escpos.Dots58, DefaultThreshold)

	assert.Equal(t, escpos.Dots58/8, r.WidthBytes)
	assert.Equal(t, 50, r.Height)
	assert.Len(t, r.Data, r.WidthBytes*r.Height)
	// left half black, right half white
	assert.Equal(t, byte(0xFF), r.Data[0])
	assert.Equal(t, byte(0x00), r.Data[r.WidthBytes-1])
}

func TestPreviewInvertsMonochrome(t *testing.T) {
	src := halfBlack(16, 3)
	pic := Preview(Monochrome(src, 384, DefaultThreshold))

	require.Equal(t, src.Bounds(), pic.Bounds())
	for y := 0; y < 3; y++ {
		for x := 0; x < 16; x++ {
			assert.Equal(t, rgbToGray(src.At(x, y)) < DefaultThreshold, rgbToGray(pic.At(x, y)) < DefaultThreshold, "dot %d,%d", x, y)
		}
	}
}

func TestLoadLogo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logo.png")
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, halfBlack(32, 8)))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	r, err := LoadLogo(path, escpos.Dots58)
	require.NoError(t, err)
	assert.Equal(t, 4, r.WidthBytes)
	assert.Equal(t, 8, r.Height)

	_, err = LoadLogo(filepath.Join(t.TempDir(), "missing.png"), escpos.Dots58)
	assert.Error(t, err)
}

// darkColumns reports which x positions hold any dark pixel
func darkColumns(img image.Image) (minX, maxX int, found bool) {
	b := img.Bounds()
	minX, maxX = b.Max.X, -1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if rgbToGray(img.At(x, y)) < 100 {
				found = true
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
			}
		}
	}
	return minX, maxX, found
}

func TestRenderStreamSize(t *testing.T) {
	opts := DefaultRenderOptions()
	stream := escpos.New(escpos.Columns58).Reset().
		TextLn("one").
		TextLn("two").
		Bytes()

	img, err := RenderStream(stream, opts)
	require.NoError(t, err)
	assert.Equal(t, opts.Width+2*opts.Margin, img.Bounds().Dx())
	assert.Greater(t, img.Bounds().Dy(), 2*opts.Margin)

	_, _, found := darkColumns(img)
	assert.True(t, found)
}

func TestRenderStreamAlignment(t *testing.T) {
	opts := DefaultRenderOptions()
	opts.Margin = 0

	render := func(a escpos.Alignment) (int, int) {
		stream := escpos.New(escpos.Columns58).Reset().Align(a).TextLn("XX").Bytes()
		img, err := RenderStream(stream, opts)
		require.NoError(t, err)
		minX, maxX, found := darkColumns(img)
		require.True(t, found)
		return minX, maxX
	}

	_, leftMax := render(escpos.Left)
	assert.Less(t, leftMax, opts.Width/4)

	rightMin, _ := render(escpos.Right)
	assert.Greater(t, rightMin, opts.Width*3/4)

	centerMin, centerMax := render(escpos.Center)
	assert.Less(t, centerMin, opts.Width/2)
	assert.Greater(t, centerMax, opts.Width/2)
}

func TestRenderStreamDoubleHeight(t *testing.T) {
	opts := DefaultRenderOptions()
	single, err := RenderStream(escpos.New(0).TextLn("A").Bytes(), opts)
	require.NoError(t, err)
	double, err := RenderStream(escpos.New(0).Size(escpos.DoubleHeight).TextLn("A").Bytes(), opts)
	require.NoError(t, err)

	textH := single.Bounds().Dy() - 2*opts.Margin
	assert.Equal(t, 2*textH, double.Bounds().Dy()-2*opts.Margin)
}

func TestRenderStreamFullLineFits(t *testing.T) {
	opts := DefaultRenderOptions()
	opts.Margin = 0
	line := "12345678901234567890123456789012"
	img, err := RenderStream(escpos.New(0).TextLn(line).Bytes(), opts)
	require.NoError(t, err)

	_, maxX, found := darkColumns(img)
	require.True(t, found)
	assert.Less(t, maxX, opts.Width)
}

func TestRenderStreamImage(t *testing.T) {
	opts := DefaultRenderOptions()
	logo := Monochrome(halfBlack(64, 20), escpos.Dots58, DefaultThreshold)
	stream := escpos.New(0).Reset().Align(escpos.Center).Image(logo).Cut().Bytes()

	img, err := RenderStream(stream, opts)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, img.Bounds().Dy(), 20+2*opts.Margin)

	// the black half of the logo sits left of center
	x := opts.Margin + (opts.Width-64)/2 + 4
	assert.Less(t, rgbToGray(img.At(x, opts.Margin+5)), uint8(100))
	assert.Greater(t, rgbToGray(img.At(x+40, opts.Margin+5)), uint8(200))
}

func TestSavePNG(t *testing.T) {
	img, err := RenderStream(escpos.New(0).TextLn("hola").Cut().Bytes(), DefaultRenderOptions())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "preview.png")
	require.NoError(t, SavePNG(path, img))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	back, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), back.Bounds())
}
