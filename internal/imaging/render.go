package imaging

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"os"

	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/math/fixed"

	"tillprint/internal/escpos"
)

// RenderOptions describes the simulated paper
type RenderOptions struct {
	Width   int // printable dots
	Columns int
	DPI     float64
	Margin  int // white border around the paper, in pixels
}

// DefaultRenderOptions matches 58mm paper at 203 DPI
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{Width: escpos.Dots58, Columns: escpos.Columns58, DPI: 203, Margin: 8}
}

type renderer struct {
	opts    RenderOptions
	regular *freetype.Context
	bold    *freetype.Context
	face    font.Face
	lineH   int
	ascent  int
}

func newRenderer(opts RenderOptions) (*renderer, error) {
	reg, err := truetype.Parse(gomono.TTF)
	if err != nil {
		return nil, err
	}
	bold, err := truetype.Parse(gomonobold.TTF)
	if err != nil {
		return nil, err
	}

	size := fontSizeFor(reg, opts.Width/opts.Columns, opts.DPI)
	face := truetype.NewFace(reg, &truetype.Options{Size: size, DPI: opts.DPI, Hinting: font.HintingFull})
	metrics := face.Metrics()

	ctx := func(f *truetype.Font) *freetype.Context {
		c := freetype.NewContext()
		c.SetDPI(opts.DPI)
		c.SetFont(f)
		c.SetFontSize(size)
		c.SetSrc(image.Black)
		c.SetHinting(font.HintingFull)
		return c
	}

	return &renderer{
		opts:    opts,
		regular: ctx(reg),
		bold:    ctx(bold),
		face:    face,
		lineH:   metrics.Height.Ceil(),
		ascent:  metrics.Ascent.Ceil(),
	}, nil
}

// fontSizeFor returns the point size at which one monospace glyph advance
// is cell dots wide. Slightly under, so hinting rounds to the cell.
func fontSizeFor(f *truetype.Font, cell int, dpi float64) float64 {
	ref := truetype.NewFace(f, &truetype.Options{Size: 100, DPI: 72})
	adv, ok := ref.GlyphAdvance('0')
	if !ok || adv <= 0 {
		return 8
	}
	perEm := float64(adv) / 64 / 100
	return float64(cell) * 0.98 / perEm * 72 / dpi
}

// RenderStream draws what the printer would print for stream: text with
// alignment, emphasis and magnification, raster images, and cut marks.
func RenderStream(stream []byte, opts RenderOptions) (image.Image, error) {
	def := DefaultRenderOptions()
	if opts.Width <= 0 {
		opts.Width = def.Width
	}
	if opts.Columns <= 0 {
		opts.Columns = def.Columns
	}
	if opts.DPI <= 0 {
		opts.DPI = def.DPI
	}
	if opts.Margin < 0 {
		opts.Margin = 0
	}

	r, err := newRenderer(opts)
	if err != nil {
		return nil, fmt.Errorf("load font: %w", err)
	}

	lines := escpos.Decode(stream)
	height := 2 * opts.Margin
	for _, l := range lines {
		height += r.height(l)
	}

	img := image.NewRGBA(image.Rect(0, 0, opts.Width+2*opts.Margin, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)

	y := opts.Margin
	for _, l := range lines {
		r.draw(img, l, y)
		y += r.height(l)
	}
	return img, nil
}

func scaleOf(s escpos.CharSize) (sx, sy int) {
	sx, sy = 1, 1
	if s&escpos.DoubleWidth != 0 {
		sx = 2
	}
	if s&escpos.DoubleHeight != 0 {
		sy = 2
	}
	return sx, sy
}

func (r *renderer) height(l escpos.Line) int {
	switch {
	case l.Image != nil:
		return l.Image.Height
	case l.Cut:
		return r.lineH
	}
	_, sy := scaleOf(l.Size)
	return r.lineH * sy
}

func (r *renderer) draw(dst *image.RGBA, l escpos.Line, y int) {
	left := r.opts.Margin
	switch {
	case l.Image != nil:
		pic := Preview(*l.Image)
		x := left + r.alignX(l.Align, pic.Bounds().Dx())
		draw.Draw(dst, pic.Bounds().Add(image.Pt(x, y)), pic, image.Point{}, draw.Src)
	case l.Cut:
		mid := y + r.lineH/2
		for x := 0; x < dst.Bounds().Dx(); x++ {
			if (x/6)%2 == 0 {
				dst.Set(x, mid, color.Gray{Y: 96})
			}
		}
	case l.Text != "":
		sx, sy := scaleOf(l.Size)
		w := measureString(r.face, l.Text)
		tmp := image.NewRGBA(image.Rect(0, 0, w+1, r.lineH))
		draw.Draw(tmp, tmp.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)

		c := r.regular
		if l.Bold {
			c = r.bold
		}
		c.SetDst(tmp)
		c.SetClip(tmp.Bounds())
		_, _ = c.DrawString(l.Text, freetype.Pt(0, r.ascent))

		scaled := scaleNearest(tmp, sx, sy)
		x := left + r.alignX(l.Align, w*sx)
		draw.Draw(dst, scaled.Bounds().Add(image.Pt(x, y)), scaled, image.Point{}, draw.Src)
	}
}

func (r *renderer) alignX(a escpos.Alignment, w int) int {
	switch a {
	case escpos.Center:
		if w < r.opts.Width {
			return (r.opts.Width - w) / 2
		}
	case escpos.Right:
		if w < r.opts.Width {
			return r.opts.Width - w
		}
	}
	return 0
}

// measureString returns the width of a string in pixels
func measureString(face font.Face, s string) int {
	var width fixed.Int26_6
	for _, r := range s {
		adv, ok := face.GlyphAdvance(r)
		if ok {
			width += adv
		}
	}
	return width.Ceil()
}

// scaleNearest magnifies src by whole factors the way printer firmware
// doubles glyphs
func scaleNearest(src *image.RGBA, sx, sy int) *image.RGBA {
	if sx == 1 && sy == 1 {
		return src
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*sx, b.Dy()*sy))
	for y := 0; y < dst.Bounds().Dy(); y++ {
		for x := 0; x < dst.Bounds().Dx(); x++ {
			dst.Set(x, y, src.At(b.Min.X+x/sx, b.Min.Y+y/sy))
		}
	}
	return dst
}

// EncodePNG writes img as PNG
func EncodePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

// SavePNG writes img to path
func SavePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}
