// Package imaging converts between pictures and what a thermal printer
// prints: shop logos become 1-bit rasters, and command streams become PNG
// previews for when no printer is reachable.
package imaging

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"tillprint/internal/escpos"
)

// DefaultThreshold is the gray level below which a dot prints black
const DefaultThreshold = 128

// LoadImage loads an image from file
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}

// LoadLogo reads an image file and converts it to a raster no wider than
// maxWidth dots
func LoadLogo(path string, maxWidth int) (escpos.Raster, error) {
	img, err := LoadImage(path)
	if err != nil {
		return escpos.Raster{}, fmt.Errorf("load logo: %w", err)
	}
	return Monochrome(img, maxWidth, DefaultThreshold), nil
}

// Monochrome converts img to a 1-bit raster. Images wider than maxWidth are
// scaled down keeping their aspect ratio; the width is padded to whole
// bytes with white.
func Monochrome(img image.Image, maxWidth int, threshold uint8) escpos.Raster {
	b := img.Bounds()
	if b.Dx() > maxWidth && maxWidth > 0 {
		img = resizeToFit(img, maxWidth, b.Dy()*maxWidth/b.Dx()+1)
		b = img.Bounds()
	}
	width, height := b.Dx(), b.Dy()

	widthBytes := (width + 7) / 8
	data := make([]byte, widthBytes*height)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if rgbToGray(img.At(b.Min.X+x, b.Min.Y+y)) >= threshold {
				continue
			}
			// MSB first
			data[y*widthBytes+x/8] |= 1 << (7 - x%8)
		}
	}

	return escpos.Raster{WidthBytes: widthBytes, Height: height, Data: data}
}

// rgbToGray converts a color to grayscale, compositing over white paper
func rgbToGray(c color.Color) uint8 {
	r, g, b, a := c.RGBA()
	// premultiplied: add the white showing through
	r += 0xffff - a
	g += 0xffff - a
	b += 0xffff - a
	gray := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 256
	if gray > 255 {
		gray = 255
	}
	return uint8(gray)
}

// resizeToFit scales image to fit within bounds while maintaining aspect ratio
func resizeToFit(img image.Image, maxW, maxH int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	scaleW := float64(maxW) / float64(srcW)
	scaleH := float64(maxH) / float64(srcH)
	scale := scaleW
	if scaleH < scaleW {
		scale = scaleH
	}

	newW := int(float64(srcW)*scale + 0.5)
	newH := int(float64(srcH)*scale + 0.5)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	// nearest neighbour is enough for a 1-bit printer
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	for y := 0; y < newH; y++ {
		for x := 0; x < newW; x++ {
			srcX := int(float64(x) / scale)
			srcY := int(float64(y) / scale)
			if srcX >= srcW {
				srcX = srcW - 1
			}
			if srcY >= srcH {
				srcY = srcH - 1
			}
			dst.Set(x, y, img.At(bounds.Min.X+srcX, bounds.Min.Y+srcY))
		}
	}

	return dst
}

// Preview turns a raster back into a viewable image
func Preview(r escpos.Raster) image.Image {
	width := r.Width()
	img := image.NewGray(image.Rect(0, 0, width, r.Height))

	for y := 0; y < r.Height; y++ {
		for x := 0; x < width; x++ {
			i := y*r.WidthBytes + x/8
			if i < len(r.Data) && (r.Data[i]>>(7-x%8))&1 == 1 {
				img.SetGray(x, y, color.Gray{0})
			} else {
				img.SetGray(x, y, color.Gray{255})
			}
		}
	}

	return img
}
