package store

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"

	"github.com/Faultbox/midgard-vat/pkg/vat"
)

// PreviewImage renders tex as a 16-bit image. Each channel is normalised
// into [0, 1] by the texture bounds; a flat axis maps to 0.
func PreviewImage(tex *vat.Texture) *image.RGBA64 {
	img := image.NewRGBA64(image.Rect(0, 0, tex.Width, tex.Height))
	bounds := tex.Bounds()
	size := bounds.Size()

	for y := 0; y < tex.Height; y++ {
		for x, p := range tex.Frame(y) {
			var c [3]uint16
			for i := 0; i < 3; i++ {
				if size[i] <= 0 {
					continue
				}
				n := (p[i] - bounds.Min[i]) / size[i]
				c[i] = uint16(clamp01(n)*0xffff + 0.5)
			}
			img.SetRGBA64(x, y, color.RGBA64{R: c[0], G: c[1], B: c[2], A: 0xffff})
		}
	}
	return img
}

// WritePreview writes a preview image. The encoder follows the extension:
// .png or .tif/.tiff.
func WritePreview(path string, tex *vat.Texture) error {
	ext := strings.ToLower(filepath.Ext(path))
	var encode func(f *os.File, img image.Image) error
	switch ext {
	case ".png":
		encode = func(f *os.File, img image.Image) error { return png.Encode(f, img) }
	case ".tif", ".tiff":
		encode = func(f *os.File, img image.Image) error {
			return tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
		}
	default:
		return fmt.Errorf("unsupported preview extension %q", ext)
	}

	img := PreviewImage(tex)
	if err := writeFile(path, func(f *os.File) error { return encode(f, img) }); err != nil {
		return fmt.Errorf("writing preview %s: %w", path, err)
	}
	return nil
}

func clamp01(v float32) float32 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
