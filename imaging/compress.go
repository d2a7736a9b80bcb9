// Package imaging downsizes and re-encodes images before they are sent to
// the generation and verification models.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder

	"github.com/justapithecus/darkroom/types"
)

// Preset is a named (maxDim, quality) pair.
type Preset struct {
	MaxDim  int
	Quality float64
}

// Presets used across the pipeline.
var (
	PresetVerify     = Preset{MaxDim: 768, Quality: 0.7}
	PresetBackground = Preset{MaxDim: 1536, Quality: 0.85}
	PresetSubject    = Preset{MaxDim: 1536, Quality: 0.85}
	PresetReference  = Preset{MaxDim: 1024, Quality: 0.75}
)

// Apply compresses img with the preset.
func (p Preset) Apply(img types.Image) types.Image {
	return Compress(img, p.MaxDim, p.Quality)
}

// Compress scales img so that its longer side is at most maxDim and
// re-encodes it as JPEG at quality in (0, 1]. Images that cannot be
// decoded are returned unchanged.
func Compress(img types.Image, maxDim int, quality float64) types.Image {
	out, err := compress(img, maxDim, quality)
	if err != nil {
		return img
	}
	return out
}

func compress(img types.Image, maxDim int, quality float64) (types.Image, error) {
	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return types.Image{}, fmt.Errorf("decode: %w", err)
	}

	dst := src
	if w, h := scaledSize(src.Bounds().Dx(), src.Bounds().Dy(), maxDim); w != src.Bounds().Dx() || h != src.Bounds().Dy() {
		rgba := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(rgba, rgba.Bounds(), src, src.Bounds(), draw.Over, nil)
		dst = rgba
	}

	q := int(quality * 100)
	if q < 1 || q > 100 {
		q = jpeg.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: q}); err != nil {
		return types.Image{}, fmt.Errorf("encode: %w", err)
	}
	return types.Image{MIMEType: "image/jpeg", Data: buf.Bytes()}, nil
}

// scaledSize keeps the aspect ratio and never upscales.
func scaledSize(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		return maxDim, max(1, h*maxDim/w)
	}
	return max(1, w*maxDim/h), maxDim
}

// Load reads an image file and sniffs its MIME type.
func Load(path string) (types.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Image{}, fmt.Errorf("read image: %w", err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return types.Image{}, fmt.Errorf("%s: not an image (%s)", filepath.Base(path), mime)
	}
	return types.Image{MIMEType: mime, Data: data}, nil
}

// Extension returns a file extension for the image's MIME type.
func Extension(img types.Image) string {
	switch img.MIMEType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
