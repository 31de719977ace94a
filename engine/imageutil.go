package engine

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"
	"net/http"

	"github.com/BaSui01/interiorflow/internal/pool"
	"github.com/BaSui01/interiorflow/types"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// decodeRGBA decodes img and scales it to exactly res (cover, centered crop).
func decodeRGBA(data []byte, res Resolution) (*image.RGBA, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, types.NewError(types.ErrImageDecode, "unsupported or corrupt image").WithCause(err)
	}
	sb := src.Bounds()
	if sb.Empty() {
		return nil, types.NewError(types.ErrImageDecode, "image has no pixels")
	}

	scale := math.Max(float64(res.Width)/float64(sb.Dx()), float64(res.Height)/float64(sb.Dy()))
	cw := min(sb.Dx(), int(math.Round(float64(res.Width)/scale)))
	ch := min(sb.Dy(), int(math.Round(float64(res.Height)/scale)))
	crop := image.Rect(0, 0, max(cw, 1), max(ch, 1)).Add(sb.Min).
		Add(image.Pt((sb.Dx()-cw)/2, (sb.Dy()-ch)/2))

	dst := image.NewRGBA(image.Rect(0, 0, res.Width, res.Height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	return dst, nil
}

// encodePNG encodes img using a pooled buffer and returns an owned copy.
func encodePNG(img image.Image) ([]byte, error) {
	buf := pool.Images.Get()
	defer pool.Images.Put(buf)
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return bytes.Clone(buf.Bytes()), nil
}

// sniffMIME returns the image MIME type of data, defaulting to PNG.
func sniffMIME(data []byte) string {
	switch ct := http.DetectContentType(data); ct {
	case "image/jpeg", "image/png", "image/webp", "image/gif":
		return ct
	default:
		return "image/png"
	}
}

var aspectRatios = []struct {
	label string
	value float64
}{
	{"1:1", 1}, {"4:3", 4.0 / 3}, {"3:4", 3.0 / 4}, {"16:9", 16.0 / 9}, {"9:16", 9.0 / 16},
	{"3:2", 3.0 / 2}, {"2:3", 2.0 / 3}, {"5:4", 5.0 / 4}, {"4:5", 4.0 / 5}, {"21:9", 21.0 / 9},
}

// AspectRatio returns the closest supported aspect-ratio label for res.
func AspectRatio(res Resolution) string {
	if res.Width <= 0 || res.Height <= 0 {
		return "1:1"
	}
	want := math.Log(float64(res.Width) / float64(res.Height))
	best, bestDiff := aspectRatios[0].label, math.Inf(1)
	for _, ar := range aspectRatios {
		if d := math.Abs(math.Log(ar.value) - want); d < bestDiff {
			best, bestDiff = ar.label, d
		}
	}
	return best
}
