package conditioning

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/BaSui01/interiorflow/types"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Resolution is a target raster size in pixels.
type Resolution struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// decodeGray decodes JPEG, PNG, GIF or WebP bytes into an 8-bit luma image.
func decodeGray(data []byte, maxPixels int) (*image.Gray, string, error) {
	if len(data) == 0 {
		return nil, "", types.NewError(types.ErrImageDecode, "empty image")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", types.NewError(types.ErrImageDecode, "unsupported or corrupt image").WithCause(err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, format, types.NewError(types.ErrImageDecode, "image has no pixels")
	}
	if maxPixels > 0 && cfg.Width*cfg.Height > maxPixels {
		return nil, format, types.NewError(types.ErrImageDecode,
			fmt.Sprintf("image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, maxPixels))
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, format, types.NewError(types.ErrImageDecode, "unsupported or corrupt image").WithCause(err)
	}
	return toGray(src), format, nil
}

// toGray converts with ITU-R 601 luma weights (color.GrayModel).
func toGray(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+b.Dx()]
		for x := range row {
			row[x] = color.GrayModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
		}
	}
	return dst
}

// letterbox scales src to fit res preserving aspect ratio and centers it on a
// black canvas. The returned rectangle is the area covered by the photo.
func letterbox(src *image.Gray, res Resolution) (*image.Gray, image.Rectangle) {
	sw, sh := src.Bounds().Dx(), src.Bounds().Dy()
	scale := math.Min(float64(res.Width)/float64(sw), float64(res.Height)/float64(sh))

	nw := max(1, min(res.Width, int(math.Round(float64(sw)*scale))))
	nh := max(1, min(res.Height, int(math.Round(float64(sh)*scale))))
	x0 := (res.Width - nw) / 2
	y0 := (res.Height - nh) / 2
	content := image.Rect(x0, y0, x0+nw, y0+nh)

	dst := image.NewGray(image.Rect(0, 0, res.Width, res.Height))
	if nw == sw && nh == sh {
		draw.Copy(dst, content.Min, src, src.Bounds(), draw.Src, nil)
	} else {
		draw.BiLinear.Scale(dst, content, src, src.Bounds(), draw.Src, nil)
	}
	return dst, content
}

// median returns the median luma inside r.
func median(img *image.Gray, r image.Rectangle) uint8 {
	var hist [256]int
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := img.Pix[y*img.Stride+r.Min.X : y*img.Stride+r.Max.X]
		for _, v := range row {
			hist[v]++
		}
	}
	half := (r.Dx()*r.Dy() + 1) / 2
	acc := 0
	for v, n := range hist {
		acc += n
		if acc >= half {
			return uint8(v)
		}
	}
	return 255
}
