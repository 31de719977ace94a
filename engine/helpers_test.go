package engine

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/BaSui01/interiorflow/prompt"
	"github.com/stretchr/testify/require"
)

// roomPNG 生成带水平色带的测试照片
func roomPNG(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		v := uint8(80)
		if (y/16)%2 == 1 {
			v = 200
		}
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testRequest(t testing.TB) *GenerationRequest {
	return &GenerationRequest{
		Image:            roomPNG(t, 64, 48),
		RoomType:         "living_room",
		FurnitureStyle:   "Scandinavian",
		WallColor:        "sage green",
		FlooringMaterial: "light oak",
		Resolution:       Resolution{Width: 256, Height: 256},
	}
}

func testJob(req *GenerationRequest) *Job {
	return &Job{
		Request:   req,
		Prompt:    prompt.Compose(req.StyleFields()),
		RequestID: "req-test",
	}
}
