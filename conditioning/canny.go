package conditioning

import "image"

// edgeField holds gradient magnitude and quantized direction for a full canvas.
// Pixels outside the content rectangle stay zero.
type edgeField struct {
	w, h    int
	content image.Rectangle
	mag     []int32
	dir     []uint8
}

const (
	dirHorizontal uint8 = iota // gradient along x, compare left/right
	dirVertical                // gradient along y, compare up/down
	dirDiagDown                // compare (x-1,y-1) / (x+1,y+1)
	dirDiagUp                  // compare (x+1,y-1) / (x-1,y+1)
)

// sobel computes 3x3 Sobel gradients inside content, replicating the content
// border so the padding never contributes.
func sobel(img *image.Gray, content image.Rectangle) *edgeField {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	f := &edgeField{w: w, h: h, content: content, mag: make([]int32, w*h), dir: make([]uint8, w*h)}

	at := func(x, y int) int32 {
		x = min(max(x, content.Min.X), content.Max.X-1)
		y = min(max(y, content.Min.Y), content.Max.Y-1)
		return int32(img.Pix[y*img.Stride+x])
	}

	for y := content.Min.Y; y < content.Max.Y; y++ {
		for x := content.Min.X; x < content.Max.X; x++ {
			tl, tc, tr := at(x-1, y-1), at(x, y-1), at(x+1, y-1)
			ml, mr := at(x-1, y), at(x+1, y)
			bl, bc, br := at(x-1, y+1), at(x, y+1), at(x+1, y+1)

			gx := (tr + 2*mr + br) - (tl + 2*ml + bl)
			gy := (bl + 2*bc + br) - (tl + 2*tc + tr)
			ax, ay := abs32(gx), abs32(gy)

			i := y*w + x
			f.mag[i] = ax + ay
			switch {
			case ay*1000 <= ax*414: // < 22.5°
				f.dir[i] = dirHorizontal
			case ay*1000 >= ax*2414: // > 67.5°
				f.dir[i] = dirVertical
			case (gx > 0) == (gy > 0):
				f.dir[i] = dirDiagDown
			default:
				f.dir[i] = dirDiagUp
			}
		}
	}
	return f
}

func (f *edgeField) magAt(x, y int) int32 {
	if !(image.Point{X: x, Y: y}).In(f.content) {
		return 0
	}
	return f.mag[y*f.w+x]
}

// suppress keeps only local maxima along the gradient direction. The
// comparison is >= on the leading side and > on the trailing side so a
// plateau two pixels wide yields exactly one edge pixel.
func (f *edgeField) suppress() []int32 {
	out := make([]int32, len(f.mag))
	c := f.content
	for y := c.Min.Y; y < c.Max.Y; y++ {
		for x := c.Min.X; x < c.Max.X; x++ {
			i := y*f.w + x
			m := f.mag[i]
			if m == 0 {
				continue
			}
			var before, after int32
			switch f.dir[i] {
			case dirHorizontal:
				before, after = f.magAt(x-1, y), f.magAt(x+1, y)
			case dirVertical:
				before, after = f.magAt(x, y-1), f.magAt(x, y+1)
			case dirDiagDown:
				before, after = f.magAt(x-1, y-1), f.magAt(x+1, y+1)
			default:
				before, after = f.magAt(x+1, y-1), f.magAt(x-1, y+1)
			}
			if m >= before && m > after {
				out[i] = m
			}
		}
	}
	return out
}

// hysteresis keeps strong pixels and every weak pixel 8-connected to one.
func hysteresis(nms []int32, w int, content image.Rectangle, low, high int32) []bool {
	edges := make([]bool, len(nms))
	stack := make([]int, 0, 1024)

	for y := content.Min.Y; y < content.Max.Y; y++ {
		for x := content.Min.X; x < content.Max.X; x++ {
			i := y*w + x
			if nms[i] < high || edges[i] {
				continue
			}
			edges[i] = true
			stack = append(stack[:0], i)
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				px, py := p%w, p/w
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := px+dx, py+dy
						if !(image.Point{X: nx, Y: ny}).In(content) {
							continue
						}
						j := ny*w + nx
						if !edges[j] && nms[j] >= low {
							edges[j] = true
							stack = append(stack, j)
						}
					}
				}
			}
		}
	}
	return edges
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
