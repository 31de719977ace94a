package conditioning

import "image"

// closeMask runs dilation then erosion with a square kernel of the given
// radius. Pixels outside content are ignored, so closing never shrinks the
// mask at the content border.
func closeMask(mask []bool, w int, content image.Rectangle, radius int) []bool {
	if radius <= 0 {
		return mask
	}
	return erode(dilate(mask, w, content, radius), w, content, radius)
}

func dilate(mask []bool, w int, c image.Rectangle, r int) []bool {
	out := make([]bool, len(mask))
	for y := c.Min.Y; y < c.Max.Y; y++ {
		for x := c.Min.X; x < c.Max.X; x++ {
			out[y*w+x] = anyInWindow(mask, w, c, x, y, r)
		}
	}
	return out
}

func erode(mask []bool, w int, c image.Rectangle, r int) []bool {
	out := make([]bool, len(mask))
	for y := c.Min.Y; y < c.Max.Y; y++ {
		for x := c.Min.X; x < c.Max.X; x++ {
			out[y*w+x] = allInWindow(mask, w, c, x, y, r)
		}
	}
	return out
}

func anyInWindow(mask []bool, w int, c image.Rectangle, x, y, r int) bool {
	for yy := max(y-r, c.Min.Y); yy <= min(y+r, c.Max.Y-1); yy++ {
		for xx := max(x-r, c.Min.X); xx <= min(x+r, c.Max.X-1); xx++ {
			if mask[yy*w+xx] {
				return true
			}
		}
	}
	return false
}

func allInWindow(mask []bool, w int, c image.Rectangle, x, y, r int) bool {
	for yy := max(y-r, c.Min.Y); yy <= min(y+r, c.Max.Y-1); yy++ {
		for xx := max(x-r, c.Min.X); xx <= min(x+r, c.Max.X-1); xx++ {
			if !mask[yy*w+xx] {
				return false
			}
		}
	}
	return true
}

// removeSpeckle drops 8-connected components smaller than minArea and
// returns the number of pixels left.
func removeSpeckle(mask []bool, w int, c image.Rectangle, minArea int) int {
	seen := make([]bool, len(mask))
	var component, stack []int
	kept := 0

	for y := c.Min.Y; y < c.Max.Y; y++ {
		for x := c.Min.X; x < c.Max.X; x++ {
			start := y*w + x
			if !mask[start] || seen[start] {
				continue
			}
			component = component[:0]
			stack = append(stack[:0], start)
			seen[start] = true
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				component = append(component, p)
				px, py := p%w, p/w
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := px+dx, py+dy
						if !(image.Point{X: nx, Y: ny}).In(c) {
							continue
						}
						j := ny*w + nx
						if mask[j] && !seen[j] {
							seen[j] = true
							stack = append(stack, j)
						}
					}
				}
			}
			if len(component) < minArea {
				for _, p := range component {
					mask[p] = false
				}
				continue
			}
			kept += len(component)
		}
	}
	return kept
}
