package engine

import (
	"context"
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/BaSui01/interiorflow/internal/pool"
	"github.com/BaSui01/interiorflow/prompt"
)

// LocalConfig 本地算法合成配置
type LocalConfig struct {
	Name           string  `json:"name" yaml:"name"`
	WallRegion     float64 `json:"wall_region" yaml:"wall_region"`         // 画面上部视为墙面的比例
	Strength       float64 `json:"strength" yaml:"strength"`               // 请求未指定 image_strength 时的着色强度
	GrainAmplitude int     `json:"grain_amplitude" yaml:"grain_amplitude"` // 纹理噪点幅度（灰度级），0 取默认值
	Variation      float64 `json:"variation" yaml:"variation"`             // 每个种子对强度与色调的扰动幅度
}

// DefaultLocalConfig 返回默认本地合成配置
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{
		Name:           "local",
		WallRegion:     0.6,
		Strength:       0.45,
		GrainAmplitude: 6,
		Variation:      0.12,
	}
}

// LocalBackend recolours the room photo in process: walls toward the
// requested wall colour, the floor toward the flooring tone, plus seeded
// grain. It needs no network and is always healthy.
type LocalBackend struct {
	cfg     LocalConfig
	workers *pool.WorkerPool
}

var _ Backend = (*LocalBackend)(nil)

// NewLocalBackend 创建本地后端；CPU 工作提交到 workers 执行
func NewLocalBackend(cfg LocalConfig, workers *pool.WorkerPool) *LocalBackend {
	def := DefaultLocalConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.WallRegion <= 0 || cfg.WallRegion >= 1 {
		cfg.WallRegion = def.WallRegion
	}
	if cfg.Strength <= 0 || cfg.Strength > 1 {
		cfg.Strength = def.Strength
	}
	if cfg.GrainAmplitude <= 0 {
		cfg.GrainAmplitude = def.GrainAmplitude
	}
	if cfg.Variation <= 0 || cfg.Variation > 0.5 {
		cfg.Variation = def.Variation
	}
	if workers == nil {
		workers = pool.NewWorkerPool(pool.Config{Workers: 1, QueueSize: 8})
	}
	return &LocalBackend{cfg: cfg, workers: workers}
}

func (b *LocalBackend) Descriptor() Descriptor {
	return Descriptor{
		Type:  "local",
		Name:  b.cfg.Name,
		Model: "recolor-v1",
		Capabilities: Capabilities{
			Deterministic: true,
			Local:         true,
		},
		Config: map[string]string{
			"wall_region": strconv.FormatFloat(b.cfg.WallRegion, 'f', 2, 64),
			"strength":    strconv.FormatFloat(b.cfg.Strength, 'f', 2, 64),
		},
	}
}

func (b *LocalBackend) Supports(*GenerationRequest) error { return nil }

func (b *LocalBackend) Ping(context.Context) error { return nil }

// Render runs on the worker pool so concurrent requests cannot starve the
// process of CPU.
func (b *LocalBackend) Render(ctx context.Context, job *Job, seed int64) (*Artifact, error) {
	var out []byte
	err := b.workers.SubmitWait(ctx, func(ctx context.Context) error {
		data, err := b.recolor(job.Request, seed)
		out = data
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Artifact{Data: out, MIME: "image/png"}, nil
}

func (b *LocalBackend) recolor(req *GenerationRequest, seed int64) ([]byte, error) {
	img, err := decodeRGBA(req.Image, req.Resolution)
	if err != nil {
		return nil, err
	}

	strength := req.ImageStrength
	if strength == 0 {
		strength = b.cfg.Strength
	}
	key := splitmix64(uint64(seed))
	v := newVariation(key, b.cfg.Variation)
	strength = max(0, min(1, strength+v.strength))
	wall := v.tint(parseColor(req.WallColor, color.RGBA{R: 236, G: 232, B: 224, A: 255}))
	floor := v.tint(flooringTone(req.FlooringMaterial))

	bounds := img.Bounds()
	split := bounds.Min.Y + int(float64(bounds.Dy())*b.cfg.WallRegion)
	amp := uint64(b.cfg.GrainAmplitude)
	width := bounds.Dx()

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		target := wall
		if y >= split {
			target = floor
		}
		row := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < len(row); x += 4 {
			// 噪点由 (种子, 像素位置) 共同决定，相邻种子之间不相关
			idx := uint64((y-bounds.Min.Y)*width + x/4)
			grain := int(splitmix64(key^idx)%(2*amp+1)) - int(amp)
			row[x] = blend(row[x], target.R, strength, grain)
			row[x+1] = blend(row[x+1], target.G, strength, grain)
			row[x+2] = blend(row[x+2], target.B, strength, grain)
		}
	}
	return encodePNG(img)
}

// variation is the per-seed drift applied on top of the requested look.
type variation struct {
	strength float64
	shift    [3]int
}

// newVariation spreads key into a strength offset in [-amount, amount] and
// a channel shift of up to amount*64 levels.
func newVariation(key uint64, amount float64) variation {
	unit := func(salt uint64) float64 {
		return float64(splitmix64(key+salt)>>11)/float64(1<<53)*2 - 1
	}
	v := variation{strength: unit(1) * amount}
	for i := range v.shift {
		v.shift[i] = int(unit(uint64(i)+2) * amount * 64)
	}
	return v
}

func (v variation) tint(c color.RGBA) color.RGBA {
	ch := func(x uint8, d int) uint8 { return uint8(max(0, min(255, int(x)+d))) }
	return color.RGBA{R: ch(c.R, v.shift[0]), G: ch(c.G, v.shift[1]), B: ch(c.B, v.shift[2]), A: c.A}
}

// blend keeps the photo's shading by mixing luminance-preserving tints.
func blend(src, target uint8, strength float64, grain int) uint8 {
	v := float64(src)*(1-strength) + float64(src)*float64(target)/255*strength + float64(grain)
	return uint8(max(0, min(255, int(v+0.5))))
}

var namedColors = map[string]color.RGBA{
	"white":      {245, 245, 242, 255},
	"warm white": {246, 240, 228, 255},
	"off white":  {240, 236, 226, 255},
	"cream":      {243, 229, 199, 255},
	"beige":      {226, 211, 184, 255},
	"grey":       {170, 170, 170, 255},
	"gray":       {170, 170, 170, 255},
	"charcoal":   {64, 66, 70, 255},
	"black":      {30, 30, 30, 255},
	"sage green": {178, 190, 160, 255},
	"green":      {120, 160, 110, 255},
	"navy":       {40, 52, 90, 255},
	"blue":       {110, 140, 190, 255},
	"terracotta": {196, 110, 80, 255},
	"blush":      {232, 196, 190, 255},
	"yellow":     {236, 210, 120, 255},
}

var flooringTones = map[string]color.RGBA{
	"oak":         {190, 150, 100, 255},
	"light oak":   {210, 178, 130, 255},
	"walnut":      {110, 75, 50, 255},
	"maple":       {220, 190, 145, 255},
	"marble":      {232, 230, 226, 255},
	"concrete":    {160, 160, 156, 255},
	"tile":        {205, 200, 192, 255},
	"terrazzo":    {214, 206, 196, 255},
	"carpet":      {170, 160, 150, 255},
	"slate":       {90, 95, 100, 255},
	"bamboo":      {200, 170, 110, 255},
	"laminate":    {180, 145, 105, 255},
	"vinyl":       {185, 170, 150, 255},
	"herringbone": {176, 134, 90, 255},
}

// parseColor accepts "#rrggbb", "rrggbb" or a known colour name.
func parseColor(s string, fallback color.RGBA) color.RGBA {
	name := prompt.Normalize(s)
	if c, ok := namedColors[name]; ok {
		return c
	}
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) == 6 {
		var r, g, b uint8
		if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err == nil {
			return color.RGBA{R: r, G: g, B: b, A: 255}
		}
	}
	return fallback
}

// flooringTone matches the longest known material mentioned in s.
func flooringTone(s string) color.RGBA {
	name := prompt.Normalize(s)
	if c, ok := flooringTones[name]; ok {
		return c
	}
	best, bestLen, bestKey := color.RGBA{R: 185, G: 160, B: 130, A: 255}, 0, ""
	for k, c := range flooringTones {
		if !strings.Contains(name, k) {
			continue
		}
		if len(k) > bestLen || (len(k) == bestLen && k < bestKey) {
			best, bestLen, bestKey = c, len(k), k
		}
	}
	return best
}
