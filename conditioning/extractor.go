package conditioning

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"time"

	"github.com/BaSui01/interiorflow/types"
	"go.uber.org/zap"
)

// Config 边缘提取参数
type Config struct {
	Sigma           float64 `json:"sigma" yaml:"sigma"`                       // 中位数两侧的阈值比例
	LowerBound      float64 `json:"lower_bound" yaml:"lower_bound"`           // 低阈值下限
	UpperBound      float64 `json:"upper_bound" yaml:"upper_bound"`           // 高阈值上限
	MinEdgeRatio    float64 `json:"min_edge_ratio" yaml:"min_edge_ratio"`     // 低于此比例视为空白照片
	MaxEdgeRatio    float64 `json:"max_edge_ratio" yaml:"max_edge_ratio"`     // 高于此比例视为噪声照片
	CloseRadius     int     `json:"close_radius" yaml:"close_radius"`         // 闭运算核半径，1 即 3x3
	MinSpeckleArea  int     `json:"min_speckle_area" yaml:"min_speckle_area"` // 小于该面积的连通域被移除
	MaxSourcePixels int     `json:"max_source_pixels" yaml:"max_source_pixels"`
}

// DefaultConfig 返回默认提取参数
func DefaultConfig() Config {
	return Config{
		Sigma:           0.33,
		LowerBound:      50,
		UpperBound:      200,
		MinEdgeRatio:    0.01,
		MaxEdgeRatio:    0.50,
		CloseRadius:     1,
		MinSpeckleArea:  8,
		MaxSourcePixels: 40_000_000,
	}
}

// Map is a single-channel edge image plus the parameters that produced it.
type Map struct {
	PNG           []byte          `json:"-"`
	Width         int             `json:"width"`
	Height        int             `json:"height"`
	EdgeRatio     float64         `json:"edge_ratio"`
	Median        uint8           `json:"median"`
	LowThreshold  float64         `json:"low_threshold"`
	HighThreshold float64         `json:"high_threshold"`
	Content       image.Rectangle `json:"content"`
	SourceFormat  string          `json:"source_format"`
}

// Extractor turns room photos into conditioning maps. It is stateless and
// safe for concurrent use.
type Extractor struct {
	cfg    Config
	logger *zap.Logger
}

// New 创建提取器，零值字段使用默认值
func New(cfg Config, logger *zap.Logger) *Extractor {
	def := DefaultConfig()
	if cfg.Sigma <= 0 {
		cfg.Sigma = def.Sigma
	}
	if cfg.LowerBound <= 0 {
		cfg.LowerBound = def.LowerBound
	}
	if cfg.UpperBound <= 0 {
		cfg.UpperBound = def.UpperBound
	}
	if cfg.MinEdgeRatio <= 0 {
		cfg.MinEdgeRatio = def.MinEdgeRatio
	}
	if cfg.MaxEdgeRatio <= 0 {
		cfg.MaxEdgeRatio = def.MaxEdgeRatio
	}
	if cfg.CloseRadius < 0 {
		cfg.CloseRadius = def.CloseRadius
	}
	if cfg.MinSpeckleArea <= 0 {
		cfg.MinSpeckleArea = def.MinSpeckleArea
	}
	if cfg.MaxSourcePixels <= 0 {
		cfg.MaxSourcePixels = def.MaxSourcePixels
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{cfg: cfg, logger: logger.With(zap.String("component", "conditioning"))}
}

// Config returns the effective configuration.
func (e *Extractor) Config() Config { return e.cfg }

// Preprocess returns only the PNG bytes of the conditioning map.
func (e *Extractor) Preprocess(ctx context.Context, data []byte, res Resolution) ([]byte, error) {
	m, err := e.Extract(ctx, data, res)
	if err != nil {
		return nil, err
	}
	return m.PNG, nil
}

// Extract runs the full pipeline. Errors carry IMAGE_DECODE,
// CONDITIONING_QUALITY, VALIDATION or CANCELED codes.
func (e *Extractor) Extract(ctx context.Context, data []byte, res Resolution) (*Map, error) {
	if res.Width <= 0 || res.Height <= 0 {
		return nil, types.NewValidationError("invalid conditioning resolution %s", res)
	}
	start := time.Now()

	gray, format, err := decodeGray(data, e.cfg.MaxSourcePixels)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, canceled(err)
	}

	canvas, content := letterbox(gray, res)
	med := median(canvas, content)
	low, high := e.thresholds(med)

	field := sobel(canvas, content)
	if err := ctx.Err(); err != nil {
		return nil, canceled(err)
	}
	nms := field.suppress()
	edges := hysteresis(nms, res.Width, content,
		int32(math.Round(low)), int32(math.Round(high)))
	edges = closeMask(edges, res.Width, content, e.cfg.CloseRadius)
	count := removeSpeckle(edges, res.Width, content, e.cfg.MinSpeckleArea)

	ratio := float64(count) / float64(content.Dx()*content.Dy())
	e.logger.Debug("edge map computed",
		zap.String("format", format),
		zap.Stringer("resolution", res),
		zap.Uint8("median", med),
		zap.Float64("low", low),
		zap.Float64("high", high),
		zap.Float64("edge_ratio", ratio),
		zap.Duration("elapsed", time.Since(start)),
	)

	if ratio < e.cfg.MinEdgeRatio {
		return nil, types.NewError(types.ErrConditioningQuality,
			fmt.Sprintf("photo has too little structure (edge ratio %.4f < %.2f)", ratio, e.cfg.MinEdgeRatio)).
			WithHTTPStatus(422)
	}
	if ratio > e.cfg.MaxEdgeRatio {
		return nil, types.NewError(types.ErrConditioningQuality,
			fmt.Sprintf("photo is too noisy (edge ratio %.4f > %.2f)", ratio, e.cfg.MaxEdgeRatio)).
			WithHTTPStatus(422)
	}

	out, err := encodeMask(edges, res)
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "encode conditioning map").WithCause(err)
	}
	return &Map{
		PNG:           out,
		Width:         res.Width,
		Height:        res.Height,
		EdgeRatio:     ratio,
		Median:        med,
		LowThreshold:  low,
		HighThreshold: high,
		Content:       content,
		SourceFormat:  format,
	}, nil
}

// thresholds: low = max(LowerBound, (1-σ)·median), high = min(UpperBound, (1+σ)·median).
// Both are compared directly against the L1 Sobel magnitude.
func (e *Extractor) thresholds(med uint8) (float64, float64) {
	m := float64(med)
	low := math.Max(e.cfg.LowerBound, (1-e.cfg.Sigma)*m)
	high := math.Min(e.cfg.UpperBound, (1+e.cfg.Sigma)*m)
	if high < low {
		high = low
	}
	return low, high
}

func encodeMask(mask []bool, res Resolution) ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, res.Width, res.Height))
	for i, on := range mask {
		if on {
			img.Pix[i] = 255
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func canceled(err error) error {
	return types.NewError(types.ErrCanceled, "conditioning canceled").WithCause(err)
}
