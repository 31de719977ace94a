package engine

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/BaSui01/interiorflow/types"
	"go.uber.org/atomic"
)

// DeterministicConfig 确定性测试替身配置，可脚本化各类失败
type DeterministicConfig struct {
	Name         string `json:"name" yaml:"name"`
	Conditioning bool   `json:"conditioning" yaml:"conditioning"` // 声明支持条件图
	Width        int    `json:"width" yaml:"width"`
	Height       int    `json:"height" yaml:"height"`

	FailValidation    bool    `json:"fail_validation" yaml:"fail_validation"`
	TransientFailures int     `json:"transient_failures" yaml:"transient_failures"` // 前 N 次渲染返回瞬时错误
	FailPermanent     bool    `json:"fail_permanent" yaml:"fail_permanent"`
	FailSeeds         []int64 `json:"fail_seeds" yaml:"fail_seeds"` // 这些种子总是永久失败
	Unhealthy         bool    `json:"unhealthy" yaml:"unhealthy"`
}

// DeterministicBackend renders a tiny PNG whose pixels derive only from the
// seed, the prompt and the knobs, so identical inputs give identical bytes.
//
// TransientFailures counts renders over the backend's lifetime, not per
// request: once the first N renders have failed, later requests succeed.
// Reset rearms the script.
type DeterministicBackend struct {
	cfg      DeterministicConfig
	failSeed map[int64]bool

	validations atomic.Int64
	renders     atomic.Int64
	transient   atomic.Int64
}

var _ Backend = (*DeterministicBackend)(nil)

// NewDeterministicBackend 创建确定性后端
func NewDeterministicBackend(cfg DeterministicConfig) *DeterministicBackend {
	if cfg.Name == "" {
		cfg.Name = "deterministic"
	}
	if cfg.Width <= 0 {
		cfg.Width = 32
	}
	if cfg.Height <= 0 {
		cfg.Height = 24
	}
	b := &DeterministicBackend{cfg: cfg, failSeed: make(map[int64]bool, len(cfg.FailSeeds))}
	for _, s := range cfg.FailSeeds {
		b.failSeed[s] = true
	}
	return b
}

// Reset 清零计数器，重新启用脚本化的瞬时失败
func (b *DeterministicBackend) Reset() {
	b.validations.Store(0)
	b.renders.Store(0)
	b.transient.Store(0)
}

func (b *DeterministicBackend) Descriptor() Descriptor {
	return Descriptor{
		Type:  "deterministic",
		Name:  b.cfg.Name,
		Model: "deterministic-v1",
		Capabilities: Capabilities{
			Conditioning:  b.cfg.Conditioning,
			Deterministic: true,
			Local:         true,
		},
	}
}

func (b *DeterministicBackend) Supports(*GenerationRequest) error {
	b.validations.Inc()
	if b.cfg.FailValidation {
		return types.NewValidationError("%s: scripted validation failure", b.cfg.Name)
	}
	return nil
}

func (b *DeterministicBackend) Ping(context.Context) error {
	if b.cfg.Unhealthy {
		return fmt.Errorf("%s: scripted unhealthy", b.cfg.Name)
	}
	return nil
}

func (b *DeterministicBackend) Render(ctx context.Context, job *Job, seed int64) (*Artifact, error) {
	b.renders.Inc()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.transient.Inc() <= int64(b.cfg.TransientFailures) {
		return nil, types.NewTransientError(b.cfg.Name, "scripted transient failure", nil)
	}
	if b.cfg.FailPermanent || b.failSeed[seed] {
		return nil, types.NewPermanentError(b.cfg.Name, "scripted permanent failure", nil)
	}

	var edgeRatio float64
	if b.cfg.Conditioning {
		m, err := job.ConditioningMap(ctx)
		if err != nil {
			return nil, err
		}
		if m != nil {
			edgeRatio = m.EdgeRatio
		}
	}

	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%g|%g|%d|%g|%g",
		seed, job.Prompt.Positive, job.Prompt.Negative,
		job.Request.ConditioningWeight, job.Request.ImageStrength,
		job.Request.Steps, job.Request.GuidanceScale, edgeRatio)
	sum := h.Sum(nil)

	img := image.NewRGBA(image.Rect(0, 0, b.cfg.Width, b.cfg.Height))
	state := binary.BigEndian.Uint64(sum[:8])
	for y := 0; y < b.cfg.Height; y++ {
		for x := 0; x < b.cfg.Width; x++ {
			state = splitmix64(state)
			img.SetRGBA(x, y, color.RGBA{R: uint8(state), G: uint8(state >> 8), B: uint8(state >> 16), A: math.MaxUint8})
		}
	}
	data, err := encodePNG(img)
	if err != nil {
		return nil, err
	}
	return &Artifact{Data: data, MIME: "image/png"}, nil
}

// Validations returns how many times Supports was called.
func (b *DeterministicBackend) Validations() int64 { return b.validations.Load() }

// Renders returns how many times Render was called.
func (b *DeterministicBackend) Renders() int64 { return b.renders.Load() }
