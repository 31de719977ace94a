package engine

import (
	"math"

	"github.com/BaSui01/interiorflow/types"
)

// Limits are the documented knob ranges. Values outside them fail
// validation; they are never clamped.
type Limits struct {
	MaxConditioningWeight float64 `json:"max_conditioning_weight" yaml:"max_conditioning_weight"`
	MaxImageStrength      float64 `json:"max_image_strength" yaml:"max_image_strength"`
	MinSteps              int     `json:"min_steps" yaml:"min_steps"`
	MaxSteps              int     `json:"max_steps" yaml:"max_steps"`
	MinGuidance           float64 `json:"min_guidance" yaml:"min_guidance"`
	MaxGuidance           float64 `json:"max_guidance" yaml:"max_guidance"`
	MinEdge               int     `json:"min_edge" yaml:"min_edge"`
	MaxEdge               int     `json:"max_edge" yaml:"max_edge"`
	EdgeMultiple          int     `json:"edge_multiple" yaml:"edge_multiple"`
	MaxFanOut             int     `json:"max_fan_out" yaml:"max_fan_out"`
	MaxSecondaryImages    int     `json:"max_secondary_images" yaml:"max_secondary_images"`
	MaxImageBytes         int     `json:"max_image_bytes" yaml:"max_image_bytes"`
}

// MaxSeed is the largest accepted seed (unsigned 32-bit).
const MaxSeed = 1<<32 - 1

// DefaultLimits returns the documented ranges.
func DefaultLimits() Limits {
	return Limits{
		MaxConditioningWeight: 2,
		MaxImageStrength:      1,
		MinSteps:              1,
		MaxSteps:              150,
		MinGuidance:           1,
		MaxGuidance:           30,
		MinEdge:               256,
		MaxEdge:               2048,
		EdgeMultiple:          8,
		MaxFanOut:             8,
		MaxSecondaryImages:    4,
		MaxImageBytes:         20 << 20,
	}
}

// Defaults fill unset request fields before validation.
type Defaults struct {
	FanOut        int        `json:"fan_out" yaml:"fan_out"`
	Resolution    Resolution `json:"resolution" yaml:"resolution"`
	Steps         int        `json:"steps" yaml:"steps"`
	GuidanceScale float64    `json:"guidance_scale" yaml:"guidance_scale"`
}

// DefaultDefaults returns fan-out 3 at 1024x768.
func DefaultDefaults() Defaults {
	return Defaults{
		FanOut:        3,
		Resolution:    Resolution{Width: 1024, Height: 768},
		Steps:         30,
		GuidanceScale: 7.5,
	}
}

// ApplyDefaults returns a copy of req with unset fields filled from d.
func ApplyDefaults(req *GenerationRequest, d Defaults) *GenerationRequest {
	out := *req
	if out.FanOut == 0 {
		out.FanOut = d.FanOut
	}
	if out.Resolution.Width == 0 && out.Resolution.Height == 0 {
		out.Resolution = d.Resolution
	}
	if out.Steps == 0 {
		out.Steps = d.Steps
	}
	if out.GuidanceScale == 0 {
		out.GuidanceScale = d.GuidanceScale
	}
	return &out
}

// Validate checks req against l. The returned error carries the VALIDATION code.
func (l Limits) Validate(req *GenerationRequest) error {
	if req == nil {
		return types.NewValidationError("request is nil")
	}
	if len(req.Image) == 0 {
		return types.NewValidationError("primary image is empty")
	}
	if l.MaxImageBytes > 0 && len(req.Image) > l.MaxImageBytes {
		return types.NewValidationError("primary image exceeds %d bytes", l.MaxImageBytes)
	}
	if len(req.SecondaryImage) > l.MaxSecondaryImages {
		return types.NewValidationError("at most %d secondary images are accepted", l.MaxSecondaryImages)
	}
	for name, img := range req.SecondaryImage {
		if len(img) == 0 {
			return types.NewValidationError("secondary image %q is empty", name)
		}
	}

	for _, k := range []struct {
		name string
		v    float64
	}{
		{"conditioning weight", req.ConditioningWeight},
		{"image strength", req.ImageStrength},
		{"guidance scale", req.GuidanceScale},
	} {
		if math.IsNaN(k.v) || math.IsInf(k.v, 0) {
			return types.NewValidationError("%s must be a finite number", k.name)
		}
	}
	if req.ConditioningWeight < 0 || req.ConditioningWeight > l.MaxConditioningWeight {
		return types.NewValidationError("conditioning weight %.3f outside [0, %g]", req.ConditioningWeight, l.MaxConditioningWeight)
	}
	if req.ImageStrength < 0 || req.ImageStrength > l.MaxImageStrength {
		return types.NewValidationError("image strength %.3f outside [0, %g]", req.ImageStrength, l.MaxImageStrength)
	}
	if req.Steps != 0 && (req.Steps < l.MinSteps || req.Steps > l.MaxSteps) {
		return types.NewValidationError("inference steps %d outside [%d, %d]", req.Steps, l.MinSteps, l.MaxSteps)
	}
	if req.GuidanceScale != 0 && (req.GuidanceScale < l.MinGuidance || req.GuidanceScale > l.MaxGuidance) {
		return types.NewValidationError("guidance scale %.2f outside [%g, %g]", req.GuidanceScale, l.MinGuidance, l.MaxGuidance)
	}

	if err := l.validateEdge("width", req.Resolution.Width); err != nil {
		return err
	}
	if err := l.validateEdge("height", req.Resolution.Height); err != nil {
		return err
	}

	if req.FanOut < 0 || req.FanOut > l.MaxFanOut {
		return types.NewValidationError("fan-out %d outside [0, %d]", req.FanOut, l.MaxFanOut)
	}
	if fan := req.FanOut; fan > 0 && len(req.Seeds) > fan {
		return types.NewValidationError("%d seeds supplied for fan-out %d", len(req.Seeds), fan)
	}
	if req.FanOut == 0 && len(req.Seeds) > l.MaxFanOut {
		return types.NewValidationError("%d seeds supplied, at most %d allowed", len(req.Seeds), l.MaxFanOut)
	}
	for _, s := range req.Seeds {
		if s < 0 || s > MaxSeed {
			return types.NewValidationError("seed %d outside [0, %d]", s, int64(MaxSeed))
		}
	}
	return nil
}

func (l Limits) validateEdge(name string, v int) error {
	if v < l.MinEdge || v > l.MaxEdge {
		return types.NewValidationError("resolution %s %d outside [%d, %d]", name, v, l.MinEdge, l.MaxEdge)
	}
	if l.EdgeMultiple > 1 && v%l.EdgeMultiple != 0 {
		return types.NewValidationError("resolution %s %d is not a multiple of %d", name, v, l.EdgeMultiple)
	}
	return nil
}
