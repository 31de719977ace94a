package engine

import (
	"context"
	"time"

	"github.com/BaSui01/interiorflow/conditioning"
	"github.com/BaSui01/interiorflow/prompt"
	"github.com/BaSui01/interiorflow/types"
)

// Resolution is the requested output size.
type Resolution = conditioning.Resolution

// GenerationRequest is one caller request. Treat it as immutable once built.
type GenerationRequest struct {
	Image          []byte            `json:"-"`
	SecondaryImage map[string][]byte `json:"-"` // directional shots, keyed by view name

	RoomType         string `json:"room_type"`
	FurnitureStyle   string `json:"furniture_style"`
	WallColor        string `json:"wall_color"`
	FlooringMaterial string `json:"flooring_material"`

	// Zero values of the knobs below mean "backend default".
	ConditioningWeight float64 `json:"conditioning_weight,omitempty"`
	ImageStrength      float64 `json:"image_strength,omitempty"`
	Steps              int     `json:"steps,omitempty"`
	GuidanceScale      float64 `json:"guidance_scale,omitempty"`

	Resolution Resolution `json:"resolution"`
	Seeds      []int64    `json:"seeds,omitempty"`
	FanOut     int        `json:"fan_out,omitempty"`
}

// StyleFields returns the prompt inputs of the request.
func (r *GenerationRequest) StyleFields() prompt.Fields {
	return prompt.Fields{
		RoomType:         r.RoomType,
		FurnitureStyle:   r.FurnitureStyle,
		WallColor:        r.WallColor,
		FlooringMaterial: r.FlooringMaterial,
	}
}

// GenerationResult 生成结果。Success 为 true 时 Images 非空且不超过扇出数；
// 失败时 Error 非空。Images 与 Seeds 按种子顺序一一对应。
type GenerationResult struct {
	Success   bool            `json:"success"`
	Images    []string        `json:"images"`
	Engine    string          `json:"engine"`
	Model     string          `json:"model"`
	Seeds     []int64         `json:"seeds"`
	Duration  time.Duration   `json:"duration"`
	Error     string          `json:"error,omitempty"`
	ErrorCode types.ErrorCode `json:"error_code,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// Failure builds an unsuccessful result from err, keeping provider text out
// of the caller-facing message.
func Failure(engine, model, requestID string, err error, elapsed time.Duration) *GenerationResult {
	code := types.GetErrorCode(err)
	if code == "" {
		code = types.ErrInternal
	}
	return &GenerationResult{
		Engine:    engine,
		Model:     model,
		Duration:  elapsed,
		Error:     types.PublicMessage(err),
		ErrorCode: code,
		RequestID: requestID,
	}
}

// Capabilities are the feature flags a backend advertises.
type Capabilities struct {
	Conditioning    bool `json:"conditioning"`
	SecondaryImages bool `json:"secondary_images"`
	Deterministic   bool `json:"deterministic"` // same seed and inputs give the same bytes
	Local           bool `json:"local"`
}

// Descriptor identifies one configured backend.
type Descriptor struct {
	Type         string            `json:"type"`
	Name         string            `json:"name"`
	Model        string            `json:"model"`
	Capabilities Capabilities      `json:"capabilities"`
	Config       map[string]string `json:"config,omitempty"` // non-secret settings only
}

// ConditioningSource yields the conditioning map on demand.
type ConditioningSource interface {
	Get(ctx context.Context) (*conditioning.Map, error)
}

// Job is what an engine receives: the request plus everything derived from it.
type Job struct {
	Request      *GenerationRequest
	Prompt       prompt.Prompt
	Conditioning ConditioningSource
	RequestID    string
}

// ConditioningMap returns the conditioning map, or nil when the job has none.
func (j *Job) ConditioningMap(ctx context.Context) (*conditioning.Map, error) {
	if j.Conditioning == nil {
		return nil, nil
	}
	return j.Conditioning.Get(ctx)
}

// Engine is the contract every generation engine honours.
type Engine interface {
	// Validate performs structural checks only; it never touches the network.
	Validate(req *GenerationRequest) error
	// GenerateVariations produces up to fan-out independently seeded images.
	GenerateVariations(ctx context.Context, job *Job) (*GenerationResult, error)
	// HealthCheck is a cheap reachability probe; false is informational.
	HealthCheck(ctx context.Context) bool
	Describe() Descriptor
}

// Artifact is one rendered image as returned by a backend.
type Artifact struct {
	Data []byte
	MIME string
	URL  string // set instead of Data when the provider hosts the image
	Seed int64  // provider-reported seed, 0 when unknown
}

// Backend is the provider-specific part behind Adapter.
type Backend interface {
	Descriptor() Descriptor
	// Supports rejects requests this backend cannot serve, as a VALIDATION error.
	Supports(req *GenerationRequest) error
	Render(ctx context.Context, job *Job, seed int64) (*Artifact, error)
	Ping(ctx context.Context) error
}
