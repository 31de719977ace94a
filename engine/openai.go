package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/BaSui01/interiorflow/types"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig OpenAI 图像接口配置
type OpenAIConfig struct {
	Name    string        `json:"name" yaml:"name"`
	APIKey  string        `json:"-" yaml:"api_key" env:"API_KEY"`
	BaseURL string        `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	Model   string        `json:"model" yaml:"model" env:"MODEL"` // dall-e-3, gpt-image-1
	Quality string        `json:"quality" yaml:"quality" env:"QUALITY"`
	Timeout time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT"`
}

// DefaultOpenAIConfig 返回默认 OpenAI 配置
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		Name:    "openai",
		Model:   openai.CreateImageModelDallE3,
		Timeout: 120 * time.Second,
	}
}

// OpenAIImages is the slice of *openai.Client the backend uses.
type OpenAIImages interface {
	CreateImage(ctx context.Context, request openai.ImageRequest) (openai.ImageResponse, error)
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// OpenAIBackend renders from the text prompt alone; the photo is not sent.
type OpenAIBackend struct {
	cfg    OpenAIConfig
	client OpenAIImages
}

var _ Backend = (*OpenAIBackend)(nil)

// NewOpenAIClient 创建 go-openai 客户端
func NewOpenAIClient(cfg OpenAIConfig) *openai.Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return openai.NewClientWithConfig(oc)
}

// NewOpenAIBackend 创建 OpenAI 后端
func NewOpenAIBackend(cfg OpenAIConfig, client OpenAIImages) *OpenAIBackend {
	def := DefaultOpenAIConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &OpenAIBackend{cfg: cfg, client: client}
}

func (b *OpenAIBackend) Descriptor() Descriptor {
	return Descriptor{Type: "openai", Name: b.cfg.Name, Model: b.cfg.Model}
}

func (b *OpenAIBackend) Supports(*GenerationRequest) error {
	if b.client == nil {
		return types.NewValidationError("%s: client not configured", b.cfg.Name)
	}
	return nil
}

func (b *OpenAIBackend) Ping(ctx context.Context) error {
	if b.client == nil {
		return errors.New("openai client not configured")
	}
	_, err := b.client.ListModels(ctx)
	return err
}

// Render ignores seed: the images API has no seed parameter.
func (b *OpenAIBackend) Render(ctx context.Context, job *Job, _ int64) (*Artifact, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	req := openai.ImageRequest{
		Prompt:  job.Prompt.Positive + ". Avoid: " + job.Prompt.Negative,
		Model:   b.cfg.Model,
		N:       1,
		Size:    b.size(job.Request.Resolution),
		Quality: b.cfg.Quality,
	}
	// gpt-image 系列总是返回 base64，且不接受 response_format
	if !strings.HasPrefix(b.cfg.Model, "gpt-image") {
		req.ResponseFormat = openai.CreateImageResponseFormatB64JSON
	}

	resp, err := b.client.CreateImage(ctx, req)
	if err != nil {
		return nil, b.mapError(ctx, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, malformed(b.cfg.Name, "no image in response", nil)
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, malformed(b.cfg.Name, "image is not base64", err)
	}
	return &Artifact{Data: data, MIME: sniffMIME(data)}, nil
}

type imageSize struct {
	label         string
	width, height int
}

var (
	dalleSizes    = []imageSize{{"1024x1024", 1024, 1024}, {"1792x1024", 1792, 1024}, {"1024x1792", 1024, 1792}}
	gptImageSizes = []imageSize{{"1024x1024", 1024, 1024}, {"1536x1024", 1536, 1024}, {"1024x1536", 1024, 1536}}
)

// size picks the supported size whose aspect ratio is closest to res.
func (b *OpenAIBackend) size(res Resolution) string {
	sizes := dalleSizes
	if strings.HasPrefix(b.cfg.Model, "gpt-image") {
		sizes = gptImageSizes
	}
	if res.Width <= 0 || res.Height <= 0 {
		return sizes[0].label
	}
	want := math.Log(float64(res.Width) / float64(res.Height))
	best, bestDiff := sizes[0].label, math.Inf(1)
	for _, s := range sizes {
		if d := math.Abs(math.Log(float64(s.width)/float64(s.height)) - want); d < bestDiff {
			best, bestDiff = s.label, d
		}
	}
	return best
}

func (b *OpenAIBackend) mapError(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return MapHTTPError(apiErr.HTTPStatusCode, apiErr.Message, b.cfg.Name)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return MapHTTPError(reqErr.HTTPStatusCode, string(reqErr.Body), b.cfg.Name)
	}
	return ClassifyError(ctx, err, b.cfg.Name)
}
